package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow-lists can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Persona   PersonaConfig   `json:"persona"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Responder ResponderConfig `json:"responder"`
	History   HistoryConfig   `json:"history"`
}

type PersonaConfig struct {
	Name             string `json:"name" env:"YEHENG_PERSONA_NAME"`
	InstructionsFile string `json:"instructions_file" env:"YEHENG_PERSONA_INSTRUCTIONS_FILE"`
}

type ChannelsConfig struct {
	Discord   DiscordConfig   `json:"discord"`
	Instagram InstagramConfig `json:"instagram"`
}

type DiscordConfig struct {
	Token string `json:"token" env:"YEHENG_CHANNELS_DISCORD_TOKEN"`
	// Guild channels the bot listens in. DMs are always accepted.
	AllowedChannels FlexibleStringSlice `json:"allowed_channels" env:"YEHENG_CHANNELS_DISCORD_ALLOWED_CHANNELS"`
	// Automated accounts whose messages may still trigger a reply.
	BotAllowFrom FlexibleStringSlice `json:"bot_allow_from" env:"YEHENG_CHANNELS_DISCORD_BOT_ALLOW_FROM"`
}

type InstagramConfig struct {
	Username string `json:"username" env:"YEHENG_CHANNELS_INSTAGRAM_USERNAME"`
	Password string `json:"password" env:"YEHENG_CHANNELS_INSTAGRAM_PASSWORD"`
	Proxy    string `json:"proxy,omitempty" env:"YEHENG_CHANNELS_INSTAGRAM_PROXY"`
	// Local-time hours during which the poller is active.
	ActiveHourStart int `json:"active_hour_start" env:"YEHENG_CHANNELS_INSTAGRAM_ACTIVE_HOUR_START"`
	ActiveHourEnd   int `json:"active_hour_end" env:"YEHENG_CHANNELS_INSTAGRAM_ACTIVE_HOUR_END"`
}

type ProvidersConfig struct {
	Active     string           `json:"active" env:"YEHENG_PROVIDERS_ACTIVE"`
	OpenAI     OpenAIConfig     `json:"openai"`
	OpenRouter OpenRouterConfig `json:"openrouter"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" env:"YEHENG_PROVIDERS_OPENAI_API_KEY"`
	APIBase string `json:"api_base" env:"YEHENG_PROVIDERS_OPENAI_API_BASE"`
	Model   string `json:"model" env:"YEHENG_PROVIDERS_OPENAI_MODEL"`
}

type OpenRouterConfig struct {
	APIKey   string `json:"api_key" env:"YEHENG_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase  string `json:"api_base" env:"YEHENG_PROVIDERS_OPENROUTER_API_BASE"`
	Model    string `json:"model" env:"YEHENG_PROVIDERS_OPENROUTER_MODEL"`
	Referrer string `json:"referrer,omitempty" env:"YEHENG_PROVIDERS_OPENROUTER_REFERRER"`
	Title    string `json:"title,omitempty" env:"YEHENG_PROVIDERS_OPENROUTER_TITLE"`
}

type ResponderConfig struct {
	// Reply used whenever the model call or its parsing fails.
	Apology string `json:"apology" env:"YEHENG_RESPONDER_APOLOGY"`
	// Per-rune pacing delay before delivery, to mimic typing latency.
	TypingMSPerRune int `json:"typing_ms_per_rune" env:"YEHENG_RESPONDER_TYPING_MS_PER_RUNE"`
	MaxTypingMS     int `json:"max_typing_ms" env:"YEHENG_RESPONDER_MAX_TYPING_MS"`
	// Upper bound on a single model call, seconds.
	RequestTimeoutSeconds int `json:"request_timeout_seconds" env:"YEHENG_RESPONDER_REQUEST_TIMEOUT_SECONDS"`

	// Prompt windowing bounds.
	AmbientWindow   int `json:"ambient_window" env:"YEHENG_RESPONDER_AMBIENT_WINDOW"`
	CrossUserWindow int `json:"cross_user_window" env:"YEHENG_RESPONDER_CROSS_USER_WINDOW"`
	ShortTermWindow int `json:"short_term_window" env:"YEHENG_RESPONDER_SHORT_TERM_WINDOW"`
}

type HistoryConfig struct {
	// Directory holding the JSON snapshots (user history, ambient log,
	// instagram thread state).
	Dir string `json:"dir" env:"YEHENG_HISTORY_DIR"`
}

func DefaultConfig() *Config {
	return &Config{
		Persona: PersonaConfig{
			Name: "夜恆",
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				AllowedChannels: FlexibleStringSlice{},
				BotAllowFrom:    FlexibleStringSlice{},
			},
			Instagram: InstagramConfig{
				ActiveHourStart: 1,
				ActiveHourEnd:   23,
			},
		},
		Providers: ProvidersConfig{
			Active: "openai",
			OpenAI: OpenAIConfig{
				Model: "gpt-4.1-nano",
			},
			OpenRouter: OpenRouterConfig{
				Model: "openai/gpt-4.1-nano",
			},
		},
		Responder: ResponderConfig{
			Apology:               "抱歉，我無法回答這個問題。",
			TypingMSPerRune:       45,
			MaxTypingMS:           8000,
			RequestTimeoutSeconds: 120,
			AmbientWindow:         20,
			CrossUserWindow:       4,
			ShortTermWindow:       7,
		},
		History: HistoryConfig{
			Dir: ".history",
		},
	}
}

// LoadConfig reads the JSON config at path (missing file means defaults) and
// then applies environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks the parts of the config that must hold before the process
// is allowed to start. Provider credentials are checked by the provider
// factory, not here.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.History.Dir) == "" {
		return fmt.Errorf("history.dir is required")
	}
	if strings.TrimSpace(c.Responder.Apology) == "" {
		return fmt.Errorf("responder.apology is required")
	}
	if c.Responder.AmbientWindow <= 0 || c.Responder.CrossUserWindow <= 0 || c.Responder.ShortTermWindow <= 0 {
		return fmt.Errorf("responder windows must be positive")
	}
	hs, he := c.Channels.Instagram.ActiveHourStart, c.Channels.Instagram.ActiveHourEnd
	if hs < 0 || hs > 23 || he < 1 || he > 24 || hs >= he {
		return fmt.Errorf("channels.instagram active hours are invalid: start=%d end=%d", hs, he)
	}
	return nil
}

// PersonaInstructions returns the persona text, preferring the configured
// file over the built-in default.
func (c *Config) PersonaInstructions(fallback string) (string, error) {
	path := strings.TrimSpace(c.Persona.InstructionsFile)
	if path == "" {
		return fallback, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read persona instructions %s: %w", path, err)
	}
	return string(data), nil
}
