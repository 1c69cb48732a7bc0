package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"

	"github.com/yehengbot/yeheng/pkg/bus"
	"github.com/yehengbot/yeheng/pkg/channels"
	"github.com/yehengbot/yeheng/pkg/config"
	"github.com/yehengbot/yeheng/pkg/history"
	"github.com/yehengbot/yeheng/pkg/logger"
	"github.com/yehengbot/yeheng/pkg/prompt"
	"github.com/yehengbot/yeheng/pkg/providers"
	"github.com/yehengbot/yeheng/pkg/respond"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "yeheng"

// configPath can be overridden with --config; empty means the default under
// the user's home directory.
var configPathFlag string

func main() {
	// Secrets are usually kept in a local .env during development. A missing
	// file is fine.
	_ = godotenv.Load()

	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func getConfigPath() string {
	if configPathFlag != "" {
		return configPathFlag
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".yeheng", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func onboard() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Println("Aborted.")
			return nil
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your provider API key to", configPath)
	fmt.Println("  2. Add your Discord bot token to channels.discord.token")
	fmt.Println("     and/or Instagram credentials to channels.instagram")
	fmt.Println("  3. Talk locally: yeheng chat")
	fmt.Println("  4. Run the gateway: yeheng run")
	fmt.Println("  5. Check readiness: yeheng status")
	return nil
}

func statusCmd() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n\n", formatVersion())

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	if _, err := os.Stat(cfg.History.Dir); err == nil {
		fmt.Println("History dir:", cfg.History.Dir, "✓")
	} else {
		fmt.Println("History dir:", cfg.History.Dir, "not initialized")
	}

	status := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "not set"
	}
	providerReady := providers.ValidateProviderConfig(cfg) == nil
	discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""
	instagramReady := strings.TrimSpace(cfg.Channels.Instagram.Username) != ""

	fmt.Printf("Provider (%s): %s\n", providers.NormalizeProviderName(cfg.Providers.Active), status(providerReady))
	fmt.Println("Discord token:", status(discordReady))
	fmt.Println("Instagram account:", status(instagramReady))
	fmt.Println("Gateway ready:", status(providerReady && (discordReady || instagramReady)))
	return nil
}

// buildCore wires the pieces every mode needs: history store, assembler,
// provider. The caller decides what feeds the responder.
func buildCore(cfg *config.Config) (*history.Store, *prompt.Assembler, providers.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("configuration error: %w", err)
	}

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	persona, err := cfg.PersonaInstructions(prompt.DefaultPersona)
	if err != nil {
		return nil, nil, nil, err
	}

	store := history.Load(cfg.History.Dir)
	assembler := prompt.NewAssembler(persona,
		cfg.Responder.AmbientWindow,
		cfg.Responder.CrossUserWindow,
		cfg.Responder.ShortTermWindow)
	return store, assembler, provider, nil
}

func runGateway(debug bool) error {
	if debug {
		logger.SetLevel(logger.LevelDebug)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, assembler, provider, err := buildCore(cfg)
	if err != nil {
		return err
	}

	msgBus := bus.NewMessageBus()
	manager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return err
	}

	responder := respond.New(store, assembler, provider, cfg.Responder, manager.FormatGuides())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.StartAll(ctx); err != nil {
		return err
	}

	responderDone := make(chan struct{})
	go func() {
		responder.Run(ctx, msgBus)
		close(responderDone)
	}()

	fmt.Println("Gateway started. Press Ctrl+C to stop.")
	<-ctx.Done()

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	manager.StopAll(shutdownCtx)
	msgBus.Close()
	select {
	case <-responderDone:
	case <-shutdownCtx.Done():
	}

	if err := store.Save(cfg.History.Dir); err != nil {
		logger.ErrorCF("main", "Failed to save history", map[string]interface{}{
			"error": err.Error(),
		})
	}
	fmt.Println("Gateway stopped")
	return nil
}

// chatCmd runs a local console conversation against the same pipeline the
// gateways use, without any platform credentials.
func chatCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.LevelDebug)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, assembler, provider, err := buildCore(cfg)
	if err != nil {
		return err
	}

	// No typing pacing on a local console.
	consoleCfg := cfg.Responder
	consoleCfg.TypingMSPerRune = 0
	responder := respond.New(store, assembler, provider, consoleCfg, nil)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".yeheng_chat_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
	ctx := context.Background()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply, deliver := responder.HandleInbound(ctx, bus.InboundMessage{
			Channel:     "console",
			UserID:      "local",
			DisplayName: "local",
			ChatID:      "console",
			Content:     input,
			Timestamp:   time.Now().UnixMilli(),
			IsDM:        true,
		})
		if deliver {
			fmt.Printf("\n%s: %s\n\n", cfg.Persona.Name, reply)
		}
	}

	fmt.Println("Goodbye!")
	if err := store.Save(cfg.History.Dir); err != nil {
		logger.ErrorCF("main", "Failed to save history", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}
