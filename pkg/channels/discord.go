package channels

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yehengbot/yeheng/pkg/bus"
	"github.com/yehengbot/yeheng/pkg/config"
	"github.com/yehengbot/yeheng/pkg/logger"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second

	// Discord caps messages at 2000 characters; leave room so chunks can end
	// on natural boundaries.
	discordChunkLimit = 1500
)

// DiscordFormatGuide tells the model how to render platform constructs.
// It travels with every Discord-originated prompt as adapter-supplied config.
const DiscordFormatGuide = `Discord 操作指南:
當對方需要你mention 或是 tag 某個人時，請使用 @用戶名稱 的格式來標記他們。
當對方需要你發送圖片或是檔案時，請使用 ![圖片描述](圖片網址) 的格式來發送。
當對方需要你發送連結時，請使用 [連結描述](連結網址) 的格式來發送。
當對方需要你發送表情符號時，請使用 :表情符號名稱: 的格式來發送。
當對方需要你發送代辦事項時，請使用 - [ ] 代辦事項 的格式來發送。
當對方需要你發送清單時，請使用 - 代辦事項 的格式來發送清單。`

var mentionTokenPattern = regexp.MustCompile(`<@!?(\d+)>`)

type DiscordChannel struct {
	*BaseChannel
	session  *discordgo.Session
	config   config.DiscordConfig
	typing   map[string]*typingSession
	typingMu sync.Mutex
}

type typingSession struct {
	pending int
	cancel  context.CancelFunc
}

func NewDiscordChannel(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", msgBus),
		session:     session,
		config:      cfg,
		typing:      make(map[string]*typingSession),
	}, nil
}

func (c *DiscordChannel) FormatGuide() string { return DiscordFormatGuide }

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord gateway")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord gateway connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord gateway")
	c.setRunning(false)
	c.stopAllTyping()

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || s.State.User == nil {
		return
	}

	botID := s.State.User.ID
	if m.Author.ID == botID {
		return
	}

	isDM := m.GuildID == ""
	if !isDM && !c.isAllowedChannel(m.ChannelID) {
		return
	}

	content := rewriteMentions(m.Content, botID, m.Mentions)
	display := authorDisplayName(m)

	// Every message in scope feeds the ambient log. Whether it also gets a
	// reply depends on the author and mention policy below.
	contextOnly := false
	if m.Author.Bot && !c.isAllowedBot(m.Author.ID) {
		contextOnly = true
	} else if !isDM && !mentionsUser(m.Mentions, botID) && !c.isAllowedBot(m.Author.ID) {
		contextOnly = true
	}

	if !contextOnly {
		logger.InfoCF("discord", "Message received", map[string]interface{}{
			"author": display,
			"dm":     isDM,
		})
		c.beginTyping(m.ChannelID)
	}

	c.publishInbound(bus.InboundMessage{
		UserID:      m.Author.ID,
		DisplayName: display,
		ChatID:      m.ChannelID,
		Content:     content,
		Timestamp:   m.Timestamp.UnixMilli(),
		IsDM:        isDM,
		FromBot:     m.Author.Bot,
		ContextOnly: contextOnly,
	})
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord gateway not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("channel ID is empty")
	}
	defer c.endTyping(msg.ChatID)

	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}

	for _, chunk := range splitMessage(msg.Content, discordChunkLimit) {
		if err := c.sendChunk(ctx, msg.ChatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(channelID, content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

func (c *DiscordChannel) isAllowedChannel(channelID string) bool {
	for _, id := range c.config.AllowedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

func (c *DiscordChannel) isAllowedBot(userID string) bool {
	for _, id := range c.config.BotAllowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func mentionsUser(mentions []*discordgo.User, userID string) bool {
	for _, u := range mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

// rewriteMentions strips the bot's own mention token and turns every other
// <@id> token into a readable @name, so the model never sees raw snowflakes.
func rewriteMentions(content, botID string, mentions []*discordgo.User) string {
	names := make(map[string]string, len(mentions))
	for _, u := range mentions {
		if u == nil {
			continue
		}
		name := u.GlobalName
		if name == "" {
			name = u.Username
		}
		names[u.ID] = name
	}

	return mentionTokenPattern.ReplaceAllStringFunc(content, func(token string) string {
		id := mentionTokenPattern.FindStringSubmatch(token)[1]
		if id == botID {
			return ""
		}
		if name, ok := names[id]; ok {
			return "@" + name
		}
		return token
	})
}

func authorDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// splitMessage splits long replies into chunks on natural boundaries so no
// chunk exceeds the platform limit.
func splitMessage(content string, limit int) []string {
	var messages []string

	for len(content) > 0 {
		if len(content) <= limit {
			messages = append(messages, content)
			break
		}

		msgEnd := findLastBoundary(content[:limit], '\n', 200)
		if msgEnd <= 0 {
			msgEnd = findLastBoundary(content[:limit], ' ', 100)
		}
		if msgEnd <= 0 {
			msgEnd = limit
		}

		messages = append(messages, content[:msgEnd])
		content = strings.TrimSpace(content[msgEnd:])
	}

	return messages
}

// findLastBoundary finds the last occurrence of sep within the trailing
// searchWindow bytes of s, or -1.
func findLastBoundary(s string, sep byte, searchWindow int) int {
	searchStart := len(s) - searchWindow
	if searchStart < 0 {
		searchStart = 0
	}
	for i := len(s) - 1; i >= searchStart; i-- {
		if s[i] == sep {
			return i
		}
	}
	return -1
}

func (c *DiscordChannel) sendTyping(channelID string) {
	if channelID == "" || c.session == nil {
		return
	}
	if err := c.session.ChannelTyping(channelID); err != nil {
		logger.ErrorCF("discord", "Failed to send typing indicator", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (c *DiscordChannel) beginTyping(channelID string) {
	if channelID == "" {
		return
	}

	c.typingMu.Lock()
	if sess, ok := c.typing[channelID]; ok {
		sess.pending++
		c.typingMu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.typing[channelID] = &typingSession{
		pending: 1,
		cancel:  cancel,
	}
	c.typingMu.Unlock()

	c.sendTyping(channelID)

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.IsRunning() {
					return
				}
				c.sendTyping(channelID)
			}
		}
	}()
}

func (c *DiscordChannel) endTyping(channelID string) {
	if channelID == "" {
		return
	}

	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	sess, ok := c.typing[channelID]
	if !ok {
		return
	}
	sess.pending--
	if sess.pending > 0 {
		return
	}
	delete(c.typing, channelID)
	sess.cancel()
}

func (c *DiscordChannel) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	for channelID, sess := range c.typing {
		sess.cancel()
		delete(c.typing, channelID)
	}
}
