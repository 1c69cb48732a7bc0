package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yehengbot/yeheng/pkg/bus"
	"github.com/yehengbot/yeheng/pkg/config"
	"github.com/yehengbot/yeheng/pkg/instagram"
	"github.com/yehengbot/yeheng/pkg/logger"
)

// InstagramFormatGuide tells the model that DMs carry no markup at all.
const InstagramFormatGuide = `Instagram 操作指南:
Instagram 私訊只支援純文字，請不要使用任何 Markdown 語法、連結格式或表情符號代碼。`

const threadStateFile = "instagramData.json"

// threadState is the per-thread polling cursor persisted across restarts so a
// restart never replays already-answered messages.
type threadState struct {
	Timestamp int64  `json:"timestamp"`
	UserName  string `json:"user_name"`
	Cursor    string `json:"cursor,omitempty"`
}

// InstagramChannel polls the direct inbox. Instagram has no push transport
// for third parties, so new messages are discovered by sweeping the inbox at
// human-looking intervals and focusing on a thread while it is active.
type InstagramChannel struct {
	*BaseChannel
	inbox    instagram.Inbox
	config   config.InstagramConfig
	stateDir string

	mu      sync.Mutex
	threads map[string]*threadState

	cancel context.CancelFunc
	done   chan struct{}

	// Sweep/focus timing, overridable in tests.
	idlePhases   []time.Duration
	focusPoll    time.Duration
	focusTimeout time.Duration
	jitter       func(time.Duration) time.Duration
	now          func() time.Time
}

func NewInstagramChannel(cfg config.InstagramConfig, stateDir string, inbox instagram.Inbox, msgBus *bus.MessageBus) *InstagramChannel {
	return &InstagramChannel{
		BaseChannel: NewBaseChannel("instagram", msgBus),
		inbox:       inbox,
		config:      cfg,
		stateDir:    stateDir,
		threads:     make(map[string]*threadState),
		// A quiet inbox backs off in steps instead of hammering the API at a
		// fixed rate.
		idlePhases:   []time.Duration{time.Minute, 30 * time.Minute, 2 * time.Hour},
		focusPoll:    500 * time.Millisecond,
		focusTimeout: time.Minute,
		jitter:       jitterDuration,
		now:          time.Now,
	}
}

func (c *InstagramChannel) FormatGuide() string { return InstagramFormatGuide }

func (c *InstagramChannel) Start(ctx context.Context) error {
	logger.InfoC("instagram", "Starting Instagram poller")

	c.loadState()

	if err := c.inbox.Login(ctx); err != nil {
		if errors.Is(err, instagram.ErrChallengeRequired) {
			return fmt.Errorf("instagram login blocked by checkpoint, resolve it in a browser: %w", err)
		}
		return fmt.Errorf("instagram login: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.setRunning(true)

	go c.run(runCtx)

	logger.InfoCF("instagram", "Instagram poller started", map[string]interface{}{
		"username": c.config.Username,
	})
	return nil
}

func (c *InstagramChannel) Stop(ctx context.Context) error {
	logger.InfoC("instagram", "Stopping Instagram poller")
	c.setRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		select {
		case <-c.done:
		case <-ctx.Done():
		}
	}
	c.saveState()
	return nil
}

func (c *InstagramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.ChatID == "" {
		return fmt.Errorf("thread ID is empty")
	}
	if err := c.inbox.SendText(ctx, msg.ChatID, msg.Content); err != nil {
		return fmt.Errorf("send instagram message: %w", err)
	}
	return nil
}

func (c *InstagramChannel) run(ctx context.Context) {
	defer close(c.done)

	idle := 0
	for {
		if err := c.waitForActiveHours(ctx); err != nil {
			return
		}

		handled, err := c.sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if instagram.IsFatal(err) || errors.Is(err, instagram.ErrChallengeRequired) {
				logger.ErrorCF("instagram", "Poller hit unrecoverable error, stopping", map[string]interface{}{
					"error": err.Error(),
				})
				c.setRunning(false)
				c.saveState()
				return
			}
			logger.WarnCF("instagram", "Inbox sweep failed", map[string]interface{}{
				"error": err.Error(),
			})
		}

		if handled {
			idle = 0
		} else if idle < len(c.idlePhases)-1 {
			idle++
		}
		c.saveState()

		if !sleepCtx(ctx, c.jitter(c.idlePhases[idle])) {
			return
		}
	}
}

// waitForActiveHours blocks until the local clock is inside the configured
// window. Outside it the account looks asleep.
func (c *InstagramChannel) waitForActiveHours(ctx context.Context) error {
	for {
		now := c.now()
		h := now.Hour()
		if h >= c.config.ActiveHourStart && h < c.config.ActiveHourEnd {
			return nil
		}

		next := time.Date(now.Year(), now.Month(), now.Day(), c.config.ActiveHourStart, 0, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		logger.InfoCF("instagram", "Outside active hours, sleeping", map[string]interface{}{
			"until": next.Format(time.RFC3339),
		})
		if !sleepCtx(ctx, next.Sub(now)) {
			return ctx.Err()
		}
	}
}

// sweep walks the inbox once. It returns whether any thread produced a new
// inbound message.
func (c *InstagramChannel) sweep(ctx context.Context) (bool, error) {
	threads, err := c.inbox.Threads(ctx)
	if err != nil {
		return false, err
	}

	handled := false
	for _, t := range threads {
		if t.IsGroup {
			continue
		}
		fresh, err := c.drainThread(ctx, t)
		if err != nil {
			return handled, err
		}
		if fresh {
			handled = true
			if err := c.focusThread(ctx, t); err != nil {
				return handled, err
			}
		}
	}
	return handled, nil
}

// drainThread publishes every unseen text item of one thread and advances the
// cursor. The bot's own messages advance the cursor without being published.
func (c *InstagramChannel) drainThread(ctx context.Context, t instagram.Thread) (bool, error) {
	st := c.state(t.ID)

	items, err := c.inbox.ThreadItems(ctx, t.ID, "")
	if err != nil {
		return false, err
	}

	selfID := c.inbox.SelfID()
	fresh := false
	for _, item := range items {
		if item.Timestamp <= st.Timestamp {
			continue
		}

		c.mu.Lock()
		st.Timestamp = item.Timestamp
		st.UserName = t.UserName
		st.Cursor = t.NewestCursor
		c.mu.Unlock()

		if item.UserID == selfID {
			continue
		}

		logger.InfoCF("instagram", "Message received", map[string]interface{}{
			"thread": t.ID,
			"from":   t.UserName,
		})
		c.publishInbound(bus.InboundMessage{
			UserID:      item.UserID,
			DisplayName: t.UserName,
			ChatID:      t.ID,
			Content:     item.Text,
			Timestamp:   microToMilli(item.Timestamp),
			IsDM:        true,
		})
		fresh = true
	}
	return fresh, nil
}

// focusThread keeps polling one thread at a tight interval while the other
// side is actively replying, and drops back to sweeping once the thread has
// been quiet long enough.
func (c *InstagramChannel) focusThread(ctx context.Context, t instagram.Thread) error {
	lastActivity := c.now()
	for c.now().Sub(lastActivity) < c.focusTimeout {
		if !sleepCtx(ctx, c.jitter(c.focusPoll)) {
			return ctx.Err()
		}
		fresh, err := c.drainThread(ctx, t)
		if err != nil {
			return err
		}
		if fresh {
			lastActivity = c.now()
		}
	}
	return nil
}

func (c *InstagramChannel) state(threadID string) *threadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.threads[threadID]
	if !ok {
		st = &threadState{}
		c.threads[threadID] = st
	}
	return st
}

func (c *InstagramChannel) loadState() {
	path := filepath.Join(c.stateDir, threadStateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnCF("instagram", "Failed to read thread state, starting empty", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
		return
	}

	threads := make(map[string]*threadState)
	if err := json.Unmarshal(data, &threads); err != nil {
		logger.WarnCF("instagram", "Thread state is corrupt, starting empty", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return
	}

	c.mu.Lock()
	c.threads = threads
	c.mu.Unlock()
}

func (c *InstagramChannel) saveState() {
	c.mu.Lock()
	data, err := json.MarshalIndent(c.threads, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return
	}

	if err := os.MkdirAll(c.stateDir, 0755); err != nil {
		logger.ErrorCF("instagram", "Failed to create state directory", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	path := filepath.Join(c.stateDir, threadStateFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		logger.ErrorCF("instagram", "Failed to write thread state", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}
}

// microToMilli converts the API's microsecond item timestamps to the
// millisecond scale used everywhere else.
func microToMilli(ts int64) int64 {
	if ts > 1e14 {
		return ts / 1000
	}
	return ts
}

// jitterDuration spreads d by plus or minus 20 percent so the poll cadence
// never looks machine-regular.
func jitterDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	f := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * f)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
