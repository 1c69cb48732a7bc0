package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/yehengbot/yeheng/pkg/bus"
	"github.com/yehengbot/yeheng/pkg/config"
	"github.com/yehengbot/yeheng/pkg/instagram"
	"github.com/yehengbot/yeheng/pkg/logger"
)

// Manager owns the configured channel adapters and the outbound dispatcher
// that routes bus replies back to the platform they came from.
type Manager struct {
	bus      *bus.MessageBus
	channels map[string]Channel
	mu       sync.RWMutex

	dispatchDone chan struct{}
}

func NewManager(cfg *config.Config, msgBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		bus:      msgBus,
		channels: make(map[string]Channel),
	}
	if err := m.initChannels(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// initChannels builds an adapter for every platform with credentials in the
// config. No credentials, no adapter.
func (m *Manager) initChannels(cfg *config.Config) error {
	if cfg.Channels.Discord.Token != "" {
		ch, err := NewDiscordChannel(cfg.Channels.Discord, m.bus)
		if err != nil {
			return fmt.Errorf("init discord channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	if cfg.Channels.Instagram.Username != "" {
		var opts []instagram.Option
		if cfg.Channels.Instagram.Proxy != "" {
			opts = append(opts, instagram.WithProxy(cfg.Channels.Instagram.Proxy))
		}
		client := instagram.NewClient(cfg.Channels.Instagram.Username, cfg.Channels.Instagram.Password, opts...)
		ch := NewInstagramChannel(cfg.Channels.Instagram, cfg.History.Dir, client, m.bus)
		m.channels[ch.Name()] = ch
	}

	if len(m.channels) == 0 {
		return fmt.Errorf("no channels configured")
	}
	return nil
}

// StartAll starts every adapter and then the outbound dispatcher. A platform
// that fails to start is logged and skipped rather than taking the rest down.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	started := 0
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no channels started")
	}

	m.dispatchDone = make(chan struct{})
	go m.dispatchOutbound(ctx)

	logger.InfoCF("channels", "Channels started", map[string]interface{}{
		"count": started,
	})
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		if !ch.IsRunning() {
			continue
		}
		if err := ch.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to stop channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}

	if m.dispatchDone != nil {
		select {
		case <-m.dispatchDone:
		case <-ctx.Done():
		}
	}
}

// dispatchOutbound routes every bus reply to the adapter named in the
// message. Delivery failures are logged; there is no retry.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	defer close(m.dispatchDone)

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		m.mu.RLock()
		ch, found := m.channels[msg.Channel]
		m.mu.RUnlock()
		if !found {
			logger.WarnCF("channels", "Outbound message for unknown channel", map[string]interface{}{
				"channel": msg.Channel,
			})
			continue
		}

		if err := ch.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Failed to deliver reply", map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}

// FormatGuides collects each adapter's platform rendering guide, keyed by
// channel name, for the responder to hand to the prompt assembler.
func (m *Manager) FormatGuides() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	guides := make(map[string]string, len(m.channels))
	for name, ch := range m.channels {
		if g := ch.FormatGuide(); g != "" {
			guides[name] = g
		}
	}
	return guides
}

// Channel returns the adapter registered under name, if any.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}
