package channels

import (
	"context"
	"testing"
	"time"

	"github.com/yehengbot/yeheng/pkg/bus"
	"github.com/yehengbot/yeheng/pkg/config"
)

type fakeChannel struct {
	*BaseChannel
	guide string
	sent  chan bus.OutboundMessage
}

func newFakeChannel(name, guide string, msgBus *bus.MessageBus) *fakeChannel {
	return &fakeChannel{
		BaseChannel: NewBaseChannel(name, msgBus),
		guide:       guide,
		sent:        make(chan bus.OutboundMessage, 10),
	}
}

func (c *fakeChannel) Start(ctx context.Context) error { c.setRunning(true); return nil }
func (c *fakeChannel) Stop(ctx context.Context) error  { c.setRunning(false); return nil }
func (c *fakeChannel) FormatGuide() string             { return c.guide }

func (c *fakeChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.sent <- msg
	return nil
}

func TestManagerRequiresAtLeastOneChannel(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := NewManager(cfg, bus.NewMessageBus())
	if err == nil {
		t.Fatal("expected error with no credentials configured")
	}
}

func TestManagerInitsInstagramFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Channels.Instagram.Username = "bot"
	cfg.Channels.Instagram.Password = "pw"
	cfg.History.Dir = t.TempDir()

	m, err := NewManager(cfg, bus.NewMessageBus())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if _, ok := m.Channel("instagram"); !ok {
		t.Fatal("instagram channel not registered")
	}
	if _, ok := m.Channel("discord"); ok {
		t.Fatal("discord channel registered without a token")
	}
}

func TestDispatchOutboundRoutesByChannelName(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	discord := newFakeChannel("discord", "dguide", msgBus)
	instagram := newFakeChannel("instagram", "iguide", msgBus)
	m := &Manager{
		bus: msgBus,
		channels: map[string]Channel{
			"discord":   discord,
			"instagram": instagram,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.dispatchDone = make(chan struct{})
	go m.dispatchOutbound(ctx)

	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "instagram", ChatID: "t1", Content: "reply"})
	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "unknown", ChatID: "x", Content: "dropped"})
	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "discord", ChatID: "c1", Content: "reply2"})

	select {
	case msg := <-instagram.sent:
		if msg.ChatID != "t1" {
			t.Fatalf("wrong instagram delivery: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("instagram delivery timed out")
	}

	select {
	case msg := <-discord.sent:
		if msg.ChatID != "c1" {
			t.Fatalf("wrong discord delivery: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("discord delivery timed out")
	}

	select {
	case msg := <-instagram.sent:
		t.Fatalf("unexpected extra delivery: %+v", msg)
	default:
	}
}

func TestFormatGuidesCollectsNonEmpty(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	m := &Manager{
		bus: msgBus,
		channels: map[string]Channel{
			"discord": newFakeChannel("discord", "dguide", msgBus),
			"silent":  newFakeChannel("silent", "", msgBus),
		},
	}

	guides := m.FormatGuides()
	if guides["discord"] != "dguide" {
		t.Fatalf("guide missing: %v", guides)
	}
	if _, ok := guides["silent"]; ok {
		t.Fatal("empty guide should be omitted")
	}
}
