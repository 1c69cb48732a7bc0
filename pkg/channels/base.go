package channels

import (
	"context"

	"github.com/yehengbot/yeheng/pkg/bus"
)

// Channel is one platform adapter. Adapters own all platform-side filtering
// (allow-lists, mention detection, self-message suppression); the responder
// core only ever sees bus messages.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	// FormatGuide is the platform rendering guide handed to the prompt
	// assembler, so the assembler itself stays platform-agnostic.
	FormatGuide() string
}

type BaseChannel struct {
	bus     *bus.MessageBus
	name    string
	running bool
}

func NewBaseChannel(name string, msgBus *bus.MessageBus) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) IsRunning() bool { return c.running }

func (c *BaseChannel) setRunning(running bool) { c.running = running }

func (c *BaseChannel) publishInbound(msg bus.InboundMessage) {
	msg.Channel = c.name
	c.bus.PublishInbound(msg)
}
