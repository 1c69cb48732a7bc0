package respond

import (
	"context"
	"sync"

	"github.com/yehengbot/yeheng/pkg/bus"
	"github.com/yehengbot/yeheng/pkg/logger"
)

// Run consumes inbound messages until the context is cancelled, handling
// each in its own task. Replies go back out through the bus; the channel
// manager's dispatcher routes them to the right platform.
//
// Two overlapping requests for the same user resolve last-write-wins at the
// store's ReplaceUser commit. Non-overlapping requests for a user are
// appended in initiation order.
func (r *Responder) Run(ctx context.Context, msgBus *bus.MessageBus) {
	logger.InfoC("respond", "Responder loop started")

	var wg sync.WaitGroup
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			break
		}

		wg.Add(1)
		go func(m bus.InboundMessage) {
			defer wg.Done()
			reply, deliver := r.HandleInbound(ctx, m)
			if !deliver {
				return
			}
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: m.Channel,
				ChatID:  m.ChatID,
				Content: reply,
			})
		}(msg)
	}

	// Let in-flight tasks finish or observe the cancelled context.
	wg.Wait()
	logger.InfoC("respond", "Responder loop stopped")
}
