package respond

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/yehengbot/yeheng/pkg/bus"
	"github.com/yehengbot/yeheng/pkg/config"
	"github.com/yehengbot/yeheng/pkg/history"
	"github.com/yehengbot/yeheng/pkg/logger"
	"github.com/yehengbot/yeheng/pkg/prompt"
	"github.com/yehengbot/yeheng/pkg/providers"
)

// Responder runs the generate-and-integrate pipeline: history lookup, prompt
// assembly, model call, store integration, pacing. Channel adapters never see
// an error from it, only reply text or nothing.
type Responder struct {
	store     *history.Store
	assembler *prompt.Assembler
	provider  providers.Provider

	apology        string
	typingPerRune  time.Duration
	maxTyping      time.Duration
	requestTimeout time.Duration

	// Platform format guides keyed by channel name, supplied by the adapters
	// so the assembler stays platform-agnostic.
	guides map[string]string

	now func() int64
}

func New(store *history.Store, assembler *prompt.Assembler, provider providers.Provider, cfg config.ResponderConfig, guides map[string]string) *Responder {
	if guides == nil {
		guides = map[string]string{}
	}
	return &Responder{
		store:          store,
		assembler:      assembler,
		provider:       provider,
		apology:        cfg.Apology,
		typingPerRune:  time.Duration(cfg.TypingMSPerRune) * time.Millisecond,
		maxTyping:      time.Duration(cfg.MaxTypingMS) * time.Millisecond,
		requestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		guides:         guides,
		now:            func() int64 { return time.Now().UnixMilli() },
	}
}

// HandleInbound processes one observed message. Every message lands in the
// ambient log; only non-context-only messages produce a reply. The returned
// bool says whether there is anything to deliver.
func (r *Responder) HandleInbound(ctx context.Context, msg bus.InboundMessage) (string, bool) {
	ts := msg.Timestamp
	if ts == 0 {
		ts = r.now()
	}
	r.store.AppendAmbient(history.Message{
		Content:           msg.Content,
		AuthorDisplayName: msg.DisplayName,
		Timestamp:         ts,
		ChannelID:         msg.ChatID,
		FromBot:           msg.FromBot,
	})
	if msg.ContextOnly {
		return "", false
	}

	logger.InfoCF("respond", "Message received", map[string]interface{}{
		"channel": msg.Channel,
		"user":    msg.DisplayName,
		"dm":      msg.IsDM,
	})

	user := r.store.FindOrCreateUser(msg.UserID, msg.DisplayName)
	segments := r.assembler.Build(prompt.Input{
		User:          user,
		AllUsers:      r.store.Users(),
		Ambient:       r.store.Ambient(),
		Inbound:       msg.Content,
		IsDM:          msg.IsDM,
		PlatformGuide: r.guides[msg.Channel],
	})

	callCtx := ctx
	if r.requestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.requestTimeout)
		defer cancel()
	}

	reply, err := r.provider.Complete(callCtx, segments)
	if err != nil {
		// Malformed replies point at a prompt/schema mismatch and are logged
		// apart from plain transport failures. The user-visible handling is
		// identical: fixed apology, untouched history.
		if providers.IsMalformed(err) {
			logger.ErrorCF("respond", "Model reply failed schema validation", map[string]interface{}{
				"provider": r.provider.Name(),
				"error":    err.Error(),
			})
		} else {
			logger.ErrorCF("respond", "Model call failed", map[string]interface{}{
				"provider": r.provider.Name(),
				"error":    err.Error(),
			})
		}
		return r.apology, true
	}

	r.integrate(user, reply)

	logger.InfoCF("respond", "Message replied", map[string]interface{}{
		"channel": msg.Channel,
		"user":    msg.DisplayName,
	})

	r.pace(ctx, reply.TextResponse)
	return reply.TextResponse, true
}

// integrate commits one successful exchange: fact merge, exchange append
// using the model's compacted input summary, then the replace-user commit.
// Nothing here runs on the failure path, so a failed call can never leave a
// partial update behind.
func (r *Responder) integrate(user history.UserHistory, reply *providers.Reply) {
	user.MergeFacts(reply.MemoryKeys, reply.ImportantKeys)
	user.RecordExchange(reply.InputSummary, reply.TextResponse, r.now())
	r.store.ReplaceUser(user)
}

// pace waits out the artificial typing delay derived from reply length.
// Cancelled contexts cut the wait short so shutdown is never blocked on it.
func (r *Responder) pace(ctx context.Context, text string) {
	if r.typingPerRune <= 0 {
		return
	}
	d := time.Duration(utf8.RuneCountInString(text)) * r.typingPerRune
	if r.maxTyping > 0 && d > r.maxTyping {
		d = r.maxTyping
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
