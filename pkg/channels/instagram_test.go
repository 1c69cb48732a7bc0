package channels

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yehengbot/yeheng/pkg/bus"
	"github.com/yehengbot/yeheng/pkg/config"
	"github.com/yehengbot/yeheng/pkg/instagram"
)

// fakeInbox serves canned threads and items and records sent texts.
type fakeInbox struct {
	selfID  string
	threads []instagram.Thread
	items   map[string][]instagram.Item

	sent []string
	err  error
}

func (f *fakeInbox) Login(ctx context.Context) error { return f.err }
func (f *fakeInbox) SelfID() string                  { return f.selfID }

func (f *fakeInbox) Threads(ctx context.Context) ([]instagram.Thread, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.threads, nil
}

func (f *fakeInbox) ThreadItems(ctx context.Context, threadID, cursor string) ([]instagram.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.items[threadID], nil
}

func (f *fakeInbox) SendText(ctx context.Context, threadID, text string) error {
	f.sent = append(f.sent, threadID+":"+text)
	return f.err
}

func newTestPoller(t *testing.T, inbox instagram.Inbox) (*InstagramChannel, *bus.MessageBus) {
	t.Helper()
	msgBus := bus.NewMessageBus()
	t.Cleanup(msgBus.Close)

	cfg := config.InstagramConfig{Username: "bot", ActiveHourStart: 0, ActiveHourEnd: 24}
	c := NewInstagramChannel(cfg, t.TempDir(), inbox, msgBus)
	// Collapse focus polling so sweeps finish immediately in tests.
	c.focusTimeout = 0
	c.jitter = func(d time.Duration) time.Duration { return d }
	return c, msgBus
}

func consumeOne(t *testing.T, msgBus *bus.MessageBus) bus.InboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected an inbound message")
	}
	return msg
}

func TestSweepPublishesNewMessages(t *testing.T) {
	inbox := &fakeInbox{
		selfID: "self",
		threads: []instagram.Thread{
			{ID: "t1", UserID: "u9", UserName: "Nina"},
		},
		items: map[string][]instagram.Item{
			"t1": {{ID: "i1", UserID: "u9", Text: "哈囉", Timestamp: 1700000000000000}},
		},
	}
	c, msgBus := newTestPoller(t, inbox)

	handled, err := c.sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !handled {
		t.Fatal("sweep should report new activity")
	}

	msg := consumeOne(t, msgBus)
	if msg.Channel != "instagram" || msg.UserID != "u9" || msg.DisplayName != "Nina" {
		t.Fatalf("unexpected inbound: %+v", msg)
	}
	if msg.ChatID != "t1" || msg.Content != "哈囉" || !msg.IsDM {
		t.Fatalf("unexpected inbound: %+v", msg)
	}
	if msg.Timestamp != 1700000000000 {
		t.Fatalf("timestamp not converted to millis: %d", msg.Timestamp)
	}
}

func TestSweepIgnoresAlreadySeenItems(t *testing.T) {
	inbox := &fakeInbox{
		selfID:  "self",
		threads: []instagram.Thread{{ID: "t1", UserID: "u9", UserName: "Nina"}},
		items: map[string][]instagram.Item{
			"t1": {{ID: "i1", UserID: "u9", Text: "hi", Timestamp: 100}},
		},
	}
	c, _ := newTestPoller(t, inbox)

	if handled, _ := c.sweep(context.Background()); !handled {
		t.Fatal("first sweep should handle the message")
	}
	if handled, _ := c.sweep(context.Background()); handled {
		t.Fatal("second sweep must not replay the same item")
	}
}

func TestSweepSkipsSelfMessagesButAdvancesCursor(t *testing.T) {
	inbox := &fakeInbox{
		selfID:  "self",
		threads: []instagram.Thread{{ID: "t1", UserID: "u9", UserName: "Nina"}},
		items: map[string][]instagram.Item{
			"t1": {{ID: "i1", UserID: "self", Text: "my own reply", Timestamp: 100}},
		},
	}
	c, _ := newTestPoller(t, inbox)

	handled, err := c.sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if handled {
		t.Fatal("own messages must not count as activity")
	}
	if c.state("t1").Timestamp != 100 {
		t.Fatalf("cursor not advanced past own message: %d", c.state("t1").Timestamp)
	}

	// An older foreign message arriving later must now be ignored.
	inbox.items["t1"] = []instagram.Item{{ID: "i0", UserID: "u9", Text: "old", Timestamp: 50}}
	if handled, _ := c.sweep(context.Background()); handled {
		t.Fatal("stale item replayed after cursor advance")
	}
}

func TestSweepSkipsGroupThreads(t *testing.T) {
	inbox := &fakeInbox{
		selfID:  "self",
		threads: []instagram.Thread{{ID: "g1", IsGroup: true}},
		items: map[string][]instagram.Item{
			"g1": {{ID: "i1", UserID: "u9", Text: "group chat", Timestamp: 100}},
		},
	}
	c, _ := newTestPoller(t, inbox)

	handled, err := c.sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if handled {
		t.Fatal("group threads must be ignored")
	}
}

func TestThreadStatePersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	cfg := config.InstagramConfig{Username: "bot"}

	c1 := NewInstagramChannel(cfg, dir, &fakeInbox{}, msgBus)
	c1.state("t1").Timestamp = 555
	c1.state("t1").UserName = "Nina"
	c1.saveState()

	c2 := NewInstagramChannel(cfg, dir, &fakeInbox{}, msgBus)
	c2.loadState()
	st := c2.state("t1")
	if st.Timestamp != 555 || st.UserName != "Nina" {
		t.Fatalf("state not restored: %+v", st)
	}
}

func TestLoadStateCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, threadStateFile), []byte("{bad"), 0644); err != nil {
		t.Fatal(err)
	}

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	c := NewInstagramChannel(config.InstagramConfig{}, dir, &fakeInbox{}, msgBus)
	c.loadState()

	if c.state("t1").Timestamp != 0 {
		t.Fatal("corrupt state should be discarded")
	}
}

func TestSendWritesToThread(t *testing.T) {
	inbox := &fakeInbox{}
	c, _ := newTestPoller(t, inbox)

	err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "t1", Content: "回覆"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(inbox.sent) != 1 || inbox.sent[0] != "t1:回覆" {
		t.Fatalf("unexpected sends: %v", inbox.sent)
	}

	if err := c.Send(context.Background(), bus.OutboundMessage{Content: "no thread"}); err == nil {
		t.Fatal("empty thread id must fail")
	}
}

func TestMicroToMilli(t *testing.T) {
	if got := microToMilli(1700000000000000); got != 1700000000000 {
		t.Fatalf("microseconds not scaled: %d", got)
	}
	// Already-millisecond values pass through.
	if got := microToMilli(1700000000000); got != 1700000000000 {
		t.Fatalf("milliseconds rescaled: %d", got)
	}
}

func TestJitterDurationStaysInBand(t *testing.T) {
	d := time.Minute
	for i := 0; i < 50; i++ {
		j := jitterDuration(d)
		if j < time.Duration(float64(d)*0.8) || j > time.Duration(float64(d)*1.2) {
			t.Fatalf("jitter out of band: %v", j)
		}
	}
}

func TestSaveStateRoundTripsJSON(t *testing.T) {
	dir := t.TempDir()
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	c := NewInstagramChannel(config.InstagramConfig{}, dir, &fakeInbox{}, msgBus)
	c.state("t1").Timestamp = 7

	c.saveState()

	data, err := os.ReadFile(filepath.Join(dir, threadStateFile))
	if err != nil {
		t.Fatalf("state file missing: %v", err)
	}
	var decoded map[string]*threadState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("state file not valid JSON: %v", err)
	}
	if decoded["t1"].Timestamp != 7 {
		t.Fatalf("state content wrong: %+v", decoded["t1"])
	}
}
