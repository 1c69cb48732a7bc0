package channels

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestSplitMessageShortContentUnsplit(t *testing.T) {
	msgs := splitMessage("hello", 1500)
	if len(msgs) != 1 || msgs[0] != "hello" {
		t.Fatalf("unexpected split: %v", msgs)
	}
}

func TestSplitMessagePrefersNewlineBoundary(t *testing.T) {
	content := strings.Repeat("a", 1400) + "\n" + strings.Repeat("b", 300)
	msgs := splitMessage(content, 1500)

	if len(msgs) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(msgs))
	}
	if msgs[0] != strings.Repeat("a", 1400) {
		t.Fatalf("first chunk should end at the newline, got %d bytes", len(msgs[0]))
	}
	if msgs[1] != strings.Repeat("b", 300) {
		t.Fatalf("second chunk wrong: %d bytes", len(msgs[1]))
	}
}

func TestSplitMessageFallsBackToSpace(t *testing.T) {
	content := strings.Repeat("a", 1450) + " " + strings.Repeat("b", 200)
	msgs := splitMessage(content, 1500)

	if len(msgs) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(msgs))
	}
	if msgs[0] != strings.Repeat("a", 1450) {
		t.Fatalf("first chunk should end at the space, got %d bytes", len(msgs[0]))
	}
}

func TestSplitMessageHardCutWithoutBoundary(t *testing.T) {
	content := strings.Repeat("x", 3200)
	msgs := splitMessage(content, 1500)

	if len(msgs) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(msgs))
	}
	for i, m := range msgs {
		if len(m) > 1500 {
			t.Fatalf("chunk %d exceeds limit: %d", i, len(m))
		}
	}
	if strings.Join(msgs, "") != content {
		t.Fatal("hard cut lost content")
	}
}

func TestRewriteMentionsStripsBotAndNamesOthers(t *testing.T) {
	mentions := []*discordgo.User{
		{ID: "111", Username: "botself"},
		{ID: "222", Username: "bob", GlobalName: "Bobby"},
	}

	got := rewriteMentions("<@111> say hi to <@!222> please", "111", mentions)
	want := " say hi to @Bobby please"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRewriteMentionsUnknownIDLeftAlone(t *testing.T) {
	got := rewriteMentions("ping <@999>", "111", nil)
	if got != "ping <@999>" {
		t.Fatalf("unknown mention should be untouched: %q", got)
	}
}

func TestAuthorDisplayNamePreference(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{Username: "user", GlobalName: "Global"},
		Member: &discordgo.Member{Nick: "Nick"},
	}}
	if got := authorDisplayName(m); got != "Nick" {
		t.Fatalf("nick should win: %q", got)
	}

	m.Member = nil
	if got := authorDisplayName(m); got != "Global" {
		t.Fatalf("global name should win over username: %q", got)
	}

	m.Author.GlobalName = ""
	if got := authorDisplayName(m); got != "user" {
		t.Fatalf("username fallback broken: %q", got)
	}
}

func TestIsAllowedChannel(t *testing.T) {
	c := &DiscordChannel{}
	c.config.AllowedChannels = []string{"100", "200"}

	if !c.isAllowedChannel("100") {
		t.Fatal("listed channel rejected")
	}
	if c.isAllowedChannel("300") {
		t.Fatal("unlisted channel accepted")
	}
}

func TestFormatGuides(t *testing.T) {
	if !strings.Contains(DiscordFormatGuide, "Discord 操作指南") {
		t.Fatal("discord guide header missing")
	}
	if !strings.Contains(InstagramFormatGuide, "Instagram 操作指南") {
		t.Fatal("instagram guide header missing")
	}
}
