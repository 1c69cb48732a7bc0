package prompt

import (
	"fmt"
	"strings"

	"github.com/yehengbot/yeheng/pkg/history"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Segment is one role-tagged piece of the prompt.
type Segment struct {
	Role    string
	Content string
}

// Assembler builds the ordered segment list for one model call. It is pure:
// every call works off the detached snapshots it is given.
type Assembler struct {
	persona string

	// Windowing bounds. They exist only to bound prompt size; truncation is
	// always "keep the most recent".
	ambientWindow   int
	crossUserWindow int
	shortTermWindow int
}

func NewAssembler(persona string, ambientWindow, crossUserWindow, shortTermWindow int) *Assembler {
	return &Assembler{
		persona:         persona,
		ambientWindow:   ambientWindow,
		crossUserWindow: crossUserWindow,
		shortTermWindow: shortTermWindow,
	}
}

// Input carries everything one Build needs.
type Input struct {
	User     history.UserHistory
	AllUsers []history.UserHistory
	Ambient  []history.Message
	Inbound  string
	IsDM     bool
	// PlatformGuide is supplied by the channel adapter; the assembler stays
	// platform-agnostic.
	PlatformGuide string
}

// Build renders the full segment list. Segment order: persona, platform
// guide, user facts, ambient window, cross-user window, DM/group flag,
// short-term exchange replay, new inbound message. Everything before the
// replay is system-role context, not dialogue.
func (a *Assembler) Build(in Input) []Segment {
	segs := make([]Segment, 0, 8+2*a.shortTermWindow)

	segs = append(segs, Segment{Role: RoleSystem, Content: a.persona})

	if in.PlatformGuide != "" {
		segs = append(segs, Segment{Role: RoleSystem, Content: in.PlatformGuide})
	}

	segs = append(segs, Segment{Role: RoleSystem, Content: a.factsSegment(in.User)})
	segs = append(segs, Segment{Role: RoleSystem, Content: a.ambientSegment(in.Ambient)})
	segs = append(segs, Segment{Role: RoleSystem, Content: a.crossUserSegment(in.AllUsers)})
	segs = append(segs, Segment{Role: RoleSystem, Content: contextFlagSegment(in.IsDM)})

	for _, ex := range tailExchanges(in.User.Exchanges, a.shortTermWindow) {
		segs = append(segs,
			Segment{Role: RoleUser, Content: ex.UserText},
			Segment{Role: RoleAssistant, Content: ex.AssistantText},
		)
	}

	segs = append(segs, Segment{Role: RoleUser, Content: in.Inbound})
	return segs
}

func (a *Assembler) factsSegment(u history.UserHistory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "需要被記得的個人資訊：%s", strings.Join(u.MemoryFacts, "、"))
	if len(u.ImportantFacts) > 0 {
		fmt.Fprintf(&b, "\n重要資訊：%s", strings.Join(u.ImportantFacts, "、"))
	}
	fmt.Fprintf(&b, "\n使用者名稱為 **%s**，請適時參照資料給予回覆。", u.DisplayName)
	return b.String()
}

func (a *Assembler) ambientSegment(msgs []history.Message) string {
	start := len(msgs) - a.ambientWindow
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		lines = append(lines, fmt.Sprintf("**%s**：%s", m.AuthorDisplayName, m.Content))
	}
	return "近期的對話歷史如下：\n" + strings.Join(lines, "\n")
}

func (a *Assembler) crossUserSegment(users []history.UserHistory) string {
	// The target user is included here too; their thread doubles as topic
	// context like everyone else's.
	lines := make([]string, 0, len(users))
	for _, u := range users {
		texts := make([]string, 0, a.crossUserWindow)
		for _, ex := range tailExchanges(u.Exchanges, a.crossUserWindow) {
			texts = append(texts, ex.UserText)
		}
		lines = append(lines, fmt.Sprintf("**%s**：%s", u.DisplayName, strings.Join(texts, "\n")))
	}
	return "你和其他人近期的對話紀錄為：\n" + strings.Join(lines, "\n") +
		"\n並且在對話中提取出需要被紀錄的個人訊息保存。"
}

func contextFlagSegment(isDM bool) string {
	where := "群組"
	if isDM {
		where = "私訊"
	}
	return fmt.Sprintf("請注意，現在你是在 %s 中和使用者對話。", where)
}

func tailExchanges(exchanges []history.Exchange, n int) []history.Exchange {
	if len(exchanges) <= n {
		return exchanges
	}
	return exchanges[len(exchanges)-n:]
}
