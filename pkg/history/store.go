package history

import (
	"sort"
	"sync"
)

// Exchange is one user-turn/assistant-turn pair, the atomic unit of stored
// conversation.
type Exchange struct {
	UserText      string `json:"user_text"`
	AssistantText string `json:"assistant_text"`
	Timestamp     int64  `json:"timestamp"`
}

// UserHistory is the per-user conversation record. Records handed out by the
// store are detached copies; mutations become visible only through
// ReplaceUser.
type UserHistory struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"display_name"`
	Exchanges      []Exchange `json:"exchanges"`
	MemoryFacts    []string   `json:"memory_facts"`
	ImportantFacts []string   `json:"important_facts"`
}

// Message is one entry of the ambient cross-conversation log. It is not keyed
// by user and never deduplicated.
type Message struct {
	Content           string `json:"content"`
	AuthorDisplayName string `json:"author_display_name"`
	Timestamp         int64  `json:"timestamp"`
	ChannelID         string `json:"channel_id"`
	FromBot           bool   `json:"from_bot"`
}

// Store owns the two collections and is the only mutation point. It grows
// unboundedly for the life of the process; windowing is a read-time concern
// of the prompt assembler.
type Store struct {
	mu      sync.Mutex
	users   map[string]*UserHistory
	order   []string // user ids in insertion order
	ambient []Message
}

func NewStore() *Store {
	return &Store{users: make(map[string]*UserHistory)}
}

// FindOrCreateUser returns a detached copy of the record for id, creating a
// zero-state record first if none exists. Lookup is by id only; display
// names are not unique on any of the platforms.
func (s *Store) FindOrCreateUser(id, displayName string) UserHistory {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		u = &UserHistory{ID: id, DisplayName: displayName}
		s.users[id] = u
		s.order = append(s.order, id)
	}
	return cloneUser(u)
}

// ReplaceUser commits a (possibly mutated) detached record back into the
// store. The latest call wins; when two in-flight requests for the same user
// overlap, whichever commits last overwrites the other.
func (s *Store) ReplaceUser(u UserHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		s.order = append(s.order, u.ID)
	}
	c := cloneUser(&u)
	s.users[u.ID] = &c
}

// AppendAmbient appends one observed message to the flat log.
func (s *Store) AppendAmbient(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ambient = append(s.ambient, m)
}

// Users returns detached copies of every record in insertion order.
func (s *Store) Users() []UserHistory {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UserHistory, 0, len(s.order))
	for _, id := range s.order {
		if u, ok := s.users[id]; ok {
			out = append(out, cloneUser(u))
		}
	}
	return out
}

// Ambient returns a copy of the full ambient log in append order.
func (s *Store) Ambient() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.ambient))
	copy(out, s.ambient)
	return out
}

func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *Store) AmbientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ambient)
}

// RecordExchange appends one exchange to a detached record. No cap is
// enforced here.
func (u *UserHistory) RecordExchange(userText, assistantText string, timestamp int64) {
	u.Exchanges = append(u.Exchanges, Exchange{
		UserText:      userText,
		AssistantText: assistantText,
		Timestamp:     timestamp,
	})
}

// MergeFacts set-unions new fact strings into the two tiers. Merging the
// same facts twice is a no-op.
func (u *UserHistory) MergeFacts(memoryFacts, importantFacts []string) {
	u.MemoryFacts = mergeSet(u.MemoryFacts, memoryFacts)
	u.ImportantFacts = mergeSet(u.ImportantFacts, importantFacts)
}

func mergeSet(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	for _, f := range existing {
		seen[f] = struct{}{}
	}
	for _, f := range incoming {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		existing = append(existing, f)
	}
	return existing
}

func cloneUser(u *UserHistory) UserHistory {
	c := UserHistory{ID: u.ID, DisplayName: u.DisplayName}
	if len(u.Exchanges) > 0 {
		c.Exchanges = make([]Exchange, len(u.Exchanges))
		copy(c.Exchanges, u.Exchanges)
	}
	if len(u.MemoryFacts) > 0 {
		c.MemoryFacts = make([]string, len(u.MemoryFacts))
		copy(c.MemoryFacts, u.MemoryFacts)
	}
	if len(u.ImportantFacts) > 0 {
		c.ImportantFacts = make([]string, len(u.ImportantFacts))
		copy(c.ImportantFacts, u.ImportantFacts)
	}
	return c
}

// sortedIDs is used by persistence for a stable on-disk layout.
func (s *Store) sortedIDs() []string {
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
