package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/yehengbot/yeheng/pkg/logger"
)

const (
	userHistoryFile = "userHistory.json"
	messagesFile    = "messages.json"
)

// Load reads the two JSON snapshots from dir. A missing or unreadable file
// degrades to an empty collection; only a truly malformed on-disk layout is
// logged, never fatal.
func Load(dir string) *Store {
	s := NewStore()

	var users map[string]*UserHistory
	if readSnapshot(filepath.Join(dir, userHistoryFile), &users) {
		for _, id := range sortedKeys(users) {
			u := users[id]
			if u == nil || u.ID == "" {
				continue
			}
			s.users[u.ID] = u
			s.order = append(s.order, u.ID)
		}
	}

	var msgs []Message
	if readSnapshot(filepath.Join(dir, messagesFile), &msgs) {
		s.ambient = msgs
	}

	logger.InfoCF("history", "Loaded history snapshots", map[string]interface{}{
		"dir":      dir,
		"users":    len(s.users),
		"messages": len(s.ambient),
	})
	return s
}

// Save writes both snapshots to dir, creating it if needed. Called once at
// graceful shutdown; an abrupt kill loses everything since the last save,
// which is the documented trade-off.
func (s *Store) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	s.mu.Lock()
	users := make(map[string]*UserHistory, len(s.users))
	for _, id := range s.sortedIDs() {
		users[id] = s.users[id]
	}
	msgs := make([]Message, len(s.ambient))
	copy(msgs, s.ambient)
	s.mu.Unlock()

	if err := writeSnapshot(filepath.Join(dir, userHistoryFile), users); err != nil {
		return err
	}
	if err := writeSnapshot(filepath.Join(dir, messagesFile), msgs); err != nil {
		return err
	}

	logger.InfoCF("history", "Saved history snapshots", map[string]interface{}{
		"dir":      dir,
		"users":    len(users),
		"messages": len(msgs),
	})
	return nil
}

func readSnapshot(path string, v interface{}) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnCF("history", "Unreadable snapshot, starting fresh", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.WarnCF("history", "Invalid snapshot, starting fresh", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return false
	}
	return true
}

func writeSnapshot(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

func sortedKeys(m map[string]*UserHistory) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Stable load order keeps prompt rendering deterministic across restarts.
	sort.Strings(keys)
	return keys
}
