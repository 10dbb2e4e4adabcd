// Package dedup remembers which messages were already stored, keyed by
// Message-ID, so that polling a mailbox without auto-delete does not store
// the same message twice.
package dedup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Tracker is a persistent set of Message-IDs. Each ID is one line in the
// backing file.
type Tracker struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	file string
}

// NewTracker loads (or creates) a tracker backed by filePath.
func NewTracker(filePath string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create dedup dir: %w", err)
	}

	t := &Tracker{
		ids:  make(map[string]struct{}),
		file: filePath,
	}

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("open dedup file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := normalize(scanner.Text()); id != "" {
			t.ids[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dedup file: %w", err)
	}

	return t, nil
}

// normalize strips whitespace and the angle brackets some parsers keep.
func normalize(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

// Seen reports whether id was marked before. Empty IDs are never seen.
func (t *Tracker) Seen(id string) bool {
	id = normalize(id)
	if id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

// MarkSeen adds id and persists it. Empty IDs are ignored.
func (t *Tracker) MarkSeen(id string) error {
	id = normalize(id)
	if id == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.ids[id]; exists {
		return nil
	}

	f, err := os.OpenFile(t.file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open dedup file for append: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, id); err != nil {
		return fmt.Errorf("write message id: %w", err)
	}
	t.ids[id] = struct{}{}
	return nil
}

// Count returns the number of tracked IDs.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}
