// Package dedup provides the per-account seen-message store. IMAP accounts
// use it as a second line of defense behind the server's \Seen flag; POP3
// accounts depend on it outright, since the protocol has no read state.
package dedup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Tracker is a set of message keys that have already been handled. When
// backed by a file it appends one key per line and reloads them on start,
// so the set survives restarts; with no file it is memory-only and resets
// with the process.
type Tracker struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	path string
}

// NewTracker opens the tracker at path, creating parent directories as
// needed. An empty path yields a memory-only tracker.
func NewTracker(path string) (*Tracker, error) {
	t := &Tracker{
		ids:  make(map[string]struct{}),
		path: path,
	}
	if path == "" {
		return t, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare seen store dir: %w", err)
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracker) load() error {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open seen store: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if key := strings.TrimSpace(scanner.Text()); key != "" {
			t.ids[key] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan seen store: %w", err)
	}
	return nil
}

// Seen reports whether key has been marked before.
func (t *Tracker) Seen(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[key]
	return ok
}

// Mark adds key to the set, appending it to the backing file when one is
// configured. Marking a key twice is a no-op.
func (t *Tracker) Mark(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.ids[key]; exists {
		return nil
	}
	t.ids[key] = struct{}{}
	if t.path == "" {
		return nil
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append seen store: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, key); err != nil {
		return fmt.Errorf("record seen key: %w", err)
	}
	return nil
}

// Count returns the number of tracked keys.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}
