// Package store appends loaded messages to one mbox file per account.
package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/emersion/go-mbox"

	"github.com/tracyhatemice/mailreader/internal/message"
)

// Mbox writes messages to <dir>/<key>.mbox.
type Mbox struct {
	dir string

	mu sync.Mutex
}

// NewMbox creates dir if needed.
func NewMbox(dir string) (*Mbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Mbox{dir: dir}, nil
}

// Path returns the mbox file for an account key.
func (s *Mbox) Path(key string) string {
	return filepath.Join(s.dir, key+".mbox")
}

// Append adds msg to the account's mbox file.
func (s *Mbox) Append(key string, msg *message.Message) error {
	if len(msg.Raw) == 0 {
		return fmt.Errorf("message %s has no raw content", msg.MessageID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.Path(key), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()

	w := mbox.NewWriter(f)
	mw, err := w.CreateMessage(msg.Sender(), msg.Date)
	if err != nil {
		return fmt.Errorf("create mbox message: %w", err)
	}
	if _, err := mw.Write(bytes.ReplaceAll(msg.Raw, []byte("\r\n"), []byte("\n"))); err != nil {
		return fmt.Errorf("write mbox message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close mbox writer: %w", err)
	}
	return f.Close()
}
