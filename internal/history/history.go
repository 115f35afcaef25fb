// Package history provides the append-only local chat log.
package history

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store is an append-only text log. Every call re-opens the file; appends
// from concurrent goroutines are serialized by the store.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a Store writing to path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: path is required")
	}
	return &Store{path: path}, nil
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}

// Append writes line plus a newline to the end of the log. The containing
// directory is created if missing and the file handle is released before
// returning.
func (s *Store) Append(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("history: create dir for %s: %w", s.path, err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("history: open %s: %w", s.path, err)
	}
	if _, err := io.WriteString(f, line+"\n"); err != nil {
		f.Close()
		return fmt.Errorf("history: append to %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("history: close %s: %w", s.path, err)
	}
	return nil
}

// ReadAll returns the full log. An absent or empty file yields "", which
// callers treat as "no history"; only real I/O failures return an error.
func (s *Store) ReadAll() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("history: read %s: %w", s.path, err)
	}
	return string(data), nil
}

// Show prints the log framed by history markers, or a notice when there is
// nothing to show.
func (s *Store) Show(w io.Writer) error {
	text, err := s.ReadAll()
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Fprintf(w, "\n--- No Previous Chat History ---\n\n")
		return nil
	}
	fmt.Fprintf(w, "\n--- Chat History ---\n")
	fmt.Fprint(w, text)
	fmt.Fprintf(w, "--- End of History ---\n\n")
	return nil
}
