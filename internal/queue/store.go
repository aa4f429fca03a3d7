package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists the pending-message snapshot for each queue name. Load must
// treat missing or corrupt data as an empty queue, never a fatal error.
type Store interface {
	Load(name string) ([]Message, error)
	Save(name string, pending []Message) error
}

// FileStore keeps one JSON document per queue name under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a file-backed
// store.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("queue store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, sanitizeName(name)+".json")
}

// Load reads the snapshot for a queue. A missing or unparseable file loads
// as an empty queue.
func (s *FileStore) Load(name string) ([]Message, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue snapshot %s: %w", name, err)
	}

	var pending []Message
	if err := json.Unmarshal(data, &pending); err != nil {
		// Corrupt snapshot: start empty rather than refuse to start.
		return nil, nil
	}
	return pending, nil
}

// Save overwrites the snapshot for a queue. The write goes through a
// uniquely named temp file and rename, so a crash mid-write leaves the
// previous snapshot intact and concurrent saves never share a temp file.
func (s *FileStore) Save(name string, pending []Message) error {
	data, err := json.MarshalIndent(pending, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue snapshot %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, sanitizeName(name)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("write queue snapshot %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write queue snapshot %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write queue snapshot %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace queue snapshot %s: %w", name, err)
	}
	return nil
}

// sanitizeName keeps queue names path-safe.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "queue"
	}
	return b.String()
}

// NullStore discards snapshots and loads everything as empty. Useful for
// tests and callers that accept losing queued work on restart.
type NullStore struct{}

// NewNullStore returns a store that persists nothing.
func NewNullStore() NullStore { return NullStore{} }

// Load always returns an empty queue.
func (NullStore) Load(string) ([]Message, error) { return nil, nil }

// Save discards the snapshot.
func (NullStore) Save(string, []Message) error { return nil }
