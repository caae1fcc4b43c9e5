package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"deepdive-tutor/internal/domain"
)

const transcriptExt = ".json"

// FileStore keeps one indented JSON document per transcript in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("repository: transcript dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("repository: create transcript dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+transcriptExt)
}

func (f *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("repository: list transcripts: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, transcriptExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, transcriptExt))
	}
	return newestFirst(ids), nil
}

func (f *FileStore) Load(_ context.Context, id string) (domain.Session, error) {
	if err := checkID(id); err != nil {
		return domain.Session{}, err
	}
	b, err := os.ReadFile(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Session{}, notFound(id)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: read transcript %q: %w", id, err)
	}
	return decodeSession(id, b)
}

// Save writes to a temp file and renames it into place.
func (f *FileStore) Save(_ context.Context, id string, s domain.Session) error {
	if err := checkID(id); err != nil {
		return err
	}
	b, err := encodeSession(s)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("repository: save transcript %q: %w", id, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("repository: save transcript %q: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("repository: save transcript %q: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), f.path(id)); err != nil {
		return fmt.Errorf("repository: save transcript %q: %w", id, err)
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	err := os.Remove(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("repository: delete transcript %q: %w", id, err)
	}
	return nil
}
