package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"deepdive-tutor/internal/domain"
)

// TranscriptStore persists whole sessions under a path-safe transcript id.
// Missing transcripts are reported with an error wrapping
// domain.ErrTranscriptNotFound.
type TranscriptStore interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, id string) (domain.Session, error)
	Save(ctx context.Context, id string, s domain.Session) error
	Delete(ctx context.Context, id string) error
}

var (
	_ TranscriptStore = (*FileStore)(nil)
	_ TranscriptStore = (*SQLiteStore)(nil)
	_ TranscriptStore = (*DynamoStore)(nil)
)

// checkID rejects ids that are not already in sanitized form, so a store
// never resolves a caller-supplied path component it did not produce.
func checkID(id string) error {
	clean, err := domain.TranscriptID(id)
	if err != nil || clean != id {
		return fmt.Errorf("repository: %w: %q", domain.ErrInvalidTranscriptID, id)
	}
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("repository: %w: %q", domain.ErrTranscriptNotFound, id)
}

func encodeSession(s domain.Session) ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("repository: encode session: %w", err)
	}
	return b, nil
}

func decodeSession(id string, b []byte) (domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return domain.Session{}, fmt.Errorf("repository: decode transcript %q: %w", id, err)
	}
	return s, nil
}

// newestFirst orders ids in reverse lexical order; timestamp-prefixed titles
// therefore list most recent first.
func newestFirst(ids []string) []string {
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids
}
