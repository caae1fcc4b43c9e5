package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"deepdive-tutor/internal/domain"
)

func sampleSession() domain.Session {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return domain.Session{
		ID:       "9b2f3c1e-0000-4000-8000-000000000001",
		Title:    "Photosynthesis",
		Mode:     "scientist",
		Audience: "middle_school",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "Why are leaves green?"},
			{Role: domain.RoleAssistant, Content: "### The Point in One Line\nChlorophyll."},
		},
		KnownTopics: []string{"Chlorophyll"},
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// exerciseStore runs the behavior every TranscriptStore must share.
func exerciseStore(t *testing.T, store TranscriptStore) {
	t.Helper()
	ctx := context.Background()

	ids, err := store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	_, err = store.Load(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrTranscriptNotFound)
	require.ErrorIs(t, store.Delete(ctx, "missing"), domain.ErrTranscriptNotFound)

	want := sampleSession()
	for _, id := range []string{"20260301-0930 Photosynthesis", "20260302-1000 Volcanoes", "20260228-0800 Edo period"} {
		require.NoError(t, store.Save(ctx, id, want))
	}

	ids, err = store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"20260302-1000 Volcanoes", "20260301-0930 Photosynthesis", "20260228-0800 Edo period"}, ids)

	got, err := store.Load(ctx, "20260301-0930 Photosynthesis")
	require.NoError(t, err)
	require.Equal(t, want, got)

	want.Title = "Renamed"
	require.NoError(t, store.Save(ctx, "20260301-0930 Photosynthesis", want))
	got, err = store.Load(ctx, "20260301-0930 Photosynthesis")
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.Title)

	require.NoError(t, store.Delete(ctx, "20260302-1000 Volcanoes"))
	ids, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	for _, bad := range []string{"../escape", "a/b", "", "x.json"} {
		_, err := store.Load(ctx, bad)
		require.ErrorIs(t, err, domain.ErrInvalidTranscriptID, "id=%q", bad)
		require.ErrorIs(t, store.Save(ctx, bad, want), domain.ErrInvalidTranscriptID, "id=%q", bad)
	}
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "history")
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	exerciseStore(t, store)

	// Stray files are not transcripts.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o755))
	ids, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestFileStore_LegacyTranscript(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"mode":"historian","messages":[{"role":"user","content":"q"},{"role":"model","content":"a"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.json"), []byte(legacy), 0o644))

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	s, err := store.Load(context.Background(), "old")
	require.NoError(t, err)
	require.Equal(t, domain.RoleAssistant, s.Messages[1].Role)
}

func TestFileStore_CorruptTranscript(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	_, err = store.Load(context.Background(), "broken")
	require.ErrorContains(t, err, "decode transcript")
}

func TestNewFileStore_RequiresDir(t *testing.T) {
	_, err := NewFileStore(" ")
	require.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	exerciseStore(t, store)
}

func TestSQLiteStore_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.sqlite")
	ctx := context.Background()

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "kept", sampleSession()))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	s, err := reopened.Load(ctx, "kept")
	require.NoError(t, err)
	require.Equal(t, "Photosynthesis", s.Title)
}
