package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/yamada-sexta/touitomamout-next/internal/post"
	"github.com/yamada-sexta/touitomamout-next/internal/store"
)

// NewStore opens a fresh store in a temp directory and closes it on cleanup.
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// baseTime anchors generated post timestamps.
var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Raw returns a minimal feed item.
func Raw(id, text string) post.Raw {
	return post.Raw{ID: id, Text: text, Timestamp: baseTime.Unix(), Username: "source"}
}

// Raws returns one feed item per id with text "post <id>".
func Raws(ids ...string) []post.Raw {
	out := make([]post.Raw, len(ids))
	for i, id := range ids {
		out[i] = Raw(id, "post "+id)
	}
	return out
}
