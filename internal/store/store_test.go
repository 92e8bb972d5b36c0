package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/AlexandrePrevot/OrderParserProcessor/internal/errors"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "scripts.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_CreatesDB(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"meta", "scripts", "process_audit"} {
		var count int
		err := s.DB().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	var version string
	require.NoError(t, s.DB().QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version))
	assert.Equal(t, "2", version)
	require.NoError(t, s.Ping(context.Background()))
}

func TestNew_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scripts.db")
	s, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.SaveScript(context.Background(), &models.Script{User: "alice", Title: "A", Content: "x"}))
	require.NoError(t, s.Close())

	s, err = New(path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetScript(context.Background(), models.NewScriptIdentity("alice", "a"))
	require.NoError(t, err)
	assert.Equal(t, "x", got.Content)
}

func TestScript_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sc := &models.Script{User: "Alice", Title: "My Strategy", Summary: "first", Content: "buy"}
	require.NoError(t, s.SaveScript(ctx, sc))
	created := sc.CreatedAt

	got, err := s.GetScript(ctx, models.ScriptIdentity{User: "alice", Title: "my strategy"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.User)
	assert.Equal(t, "My Strategy", got.Title)
	assert.Equal(t, "first", got.Summary)
	assert.Equal(t, "buy", got.Content)

	time.Sleep(5 * time.Millisecond)
	update := &models.Script{User: "alice", Title: "my strategy", Summary: "second", Content: "sell"}
	require.NoError(t, s.SaveScript(ctx, update))

	got, err = s.GetScript(ctx, models.NewScriptIdentity("ALICE", "My Strategy"))
	require.NoError(t, err)
	assert.Equal(t, "sell", got.Content)
	assert.Equal(t, created.UnixMilli(), got.CreatedAt.UnixMilli())
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	list, err := s.ListScripts(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteScript(ctx, models.NewScriptIdentity("alice", "my strategy")))
	_, err = s.GetScript(ctx, models.NewScriptIdentity("alice", "my strategy"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrScriptNotFound))
	assert.Equal(t, perrors.KindNotFound, perrors.KindOf(err))
}

func TestListScripts_FilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, sc := range []models.Script{
		{User: "bob", Title: "zeta", Content: "1"},
		{User: "alice", Title: "beta", Content: "2"},
		{User: "alice", Title: "alpha", Content: "3"},
	} {
		sc := sc
		require.NoError(t, s.SaveScript(ctx, &sc))
	}

	all, err := s.ListScripts(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Title)
	assert.Equal(t, "beta", all[1].Title)
	assert.Equal(t, "zeta", all[2].Title)

	alice, err := s.ListScripts(ctx, "Alice", 0)
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	limited, err := s.ListScripts(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAuditEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAuditEntry(models.AuditEntry{User: "bob", Title: "x", Action: "activate", Result: "ok", PID: 42}))
	require.NoError(t, s.SaveAuditEntry(models.AuditEntry{User: "bob", Title: "x", Action: "deactivate", Result: "killed", PID: 42}))
	require.NoError(t, s.SaveAuditEntry(models.AuditEntry{User: "carol", Title: "y", Action: "activate", Result: "binary_not_found"}))

	entries, err := s.ListAuditEntries(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "deactivate", entries[0].Action)
	assert.Equal(t, 42, entries[0].PID)

	all, err := s.ListAuditEntries(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-AuditRetention - time.Hour)
	require.NoError(t, s.SaveAuditEntry(models.AuditEntry{Timestamp: old, User: "u", Title: "t", Action: "activate", Result: "ok"}))
	require.NoError(t, s.SaveAuditEntry(models.AuditEntry{User: "u", Title: "t", Action: "deactivate", Result: "ok"}))

	n, err := s.RunRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := s.ListAuditEntries(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "deactivate", entries[0].Action)
}

func TestDBSize(t *testing.T) {
	s := newTestStore(t)
	size, err := s.DBSizeBytes()
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}
