package supervisor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/AlexandrePrevot/OrderParserProcessor/internal/errors"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/metrics"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/models"
)

const (
	sleeper    = "#!/bin/sh\nexec sleep 30\n"
	quitter    = "#!/bin/sh\nexit 0\n"
	stubborn   = "#!/bin/sh\ntrap '' TERM\necho ready\nwhile true; do sleep 0.05; done\n"
	talkative  = "#!/bin/sh\necho hello\necho oops >&2\nexec sleep 30\n"
	waitPeriod = 5 * time.Second
	tick       = 20 * time.Millisecond
)

func newTestSupervisor(t *testing.T, grace time.Duration) *Supervisor {
	t.Helper()
	return New(Config{OutputRoot: t.TempDir(), GracePeriod: grace}, zerolog.Nop())
}

func installScript(t *testing.T, s *Supervisor, id models.ScriptIdentity, body string) {
	t.Helper()
	path := s.BinaryPath(id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
}

func TestBinaryPath_Sanitized(t *testing.T) {
	s := New(Config{OutputRoot: "/out"}, zerolog.Nop())
	path := s.BinaryPath(models.ScriptIdentity{User: " Alice ", Title: "My Strategy"})
	assert.Equal(t, filepath.Join("/out", "alice", "my_strategy", "build", "my_strategy"), path)
}

func TestActivate_BinaryNotFound(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	id := models.ScriptIdentity{User: "alice", Title: "My Strategy"}

	err := s.Activate(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBinaryNotFound))
	assert.Equal(t, perrors.KindNotFound, perrors.KindOf(err))
	assert.Empty(t, s.List())
	assert.False(t, s.IsActive(id))
}

func TestActivate_DirectoryIsNotABinary(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	id := models.NewScriptIdentity("alice", "dir")
	require.NoError(t, os.MkdirAll(s.BinaryPath(id), 0o755))

	err := s.Activate(context.Background(), id)
	assert.True(t, errors.Is(err, ErrBinaryNotFound))
}

func TestActivate_InvalidIdentity(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	err := s.Activate(context.Background(), models.ScriptIdentity{User: "..", Title: "x"})
	assert.True(t, errors.Is(err, ErrInvalidIdentity))
}

func TestToggle_StartsThenStops(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	id := models.NewScriptIdentity("bob", "Mean Reversion")
	installScript(t, s, id, sleeper)
	ctx := context.Background()

	active, err := s.Toggle(ctx, id)
	require.NoError(t, err)
	assert.True(t, active)
	assert.True(t, s.IsActive(id))

	active, err = s.Toggle(ctx, id)
	require.NoError(t, err)
	assert.False(t, active)
	assert.False(t, s.IsActive(id))
	assert.Empty(t, s.List())
}

func TestActivate_AlreadyActive(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	id := models.NewScriptIdentity("bob", "x")
	installScript(t, s, id, sleeper)
	ctx := context.Background()

	require.NoError(t, s.Activate(ctx, id))
	defer s.ShutdownAll(ctx)

	// Raw inputs that sanitize identically are the same script.
	err := s.Activate(ctx, models.ScriptIdentity{User: " BOB", Title: "X "})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyActive))
	assert.Equal(t, perrors.KindConflict, perrors.KindOf(err))
	assert.Len(t, s.List(), 1)
}

func TestActivate_ConcurrentSameKey(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	installScript(t, s, models.NewScriptIdentity("alice", "race"), sleeper)
	ctx := context.Background()
	defer s.ShutdownAll(ctx)

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		started  int
		conflict int
	)
	for i := 0; i < n; i++ {
		id := models.ScriptIdentity{User: "Alice", Title: "RACE"}
		if i%2 == 0 {
			id = models.ScriptIdentity{User: "alice", Title: "race"}
		}
		wg.Add(1)
		go func(id models.ScriptIdentity) {
			defer wg.Done()
			err := s.Activate(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case errors.Is(err, ErrAlreadyActive):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, n-1, conflict)
	assert.Len(t, s.List(), 1)
}

func TestToggle_ConcurrentSameKeyAlternates(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	id := models.NewScriptIdentity("carol", "flip")
	installScript(t, s, id, sleeper)
	ctx := context.Background()
	defer s.ShutdownAll(ctx)

	const n = 10
	results := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			active, err := s.Toggle(ctx, id)
			assert.NoError(t, err)
			results <- active
		}()
	}
	wg.Wait()
	close(results)

	var on, off int
	for active := range results {
		if active {
			on++
		} else {
			off++
		}
	}
	assert.Equal(t, n/2, on)
	assert.Equal(t, n/2, off)
	assert.False(t, s.IsActive(id))
	assert.Empty(t, s.List())
}

func TestDeactivate_NotActive(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	err := s.Deactivate(context.Background(), models.NewScriptIdentity("bob", "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotActive))
}

func TestIsActive_ReconcilesExitedProcess(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	id := models.NewScriptIdentity("carol", "one shot")
	installScript(t, s, id, quitter)
	ctx := context.Background()

	require.NoError(t, s.Activate(ctx, id))

	require.Eventually(t, func() bool { return !s.IsActive(id) }, waitPeriod, tick)
	assert.Empty(t, s.List())

	entries := s.Audit().GetEntries("carol", 1)
	require.Len(t, entries, 1)
	assert.Equal(t, "reap", entries[0].Action)

	// The next toggle starts a fresh instance rather than stopping a dead one.
	installScript(t, s, id, sleeper)
	active, err := s.Toggle(ctx, id)
	require.NoError(t, err)
	assert.True(t, active)
	s.ShutdownAll(ctx)
}

func TestDeactivate_ExitedProcessIsNotActive(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	id := models.NewScriptIdentity("carol", "quick")
	installScript(t, s, id, quitter)
	ctx := context.Background()

	require.NoError(t, s.Activate(ctx, id))
	require.Eventually(t, func() bool {
		s.mu.Lock()
		h := s.procs[id.Key()]
		s.mu.Unlock()
		return h != nil && !h.Running()
	}, waitPeriod, tick)

	err := s.Deactivate(ctx, id)
	assert.True(t, errors.Is(err, ErrNotActive))
	assert.Empty(t, s.List())
}

func TestDeactivate_KillsAfterGracePeriod(t *testing.T) {
	grace := 200 * time.Millisecond
	s := newTestSupervisor(t, grace)
	id := models.NewScriptIdentity("dave", "stubborn")
	installScript(t, s, id, stubborn)
	ctx := context.Background()

	require.NoError(t, s.Activate(ctx, id))
	require.Eventually(t, func() bool {
		out, _, ok := s.Output(id)
		return ok && strings.Contains(out, "ready")
	}, waitPeriod, tick)

	start := time.Now()
	require.NoError(t, s.Deactivate(ctx, id))
	assert.GreaterOrEqual(t, time.Since(start), grace)
	assert.False(t, s.IsActive(id))

	entries := s.Audit().GetEntries("dave", 1)
	require.Len(t, entries, 1)
	assert.Equal(t, "deactivate", entries[0].Action)
	assert.Equal(t, "killed", entries[0].Result)
}

func TestDeactivate_GracefulExit(t *testing.T) {
	s := newTestSupervisor(t, 5*time.Second)
	id := models.NewScriptIdentity("erin", "polite")
	installScript(t, s, id, sleeper)
	ctx := context.Background()

	require.NoError(t, s.Activate(ctx, id))

	start := time.Now()
	require.NoError(t, s.Deactivate(ctx, id))
	assert.Less(t, time.Since(start), 5*time.Second)

	entries := s.Audit().GetEntries("erin", 1)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].Result)
}

func TestShutdownAll_StopsEverything(t *testing.T) {
	s := newTestSupervisor(t, 200*time.Millisecond)
	ctx := context.Background()
	ids := []models.ScriptIdentity{
		models.NewScriptIdentity("u1", "a"),
		models.NewScriptIdentity("u2", "b"),
		models.NewScriptIdentity("u3", "c"),
	}
	installScript(t, s, ids[0], sleeper)
	installScript(t, s, ids[1], sleeper)
	installScript(t, s, ids[2], stubborn)

	for _, id := range ids {
		require.NoError(t, s.Activate(ctx, id))
	}
	require.Len(t, s.List(), 3)

	start := time.Now()
	s.ShutdownAll(ctx)
	// Grace periods run concurrently, not one after another.
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.Empty(t, s.List())
	for _, id := range ids {
		assert.False(t, s.IsActive(id))
	}
}

func TestList_Snapshot(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	ctx := context.Background()
	b := models.NewScriptIdentity("zed", "b")
	a := models.NewScriptIdentity("amy", "a")
	installScript(t, s, a, sleeper)
	installScript(t, s, b, sleeper)
	require.NoError(t, s.Activate(ctx, b))
	require.NoError(t, s.Activate(ctx, a))
	defer s.ShutdownAll(ctx)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "amy", list[0].User)
	assert.Equal(t, "zed", list[1].User)
	assert.True(t, list[0].Running)
	assert.NotZero(t, list[0].PID)
	assert.Equal(t, s.BinaryPath(a), list[0].Path)
}

func TestOutput_Captured(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	id := models.NewScriptIdentity("fay", "talk")
	installScript(t, s, id, talkative)
	ctx := context.Background()

	require.NoError(t, s.Activate(ctx, id))
	defer s.ShutdownAll(ctx)

	require.Eventually(t, func() bool {
		out, errOut, ok := s.Output(id)
		return ok && strings.Contains(out, "hello") && strings.Contains(errOut, "oops")
	}, waitPeriod, tick)

	_, _, ok := s.Output(models.NewScriptIdentity("fay", "other"))
	assert.False(t, ok)
}

func TestSupervisor_Metrics(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	m := metrics.New()
	s.SetMetrics(m)
	id := models.NewScriptIdentity("gus", "m")
	installScript(t, s, id, sleeper)
	ctx := context.Background()

	require.NoError(t, s.Activate(ctx, id))
	assert.Error(t, s.Activate(ctx, id))
	require.NoError(t, s.Deactivate(ctx, id))

	body := scrape(t, m)
	assert.Contains(t, body, "supervisor_processes_active 0")
	assert.Contains(t, body, `supervisor_transitions_total{op="activate",result="ok"} 1`)
	assert.Contains(t, body, `supervisor_transitions_total{op="activate",result="already_active"} 1`)
	assert.Contains(t, body, `supervisor_transitions_total{op="deactivate",result="ok"} 1`)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	b := newTailBuffer(5)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "cdefg", b.String())
}

func TestAuditLog_Capacity(t *testing.T) {
	a := NewAuditLog(zerolog.Nop())
	for i := 0; i < auditCapacity+10; i++ {
		a.Record(models.AuditEntry{User: "u", Action: "activate", Result: "ok", PID: i})
	}
	assert.Equal(t, auditCapacity, a.Count())
	latest := a.GetEntries("", 1)
	require.Len(t, latest, 1)
	assert.Equal(t, auditCapacity+9, latest[0].PID)
	assert.Empty(t, a.GetEntries("nobody", 10))
}

type memorySink struct {
	entries []models.AuditEntry
}

func (m *memorySink) SaveAuditEntry(e models.AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func TestAuditLog_Sink(t *testing.T) {
	a := NewAuditLog(zerolog.Nop())
	sink := &memorySink{}
	a.SetSink(sink)

	a.Record(models.AuditEntry{User: "u", Title: "t", Action: "activate", Result: "ok"})
	require.Len(t, sink.entries, 1)
	assert.False(t, sink.entries[0].Timestamp.IsZero())
}
