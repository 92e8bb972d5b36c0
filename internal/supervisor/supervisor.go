// Package supervisor runs compiled strategy scripts as local OS processes,
// keeping at most one live instance per (user, title).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/AlexandrePrevot/OrderParserProcessor/internal/errors"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/metrics"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/models"
)

const (
	defaultGracePeriod = 5 * time.Second
	defaultOutputLimit = 64 << 10
)

var (
	ErrAlreadyActive   = perrors.New(perrors.KindConflict, "script already active")
	ErrNotActive       = perrors.New(perrors.KindConflict, "script not active")
	ErrBinaryNotFound  = perrors.New(perrors.KindNotFound, "compiled binary not found")
	ErrInvalidIdentity = perrors.New(perrors.KindInvalid, "invalid script identity")
)

// Config controls where binaries live and how they are stopped.
type Config struct {
	// OutputRoot holds <user>/<title>/build/<title> binaries.
	OutputRoot string
	// GracePeriod is how long Deactivate waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
	// OutputLimit is the number of stdout and stderr bytes kept per process.
	OutputLimit int
}

// Status is a point-in-time view of a tracked process.
type Status struct {
	User      string    `json:"user"`
	Title     string    `json:"title"`
	PID       int       `json:"pid"`
	Path      string    `json:"path"`
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
}

// Supervisor owns the process registry.
type Supervisor struct {
	cfg     Config
	audit   *AuditLog
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu    sync.Mutex // guards procs and locks; never held while waiting
	procs map[string]*Handle
	locks map[string]*sync.Mutex
}

// New creates a Supervisor.
func New(cfg Config, logger zerolog.Logger) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = defaultOutputLimit
	}
	return &Supervisor{
		cfg:    cfg,
		audit:  NewAuditLog(logger),
		logger: logger.With().Str("component", "supervisor").Logger(),
		procs:  make(map[string]*Handle),
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetMetrics attaches metrics collection.
func (s *Supervisor) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Audit returns the lifecycle audit log.
func (s *Supervisor) Audit() *AuditLog {
	return s.audit
}

// BinaryPath returns <OutputRoot>/<user>/<title>/build/<title> for the
// sanitized identity.
func (s *Supervisor) BinaryPath(id models.ScriptIdentity) string {
	id = id.Sanitized()
	return filepath.Join(s.cfg.OutputRoot, id.User, id.Title, "build", id.Title)
}

// IsActive reports whether a live process is tracked for id. An entry whose
// process has exited is removed.
func (s *Supervisor) IsActive(id models.ScriptIdentity) bool {
	unlock := s.lockKey(id.Key())
	defer unlock()

	_, ok := s.live(id)
	return ok
}

// Activate starts the compiled binary for id.
func (s *Supervisor) Activate(ctx context.Context, id models.ScriptIdentity) error {
	if !id.Valid() {
		return perrors.E(perrors.KindInvalid, "activate "+id.Key(), ErrInvalidIdentity)
	}
	unlock := s.lockKey(id.Key())
	defer unlock()

	err := s.activate(ctx, id)
	s.metrics.RecordTransition("activate", resultOf(err))
	return err
}

// Deactivate stops the process for id: SIGTERM, up to GracePeriod, then
// SIGKILL. The entry is removed whatever the outcome.
func (s *Supervisor) Deactivate(ctx context.Context, id models.ScriptIdentity) error {
	unlock := s.lockKey(id.Key())
	defer unlock()

	err := s.deactivate(ctx, id)
	s.metrics.RecordTransition("deactivate", resultOf(err))
	return err
}

// Toggle deactivates id if it is active and activates it otherwise. It
// returns the new state.
func (s *Supervisor) Toggle(ctx context.Context, id models.ScriptIdentity) (bool, error) {
	if !id.Valid() {
		return false, perrors.E(perrors.KindInvalid, "toggle "+id.Key(), ErrInvalidIdentity)
	}
	unlock := s.lockKey(id.Key())
	defer unlock()

	if _, ok := s.live(id); ok {
		err := s.deactivate(ctx, id)
		s.metrics.RecordTransition("deactivate", resultOf(err))
		return false, err
	}
	err := s.activate(ctx, id)
	s.metrics.RecordTransition("activate", resultOf(err))
	if err != nil {
		return false, err
	}
	return true, nil
}

// ShutdownAll stops every tracked process concurrently, each with its own
// grace period, and empties the registry.
func (s *Supervisor) ShutdownAll(ctx context.Context) {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.procs))
	for _, h := range s.procs {
		handles = append(handles, h)
	}
	s.procs = make(map[string]*Handle)
	s.mu.Unlock()
	s.metrics.SetProcessesActive(0)

	if len(handles) == 0 {
		return
	}
	s.logger.Info().Int("processes", len(handles)).Msg("shutting down all scripts")

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			killed := s.stop(ctx, h)
			s.record(h, "shutdown", stopResult(killed), "")
		}(h)
	}
	wg.Wait()
}

// List returns the tracked processes sorted by key.
func (s *Supervisor) List() []Status {
	s.mu.Lock()
	out := make([]Status, 0, len(s.procs))
	for _, h := range s.procs {
		out = append(out, Status{
			User:      h.Key.User,
			Title:     h.Key.Title,
			PID:       h.PID(),
			Path:      h.Path,
			StartedAt: h.StartedAt,
			Running:   h.Running(),
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].User != out[j].User {
			return out[i].User < out[j].User
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// Output returns the captured output of the tracked process for id.
func (s *Supervisor) Output(id models.ScriptIdentity) (stdout, stderr string, ok bool) {
	s.mu.Lock()
	h, ok := s.procs[id.Key()]
	s.mu.Unlock()
	if !ok {
		return "", "", false
	}
	stdout, stderr = h.Output()
	return stdout, stderr, true
}

func (s *Supervisor) activate(_ context.Context, id models.ScriptIdentity) error {
	id = id.Sanitized()
	op := "activate " + id.Key()

	if _, ok := s.live(id); ok {
		s.audit.Record(models.AuditEntry{User: id.User, Title: id.Title, Action: "activate", Result: "already_active"})
		return perrors.E(perrors.KindConflict, op, ErrAlreadyActive)
	}

	path := s.BinaryPath(id)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.audit.Record(models.AuditEntry{User: id.User, Title: id.Title, Action: "activate", Result: "binary_not_found", Details: path})
		return perrors.E(perrors.KindNotFound, op, ErrBinaryNotFound)
	}

	h, err := startHandle(id, path, s.cfg.OutputLimit)
	if err != nil {
		s.audit.Record(models.AuditEntry{User: id.User, Title: id.Title, Action: "activate", Result: "error", Details: err.Error()})
		return perrors.E(perrors.KindInternal, op, fmt.Errorf("starting %s: %w", path, err))
	}

	s.mu.Lock()
	s.procs[id.Key()] = h
	n := len(s.procs)
	s.mu.Unlock()
	s.metrics.SetProcessesActive(n)

	s.record(h, "activate", "ok", "")
	return nil
}

func (s *Supervisor) deactivate(ctx context.Context, id models.ScriptIdentity) error {
	id = id.Sanitized()
	h, ok := s.live(id)
	if !ok {
		s.audit.Record(models.AuditEntry{User: id.User, Title: id.Title, Action: "deactivate", Result: "not_active"})
		return perrors.E(perrors.KindConflict, "deactivate "+id.Key(), ErrNotActive)
	}

	killed := s.stop(ctx, h)
	s.remove(id.Key(), h)
	s.record(h, "deactivate", stopResult(killed), "")
	return nil
}

// stop terminates h, escalating to SIGKILL after the grace period or when
// ctx ends, and then waits for the exit unconditionally. It reports whether
// SIGKILL was needed.
func (s *Supervisor) stop(ctx context.Context, h *Handle) bool {
	if err := h.Terminate(); err != nil {
		s.logger.Warn().Err(err).Str("script", h.Key.Key()).Msg("terminate failed")
	}

	timer := time.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()

	select {
	case <-h.Done():
		return false
	case <-timer.C:
	case <-ctx.Done():
	}

	s.logger.Warn().
		Str("script", h.Key.Key()).
		Int("pid", h.PID()).
		Dur("grace", s.cfg.GracePeriod).
		Msg("script ignored SIGTERM, killing")
	if err := h.Kill(); err != nil {
		s.logger.Error().Err(err).Str("script", h.Key.Key()).Msg("kill failed")
	}
	<-h.Done()
	return true
}

// live returns the tracked handle for id if its process is still running.
// An exited entry is reaped. Callers hold the key lock.
func (s *Supervisor) live(id models.ScriptIdentity) (*Handle, bool) {
	key := id.Key()
	s.mu.Lock()
	h, ok := s.procs[key]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	if exited, exitErr := h.Poll(); exited {
		s.remove(key, h)
		details := ""
		if exitErr != nil {
			details = exitErr.Error()
		}
		s.record(h, "reap", "exited", details)
		return nil, false
	}
	return h, true
}

func (s *Supervisor) remove(key string, h *Handle) {
	s.mu.Lock()
	if s.procs[key] == h {
		delete(s.procs, key)
	}
	n := len(s.procs)
	s.mu.Unlock()
	s.metrics.SetProcessesActive(n)
}

// lockKey acquires the per-key mutex and returns its release function.
func (s *Supervisor) lockKey(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Supervisor) record(h *Handle, action, result, details string) {
	s.audit.Record(models.AuditEntry{
		User:    h.Key.User,
		Title:   h.Key.Title,
		Action:  action,
		Result:  result,
		PID:     h.PID(),
		Details: details,
	})
}

func stopResult(killed bool) string {
	if killed {
		return "killed"
	}
	return "ok"
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, ErrNotActive):
		return "not_active"
	case errors.Is(err, ErrBinaryNotFound):
		return "binary_not_found"
	default:
		return "error"
	}
}
