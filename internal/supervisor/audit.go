package supervisor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexandrePrevot/OrderParserProcessor/internal/models"
)

const auditCapacity = 1000

// AuditSink persists audit entries beyond the in-memory window.
type AuditSink interface {
	SaveAuditEntry(models.AuditEntry) error
}

// AuditLog records process lifecycle events. It keeps the most recent
// auditCapacity entries.
type AuditLog struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
	sink    AuditSink
	logger  zerolog.Logger
}

// NewAuditLog creates a new audit log.
func NewAuditLog(logger zerolog.Logger) *AuditLog {
	return &AuditLog{
		entries: make([]models.AuditEntry, 0, auditCapacity),
		logger:  logger.With().Str("component", "audit").Logger(),
	}
}

// SetSink attaches persistent storage. Entries recorded before the call are
// not replayed.
func (a *AuditLog) SetSink(sink AuditSink) {
	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()
}

// Record adds a new audit entry.
func (a *AuditLog) Record(entry models.AuditEntry) {
	entry.Timestamp = time.Now()

	a.mu.Lock()
	if len(a.entries) == auditCapacity {
		copy(a.entries, a.entries[1:])
		a.entries = a.entries[:auditCapacity-1]
	}
	a.entries = append(a.entries, entry)
	sink := a.sink
	a.mu.Unlock()

	if sink != nil {
		if err := sink.SaveAuditEntry(entry); err != nil {
			a.logger.Warn().Err(err).Msg("failed to persist audit entry")
		}
	}

	a.logger.Info().
		Str("user", entry.User).
		Str("title", entry.Title).
		Str("action", entry.Action).
		Str("result", entry.Result).
		Int("pid", entry.PID).
		Msg("process event")
}

// GetEntries returns up to limit entries, newest first, optionally filtered
// by sanitized user.
func (a *AuditLog) GetEntries(user string, limit int) []models.AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var result []models.AuditEntry
	for i := len(a.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if user == "" || a.entries[i].User == user {
			result = append(result, a.entries[i])
		}
	}
	return result
}

// Count returns the number of retained entries.
func (a *AuditLog) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
