package models

import "time"

// AuditEntry records a process lifecycle action for audit purposes.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Title     string    `json:"title"`
	Action    string    `json:"action"` // activate, deactivate, reap, shutdown
	Result    string    `json:"result"` // ok, already_active, not_active, binary_not_found, killed, error
	PID       int       `json:"pid,omitempty"`
	Details   string    `json:"details,omitempty"`
}
