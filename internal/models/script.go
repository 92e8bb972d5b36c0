package models

import (
	"strings"
	"time"
)

// Sanitize normalizes a user or title for use in paths and registry keys:
// trimmed, lower-cased, spaces replaced by underscores.
func Sanitize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// ScriptIdentity identifies a script and its compiled artifact.
type ScriptIdentity struct {
	User  string `json:"user"`
	Title string `json:"title"`
}

// NewScriptIdentity returns the sanitized identity for a raw (user, title) pair.
func NewScriptIdentity(user, title string) ScriptIdentity {
	return ScriptIdentity{User: user, Title: title}.Sanitized()
}

// Sanitized returns a copy with both fields sanitized.
func (s ScriptIdentity) Sanitized() ScriptIdentity {
	return ScriptIdentity{User: Sanitize(s.User), Title: Sanitize(s.Title)}
}

// Valid reports whether both sanitized fields are non-empty and usable as
// single path components.
func (s ScriptIdentity) Valid() bool {
	id := s.Sanitized()
	for _, part := range []string{id.User, id.Title} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return false
		}
	}
	return true
}

// Key is the registry key: "user/title" over the sanitized fields.
func (s ScriptIdentity) Key() string {
	id := s.Sanitized()
	return id.User + "/" + id.Title
}

func (s ScriptIdentity) String() string { return s.Key() }

// Script is a catalog record for a submitted strategy script.
type Script struct {
	User      string    `json:"user"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity returns the script's sanitized identity.
func (s Script) Identity() ScriptIdentity {
	return NewScriptIdentity(s.User, s.Title)
}
