// Package mgmt provides the management API for the strategy runner:
// script submission, process control and build triggering.
package mgmt

import (
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/build"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/models"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/supervisor"
)

// --- Request DTOs ---

// SubmitScriptRequest is the payload for POST /api/v1/scripts.
type SubmitScriptRequest struct {
	User    string `json:"user" validate:"required,max=64"`
	Title   string `json:"title" validate:"required,max=128"`
	Summary string `json:"summary" validate:"max=1024"`
	Content string `json:"content" validate:"required,max=1048576"`
}

// BuildRequest is the payload for POST /api/v1/builds. When User and Title
// are set the tree is assembled in the script's own directory, where the
// supervisor expects the compiled binary.
type BuildRequest struct {
	ScriptName string   `json:"script_name" validate:"required,max=128"`
	Includes   []string `json:"includes" validate:"max=256,dive,required,max=256"`
	User       string   `json:"user,omitempty" validate:"required_with=Title,max=64"`
	Title      string   `json:"title,omitempty" validate:"required_with=User,max=128"`
	Main       string   `json:"main,omitempty" validate:"max=1048576"`
}

// ListScriptsQuery holds query parameters for GET /api/v1/scripts.
type ListScriptsQuery struct {
	User  string `query:"user"`
	Limit int    `query:"limit" validate:"gte=0,lte=1000"`
}

// ListAuditQuery holds query parameters for GET /api/v1/audit.
type ListAuditQuery struct {
	User  string `query:"user"`
	Limit int    `query:"limit" validate:"gte=0,lte=1000"`
}

// --- Response DTOs ---

// ScriptResponse wraps a catalog record. Warning is set when the script was
// stored but could not be forwarded to the core.
type ScriptResponse struct {
	Script  *models.Script `json:"script"`
	Active  bool           `json:"active"`
	Warning string         `json:"warning,omitempty"`
}

// ScriptListResponse wraps a list of scripts.
type ScriptListResponse struct {
	Scripts []*models.Script `json:"scripts"`
	Total   int              `json:"total"`
}

// ProcessStateResponse reports a script's state after a transition.
type ProcessStateResponse struct {
	User   string `json:"user"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// ProcessListResponse wraps the tracked processes.
type ProcessListResponse struct {
	Processes []supervisor.Status `json:"processes"`
	Total     int                 `json:"total"`
}

// ProcessOutputResponse is the captured output of a tracked process.
type ProcessOutputResponse struct {
	User   string `json:"user"`
	Title  string `json:"title"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// BuildResponse is the response for POST /api/v1/builds.
type BuildResponse struct {
	OutputDir string          `json:"output_dir"`
	Manifest  *build.Manifest `json:"manifest"`
}

// AuditListResponse wraps process audit entries.
type AuditListResponse struct {
	Entries []models.AuditEntry `json:"entries"`
	Total   int                 `json:"total"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
