package mgmt

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/AlexandrePrevot/OrderParserProcessor/internal/build"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/health"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/metrics"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/models"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/requestid"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/supervisor"
)

const defaultListLimit = 100

// adhocDir holds trees for builds not tied to a (user, title).
const adhocDir = "_adhoc"

// ScriptStore persists the script catalog.
type ScriptStore interface {
	SaveScript(ctx context.Context, sc *models.Script) error
	GetScript(ctx context.Context, id models.ScriptIdentity) (*models.Script, error)
	ListScripts(ctx context.Context, user string, limit int) ([]*models.Script, error)
	ListAuditEntries(ctx context.Context, user string, limit int) ([]models.AuditEntry, error)
}

// ScriptSubmitter forwards a stored script to the core.
type ScriptSubmitter interface {
	Submit(ctx context.Context, script models.Script) error
}

// ProcessController starts and stops compiled scripts.
type ProcessController interface {
	IsActive(id models.ScriptIdentity) bool
	Activate(ctx context.Context, id models.ScriptIdentity) error
	Deactivate(ctx context.Context, id models.ScriptIdentity) error
	Toggle(ctx context.Context, id models.ScriptIdentity) (bool, error)
	List() []supervisor.Status
	Output(id models.ScriptIdentity) (stdout, stderr string, ok bool)
}

// BuildConfig locates the inputs and the output root of API builds.
type BuildConfig struct {
	SourceRoot    string
	GeneratedRoot string
	OutputRoot    string
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Scripts   ScriptStore
	Submitter ScriptSubmitter
	Processes ProcessController
	Build     BuildConfig
	Checker   *health.Checker
	Metrics   *metrics.Metrics
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	deps   Deps
	logger zerolog.Logger

	buildMu sync.Mutex // one build at a time per server
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, logger zerolog.Logger) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: logger.With().Str("component", "handlers").Logger(),
	}
}

func (h *Handlers) log(c *fiber.Ctx) *zerolog.Logger {
	l := h.logger.With().Str("request_id", requestid.FromFiber(c)).Logger()
	return &l
}

func identityParam(c *fiber.Ctx) models.ScriptIdentity {
	return models.ScriptIdentity{User: c.Params("user"), Title: c.Params("title")}
}

// SubmitScript handles POST /api/v1/scripts. The script is stored first;
// a failure to reach the core is reported as a warning, not an error.
func (h *Handlers) SubmitScript(c *fiber.Ctx) error {
	var req SubmitScriptRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"validation_failed", "Bad Request",
			validationDetail(err))
	}
	if !models.NewScriptIdentity(req.User, req.Title).Valid() {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_identity", "Bad Request",
			"user and title must be usable as path components")
	}

	ctx := c.UserContext()
	script := &models.Script{
		User:    req.User,
		Title:   req.Title,
		Summary: req.Summary,
		Content: req.Content,
	}
	if err := h.deps.Scripts.SaveScript(ctx, script); err != nil {
		h.log(c).Error().Err(err).Str("script", script.Identity().Key()).Msg("saving script")
		return errorResponse(c, err)
	}

	resp := ScriptResponse{
		Script: script,
		Active: h.deps.Processes.IsActive(script.Identity()),
	}
	if err := h.deps.Submitter.Submit(ctx, *script); err != nil {
		h.log(c).Warn().Err(err).Str("script", script.Identity().Key()).Msg("script stored but not forwarded to core")
		resp.Warning = "script stored but not forwarded to core: " + err.Error()
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// ListScripts handles GET /api/v1/scripts.
func (h *Handlers) ListScripts(c *fiber.Ctx) error {
	var q ListScriptsQuery
	if err := c.QueryParser(&q); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_query", "Bad Request", err.Error())
	}
	if err := validate.Struct(q); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"validation_failed", "Bad Request", validationDetail(err))
	}
	if q.Limit == 0 {
		q.Limit = defaultListLimit
	}

	scripts, err := h.deps.Scripts.ListScripts(c.UserContext(), q.User, q.Limit)
	if err != nil {
		h.log(c).Error().Err(err).Msg("listing scripts")
		return errorResponse(c, err)
	}
	if scripts == nil {
		scripts = []*models.Script{}
	}
	return c.JSON(ScriptListResponse{Scripts: scripts, Total: len(scripts)})
}

// GetScript handles GET /api/v1/scripts/:user/:title.
func (h *Handlers) GetScript(c *fiber.Ctx) error {
	id := identityParam(c)
	script, err := h.deps.Scripts.GetScript(c.UserContext(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(ScriptResponse{
		Script: script,
		Active: h.deps.Processes.IsActive(id),
	})
}

// ToggleProcess handles POST /api/v1/scripts/:user/:title/toggle.
func (h *Handlers) ToggleProcess(c *fiber.Ctx) error {
	id := identityParam(c)
	active, err := h.deps.Processes.Toggle(c.UserContext(), id)
	if err != nil {
		h.transitionFailed(c, "toggle", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(stateResponse(id, active))
}

// ActivateProcess handles POST /api/v1/scripts/:user/:title/activate.
func (h *Handlers) ActivateProcess(c *fiber.Ctx) error {
	id := identityParam(c)
	if err := h.deps.Processes.Activate(c.UserContext(), id); err != nil {
		h.transitionFailed(c, "activate", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(stateResponse(id, true))
}

// DeactivateProcess handles POST /api/v1/scripts/:user/:title/deactivate.
func (h *Handlers) DeactivateProcess(c *fiber.Ctx) error {
	id := identityParam(c)
	if err := h.deps.Processes.Deactivate(c.UserContext(), id); err != nil {
		h.transitionFailed(c, "deactivate", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(stateResponse(id, false))
}

// ProcessOutput handles GET /api/v1/scripts/:user/:title/output.
func (h *Handlers) ProcessOutput(c *fiber.Ctx) error {
	id := identityParam(c)
	stdout, stderr, ok := h.deps.Processes.Output(id)
	if !ok {
		return errorResponse(c, supervisor.ErrNotActive)
	}
	id = id.Sanitized()
	return c.JSON(ProcessOutputResponse{User: id.User, Title: id.Title, Stdout: stdout, Stderr: stderr})
}

func (h *Handlers) transitionFailed(c *fiber.Ctx, op string, id models.ScriptIdentity, err error) {
	ev := h.log(c).Info()
	if statusFor(err) >= fiber.StatusInternalServerError {
		ev = h.log(c).Error()
	}
	ev.Err(err).Str("op", op).Str("script", id.Key()).Msg("process transition refused")
}

func stateResponse(id models.ScriptIdentity, active bool) ProcessStateResponse {
	id = id.Sanitized()
	return ProcessStateResponse{User: id.User, Title: id.Title, Active: active}
}

// ListProcesses handles GET /api/v1/processes.
func (h *Handlers) ListProcesses(c *fiber.Ctx) error {
	procs := h.deps.Processes.List()
	if procs == nil {
		procs = []supervisor.Status{}
	}
	return c.JSON(ProcessListResponse{Processes: procs, Total: len(procs)})
}

// ListAudit handles GET /api/v1/audit.
func (h *Handlers) ListAudit(c *fiber.Ctx) error {
	var q ListAuditQuery
	if err := c.QueryParser(&q); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_query", "Bad Request", err.Error())
	}
	if err := validate.Struct(q); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"validation_failed", "Bad Request", validationDetail(err))
	}
	if q.Limit == 0 {
		q.Limit = defaultListLimit
	}

	entries, err := h.deps.Scripts.ListAuditEntries(c.UserContext(), q.User, q.Limit)
	if err != nil {
		h.log(c).Error().Err(err).Msg("listing audit entries")
		return errorResponse(c, err)
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return c.JSON(AuditListResponse{Entries: entries, Total: len(entries)})
}

// TriggerBuild handles POST /api/v1/builds.
func (h *Handlers) TriggerBuild(c *fiber.Ctx) error {
	var req BuildRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"validation_failed", "Bad Request",
			validationDetail(err))
	}

	out, err := h.buildOutputDir(req)
	if err != nil {
		return errorResponse(c, err)
	}

	areq := build.Request{ScriptName: req.ScriptName, Includes: req.Includes}
	if req.Main != "" {
		areq.MainSource = []byte(req.Main)
	}

	h.buildMu.Lock()
	defer h.buildMu.Unlock()

	asm := build.NewAssembler(build.Config{
		SourceRoot:    h.deps.Build.SourceRoot,
		GeneratedRoot: h.deps.Build.GeneratedRoot,
		OutputDir:     out,
	}, h.logger)
	asm.SetMetrics(h.deps.Metrics)

	start := time.Now()
	manifest, err := asm.Build(c.UserContext(), areq)
	if err != nil {
		ev := h.log(c).Warn()
		if statusFor(err) >= fiber.StatusInternalServerError {
			ev = h.log(c).Error()
		}
		ev.Err(err).Str("script", req.ScriptName).Msg("build failed")
		return errorResponse(c, err)
	}

	h.log(c).Info().
		Str("script", manifest.Project).
		Str("output", out).
		Dur("duration", time.Since(start)).
		Msg("build assembled")

	return c.JSON(BuildResponse{OutputDir: out, Manifest: manifest})
}

func (h *Handlers) buildOutputDir(req BuildRequest) (string, error) {
	if req.User == "" {
		name := models.Sanitize(req.ScriptName)
		if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
			return "", build.ErrInvalidScriptName
		}
		return filepath.Join(h.deps.Build.OutputRoot, adhocDir, name), nil
	}
	id := models.NewScriptIdentity(req.User, req.Title)
	if !id.Valid() {
		return "", supervisor.ErrInvalidIdentity
	}
	return build.ScriptDir(h.deps.Build.OutputRoot, id), nil
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if h.deps.Checker == nil {
		return c.JSON(health.Report{Status: "ready", Checks: map[string]health.Status{}})
	}
	report, ok := h.deps.Checker.Evaluate(c.UserContext())
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(report)
	}
	return c.JSON(report)
}
