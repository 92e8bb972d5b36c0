// Package cleanup runs periodic housekeeping: audit retention in the
// catalog and removal of build trees abandoned by interrupted assemblies.
package cleanup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexandrePrevot/OrderParserProcessor/internal/build"
)

// Config holds configuration for the cleanup sweep.
type Config struct {
	// OutputRoot is scanned for abandoned staging and swap directories.
	OutputRoot string
	// CheckInterval is the time between sweeps.
	CheckInterval time.Duration
	// LeftoverAge is how old a transient directory must be before it is
	// removed, so a build still in progress is never touched.
	LeftoverAge time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 1 * time.Hour,
		LeftoverAge:   1 * time.Hour,
	}
}

// Retainer trims expired catalog rows.
type Retainer interface {
	RunRetention(ctx context.Context) (int64, error)
}

// Report summarizes one sweep.
type Report struct {
	AuditRowsDeleted int64
	LeftoversRemoved []string
}

// Cleaner runs the sweep on a ticker.
type Cleaner struct {
	cfg      Config
	retainer Retainer
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCleaner creates a new Cleaner. retainer may be nil.
func NewCleaner(cfg Config, retainer Retainer, logger zerolog.Logger) *Cleaner {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.LeftoverAge <= 0 {
		cfg.LeftoverAge = def.LeftoverAge
	}
	return &Cleaner{
		cfg:      cfg,
		retainer: retainer,
		logger:   logger.With().Str("component", "cleanup").Logger(),
		now:      time.Now,
	}
}

// RunOnce performs a single sweep. Failures are logged and do not stop the
// remaining steps.
func (c *Cleaner) RunOnce(ctx context.Context) Report {
	var r Report

	if c.retainer != nil {
		n, err := c.retainer.RunRetention(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("audit retention failed")
		}
		r.AuditRowsDeleted = n
	}

	if c.cfg.OutputRoot != "" {
		r.LeftoversRemoved = c.removeLeftovers(ctx)
	}

	if r.AuditRowsDeleted > 0 || len(r.LeftoversRemoved) > 0 {
		c.logger.Info().
			Int64("audit_rows_deleted", r.AuditRowsDeleted).
			Int("leftovers_removed", len(r.LeftoversRemoved)).
			Msg("cleanup sweep completed")
	}
	return r
}

// removeLeftovers deletes transient build directories older than
// LeftoverAge. Trees live at <root>/<user>/<title>, so only the first two
// levels are inspected.
func (c *Cleaner) removeLeftovers(ctx context.Context) []string {
	root := filepath.Clean(c.cfg.OutputRoot)
	cutoff := c.now().Add(-c.cfg.LeftoverAge)

	var removed []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return fs.SkipAll
			}
			return nil
		}
		if ctx.Err() != nil {
			return fs.SkipAll
		}
		if p == root || !d.IsDir() {
			return nil
		}
		depth := strings.Count(strings.TrimPrefix(p, root+string(filepath.Separator)), string(filepath.Separator)) + 1

		if build.IsTransient(d.Name()) {
			info, err := d.Info()
			if err == nil && info.ModTime().Before(cutoff) {
				if err := os.RemoveAll(p); err != nil {
					c.logger.Warn().Err(err).Str("path", p).Msg("removing abandoned build tree")
				} else {
					removed = append(removed, p)
				}
			}
			return fs.SkipDir
		}
		if depth >= 2 {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("root", root).Msg("scanning output root")
	}
	return removed
}

// Serve implements suture.Service: it sweeps once at start, then every
// CheckInterval until ctx is canceled.
func (c *Cleaner) Serve(ctx context.Context) error {
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

func (c *Cleaner) String() string { return "cleanup" }
