// Package gateway forwards submitted scripts to the core translator.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"google.golang.org/grpc"

	perrors "github.com/AlexandrePrevot/OrderParserProcessor/internal/errors"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/metrics"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/models"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/rpc"
)

// ErrRejected is returned when the core answers but does not accept the script.
var ErrRejected = perrors.New(perrors.KindInvalid, "script rejected by core")

// CoreClient is the ApiToCore client surface used here.
type CoreClient interface {
	ScriptSubmit(ctx context.Context, in *rpc.ScriptSubmitRequest, opts ...grpc.CallOption) (*rpc.ScriptSubmitReply, error)
}

// Config tunes the submission call and its circuit breaker.
type Config struct {
	// CallTimeout bounds one ScriptSubmit call.
	CallTimeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before a trial call.
	OpenTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:      5 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// Submitter sends scripts to the core. Failures are reported, never retried.
type Submitter struct {
	client  CoreClient
	cfg     Config
	cb      *gobreaker.CircuitBreaker[*rpc.ScriptSubmitReply]
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a Submitter.
func New(client CoreClient, cfg Config, logger zerolog.Logger) *Submitter {
	def := DefaultConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	s := &Submitter{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "gateway").Logger(),
	}
	s.cb = gobreaker.NewCircuitBreaker[*rpc.ScriptSubmitReply](gobreaker.Settings{
		Name:        "api-to-core",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A rejection is an answer, not a transport failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return s
}

// SetMetrics attaches metrics collection.
func (s *Submitter) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// State returns the breaker state: closed, half-open or open.
func (s *Submitter) State() string {
	return s.cb.State().String()
}

// Submit forwards script to the core.
func (s *Submitter) Submit(ctx context.Context, script models.Script) error {
	req := &rpc.ScriptSubmitRequest{
		Content: script.Content,
		Title:   script.Title,
		Summary: script.Summary,
		User:    script.User,
	}

	_, err := s.cb.Execute(func() (*rpc.ScriptSubmitReply, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		reply, err := s.client.ScriptSubmit(callCtx, req)
		if err != nil {
			return nil, err
		}
		if !reply.Accepted {
			return reply, perrors.E(perrors.KindInvalid, "submit", fmt.Errorf("%w: %s", ErrRejected, reply.Message))
		}
		return reply, nil
	})

	log := s.logger.With().Str("user", script.User).Str("title", script.Title).Logger()
	switch {
	case err == nil:
		s.metrics.RecordSubmission("ok")
		log.Info().Msg("script submitted to core")
		return nil
	case errors.Is(err, ErrRejected):
		s.metrics.RecordSubmission("rejected")
		log.Warn().Err(err).Msg("core rejected script")
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		s.metrics.RecordSubmission("circuit_open")
		log.Warn().Err(err).Msg("script submission skipped, core unavailable")
	default:
		s.metrics.RecordSubmission("error")
		log.Warn().Err(err).Msg("script submission failed")
	}
	return perrors.E(perrors.KindTransport, "submit "+models.NewScriptIdentity(script.User, script.Title).Key(), err)
}
