package relay

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/AlexandrePrevot/OrderParserProcessor/internal/rpc"
)

const defaultStopGrace = 5 * time.Second

// AlertServer serves ScriptToApi and publishes every alert as a
// script_alert envelope.
type AlertServer struct {
	addr   string
	pub    Publisher
	grace  time.Duration
	logger zerolog.Logger
}

// NewAlertServer creates an AlertServer listening on addr.
func NewAlertServer(addr string, pub Publisher, logger zerolog.Logger) *AlertServer {
	return &AlertServer{
		addr:   addr,
		pub:    pub,
		grace:  defaultStopGrace,
		logger: logger.With().Str("component", "alert-server").Logger(),
	}
}

// ScriptAlert implements rpc.ScriptToApiServer.
func (s *AlertServer) ScriptAlert(_ context.Context, in *rpc.ScriptAlertNotif) (*rpc.Empty, error) {
	env := NewScriptAlert(in.ScriptTitle, in.User, in.Message, in.Priority)
	s.pub.Publish(env)
	s.logger.Info().
		Str("user", in.User).
		Str("script", in.ScriptTitle).
		Str("priority", env.Alert.Priority.String()).
		Msg("script alert received")
	return &rpc.Empty{}, nil
}

// Serve implements suture.Service.
func (s *AlertServer) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx ends, then stops gracefully within
// the grace period and forcefully after it.
func (s *AlertServer) ServeListener(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	rpc.RegisterScriptToApiServer(srv, s)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("alert server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		s.logger.Warn().Dur("grace", s.grace).Msg("graceful stop timed out, forcing")
		srv.Stop()
		<-stopped
	}
	s.logger.Info().Msg("alert server stopped")
	return ctx.Err()
}

func (s *AlertServer) String() string { return "alert-server" }
