package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/kinrule/internal/engine"
	"github.com/roach88/kinrule/internal/ir"
)

// HeaderToken carries the shared secret.
const HeaderToken = "X-Kinrule-Token"

// MaxBodyBytes bounds every request body.
const MaxBodyBytes = 1 << 20

// Dispatcher runs one envelope through the engine.
// *engine.Engine implements it via Submit.
type Dispatcher interface {
	Submit(ctx context.Context, env ir.Envelope) (*engine.Result, error)
}

// Config configures Run.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	dispatcher Dispatcher
	token      string
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires the shared secret on /events and /webhook.
// An empty token disables the check.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a Server backed by d.
func NewServer(d Dispatcher, opts ...Option) *Server {
	s := &Server{dispatcher: d, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("POST /events", s.requireToken(http.HandlerFunc(s.handleEvents)))
	mux.Handle("POST /webhook", s.requireToken(http.HandlerFunc(s.handleWebhook)))
	return Wrap(s.logger, mux)
}

// Run serves handler on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, logger *slog.Logger, cfg Config, handler http.Handler) error {
	if cfg.Addr == "" {
		return errors.New("addr is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	want := []byte(s.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(HeaderToken))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid "+HeaderToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}
