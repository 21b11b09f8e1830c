package webhook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cicd-ai-toolkit/watchdog/pkg/observability"
	"github.com/cicd-ai-toolkit/watchdog/pkg/version"
)

// HookPath is where Jenkins posts notifications.
const HookPath = "/hooks/jenkins"

// DefaultAddr is the listen address of the serve command.
const DefaultAddr = ":8080"

// minDrainTimeout is the shortest shutdown drain.
const minDrainTimeout = 15 * time.Second

// DrainTimeout is how long shutdown waits for in-flight notifications when
// each outbound call is bounded by requestTimeout. One notification makes
// at most three Jenkins reads and one delivery; walking a failure streak
// makes more, and those are cut off first.
func DrainTimeout(requestTimeout time.Duration) time.Duration {
	d := 4*requestTimeout + 5*time.Second
	if d < minDrainTimeout {
		return minDrainTimeout
	}
	return d
}

// NewMux wires the notification handler, the admin endpoints when admin is
// not nil, the delivery metrics when metrics is not nil, and a health check.
func NewMux(hook *Handler, admin *Admin, metrics *observability.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST "+HookPath, hook)
	if admin != nil {
		admin.Register(mux)
	}
	if metrics != nil {
		mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, metrics.GetSnapshot())
		})
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})
	return mux
}

// Server runs the HTTP surface until its context is cancelled.
type Server struct {
	srv   *http.Server
	log   observability.Logger
	drain func() time.Duration
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, log observability.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if log == nil {
		log = observability.Nop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log:   log,
		drain: func() time.Duration { return minDrainTimeout },
	}
}

// WithDrainTimeout sets how the shutdown drain is computed. It is evaluated
// when shutdown starts so that it can follow settings changed at runtime.
func (s *Server) WithDrainTimeout(drain func() time.Duration) *Server {
	if drain != nil {
		s.drain = drain
	}
	return s
}

// Run listens on the configured address and blocks until ctx is done, then
// shuts down gracefully so in-flight deliveries can finish.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.drain())
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("server shutdown", observability.Err(err))
		}
	}()

	s.log.Info("watchdog listening", observability.String("address", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	wg.Wait()
	return nil
}
