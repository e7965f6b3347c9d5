package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/telemetry"
)

// DefaultRequestTimeout bounds how long a handler may run.
const DefaultRequestTimeout = 30 * time.Second

// Config controls the listener and the shared middleware stack.
type Config struct {
	Bind           string
	Port           int
	RequestTimeout time.Duration

	// Metrics is optional. When set every request is counted and timed.
	Metrics *telemetry.Metrics
}

// Server is the bridge's single HTTP listener. The webhook endpoint, the
// provisioning API and the appservice API all mount onto Router.
type Server struct {
	Router *chi.Mux
	Addr   string

	logger *slog.Logger
	http   *http.Server
}

func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(TimeoutMiddleware(timeout))
	r.Use(middleware.Recoverer)
	r.Use(JSONErrorMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, telemetry.ServiceName)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusNotFound, ErrorEnvelope(http.StatusNotFound, "Not Found", "text/plain"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusMethodNotAllowed, ErrorEnvelope(http.StatusMethodNotAllowed, "Method Not Allowed", "text/plain"))
	})

	addr := net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port))

	return &Server{
		Router: r,
		Addr:   addr,
		logger: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.Addr, err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
