package server

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/auth"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/telemetry"
)

// TimeoutMiddleware cancels the request context after timeout. Handlers
// must watch ctx.Done() for this to have any effect.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MetricsMiddleware records request counts and latency labelled by the
// matched route pattern, so hook IDs never become label values.
func MetricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			path := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// JSONErrorMiddleware rewrites plain-text and HTML responses into the JSON
// error envelope so that every response from the bridge is JSON.
func JSONErrorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		iw := &interceptWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(iw, r)
		iw.finish()
	})
}

// interceptWriter decides at header time whether a response is
// interceptable. Interceptable bodies are buffered and replaced.
type interceptWriter struct {
	http.ResponseWriter
	status     int
	decided    bool
	intercept  bool
	originalCT string
	body       bytes.Buffer
}

func isInterceptable(contentType string) bool {
	return strings.HasPrefix(contentType, "text/plain") || strings.HasPrefix(contentType, "text/html")
}

func (iw *interceptWriter) decide(code int) {
	if iw.decided {
		return
	}
	iw.decided = true
	iw.status = code
	iw.originalCT = iw.Header().Get("Content-Type")
	iw.intercept = isInterceptable(iw.originalCT)
	if !iw.intercept {
		iw.ResponseWriter.WriteHeader(code)
	}
}

func (iw *interceptWriter) WriteHeader(code int) {
	iw.decide(code)
}

func (iw *interceptWriter) Write(b []byte) (int, error) {
	iw.decide(http.StatusOK)
	if iw.intercept {
		return iw.body.Write(b)
	}
	return iw.ResponseWriter.Write(b)
}

func (iw *interceptWriter) Unwrap() http.ResponseWriter {
	return iw.ResponseWriter
}

func (iw *interceptWriter) finish() {
	if !iw.intercept {
		return
	}
	iw.Header().Del("Content-Length")
	iw.Header().Del("X-Content-Type-Options")
	body := strings.TrimSuffix(iw.body.String(), "\n")
	WriteJSON(iw.ResponseWriter, iw.status, ErrorEnvelope(iw.status, body, iw.originalCT))
}

// DenyFunc renders an authentication failure.
type DenyFunc func(w http.ResponseWriter, r *http.Request, err error)

// RequireToken admits requests whose bearer token (or queryParam) matches
// the shared secret. Everything else is passed to deny.
func RequireToken(secret *auth.SharedSecret, queryParam string, deny DenyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r, queryParam)
			if token == "" {
				deny(w, r, auth.ErrMissingToken)
				return
			}
			if err := secret.Validate(token); err != nil {
				AddError(r.Context(), err)
				deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
