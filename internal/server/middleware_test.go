package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/auth"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/telemetry"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generates", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if _, err := uuid.Parse(seen); err != nil {
			t.Fatalf("request id %q is not a uuid", seen)
		}
		if got := rec.Header().Get(RequestIDHeader); got != seen {
			t.Errorf("header = %q, context = %q", got, seen)
		}
	})

	t.Run("reuses valid inbound id", func(t *testing.T) {
		inbound := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, inbound)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if seen != inbound {
			t.Errorf("request id = %q, want %q", seen, inbound)
		}
	})

	t.Run("replaces garbage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "<script>")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if seen == "<script>" {
			t.Error("inbound garbage should not be reused")
		}
	})
}

func TestGetRequestID_Empty(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

func TestLoggingMiddleware_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := RequestIDMiddleware(LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "hook_id", "abc")
		AddLogField(r.Context(), "ignored", "")
		AddError(r.Context(), errors.New("boom"))
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/matrix/hook/abc", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["msg"] != "request completed" {
		t.Errorf("msg = %v", line["msg"])
	}
	if line["status"] != float64(http.StatusTeapot) {
		t.Errorf("status = %v", line["status"])
	}
	if line["bytes"] != float64(5) {
		t.Errorf("bytes = %v", line["bytes"])
	}
	if line["hook_id"] != "abc" || line["error"] != "boom" {
		t.Errorf("custom fields missing: %v", line)
	}
	if _, ok := line["ignored"]; ok {
		t.Error("empty fields should be skipped")
	}
}

func TestLoggingMiddleware_ServerErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("expected error level, got %s", buf.String())
	}
}

func TestAddLogField_NoMiddleware(t *testing.T) {
	// Must not panic without the middleware.
	AddLogField(context.Background(), "k", "v")
	AddError(context.Background(), errors.New("x"))
	AddError(context.Background(), nil)
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !ok {
		t.Fatal("context has no deadline")
	}
	if time.Until(deadline) > 50*time.Millisecond {
		t.Errorf("deadline too far away: %v", time.Until(deadline))
	}
}

func TestJSONErrorMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		wantStatus  int
		wantWrapped bool
		wantError   string
		wantMime    string
	}{
		{
			name: "plain text error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad things", http.StatusBadRequest)
			},
			wantStatus:  http.StatusBadRequest,
			wantWrapped: true,
			wantError:   "bad things",
			wantMime:    "text/plain; charset=utf-8",
		},
		{
			name: "html success",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<p>hi</p>"))
			},
			wantStatus:  http.StatusOK,
			wantWrapped: true,
			wantError:   "<p>hi</p>",
			wantMime:    "text/html",
		},
		{
			name: "json passes through",
			handler: func(w http.ResponseWriter, r *http.Request) {
				WriteJSON(w, http.StatusCreated, Result{Success: true})
			},
			wantStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			JSONErrorMiddleware(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !tt.wantWrapped {
				var res Result
				if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil || !res.Success {
					t.Fatalf("body = %q, want untouched result", rec.Body.String())
				}
				return
			}

			env := decodeEnvelope(t, rec)
			if env.StatusCode != tt.wantStatus {
				t.Errorf("statusCode = %d", env.StatusCode)
			}
			if env.Success != (tt.wantStatus < 300) {
				t.Errorf("success = %v", env.Success)
			}
			if env.Error != tt.wantError {
				t.Errorf("error = %q, want %q", env.Error, tt.wantError)
			}
			if env.OriginalMime != tt.wantMime {
				t.Errorf("originalMime = %q, want %q", env.OriginalMime, tt.wantMime)
			}
		})
	}
}

func TestRequireToken(t *testing.T) {
	secret := auth.NewSharedSecret("s3cret")

	var denied error
	deny := func(w http.ResponseWriter, r *http.Request, err error) {
		denied = err
		w.WriteHeader(http.StatusForbidden)
	}
	handler := RequireToken(secret, "access_token", deny)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name    string
		target  string
		header  string
		wantErr error
	}{
		{"bearer", "/", "Bearer s3cret", nil},
		{"query", "/?access_token=s3cret", "", nil},
		{"missing", "/", "", auth.ErrMissingToken},
		{"wrong", "/?access_token=nope", "", auth.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			denied = nil
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if !errors.Is(denied, tt.wantErr) {
				t.Fatalf("denied = %v, want %v", denied, tt.wantErr)
			}
			if tt.wantErr == nil && rec.Code != http.StatusNoContent {
				t.Errorf("status = %d, want 204", rec.Code)
			}
		})
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	m := telemetry.NewMetrics()

	r := chi.NewRouter()
	r.Use(MetricsMiddleware(m))
	r.Post("/api/v1/matrix/hook/{hookId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/matrix/hook/"+id, nil))
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/matrix/hook/{hookId}", "200"))
	if got != 3 {
		t.Errorf("requests = %v, want 3", got)
	}
}

func TestServer_NotFoundIsJSON(t *testing.T) {
	s := New(Config{Port: 0}, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Success || env.StatusCode != http.StatusNotFound {
		t.Errorf("envelope = %+v", env)
	}
}

func TestServer_Addr(t *testing.T) {
	s := New(Config{Bind: "127.0.0.1", Port: 9000}, nil)
	if s.Addr != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", s.Addr)
	}
}
