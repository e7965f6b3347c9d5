package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/frontdoor"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/matrix/matrixtest"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/auth"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/provisioning"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/server"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/storage/memory"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/telemetry"
)

const (
	testRoom = "!room:example.org"
	alice    = "@alice:example.org"
	bob      = "@bob:example.org"
	secret   = "s3cret"
)

type fixture struct {
	router  chi.Router
	store   *memory.Store
	bot     *matrixtest.Bot
	metrics *telemetry.Metrics
	secret  *auth.SharedSecret
}

func newFixture(t *testing.T, origins ...string) *fixture {
	t.Helper()
	provider := matrixtest.NewProvider("example.org", "_webhook", "_webhook_")
	bot := provider.FakeBot()
	stateDefault := 50
	bot.Levels[testRoom] = &event.PowerLevelsEventContent{
		Users:           map[id.UserID]int{alice: 50},
		StateDefaultPtr: &stateDefault,
	}

	store := memory.New()
	f := &fixture{
		store:   store,
		bot:     bot,
		metrics: telemetry.NewMetrics(),
		secret:  auth.NewSharedSecret(secret),
	}
	h := NewHandler(
		provisioning.NewService(bot, store, nil),
		f.secret,
		func(hookID string) string { return "https://hooks.example.org/api/v1/matrix/hook/" + hookID },
		f.metrics,
		nil,
	)

	r := chi.NewRouter()
	r.Use(server.JSONErrorMiddleware)
	frontdoor.Mount(r, CreateHandlerRegistrations(h, origins))
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, query url.Values, body string) *httptest.ResponseRecorder {
	t.Helper()
	target := path
	if query != nil {
		target += "?" + query.Encode()
	}
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func creds(userID string) url.Values {
	return url.Values{"userId": {userID}, "token": {secret}}
}

func hookPath(suffix string) string {
	return "/api/v1/provision/" + url.PathEscape(testRoom) + suffix
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCreateHook(t *testing.T) {
	f := newFixture(t)

	q := creds(alice)
	q.Set("label", "ci")
	rec := f.do(t, http.MethodPut, hookPath("/hook"), q, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := decode[HookResponse](t, rec)
	if got.RoomID != testRoom || got.UserID != alice || got.Label != "ci" || got.Type != HookTypeIncoming {
		t.Errorf("response = %+v", got)
	}
	if got.URL != "https://hooks.example.org/api/v1/matrix/hook/"+got.ID {
		t.Errorf("url = %q", got.URL)
	}
	if len(got.ID) != domain.HookIDLength {
		t.Errorf("id length = %d", len(got.ID))
	}

	stored, err := f.store.GetWebhook(context.Background(), got.ID)
	if err != nil {
		t.Fatalf("hook not stored: %v", err)
	}
	if stored.Label != "ci" {
		t.Errorf("stored label = %q", stored.Label)
	}
	if got := testutil.ToFloat64(f.metrics.ProvisioningRequests.WithLabelValues(opCreate, telemetry.ResultOK)); got != 1 {
		t.Errorf("create counter = %v", got)
	}
}

func TestCreateHook_LabelFromBody(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, hookPath("/hook"), creds(alice), `{"label":"from body"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[HookResponse](t, rec); got.Label != "from body" {
		t.Errorf("label = %q", got.Label)
	}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name       string
		query      url.Values
		header     string
		wantStatus int
	}{
		{"missing user", url.Values{"token": {secret}}, "", http.StatusBadRequest},
		{"missing token", url.Values{"userId": {alice}}, "", http.StatusBadRequest},
		{"wrong token", url.Values{"userId": {alice}, "token": {"nope"}}, "", http.StatusForbidden},
		{"bearer token", url.Values{"userId": {alice}}, "Bearer " + secret, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			req := httptest.NewRequest(http.MethodGet, hookPath("/hooks")+"?"+tt.query.Encode(), nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				res := decode[server.Result](t, rec)
				if res.Success || res.Message != domain.PermissionErrorMessage {
					t.Errorf("result = %+v", res)
				}
			}
		})
	}
}

func TestAuthorize_SecretNotConfigured(t *testing.T) {
	for _, configured := range []string{"", auth.Placeholder} {
		t.Run("secret="+configured, func(t *testing.T) {
			f := newFixture(t)
			f.secret.Set(configured)

			q := url.Values{"userId": {alice}, "token": {configured + "x"}}
			rec := f.do(t, http.MethodGet, hookPath("/hooks"), q, "")

			if rec.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", rec.Code)
			}
		})
	}

	t.Run("placeholder token never matches", func(t *testing.T) {
		f := newFixture(t)
		f.secret.Set(auth.Placeholder)

		q := url.Values{"userId": {alice}, "token": {auth.Placeholder}}
		if rec := f.do(t, http.MethodGet, hookPath("/hooks"), q, ""); rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})
}

func TestPermissionDenied(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, hookPath("/hook"), creds(bob), "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	res := decode[server.Result](t, rec)
	if res.Success || res.Message != domain.PermissionErrorMessage {
		t.Errorf("result = %+v", res)
	}
	if got := testutil.ToFloat64(f.metrics.ProvisioningRequests.WithLabelValues(opCreate, telemetry.ResultPermission)); got != 1 {
		t.Errorf("permission counter = %v", got)
	}
}

func TestInternalError(t *testing.T) {
	f := newFixture(t)
	f.bot.JoinErr[testRoom] = context.DeadlineExceeded

	rec := f.do(t, http.MethodPut, hookPath("/hook"), creds(alice), "")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if res := decode[server.Result](t, rec); res.Message != MessageUnknownError {
		t.Errorf("message = %q", res.Message)
	}
}

func TestListGetUpdateDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.store.CreateWebhook(ctx, testRoom, alice, "one")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.CreateWebhook(ctx, testRoom, alice, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.CreateWebhook(ctx, "!elsewhere:example.org", alice, ""); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, hookPath("/hooks"), creds(alice), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decode[ListResponse](t, rec)
	if !list.Success || len(list.Results) != 2 {
		t.Fatalf("list = %+v", list)
	}

	rec = f.do(t, http.MethodGet, hookPath("/hook/"+first.ID), creds(alice), "")
	if got := decode[HookResponse](t, rec); rec.Code != http.StatusOK || got.Label != "one" {
		t.Fatalf("get = %d %+v", rec.Code, got)
	}

	rec = f.do(t, http.MethodPost, hookPath("/hook/"+first.ID), creds(alice), `{"label":"renamed"}`)
	if got := decode[HookResponse](t, rec); rec.Code != http.StatusOK || got.Label != "renamed" {
		t.Fatalf("update = %d %+v", rec.Code, got)
	}

	rec = f.do(t, http.MethodDelete, hookPath("/hook/"+first.ID), creds(alice), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if res := decode[server.Result](t, rec); !res.Success {
		t.Errorf("delete result = %+v", res)
	}
	if _, err := f.store.GetWebhook(ctx, first.ID); !errors.Is(err, domain.ErrHookNotFound) {
		t.Errorf("hook still present: %v", err)
	}
}

func TestGetHook_OtherRoomIsPermissionError(t *testing.T) {
	f := newFixture(t)
	hook, err := f.store.CreateWebhook(context.Background(), "!elsewhere:example.org", alice, "")
	if err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, hookPath("/hook/"+hook.ID), creds(alice), "")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestInvalidBody(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, hookPath("/hook"), creds(alice), `{"label":`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, "https://dash.example.org")

	req := httptest.NewRequest(http.MethodOptions, hookPath("/hooks"), nil)
	req.Header.Set("Origin", "https://dash.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.org" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	rec = f.do(t, http.MethodGet, hookPath("/hooks"), creds(alice), "")
	if rec.Code != http.StatusOK {
		t.Errorf("list behind cors = %d", rec.Code)
	}
}
