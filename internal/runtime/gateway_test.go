package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/matrix/matrixtest"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/config"
)

const (
	testRoom   = id.RoomID("!room:example.org")
	testUser   = id.UserID("@alice:example.org")
	testSecret = "provision-secret"
)

// staticConfig hands out a fixed config and exposes the reload callback.
type staticConfig struct {
	cfg      *config.Config
	onChange chan func(*config.Config)
}

func (s *staticConfig) Load(context.Context) (*config.Config, error) { return s.cfg, nil }

func (s *staticConfig) Watch(ctx context.Context, onChange func(*config.Config)) error {
	s.onChange <- onChange
	<-ctx.Done()
	return ctx.Err()
}

func (s *staticConfig) Close() error { return nil }

var _ ports.ConfigProvider = (*staticConfig)(nil)

type fakeMedia struct{}

func (fakeMedia) Upload(context.Context, ports.ContentUploader, string) (id.ContentURI, error) {
	return id.ContentURI{Homeserver: "example.org", FileID: "avatar"}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
homeserver:
  url: http://localhost:8008
  domain: example.org
appservice:
  as_token: as-token
  hs_token: hs-token
web:
  bind: 127.0.0.1
  port: 0
  hook_url_base: https://hooks.example.org/
provisioning:
  secret: ` + testSecret + `
storage:
  type: memory
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func startGateway(t *testing.T) (*Gateway, *matrixtest.Provider, *staticConfig) {
	t.Helper()
	provider := matrixtest.NewProvider("example.org", "_webhook", "_webhook_")
	stateDefault := 50
	provider.FakeBot().Levels[testRoom] = &event.PowerLevelsEventContent{
		Users:           map[id.UserID]int{testUser: 50},
		StateDefaultPtr: &stateDefault,
	}

	cp := &staticConfig{cfg: testConfig(t), onChange: make(chan func(*config.Config), 1)}
	gw, err := New(
		WithConfigProvider(cp),
		WithMemoryStorage(),
		WithIntentProvider(provider),
		WithMediaUploader(fakeMedia{}),
		WithDirectEvents(),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := gw.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return gw, provider, cp
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGateway_New_RequiredOptions(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Fatal("expected error without config provider")
	}
	if err.Error() != "config provider required (use WithFileConfig or WithConfigProvider)" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGateway_New_OptionError(t *testing.T) {
	_, err := New(WithSQLite(filepath.Join(t.TempDir(), "missing", "hooks.db")))
	if err == nil {
		t.Fatal("expected error from failing option")
	}
}

func TestGateway_Start_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Appservice.HSToken = ""
	gw, err := New(
		WithConfigProvider(&staticConfig{cfg: cfg, onChange: make(chan func(*config.Config), 1)}),
		WithMemoryStorage(),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = gw.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "appservice.hs_token") {
		t.Fatalf("Start() error = %v, want missing hs_token", err)
	}
	_ = gw.Shutdown(context.Background())
}

func TestGateway_HandlerBeforeStart(t *testing.T) {
	gw, err := New(WithConfigProvider(&staticConfig{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if rec := do(t, gw.Handler(), http.MethodGet, "/health", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 before Start", rec.Code)
	}
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	gw, _, _ := startGateway(t)

	rec := do(t, gw.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health body = %s", rec.Body.String())
	}

	rec = do(t, gw.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Errorf("metrics body missing bridge metrics")
	}
}

func TestGateway_ProvisionAndDeliver(t *testing.T) {
	gw, provider, _ := startGateway(t)
	h := gw.Handler()

	target := "/api/v1/provision/" + string(testRoom) + "/hook?userId=" + string(testUser) +
		"&token=" + testSecret + "&label=ci"
	rec := do(t, h, http.MethodPut, target, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("provision status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "https://hooks.example.org/api/v1/matrix/hook/") {
		t.Fatalf("provision body missing hook url: %s", body)
	}

	hooks, err := gw.storage.ListWebhooks(context.Background(), string(testRoom))
	if err != nil || len(hooks) != 1 {
		t.Fatalf("ListWebhooks() = %v, %v", hooks, err)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/matrix/hook/"+hooks[0].ID, `{"text":"deploy finished"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d, body = %s", rec.Code, rec.Body.String())
	}

	virtual := provider.Get("_webhook__room_example_org_incoming_webhook")
	if virtual == nil {
		t.Fatalf("virtual user not created, have %v", provider.Localparts())
	}
	sent := virtual.SentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].RoomID != testRoom || !strings.Contains(sent[0].Content.Body, "deploy finished") {
		t.Errorf("sent = %+v", sent[0])
	}
}

func TestGateway_UnknownHook(t *testing.T) {
	gw, _, _ := startGateway(t)
	rec := do(t, gw.Handler(), http.MethodPost, "/api/v1/matrix/hook/missing", `{"text":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGateway_Reload(t *testing.T) {
	gw, _, cp := startGateway(t)

	var onChange func(*config.Config)
	select {
	case onChange = <-cp.onChange:
	case <-time.After(5 * time.Second):
		t.Fatal("config watch never started")
	}

	next := *cp.cfg
	next.Provisioning.Secret = "rotated"
	next.Defaults.DisplayName = "Release Bot"
	onChange(&next)

	if gw.secret.Validate(testSecret) == nil {
		t.Error("old secret still accepted after reload")
	}
	if err := gw.secret.Validate("rotated"); err != nil {
		t.Errorf("new secret rejected: %v", err)
	}
	if got := gw.currentDefaults().DisplayName; got != "Release Bot" {
		t.Errorf("defaults display name = %q, want Release Bot", got)
	}
}

func TestGateway_ReloadDisablesProvisioning(t *testing.T) {
	gw, _, cp := startGateway(t)

	next := *cp.cfg
	next.Provisioning.Secret = config.DisabledSecret
	if err := gw.reload(&next); err != nil {
		t.Fatalf("reload() error = %v", err)
	}

	target := "/api/v1/provision/" + string(testRoom) + "/hooks?userId=" + string(testUser) +
		"&token=" + config.DisabledSecret
	if rec := do(t, gw.Handler(), http.MethodGet, target, ""); rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 with placeholder secret", rec.Code)
	}
}

func TestHookURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://hooks.example.org", "https://hooks.example.org/api/v1/matrix/hook/abc"},
		{"https://hooks.example.org/", "https://hooks.example.org/api/v1/matrix/hook/abc"},
		{"http://localhost:9000//", "http://localhost:9000/api/v1/matrix/hook/abc"},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			if got := HookURL(tt.base)("abc"); got != tt.want {
				t.Errorf("HookURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.StorageConfig{Type: "memory"}},
		{name: "sqlite path", cfg: config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "nested", "hooks.db")}}},
		{name: "sqlite dsn", cfg: config.StorageConfig{Database: config.DatabaseConfig{DSN: filepath.Join(dir, "dsn.db")}}},
		{name: "postgres without dsn", cfg: config.StorageConfig{Type: "postgres"}, wantErr: true},
		{name: "unknown", cfg: config.StorageConfig{Type: "mongo"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := OpenStorage(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenStorage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer store.Close()

			hook, err := store.CreateWebhook(context.Background(), string(testRoom), string(testUser), "")
			if err != nil {
				t.Fatalf("CreateWebhook() error = %v", err)
			}
			if _, err := store.GetWebhook(context.Background(), hook.ID); err != nil {
				t.Errorf("GetWebhook() error = %v", err)
			}
		})
	}
}

func TestClientLogWriter(t *testing.T) {
	if w := clientLogWriter(config.LoggingConfig{Level: "info"}); w != nil {
		t.Errorf("info level writer = %v, want nil", w)
	}
	if w := clientLogWriter(config.LoggingConfig{Level: "debug"}); w == nil {
		t.Error("debug level writer is nil")
	}
}
