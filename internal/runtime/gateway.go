// Package runtime provides the Gateway that assembles the bridge from its
// parts and manages its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/adapters/events/channel"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/adapters/events/direct"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/adapters/events/redis"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/bridge"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/frontdoor"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/identity"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/matrix"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/media"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pipeline"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pipeline/layers"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/auth"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/config"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/provisioning"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/receiver"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/registration"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/server"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/telemetry"
)

// Gateway runs the bridge: the HTTP listener, the delivery workers and the
// Matrix event routing. It can be embedded in larger applications or run
// standalone.
type Gateway struct {
	// Dependencies (injected via options or built from config)
	config  ports.ConfigProvider
	storage ports.StorageProvider
	events  ports.EventPublisher
	intents ports.IntentProvider
	media   ports.MediaUploader
	metrics *telemetry.Metrics
	direct  bool
	logger  *slog.Logger

	// Assembled on Start
	cfg      *config.Config
	secret   *auth.SharedSecret
	hsToken  *auth.SharedSecret
	defaults atomic.Pointer[domain.Sender]
	identity *identity.Manager
	service  *provisioning.Service
	bridge   *bridge.Bridge
	receiver *receiver.Receiver
	server   *server.Server

	shutdownTracer func(context.Context) error

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	wg     sync.WaitGroup
}

// New creates a Gateway. A config provider is required; storage, queue and
// homeserver client default to what the configuration describes.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger:  slog.Default(),
		metrics: telemetry.NewMetrics(),
		secret:  auth.NewSharedSecret(""),
		hsToken: auth.NewSharedSecret(""),
	}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}
	if gw.logger == nil {
		gw.logger = slog.Default()
	}

	return gw, nil
}

// Start loads configuration, assembles the bridge and starts serving.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ctx, g.cancel = context.WithCancel(ctx)

	cfg, err := g.config.Load(g.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	g.cfg = cfg

	g.shutdownTracer, err = telemetry.InitTracer(telemetry.ServiceName, cfg.Telemetry.Tracing, g.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	if err := g.initDependencies(cfg); err != nil {
		return err
	}
	if err := g.initBridge(cfg); err != nil {
		return err
	}
	if err := g.initEvents(cfg); err != nil {
		return err
	}
	if err := g.initServer(cfg); err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	if err := g.bridge.Start(g.ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.server.Start(); err != nil {
			g.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	go g.watchConfig()

	g.logger.Info("bridge started",
		slog.String("addr", g.server.Addr),
		slog.String("homeserver", cfg.Homeserver.URL),
		slog.Bool("provisioning", g.secret.Configured()),
	)
	return nil
}

// Handler exposes the HTTP router, e.g. for tests.
func (g *Gateway) Handler() http.Handler {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.server == nil {
		return http.NotFoundHandler()
	}
	return g.server.Router
}

// Shutdown gracefully stops the gateway. Queued webhooks that were not yet
// picked up by a worker are dropped with the in-process queue.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down bridge")

	var errs []error

	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if g.events != nil {
		if err := g.events.Close(); err != nil {
			g.logger.Error("failed to close events", slog.String("error", err.Error()))
		}
	}

	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	if g.bridge != nil {
		g.bridge.Wait()
	}

	if g.storage != nil {
		if err := g.storage.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if g.config != nil {
		if err := g.config.Close(); err != nil {
			g.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	if g.shutdownTracer != nil {
		if err := g.shutdownTracer(ctx); err != nil {
			g.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("bridge shutdown complete")
	return errors.Join(errs...)
}

// initDependencies builds whatever the options did not supply.
func (g *Gateway) initDependencies(cfg *config.Config) error {
	if g.storage == nil {
		store, err := OpenStorage(cfg.Storage)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		g.storage = store
	}

	if g.intents == nil {
		client, err := matrix.New(matrix.Config{
			HomeserverURL:   cfg.Homeserver.URL,
			Domain:          cfg.Homeserver.Domain,
			ASToken:         cfg.Appservice.ASToken,
			BotLocalpart:    cfg.WebhookBot.Localpart,
			UserPrefix:      cfg.WebhookBot.UserPrefix,
			ClientLogWriter: clientLogWriter(cfg.Logging),
			ClientLogLevel:  cfg.Logging.Level,
			Logger:          g.logger,
		})
		if err != nil {
			return fmt.Errorf("create homeserver client: %w", err)
		}
		g.intents = client
	}

	if g.media == nil {
		fetcher := media.NewFetcher(
			media.WithMaxSize(cfg.Media.MaxSize),
			media.WithAllowPrivate(cfg.Media.AllowPrivate),
		)
		g.media = media.NewUploader(fetcher)
	}

	mgr, err := identity.NewManager(g.intents, g.storage, g.media, identity.Config{
		UserPrefix: cfg.WebhookBot.UserPrefix,
		Logger:     g.logger,
	})
	if err != nil {
		return fmt.Errorf("create identity manager: %w", err)
	}
	g.identity = mgr

	g.secret.Set(cfg.Provisioning.Secret)
	g.hsToken.Set(cfg.Appservice.HSToken)
	g.setDefaults(cfg.Defaults)
	return nil
}

func (g *Gateway) initBridge(cfg *config.Config) error {
	g.service = provisioning.NewService(g.identity.Bot(), g.storage, g.logger)

	g.bridge = bridge.New(bridge.Config{
		Identity:     g.identity,
		Store:        g.storage,
		Provisioning: g.service,
		HookURL:      HookURL(cfg.Web.HookURLBase),
		Appearance:   appearance(cfg.WebhookBot.Appearance),
		Logger:       g.logger,
	})

	stages := layers.Default(layers.Options{
		Defaults:          g.currentDefaults,
		EmojiImageBaseURL: cfg.Emoji.ImageBaseURL,
		Media:             g.media,
		Uploader:          g.identity.Bot(),
		UploadConcurrency: cfg.Media.UploadConcurrency,
		Logger:            g.logger,
	})
	g.receiver = receiver.New(
		pipeline.NewOrderedExecutor(stages...),
		g.identity,
		receiver.WithMetrics(g.metrics),
		receiver.WithLogger(g.logger),
	)
	return nil
}

// initEvents sets up the dispatch queue and its consumers.
func (g *Gateway) initEvents(cfg *config.Config) error {
	switch {
	case g.direct:
		publisher, err := direct.NewPublisher(g.receiver.Handle)
		if err != nil {
			return fmt.Errorf("create direct event publisher: %w", err)
		}
		g.events = publisher
	case g.events == nil:
		publisher, err := g.queueFromConfig(cfg.Queue)
		if err != nil {
			return err
		}
		g.events = publisher
	}

	sub, ok := g.events.(ports.EventSubscriber)
	if !ok {
		return nil
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := sub.Subscribe(g.ctx, g.receiver.Handle); err != nil && !errors.Is(err, context.Canceled) {
			g.logger.Error("event subscriber stopped", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (g *Gateway) queueFromConfig(qc config.QueueConfig) (ports.EventPublisher, error) {
	switch qc.Type {
	case "", "channel":
		return channel.New(channel.Config{
			Buffer:  qc.Buffer,
			Workers: qc.Workers,
			Depth:   g.metrics.QueueDepth,
		}), nil
	case "redis":
		q, err := redis.New(g.ctx, redis.Config{
			Addr:     qc.Redis.Addr,
			Password: qc.Redis.Password,
			DB:       qc.Redis.DB,
			Key:      qc.Redis.Key,
			Workers:  qc.Workers,
			Logger:   g.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis queue: %w", err)
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unknown queue type: %s", qc.Type)
	}
}

// initServer creates the router and mounts every frontdoor.
func (g *Gateway) initServer(cfg *config.Config) error {
	g.server = server.New(server.Config{
		Bind:    cfg.Web.Bind,
		Port:    cfg.Web.Port,
		Metrics: g.metrics,
	}, g.logger)

	g.server.Router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		server.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	g.server.Router.Method(http.MethodGet, "/metrics", g.metrics.Handler())

	registration.RegisterBuiltins()
	handlers, err := frontdoor.CreateHandlers(registration.DefaultFrontdoors, frontdoor.HandlerConfig{
		Hooks:              g.storage,
		Publisher:          g.events,
		Provisioning:       g.service,
		ProvisioningSecret: g.secret,
		CORSOrigins:        cfg.Provisioning.CORSOrigins,
		HSToken:            g.hsToken,
		Events:             g.bridge,
		IsBridgeUser:       g.identity.IsBridgeUser,
		HookURL:            HookURL(cfg.Web.HookURLBase),
		Metrics:            g.metrics,
		Logger:             g.logger,
	})
	if err != nil {
		return fmt.Errorf("create handlers: %w", err)
	}
	frontdoor.Mount(g.server.Router, handlers)

	for _, h := range handlers {
		g.logger.Debug("registered handler",
			slog.String("method", h.Method),
			slog.String("path", h.Path))
	}
	g.logger.Info("frontdoor handlers created", slog.Int("count", len(handlers)))
	return nil
}

// watchConfig watches for config changes and reloads.
func (g *Gateway) watchConfig() {
	onChange := func(newCfg *config.Config) {
		g.logger.Info("config changed, reloading")
		if err := g.reload(newCfg); err != nil {
			g.logger.Error("failed to reload", slog.String("error", err.Error()))
		}
	}

	if err := g.config.Watch(g.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			g.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// reload applies the settings that can change without a restart: the
// provisioning secret, the default sender appearance and the bot profile.
func (g *Gateway) reload(cfg *config.Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg != nil && (g.cfg.Web != cfg.Web || g.cfg.Homeserver != cfg.Homeserver) {
		g.logger.Warn("web and homeserver settings only apply after a restart")
	}

	g.secret.Set(cfg.Provisioning.Secret)
	g.setDefaults(cfg.Defaults)

	var err error
	if g.bridge != nil {
		if e := g.bridge.SetAppearance(g.ctx, appearance(cfg.WebhookBot.Appearance)); e != nil {
			err = fmt.Errorf("update bot profile: %w", e)
		}
	}
	g.cfg = cfg

	g.logger.Info("reload complete", slog.Bool("provisioning", g.secret.Configured()))
	return err
}

func (g *Gateway) setDefaults(a config.AppearanceConfig) {
	g.defaults.Store(&domain.Sender{DisplayName: a.DisplayName, AvatarURL: a.AvatarURL})
}

func (g *Gateway) currentDefaults() domain.Sender {
	if d := g.defaults.Load(); d != nil {
		return *d
	}
	return domain.Sender{}
}

// clientLogWriter sends the homeserver client's request log to stderr at
// debug level only.
func clientLogWriter(lc config.LoggingConfig) io.Writer {
	if lc.Level != "debug" {
		return nil
	}
	return os.Stderr
}
