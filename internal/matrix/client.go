// Package matrix adapts the mautrix client library to the bridge's intent
// ports. Every identity shares the appservice token and is selected with the
// user_id query parameter.
package matrix

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

const defaultIntentCacheSize = 1024

// Config holds homeserver connection settings.
type Config struct {
	HomeserverURL string
	Domain        string
	ASToken       string

	// BotLocalpart is the appservice sender; UserPrefix namespaces virtual users.
	BotLocalpart string
	UserPrefix   string

	// HTTPClient overrides the client used for homeserver requests.
	HTTPClient *http.Client

	// IntentCacheSize bounds how many virtual user clients are kept.
	IntentCacheSize int

	// ClientLogWriter receives mautrix's own request logs. Nil discards them.
	ClientLogWriter io.Writer
	ClientLogLevel  string

	Logger *slog.Logger
}

// Client hands out intents for the bot and for virtual users.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	zlog    zerolog.Logger
	bot     *botIntent
	intents *lru.Cache[string, *intent]
}

var _ ports.IntentProvider = (*Client)(nil)

// New creates a client for the configured homeserver.
func New(cfg Config) (*Client, error) {
	if cfg.HomeserverURL == "" || cfg.Domain == "" {
		return nil, fmt.Errorf("homeserver url and domain are required")
	}
	if cfg.ASToken == "" {
		return nil, fmt.Errorf("appservice token is required")
	}
	if cfg.BotLocalpart == "" {
		return nil, fmt.Errorf("bot localpart is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.IntentCacheSize <= 0 {
		cfg.IntentCacheSize = defaultIntentCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		zlog:   newClientLogger(cfg.ClientLogWriter, cfg.ClientLogLevel),
	}

	cache, err := lru.New[string, *intent](cfg.IntentCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create intent cache: %w", err)
	}
	c.intents = cache

	botClient, err := c.newMautrixClient(c.UserID(cfg.BotLocalpart), false)
	if err != nil {
		return nil, err
	}
	c.bot = &botIntent{intent: &intent{client: botClient, localpart: cfg.BotLocalpart, parent: c}}

	return c, nil
}

func newClientLogger(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		return zerolog.Nop()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "mautrix").
		Logger()
}

func (c *Client) newMautrixClient(userID id.UserID, masquerade bool) (*mautrix.Client, error) {
	cli, err := mautrix.NewClient(c.cfg.HomeserverURL, userID, c.cfg.ASToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	cli.Client = c.cfg.HTTPClient
	cli.SetAppServiceUserID = masquerade
	cli.Log = c.zlog.With().Str("user_id", userID.String()).Logger()
	return cli, nil
}

// UserID returns the full Matrix ID for a localpart on the bridge's domain.
func (c *Client) UserID(localpart string) id.UserID {
	return id.NewUserID(localpart, c.cfg.Domain)
}

// Bot returns the bridge bot's intent.
func (c *Client) Bot() ports.BotIntent {
	return c.bot
}

// Intent returns the intent for a virtual user. Intents are cached so the
// underlying clients are reused.
func (c *Client) Intent(localpart string) (ports.Intent, error) {
	if localpart == c.cfg.BotLocalpart {
		return c.bot, nil
	}
	if in, ok := c.intents.Get(localpart); ok {
		return in, nil
	}

	cli, err := c.newMautrixClient(c.UserID(localpart), true)
	if err != nil {
		return nil, err
	}

	in := &intent{client: cli, localpart: localpart, parent: c}
	c.intents.Add(localpart, in)
	return in, nil
}

// IsBridgeUser reports whether userID is the bot or in the virtual user namespace.
func (c *Client) IsBridgeUser(userID id.UserID) bool {
	localpart, server, err := userID.Parse()
	if err != nil || server != c.cfg.Domain {
		return false
	}
	if localpart == c.cfg.BotLocalpart {
		return true
	}
	return c.cfg.UserPrefix != "" && strings.HasPrefix(localpart, c.cfg.UserPrefix)
}
