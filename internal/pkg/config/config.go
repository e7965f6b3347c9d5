package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. A double underscore
// separates nesting levels: WEBHOOKS_WEB__PORT=9001 sets web.port.
const EnvPrefix = "WEBHOOKS_"

// DisabledSecret is the placeholder secret shipped in sample configs. It
// disables the provisioning API just like an empty secret.
const DisabledSecret = "CHANGE_ME"

type Config struct {
	Homeserver   HomeserverConfig   `koanf:"homeserver"`
	Appservice   AppserviceConfig   `koanf:"appservice"`
	WebhookBot   WebhookBotConfig   `koanf:"webhook_bot"`
	Defaults     AppearanceConfig   `koanf:"defaults"`
	Web          WebConfig          `koanf:"web"`
	Provisioning ProvisioningConfig `koanf:"provisioning"`
	Storage      StorageConfig      `koanf:"storage"`
	Queue        QueueConfig        `koanf:"queue"`
	Media        MediaConfig        `koanf:"media"`
	Emoji        EmojiConfig        `koanf:"emoji"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

type HomeserverConfig struct {
	URL    string `koanf:"url"`
	Domain string `koanf:"domain"`
}

// AppserviceConfig holds the tokens shared with the homeserver. They are
// normally read from the registration file named by Registration.
type AppserviceConfig struct {
	Registration    string `koanf:"registration"`
	ID              string `koanf:"id"`
	ASToken         string `koanf:"as_token"`
	HSToken         string `koanf:"hs_token"`
	SenderLocalpart string `koanf:"sender_localpart"`
}

type WebhookBotConfig struct {
	Localpart  string           `koanf:"localpart"`
	UserPrefix string           `koanf:"user_prefix"`
	Appearance AppearanceConfig `koanf:"appearance"`
}

type AppearanceConfig struct {
	DisplayName string `koanf:"display_name"`
	AvatarURL   string `koanf:"avatar_url"`
}

type WebConfig struct {
	Port        int    `koanf:"port"`
	Bind        string `koanf:"bind"`
	HookURLBase string `koanf:"hook_url_base"`
}

type ProvisioningConfig struct {
	Secret      string   `koanf:"secret"`
	CORSOrigins []string `koanf:"cors_origins"`
}

// Enabled reports whether a usable provisioning secret is configured.
func (p ProvisioningConfig) Enabled() bool {
	return p.Secret != "" && p.Secret != DisabledSecret
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, postgres, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
	// Database is the generic database configuration for multi-dialect support
	Database DatabaseConfig `koanf:"database"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// DatabaseConfig is the generic database configuration supporting multiple dialects.
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres
	DSN    string `koanf:"dsn"`    // Data source name / connection string
}

type QueueConfig struct {
	Type    string      `koanf:"type"` // channel, redis
	Workers int         `koanf:"workers"`
	Buffer  int         `koanf:"buffer"`
	Redis   RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Key      string `koanf:"key"`
}

type MediaConfig struct {
	MaxSize           int64 `koanf:"max_size"`
	AllowPrivate      bool  `koanf:"allow_private"`
	UploadConcurrency int   `koanf:"upload_concurrency"`
}

type EmojiConfig struct {
	ImageBaseURL string `koanf:"image_base_url"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Tracing bool `koanf:"tracing"`
}

var defaults = map[string]any{
	"homeserver.url":                      "http://localhost:8008",
	"homeserver.domain":                   "localhost",
	"webhook_bot.localpart":               "_webhook",
	"webhook_bot.user_prefix":             "_webhook_",
	"webhook_bot.appearance.display_name": "Webhook Bridge",
	"webhook_bot.appearance.avatar_url":   "http://i.imgur.com/IDOBtEJ.png",
	"defaults.display_name":               "Incoming Webhook",
	"web.port":                            9000,
	"web.hook_url_base":                   "http://localhost:9000",
	"provisioning.secret":                 DisabledSecret,
	"storage.type":                        "sqlite",
	"storage.sqlite.path":                 "./data/webhooks.db",
	"queue.type":                          "channel",
	"queue.workers":                       4,
	"queue.buffer":                        256,
	"queue.redis.addr":                    "localhost:6379",
	"queue.redis.key":                     "webhooks:events",
	"media.max_size":                      20 * 1024 * 1024,
	"media.upload_concurrency":            4,
	"emoji.image_base_url":                "https://cdn.jsdelivr.net/gh/jdecked/twemoji@15.1.0/assets/72x72/",
	"logging.level":                       "info",
	"logging.format":                      "json",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the yaml file at path (a missing file is fine), applies
// environment overrides and defaults, then merges the appservice
// registration file when one is configured.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Appservice.ASToken = substituteEnvVars(cfg.Appservice.ASToken)
	cfg.Appservice.HSToken = substituteEnvVars(cfg.Appservice.HSToken)
	cfg.Provisioning.Secret = substituteEnvVars(cfg.Provisioning.Secret)
	cfg.Queue.Redis.Password = substituteEnvVars(cfg.Queue.Redis.Password)
	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)

	if cfg.Appservice.Registration != "" {
		if err := loadRegistration(cfg.Appservice.Registration, &cfg.Appservice); err != nil {
			return nil, err
		}
	}
	if cfg.Appservice.SenderLocalpart != "" {
		cfg.WebhookBot.Localpart = cfg.Appservice.SenderLocalpart
	}

	return &cfg, nil
}

// loadRegistration fills tokens from an appservice registration file. Values
// already set in the config win over the file.
func loadRegistration(path string, as *AppserviceConfig) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load registration %s: %w", path, err)
	}

	if as.ID == "" {
		as.ID = k.String("id")
	}
	if as.ASToken == "" {
		as.ASToken = k.String("as_token")
	}
	if as.HSToken == "" {
		as.HSToken = k.String("hs_token")
	}
	if as.SenderLocalpart == "" {
		as.SenderLocalpart = k.String("sender_localpart")
	}
	return nil
}

// Validate checks the settings the bridge cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.Homeserver.URL == "" {
		missing = append(missing, "homeserver.url")
	}
	if c.Homeserver.Domain == "" {
		missing = append(missing, "homeserver.domain")
	}
	if c.Appservice.ASToken == "" {
		missing = append(missing, "appservice.as_token")
	}
	if c.Appservice.HSToken == "" {
		missing = append(missing, "appservice.hs_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
