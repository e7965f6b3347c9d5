// Package gateway is the public API for embedding the webhook bridge in
// another program.
package gateway

import (
	"github.com/tjfontaine/matrix-webhook-bridge/internal/runtime"
)

// Gateway runs the bridge. See internal/runtime.Gateway.
type Gateway = runtime.Gateway

// Option configures a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithSQLite("./data/webhooks.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Storage
	WithSQLite          = runtime.WithSQLite
	WithPostgres        = runtime.WithPostgres
	WithMemoryStorage   = runtime.WithMemoryStorage
	WithStorageProvider = runtime.WithStorageProvider

	// Delivery queue
	WithDirectEvents   = runtime.WithDirectEvents
	WithChannelQueue   = runtime.WithChannelQueue
	WithRedisQueue     = runtime.WithRedisQueue
	WithEventPublisher = runtime.WithEventPublisher

	// Advanced options
	WithIntentProvider = runtime.WithIntentProvider
	WithMediaUploader  = runtime.WithMediaUploader
	WithMetrics        = runtime.WithMetrics
	WithLogger         = runtime.WithLogger
)
