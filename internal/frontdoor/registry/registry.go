// Package registry provides frontdoor factory registration and lookup.
//
// # Adding a New Frontdoor
//
// Each frontdoor package exposes an explicit registration function:
//
//	func RegisterFrontdoor() {
//	    if registry.IsRegistered(FrontdoorType) {
//	        return
//	    }
//	    registry.RegisterFactory(registry.FrontdoorFactory{
//	        Type:           FrontdoorType,
//	        Description:    "what the routes do",
//	        CreateHandlers: createHandlers,
//	    })
//	}
//
// internal/registration calls every built-in registration function.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/auth"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/provisioning"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/telemetry"
)

// EventRouter receives homeserver events pushed to the appservice API.
type EventRouter interface {
	HandleEvent(ctx context.Context, evt *event.Event)
}

// HandlerConfig carries everything a frontdoor may need. Each factory uses
// the fields relevant to it and ignores the rest.
type HandlerConfig struct {
	// Hooks looks up provisioned webhooks.
	Hooks ports.WebhookStore

	// Publisher queues accepted webhook calls for delivery.
	Publisher ports.EventPublisher

	// Provisioning performs permission-checked hook management.
	Provisioning *provisioning.Service

	// ProvisioningSecret guards the provisioning API.
	ProvisioningSecret *auth.SharedSecret

	// CORSOrigins lists origins allowed to call the provisioning API.
	CORSOrigins []string

	// HSToken authenticates the homeserver on the appservice API.
	HSToken *auth.SharedSecret

	// Events receives transaction events from the homeserver.
	Events EventRouter

	// IsBridgeUser reports whether a user ID lies in the bridge's namespace.
	IsBridgeUser func(id.UserID) bool

	// HookURL renders the public URL of a hook.
	HookURL func(hookID string) string

	// Metrics is optional.
	Metrics *telemetry.Metrics

	Logger *slog.Logger
}

// HandlerRegistration is one route of a frontdoor.
type HandlerRegistration struct {
	Path    string
	Method  string
	Handler func(http.ResponseWriter, *http.Request)

	// Middleware optionally wraps Handler, e.g. for CORS.
	Middleware func(http.Handler) http.Handler
}

// FrontdoorFactory builds the routes of one HTTP surface: the webhook
// receiver, the provisioning API or the appservice API.
type FrontdoorFactory struct {
	Type        string
	Description string

	CreateHandlers func(cfg HandlerConfig) []HandlerRegistration
}

var (
	mu        sync.RWMutex
	factories = make(map[string]FrontdoorFactory)
)

// RegisterFactory adds f to the registry. It panics on an empty type, a
// missing CreateHandlers or a type that is already taken, since all of those
// are programming errors caught at startup.
func RegisterFactory(f FrontdoorFactory) {
	switch {
	case f.Type == "":
		panic("frontdoor factory type cannot be empty")
	case f.CreateHandlers == nil:
		panic(fmt.Sprintf("frontdoor factory %q has no CreateHandlers", f.Type))
	}

	mu.Lock()
	defer mu.Unlock()
	if _, taken := factories[f.Type]; taken {
		panic(fmt.Sprintf("frontdoor factory %q already registered", f.Type))
	}
	factories[f.Type] = f
}

// GetFactory returns the factory registered for frontdoorType.
func GetFactory(frontdoorType string) (FrontdoorFactory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[frontdoorType]
	return f, ok
}

// IsRegistered reports whether frontdoorType has a factory.
func IsRegistered(frontdoorType string) bool {
	_, ok := GetFactory(frontdoorType)
	return ok
}

// ListFactories returns the registered factories ordered by type.
func ListFactories() []FrontdoorFactory {
	mu.RLock()
	out := make([]FrontdoorFactory, 0, len(factories))
	for _, f := range factories {
		out = append(out, f)
	}
	mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ListFrontdoorTypes returns the registered type names in order.
func ListFrontdoorTypes() []string {
	var types []string
	for _, f := range ListFactories() {
		types = append(types, f.Type)
	}
	return types
}

// CreateHandlersFromFactory builds the routes of one frontdoor type.
func CreateHandlersFromFactory(frontdoorType string, cfg HandlerConfig) ([]HandlerRegistration, error) {
	f, ok := GetFactory(frontdoorType)
	if !ok {
		return nil, fmt.Errorf("unknown frontdoor type %q (have %v)", frontdoorType, ListFrontdoorTypes())
	}
	return f.CreateHandlers(cfg), nil
}

// ClearFactories empties the registry. Tests only.
func ClearFactories() {
	mu.Lock()
	defer mu.Unlock()
	clear(factories)
}
