// Package frontdoor mounts the bridge's HTTP surfaces onto the router.
//
// Each surface lives in its own package (webhook, provisioning, appservice)
// and registers a factory with the registry. The runtime builds the routes of
// registration.DefaultFrontdoors and calls Mount.
package frontdoor

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/frontdoor/registry"
)

// Registry types re-exported so callers need only this package.
type (
	FrontdoorFactory    = registry.FrontdoorFactory
	HandlerConfig       = registry.HandlerConfig
	HandlerRegistration = registry.HandlerRegistration
)

var (
	RegisterFactory    = registry.RegisterFactory
	GetFactory         = registry.GetFactory
	ListFactories      = registry.ListFactories
	ListFrontdoorTypes = registry.ListFrontdoorTypes
	IsRegistered       = registry.IsRegistered
	ClearFactories     = registry.ClearFactories
)

// CreateHandlers builds the registrations of every listed frontdoor type.
func CreateHandlers(types []string, cfg HandlerConfig) ([]HandlerRegistration, error) {
	var registrations []HandlerRegistration
	for _, t := range types {
		handlers, err := registry.CreateHandlersFromFactory(t, cfg)
		if err != nil {
			return nil, err
		}
		registrations = append(registrations, handlers...)
	}
	return registrations, nil
}

// Mount registers handlers on the router.
func Mount(r chi.Router, registrations []HandlerRegistration) {
	for _, reg := range registrations {
		var h http.Handler = http.HandlerFunc(reg.Handler)
		if reg.Middleware != nil {
			h = reg.Middleware(h)
		}
		r.Method(reg.Method, reg.Path, h)
	}
}
