package appservice

import (
	"net/http"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/frontdoor/registry"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/server"
)

// FrontdoorType is the frontdoor type identifier used in configuration.
const FrontdoorType = "appservice"

// Route paths. The homeserver may use either the versioned or the legacy
// unprefixed form.
const (
	prefixV1 = "/_matrix/app/v1"

	TransactionPath = "/transactions/{txnId}"
	UserPath        = "/users/{userId}"
	RoomAliasPath   = "/rooms/{alias}"
	PingPath        = "/ping"
)

// RegisterFrontdoor registers the appservice API factory.
func RegisterFrontdoor() {
	if registry.IsRegistered(FrontdoorType) {
		return
	}
	registry.RegisterFactory(registry.FrontdoorFactory{
		Type:           FrontdoorType,
		Description:    "Matrix application service API",
		CreateHandlers: createHandlers,
	})
}

func createHandlers(cfg registry.HandlerConfig) []registry.HandlerRegistration {
	h := NewHandler(cfg.Events, cfg.IsBridgeUser, cfg.Metrics, cfg.Logger)
	return CreateHandlerRegistrations(h, server.RequireToken(cfg.HSToken, "access_token", DenyUnauthorized))
}

// CreateHandlerRegistrations lists the appservice routes behind authn.
func CreateHandlerRegistrations(h *Handler, authn func(http.Handler) http.Handler) []registry.HandlerRegistration {
	var regs []registry.HandlerRegistration
	for _, prefix := range []string{prefixV1, ""} {
		regs = append(regs,
			registry.HandlerRegistration{Path: prefix + TransactionPath, Method: http.MethodPut, Handler: h.HandleTransaction, Middleware: authn},
			registry.HandlerRegistration{Path: prefix + UserPath, Method: http.MethodGet, Handler: h.HandleUserQuery, Middleware: authn},
			registry.HandlerRegistration{Path: prefix + RoomAliasPath, Method: http.MethodGet, Handler: h.HandleRoomQuery, Middleware: authn},
		)
	}
	regs = append(regs, registry.HandlerRegistration{Path: prefixV1 + PingPath, Method: http.MethodPost, Handler: h.HandlePing, Middleware: authn})
	return regs
}
