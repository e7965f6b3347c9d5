package webhook

import (
	"net/http"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/frontdoor/registry"
)

// FrontdoorType is the frontdoor type identifier used in configuration.
const FrontdoorType = "webhook"

// HookPath is the route of the incoming webhook endpoint.
const HookPath = "/api/v1/matrix/hook/{hookId}"

// RegisterFrontdoor registers the webhook frontdoor factory.
func RegisterFrontdoor() {
	if registry.IsRegistered(FrontdoorType) {
		return
	}
	registry.RegisterFactory(registry.FrontdoorFactory{
		Type:           FrontdoorType,
		Description:    "Slack-compatible incoming webhooks",
		CreateHandlers: createHandlers,
	})
}

func createHandlers(cfg registry.HandlerConfig) []registry.HandlerRegistration {
	h := NewHandler(cfg.Hooks, cfg.Publisher, cfg.Metrics, cfg.Logger)
	return []registry.HandlerRegistration{
		{Path: HookPath, Method: http.MethodPost, Handler: h.HandlePostWebhook},
	}
}
