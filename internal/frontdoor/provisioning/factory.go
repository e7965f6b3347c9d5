package provisioning

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/frontdoor/registry"
)

// FrontdoorType is the frontdoor type identifier used in configuration.
const FrontdoorType = "provisioning"

// Route paths of the provisioning API.
const (
	BasePath   = "/api/v1/provision/{roomId}"
	HookPath   = BasePath + "/hook"
	HooksPath  = BasePath + "/hooks"
	HookIDPath = BasePath + "/hook/{hookId}"
)

// RegisterFrontdoor registers the provisioning API factory.
func RegisterFrontdoor() {
	if registry.IsRegistered(FrontdoorType) {
		return
	}
	registry.RegisterFactory(registry.FrontdoorFactory{
		Type:           FrontdoorType,
		Description:    "HTTP API for managing webhooks",
		CreateHandlers: createHandlers,
	})
}

func createHandlers(cfg registry.HandlerConfig) []registry.HandlerRegistration {
	h := NewHandler(cfg.Provisioning, cfg.ProvisioningSecret, cfg.HookURL, cfg.Metrics, cfg.Logger)
	return CreateHandlerRegistrations(h, cfg.CORSOrigins)
}

// CreateHandlerRegistrations lists the provisioning routes. When origins
// are given every route is wrapped in CORS and answers preflight requests.
func CreateHandlerRegistrations(h *Handler, origins []string) []registry.HandlerRegistration {
	regs := []registry.HandlerRegistration{
		{Path: HookPath, Method: http.MethodPut, Handler: h.HandleCreateHook},
		{Path: HooksPath, Method: http.MethodGet, Handler: h.HandleListHooks},
		{Path: HookIDPath, Method: http.MethodGet, Handler: h.HandleGetHook},
		{Path: HookIDPath, Method: http.MethodPost, Handler: h.HandleUpdateHook},
		{Path: HookIDPath, Method: http.MethodDelete, Handler: h.HandleDeleteHook},
	}
	if len(origins) == 0 {
		return regs
	}

	mw := cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	})
	for i := range regs {
		regs[i].Middleware = mw
	}
	for _, path := range []string{HookPath, HooksPath, HookIDPath} {
		regs = append(regs, registry.HandlerRegistration{
			Path:       path,
			Method:     http.MethodOptions,
			Handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) },
			Middleware: mw,
		})
	}
	return regs
}
