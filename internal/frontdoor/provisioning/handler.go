// Package provisioning serves the HTTP API for managing webhooks. Every
// call needs the shared provisioning secret and the ID of the user acting,
// whose power in the room is checked by the provisioning service.
package provisioning

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/auth"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/provisioning"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/server"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/telemetry"
)

// MessageUnknownError is returned for failures other than permission errors.
const MessageUnknownError = "Unknown error processing request"

// HookTypeIncoming is the only hook type the bridge offers.
const HookTypeIncoming = "incoming"

// Operation labels for metrics.
const (
	opCreate = "create"
	opList   = "list"
	opGet    = "get"
	opUpdate = "update"
	opDelete = "delete"
)

// HookResponse is a webhook as rendered by the API.
type HookResponse struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
	Label  string `json:"label,omitempty"`
	URL    string `json:"url"`
	Type   string `json:"type"`
}

// ListResponse is the body of the list endpoint.
type ListResponse struct {
	Success bool           `json:"success"`
	Results []HookResponse `json:"results"`
}

type labelBody struct {
	Label *string `json:"label"`
}

type Handler struct {
	service *provisioning.Service
	secret  *auth.SharedSecret
	hookURL func(string) string
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

func NewHandler(service *provisioning.Service, secret *auth.SharedSecret, hookURL func(string) string, metrics *telemetry.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if secret == nil {
		secret = auth.NewSharedSecret("")
	}
	return &Handler{
		service: service,
		secret:  secret,
		hookURL: hookURL,
		metrics: metrics,
		logger:  logger,
	}
}

// caller is the authenticated identity of a request.
type caller struct {
	roomID string
	userID string
}

// authorize applies the token rules. It writes the response and returns
// false when the request may not proceed.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, op string) (caller, bool) {
	roomID := pathParam(r, "roomId")
	userID := r.URL.Query().Get("userId")
	token := auth.TokenFromRequest(r, "token")

	if roomID == "" || userID == "" || token == "" {
		h.reject(w, r, op, telemetry.ResultInvalid,
			domain.NewAPIError(domain.ErrorTypePermission, domain.PermissionErrorMessage))
		return caller{}, false
	}
	if err := h.secret.Validate(token); err != nil {
		h.reject(w, r, op, telemetry.ResultDenied,
			domain.ErrAuthentication(domain.PermissionErrorMessage).WithCause(err))
		return caller{}, false
	}

	server.AddLogField(r.Context(), "room_id", roomID)
	server.AddLogField(r.Context(), "user_id", userID)
	return caller{roomID: roomID, userID: userID}, true
}

// HandleCreateHook handles PUT /api/v1/provision/{roomId}/hook.
func (h *Handler) HandleCreateHook(w http.ResponseWriter, r *http.Request) {
	c, ok := h.authorize(w, r, opCreate)
	if !ok {
		return
	}

	label := r.URL.Query().Get("label")
	if body, err := readLabel(r); err != nil {
		h.count(opCreate, telemetry.ResultInvalid)
		server.WriteJSON(w, http.StatusBadRequest, server.ErrorEnvelope(http.StatusBadRequest, err.Error(), ""))
		return
	} else if body.Label != nil {
		label = *body.Label
	}

	hook, err := h.service.CreateWebhook(r.Context(), c.roomID, c.userID, label)
	if err != nil {
		h.fail(w, r, opCreate, err)
		return
	}

	h.logger.Info("webhook created with provisioning api",
		slog.String("hook_id", hook.ID),
		slog.String("room_id", hook.RoomID),
	)
	h.count(opCreate, telemetry.ResultOK)
	server.WriteJSON(w, http.StatusOK, h.render(hook))
}

// HandleListHooks handles GET /api/v1/provision/{roomId}/hooks.
func (h *Handler) HandleListHooks(w http.ResponseWriter, r *http.Request) {
	c, ok := h.authorize(w, r, opList)
	if !ok {
		return
	}

	hooks, err := h.service.GetWebhooks(r.Context(), c.roomID, c.userID)
	if err != nil {
		h.fail(w, r, opList, err)
		return
	}

	resp := ListResponse{Success: true, Results: make([]HookResponse, 0, len(hooks))}
	for _, hook := range hooks {
		resp.Results = append(resp.Results, h.render(hook))
	}
	h.count(opList, telemetry.ResultOK)
	server.WriteJSON(w, http.StatusOK, resp)
}

// HandleGetHook handles GET /api/v1/provision/{roomId}/hook/{hookId}.
func (h *Handler) HandleGetHook(w http.ResponseWriter, r *http.Request) {
	c, ok := h.authorize(w, r, opGet)
	if !ok {
		return
	}
	hookID, ok := h.hookID(w, r, opGet)
	if !ok {
		return
	}

	hook, err := h.service.GetWebhook(r.Context(), c.roomID, c.userID, hookID)
	if err != nil {
		h.fail(w, r, opGet, err)
		return
	}
	h.count(opGet, telemetry.ResultOK)
	server.WriteJSON(w, http.StatusOK, h.render(hook))
}

// HandleUpdateHook handles POST /api/v1/provision/{roomId}/hook/{hookId}.
func (h *Handler) HandleUpdateHook(w http.ResponseWriter, r *http.Request) {
	c, ok := h.authorize(w, r, opUpdate)
	if !ok {
		return
	}
	hookID, ok := h.hookID(w, r, opUpdate)
	if !ok {
		return
	}

	body, err := readLabel(r)
	if err != nil {
		h.count(opUpdate, telemetry.ResultInvalid)
		server.WriteJSON(w, http.StatusBadRequest, server.ErrorEnvelope(http.StatusBadRequest, err.Error(), ""))
		return
	}

	var hook *domain.Webhook
	if body.Label == nil {
		hook, err = h.service.GetWebhook(r.Context(), c.roomID, c.userID, hookID)
	} else {
		hook, err = h.service.UpdateWebhook(r.Context(), c.roomID, c.userID, hookID, *body.Label)
	}
	if err != nil {
		h.fail(w, r, opUpdate, err)
		return
	}
	h.count(opUpdate, telemetry.ResultOK)
	server.WriteJSON(w, http.StatusOK, h.render(hook))
}

// HandleDeleteHook handles DELETE /api/v1/provision/{roomId}/hook/{hookId}.
func (h *Handler) HandleDeleteHook(w http.ResponseWriter, r *http.Request) {
	c, ok := h.authorize(w, r, opDelete)
	if !ok {
		return
	}
	hookID, ok := h.hookID(w, r, opDelete)
	if !ok {
		return
	}

	if err := h.service.DeleteWebhook(r.Context(), c.roomID, c.userID, hookID); err != nil {
		h.fail(w, r, opDelete, err)
		return
	}

	h.logger.Info("webhook deleted with provisioning api",
		slog.String("hook_id", hookID),
		slog.String("room_id", c.roomID),
	)
	h.count(opDelete, telemetry.ResultOK)
	server.WriteJSON(w, http.StatusOK, server.Result{Success: true})
}

func (h *Handler) hookID(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	hookID := pathParam(r, "hookId")
	if hookID == "" {
		h.count(op, telemetry.ResultInvalid)
		server.WriteJSON(w, http.StatusBadRequest, server.Result{Message: domain.PermissionErrorMessage})
		return "", false
	}
	server.AddLogField(r.Context(), "hook_id", hookID)
	return hookID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, domain.ErrPermission) {
		h.reject(w, r, op, telemetry.ResultPermission,
			domain.NewAPIError(domain.ErrorTypePermission, domain.PermissionErrorMessage).WithCause(err))
		return
	}

	h.logger.Error("provisioning request failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	h.reject(w, r, op, telemetry.ResultError, domain.ErrServer(MessageUnknownError).WithCause(err))
}

// reject renders apiErr as a failed result and records its cause on the
// request log.
func (h *Handler) reject(w http.ResponseWriter, r *http.Request, op, result string, apiErr *domain.APIError) {
	if cause := apiErr.Unwrap(); cause != nil {
		server.AddError(r.Context(), cause)
	}
	h.count(op, result)
	server.WriteJSON(w, apiErr.HTTPStatusCode(), server.Result{Message: apiErr.Message})
}

func (h *Handler) render(hook *domain.Webhook) HookResponse {
	return HookResponse{
		ID:     hook.ID,
		UserID: hook.UserID,
		RoomID: hook.RoomID,
		Label:  hook.Label,
		URL:    h.hookURL(hook.ID),
		Type:   HookTypeIncoming,
	}
}

func (h *Handler) count(op, result string) {
	if h.metrics != nil {
		h.metrics.ProvisioningRequests.WithLabelValues(op, result).Inc()
	}
}

// pathParam returns a decoded route parameter. Room IDs often arrive
// percent-encoded.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// readLabel decodes an optional {"label": ...} body.
func readLabel(r *http.Request) (labelBody, error) {
	var body labelBody
	if r.Body == nil {
		return body, nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		return body, err
	}
	return body, nil
}

