// Package webhook implements the Slack-compatible incoming webhook endpoint.
package webhook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/server"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/telemetry"
)

// MaxBodyBytes caps the size of a webhook body.
const MaxBodyBytes = 1 << 20

// Response messages.
const (
	MessageMissingContent = "Missing message text or attachments"
	MessageInvalidHook    = "Invalid hook ID"
	MessageUnknownError   = "Unknown error processing webhook"
)

// Handler accepts webhook calls and queues them for delivery. Nothing is
// sent to Matrix while the request is open.
type Handler struct {
	hooks     ports.WebhookStore
	publisher ports.EventPublisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewHandler(hooks ports.WebhookStore, publisher ports.EventPublisher, metrics *telemetry.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hooks:     hooks,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// HandlePostWebhook handles POST /api/v1/matrix/hook/{hookId}.
func (h *Handler) HandlePostWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hookID := chi.URLParam(r, "hookId")
	server.AddLogField(ctx, "hook_id", hookID)
	logger := h.logger.With(slog.String("hook_id", hookID))

	raw, err := readPayload(w, r)
	if err != nil {
		server.AddError(ctx, err)
		h.count(telemetry.ResultInvalid)
		server.WriteJSON(w, http.StatusBadRequest, server.ErrorEnvelope(http.StatusBadRequest, err.Error(), ""))
		return
	}

	payload, err := domain.ParseWebhookPayload(raw)
	if err != nil {
		server.AddError(ctx, err)
		h.count(telemetry.ResultInvalid)
		server.WriteJSON(w, http.StatusBadRequest, server.ErrorEnvelope(http.StatusBadRequest, err.Error(), ""))
		return
	}

	// Content is checked before the store is touched so garbage calls to
	// unknown hooks stay cheap.
	if !payload.HasContent() {
		logger.Warn("invalid message: missing text or attachments")
		h.count(telemetry.ResultInvalid)
		server.WriteJSON(w, http.StatusBadRequest, server.Result{Error: MessageMissingContent})
		return
	}

	hook, err := h.hooks.GetWebhook(ctx, hookID)
	if errors.Is(err, domain.ErrHookNotFound) {
		logger.Warn("invalid hook id")
		h.count(telemetry.ResultUnknown)
		server.WriteJSON(w, http.StatusBadRequest, server.Result{Error: MessageInvalidHook})
		return
	}
	if err != nil {
		logger.Error("failed to look up hook", slog.String("error", err.Error()))
		server.AddError(ctx, err)
		h.count(telemetry.ResultError)
		server.WriteJSON(w, http.StatusInternalServerError, server.Result{Error: MessageUnknownError})
		return
	}

	evt := &domain.WebhookEvent{
		HookID:     hookID,
		Hook:       hook,
		Payload:    raw,
		RequestID:  server.GetRequestID(ctx),
		ReceivedAt: h.now().UTC(),
	}
	if err := h.publisher.Publish(ctx, evt); err != nil {
		logger.Error("failed to queue webhook", slog.String("error", err.Error()))
		server.AddError(ctx, err)
		h.count(telemetry.ResultError)
		server.WriteJSON(w, http.StatusInternalServerError, server.Result{Error: MessageUnknownError})
		return
	}

	logger.Info("webhook queued for processing", slog.String("room_id", hook.RoomID))
	h.count(telemetry.ResultQueued)
	server.WriteJSON(w, http.StatusOK, server.Result{Success: true, Queued: true})
}

func (h *Handler) count(result string) {
	if h.metrics != nil {
		h.metrics.WebhooksReceived.WithLabelValues(result).Inc()
	}
}

// readPayload returns the JSON document of the request. Form posts carry it
// in the "payload" field; anything else is read as a JSON body. An empty
// document reads as {}.
func readPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		payload := r.PostForm.Get("payload")
		if payload == "" {
			return []byte("{}"), nil
		}
		return []byte(payload), nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return []byte("{}"), nil
	}
	return body, nil
}
