// Package receiver delivers queued webhook events into Matrix.
package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/identity"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pipeline"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/telemetry"
)

// Receiver turns webhook events into messages posted by virtual users.
type Receiver struct {
	pipeline ports.PipelineExecutor
	identity *identity.Manager
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithMetrics records delivery outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Receiver) {
		r.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Receiver) {
		r.logger = logger
	}
}

// New creates a receiver.
func New(p ports.PipelineExecutor, m *identity.Manager, opts ...Option) *Receiver {
	r := &Receiver{
		pipeline: p,
		identity: m,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle is the queue handler. Every failure ends here: it is logged and
// the event is dropped.
func (r *Receiver) Handle(ctx context.Context, evt *domain.WebhookEvent) {
	logger := r.logger.With(
		slog.String("hook_id", evt.HookID),
		slog.String("request_id", evt.RequestID))

	eventID, err := r.Deliver(ctx, evt)
	switch {
	case pipeline.IsDenied(err):
		r.count(telemetry.ResultDenied)
		logger.Info("webhook message dropped", slog.String("reason", err.Error()))
	case err != nil:
		r.count(telemetry.ResultFailed)
		logger.Error("failed to deliver webhook message", slog.String("error", err.Error()))
	default:
		r.count(telemetry.ResultSent)
		logger.Debug("webhook message delivered", slog.String("event_id", eventID.String()))
	}
}

// Deliver runs the pipeline for the event and posts the result into the
// hook's room as the sender's virtual user.
func (r *Receiver) Deliver(ctx context.Context, evt *domain.WebhookEvent) (id.EventID, error) {
	if evt.Hook == nil {
		return "", fmt.Errorf("event for hook %s has no hook", evt.HookID)
	}
	roomID := id.RoomID(evt.Hook.RoomID)

	payload, err := domain.ParseWebhookPayload(evt.Payload)
	if err != nil {
		return "", err
	}

	start := time.Now()
	msg, err := r.pipeline.Run(ctx, payload, map[string]any{
		pipeline.MetaHookID:    evt.HookID,
		pipeline.MetaRoomID:    evt.Hook.RoomID,
		pipeline.MetaRequestID: evt.RequestID,
	})
	if r.metrics != nil {
		r.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return "", err
	}

	handle := identity.ResolveHandle(roomID, msg.Sender.DisplayName)
	intent, err := r.identity.Intent(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("virtual user %s: %w", handle, err)
	}

	if err := r.identity.UpdateProfile(ctx, intent, msg.Sender.DisplayName, msg.Sender.AvatarURL); err != nil {
		r.logger.Warn("failed to update virtual user profile",
			slog.String("user_id", intent.UserID().String()),
			slog.String("error", err.Error()))
	}

	eventID, err := r.identity.EnsureJoinedAndSend(ctx, intent, roomID, &msg.Event)
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", roomID, err)
	}
	return eventID, nil
}

func (r *Receiver) count(result string) {
	if r.metrics != nil {
		r.metrics.MessagesDelivered.WithLabelValues(result).Inc()
	}
}
