// Package provisioning creates and manages webhooks on behalf of room
// members who hold enough power in the target room.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/keylock"
)

// Service checks permissions and manages the webhook records of rooms.
// Creates and deletes in one room run one at a time, so the decision to
// leave after the last hook always sees the room's final hook count.
type Service struct {
	bot    ports.BotIntent
	store  ports.WebhookStore
	rooms  keylock.Locker
	logger *slog.Logger
}

// NewService creates a provisioning service that checks power levels and
// joins rooms as bot.
func NewService(bot ports.BotIntent, store ports.WebhookStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{bot: bot, store: store, logger: logger}
}

// HasPermission returns nil when userID may manage hooks in roomID, and an
// error wrapping domain.ErrPermission otherwise. A user needs at least the
// room's state_default power level; rooms without power levels or without
// an explicit state_default deny everyone.
func (s *Service) HasPermission(ctx context.Context, userID, roomID string) error {
	pl, err := s.bot.PowerLevels(ctx, id.RoomID(roomID))
	if err != nil {
		s.logger.Warn("cannot read power levels",
			slog.String("room_id", roomID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", domain.ErrPermission, err)
	}
	if pl == nil || pl.StateDefaultPtr == nil {
		s.logger.Warn("room has no state_default power level",
			slog.String("room_id", roomID),
			slog.String("user_id", userID))
		return domain.ErrPermission
	}

	required := *pl.StateDefaultPtr
	level := pl.GetUserLevel(id.UserID(userID))

	s.logger.Debug("checked permission",
		slog.String("room_id", roomID),
		slog.String("user_id", userID),
		slog.Int("required", required),
		slog.Int("level", level))

	if level < required {
		return domain.ErrPermission
	}
	return nil
}

// CreateWebhook joins the bot to the room and creates a hook there.
func (s *Service) CreateWebhook(ctx context.Context, roomID, userID, label string) (*domain.Webhook, error) {
	s.logger.Info("create webhook requested",
		slog.String("room_id", roomID),
		slog.String("user_id", userID))

	if err := s.HasPermission(ctx, userID, roomID); err != nil {
		return nil, err
	}

	unlock := s.rooms.Lock(roomID)
	defer unlock()

	if err := s.bot.JoinRoom(ctx, id.RoomID(roomID)); err != nil {
		return nil, fmt.Errorf("join %s: %w", roomID, err)
	}
	return s.store.CreateWebhook(ctx, roomID, userID, label)
}

// UpdateWebhook changes the hook's label and returns the hook.
func (s *Service) UpdateWebhook(ctx context.Context, roomID, userID, hookID, label string) (*domain.Webhook, error) {
	s.logger.Info("update webhook requested",
		slog.String("room_id", roomID),
		slog.String("user_id", userID),
		slog.String("hook_id", hookID))

	hook, err := s.GetWebhook(ctx, roomID, userID, hookID)
	if err != nil {
		return nil, err
	}
	if hook.Label == label {
		return hook, nil
	}
	if err := s.store.UpdateWebhookLabel(ctx, hook.ID, label); err != nil {
		return nil, err
	}
	hook.Label = label
	return hook, nil
}

// GetWebhook returns one hook of the room.
func (s *Service) GetWebhook(ctx context.Context, roomID, userID, hookID string) (*domain.Webhook, error) {
	if err := s.HasPermission(ctx, userID, roomID); err != nil {
		return nil, err
	}
	return s.roomHook(ctx, roomID, hookID)
}

// GetWebhooks lists the hooks of the room.
func (s *Service) GetWebhooks(ctx context.Context, roomID, userID string) ([]*domain.Webhook, error) {
	s.logger.Info("list webhooks requested",
		slog.String("room_id", roomID),
		slog.String("user_id", userID))

	if err := s.HasPermission(ctx, userID, roomID); err != nil {
		return nil, err
	}
	return s.store.ListWebhooks(ctx, roomID)
}

// DeleteWebhook removes a hook. The bot leaves the room along with the
// room's last hook.
func (s *Service) DeleteWebhook(ctx context.Context, roomID, userID, hookID string) error {
	s.logger.Info("delete webhook requested",
		slog.String("room_id", roomID),
		slog.String("user_id", userID),
		slog.String("hook_id", hookID))

	if err := s.HasPermission(ctx, userID, roomID); err != nil {
		return err
	}

	unlock := s.rooms.Lock(roomID)
	defer unlock()

	hooks, err := s.store.ListWebhooks(ctx, roomID)
	if err != nil {
		return err
	}

	owned := false
	for _, h := range hooks {
		if h.ID == hookID {
			owned = true
			break
		}
	}
	if !owned {
		return domain.ErrPermission
	}

	if len(hooks) == 1 {
		if err := s.bot.LeaveRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("leave %s: %w", roomID, err)
		}
	}

	if err := s.store.DeleteWebhook(ctx, roomID, hookID); err != nil {
		if errors.Is(err, domain.ErrHookNotFound) {
			return domain.ErrPermission
		}
		return err
	}
	return nil
}

// roomHook loads a hook and hides hooks of other rooms behind ErrPermission.
func (s *Service) roomHook(ctx context.Context, roomID, hookID string) (*domain.Webhook, error) {
	hook, err := s.store.GetWebhook(ctx, hookID)
	if errors.Is(err, domain.ErrHookNotFound) {
		return nil, domain.ErrPermission
	}
	if err != nil {
		return nil, err
	}
	if hook.RoomID != roomID {
		return nil, domain.ErrPermission
	}
	return hook, nil
}
