// Package bridge owns the bot's view of Matrix: which rooms are admin rooms,
// how incoming events are routed, and the bot's own profile.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/identity"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/provisioning"
)

// Bot appearance defaults.
const (
	DefaultBotDisplayName = "Webhook Bridge"
	DefaultBotAvatarURL   = "http://i.imgur.com/IDOBtEJ.png"
)

const (
	defaultInviteRetryDelay = 15 * time.Second
	classifyConcurrency     = 8
)

// Appearance is the bot's desired profile.
type Appearance struct {
	DisplayName string
	AvatarURL   string
}

func (a Appearance) withDefaults() Appearance {
	if a.DisplayName == "" {
		a.DisplayName = DefaultBotDisplayName
	}
	if a.AvatarURL == "" {
		a.AvatarURL = DefaultBotAvatarURL
	}
	return a
}

// Config configures a Bridge.
type Config struct {
	Identity     *identity.Manager
	Store        ports.WebhookStore
	Provisioning *provisioning.Service
	HookURL      provisioning.HookURLFunc
	Appearance   Appearance

	// InviteRetryDelay is how long to wait before retrying a failed join
	// after an invite. Zero uses the default, negative disables the retry.
	InviteRetryDelay time.Duration

	Logger *slog.Logger
}

// Bridge routes Matrix events and keeps the admin room registry.
type Bridge struct {
	identity    *identity.Manager
	bot         ports.BotIntent
	store       ports.WebhookStore
	provisioner *provisioning.InteractiveProvisioner
	appearance  atomic.Pointer[Appearance]
	retryDelay  time.Duration
	logger      *slog.Logger

	mu         sync.RWMutex
	adminRooms map[id.RoomID]*AdminRoom

	// createMu serializes admin room creation so one user gets one room.
	createMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a bridge.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.InviteRetryDelay
	if retry == 0 {
		retry = defaultInviteRetryDelay
	}

	b := &Bridge{
		identity:   cfg.Identity,
		bot:        cfg.Identity.Bot(),
		store:      cfg.Store,
		retryDelay: retry,
		logger:     logger,
		adminRooms: make(map[id.RoomID]*AdminRoom),
	}
	appearance := cfg.Appearance.withDefaults()
	b.appearance.Store(&appearance)
	b.provisioner = provisioning.NewInteractiveProvisioner(cfg.Provisioning, b.bot, b, cfg.HookURL, logger)
	return b
}

// Start brings the bot profile up to date and classifies every room the
// bot is already in.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.UpdateBotProfile(ctx); err != nil {
		b.logger.Warn("failed to update bot profile", slog.String("error", err.Error()))
	}
	return b.bridgeKnownRooms(ctx)
}

// Wait blocks until background work such as join retries has finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// SetAppearance changes the bot's desired profile and applies it.
func (b *Bridge) SetAppearance(ctx context.Context, a Appearance) error {
	a = a.withDefaults()
	b.appearance.Store(&a)
	return b.UpdateBotProfile(ctx)
}

// UpdateBotProfile applies the desired display name and avatar to the bot.
func (b *Bridge) UpdateBotProfile(ctx context.Context) error {
	a := b.appearance.Load()
	b.logger.Info("updating bot profile",
		slog.String("display_name", a.DisplayName),
		slog.String("avatar_url", a.AvatarURL))
	return b.identity.UpdateProfile(ctx, b.bot, a.DisplayName, a.AvatarURL)
}

func (b *Bridge) bridgeKnownRooms(ctx context.Context) error {
	rooms, err := b.bot.JoinedRooms(ctx)
	if err != nil {
		return fmt.Errorf("list joined rooms: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(classifyConcurrency)
	for _, roomID := range rooms {
		g.Go(func() error {
			if err := b.processRoom(ctx, roomID); err != nil {
				b.logger.Warn("failed to classify room",
					slog.String("room_id", roomID.String()),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	return g.Wait()
}

// processRoom registers the room as an admin room when the bot shares it
// with exactly one other user.
func (b *Bridge) processRoom(ctx context.Context, roomID id.RoomID) error {
	members, err := b.bot.JoinedMembers(ctx, roomID)
	if err != nil {
		return err
	}
	if len(members) != 2 {
		return nil
	}

	owner := members[0]
	if owner == b.bot.UserID() {
		owner = members[1]
	}
	b.addAdminRoom(roomID, owner)
	return nil
}

func (b *Bridge) addAdminRoom(roomID id.RoomID, owner id.UserID) *AdminRoom {
	room := newAdminRoom(b, roomID, owner)

	b.mu.Lock()
	b.adminRooms[roomID] = room
	b.mu.Unlock()

	b.logger.Info("admin room registered",
		slog.String("room_id", roomID.String()),
		slog.String("owner", owner.String()))
	return room
}

// AdminRoom returns the registered admin room, if any.
func (b *Bridge) AdminRoom(roomID id.RoomID) (*AdminRoom, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	room, ok := b.adminRooms[roomID]
	return room, ok
}

// RemoveAdminRoom forgets an admin room. The bot stays in the room.
func (b *Bridge) RemoveAdminRoom(roomID id.RoomID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.adminRooms, roomID)
}

func (b *Bridge) adminRoomFor(owner id.UserID) (id.RoomID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for roomID, room := range b.adminRooms {
		if room.Owner == owner && room.Enabled() {
			return roomID, true
		}
	}
	return "", false
}

// GetOrCreateAdminRoom returns the user's admin room, creating a private
// direct room first if the user has none.
func (b *Bridge) GetOrCreateAdminRoom(ctx context.Context, userID id.UserID) (id.RoomID, error) {
	b.createMu.Lock()
	defer b.createMu.Unlock()

	if roomID, ok := b.adminRoomFor(userID); ok {
		return roomID, nil
	}

	roomID, err := b.bot.CreateDirectRoom(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("create admin room for %s: %w", userID, err)
	}

	// Registered right away so the membership events of the new room
	// find it as an admin room.
	b.addAdminRoom(roomID, userID)
	return roomID, nil
}

// HandleEvent routes one Matrix event from an appservice transaction.
func (b *Bridge) HandleEvent(ctx context.Context, evt *event.Event) {
	if err := parseContent(evt); err != nil {
		b.logger.Debug("ignoring event",
			slog.String("event_id", evt.ID.String()),
			slog.String("type", evt.Type.Type),
			slog.String("error", err.Error()))
		return
	}

	if room, ok := b.AdminRoom(evt.RoomID); ok {
		room.HandleEvent(ctx, evt)
		if evt.Type.Type == event.EventMessage.Type {
			return
		}
	}

	switch evt.Type.Type {
	case event.StateMember.Type:
		b.handleMembership(ctx, evt)
	case event.EventMessage.Type:
		if b.identity.IsBridgeUser(evt.Sender) {
			return
		}
		b.handleCommand(ctx, evt)
	}
}

func parseContent(evt *event.Event) error {
	var typ event.Type
	switch evt.Type.Type {
	case event.StateMember.Type:
		typ = event.StateMember
	case event.EventMessage.Type:
		typ = event.EventMessage
	default:
		return nil
	}
	if evt.Content.Parsed != nil {
		return nil
	}
	return evt.Content.ParseRaw(typ)
}

func (b *Bridge) handleMembership(ctx context.Context, evt *event.Event) {
	if evt.StateKey == nil || id.UserID(*evt.StateKey) != b.bot.UserID() {
		return
	}

	switch evt.Content.AsMember().Membership {
	case event.MembershipInvite:
		b.logger.Info("invited to room",
			slog.String("room_id", evt.RoomID.String()),
			slog.String("sender", evt.Sender.String()))
		if err := b.joinInvited(ctx, evt.RoomID); err != nil {
			b.logger.Warn("failed to join room after invite",
				slog.String("room_id", evt.RoomID.String()),
				slog.String("error", err.Error()))
			b.retryJoin(ctx, evt.RoomID)
		}
	case event.MembershipLeave, event.MembershipBan:
		b.RemoveAdminRoom(evt.RoomID)
		n, err := b.store.DeleteWebhooksForRoom(ctx, evt.RoomID.String())
		if err != nil {
			b.logger.Error("failed to delete webhooks of left room",
				slog.String("room_id", evt.RoomID.String()),
				slog.String("error", err.Error()))
			return
		}
		b.logger.Info("removed from room",
			slog.String("room_id", evt.RoomID.String()),
			slog.Int64("webhooks_deleted", n))
	}
}

func (b *Bridge) joinInvited(ctx context.Context, roomID id.RoomID) error {
	if err := b.bot.JoinRoom(ctx, roomID); err != nil {
		return err
	}
	return b.processRoom(ctx, roomID)
}

func (b *Bridge) retryJoin(ctx context.Context, roomID id.RoomID) {
	if b.retryDelay < 0 {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.retryDelay):
		}
		if err := b.joinInvited(ctx, roomID); err != nil {
			b.logger.Error("giving up joining room",
				slog.String("room_id", roomID.String()),
				slog.String("error", err.Error()))
		}
	}()
}
