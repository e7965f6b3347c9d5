package bridge

import (
	"context"
	"log/slog"
	"sync/atomic"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// NoticeAdminRoomLost is sent once when an admin room stops being private.
const NoticeAdminRoomLost = "This room is no longer viable as an admin room. Please open a new direct conversation with me to maintain an admin room."

// AdminRoom is a direct room between the bot and one user. It starts
// active and is disabled for good once anybody else joins.
type AdminRoom struct {
	RoomID id.RoomID
	Owner  id.UserID

	bridge  *Bridge
	enabled atomic.Bool
}

func newAdminRoom(b *Bridge, roomID id.RoomID, owner id.UserID) *AdminRoom {
	r := &AdminRoom{RoomID: roomID, Owner: owner, bridge: b}
	r.enabled.Store(true)
	return r
}

// Enabled reports whether the room still accepts commands.
func (r *AdminRoom) Enabled() bool {
	return r.enabled.Load()
}

// HandleEvent processes an event from the room.
func (r *AdminRoom) HandleEvent(ctx context.Context, evt *event.Event) {
	if !r.enabled.Load() {
		return
	}

	switch evt.Type.Type {
	case event.StateMember.Type:
		r.checkMembership(ctx)
	case event.EventMessage.Type:
		if r.bridge.identity.IsBridgeUser(evt.Sender) {
			return
		}
		r.bridge.handleCommand(ctx, evt)
	}
}

func (r *AdminRoom) checkMembership(ctx context.Context) {
	members, err := r.bridge.bot.JoinedMembers(ctx, r.RoomID)
	if err != nil {
		r.bridge.logger.Warn("failed to fetch admin room members",
			slog.String("room_id", r.RoomID.String()),
			slog.String("error", err.Error()))
		return
	}

	// Two is expected, and our own join may not have landed yet.
	if len(members) <= 2 {
		return
	}
	if !r.enabled.CompareAndSwap(true, false) {
		return
	}

	r.bridge.logger.Info("admin room disabled",
		slog.String("room_id", r.RoomID.String()),
		slog.String("owner", r.Owner.String()),
		slog.Int("members", len(members)))

	if _, err := r.bridge.bot.SendMessage(ctx, r.RoomID, &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    NoticeAdminRoomLost,
	}); err != nil {
		r.bridge.logger.Warn("failed to send admin room notice",
			slog.String("room_id", r.RoomID.String()),
			slog.String("error", err.Error()))
	}
	r.bridge.RemoveAdminRoom(r.RoomID)
}
