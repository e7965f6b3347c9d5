package matrix

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

// MGuestAccessForbidden is returned when joining a room that is neither
// public nor reachable.
var MGuestAccessForbidden = mautrix.RespError{ErrCode: "M_GUEST_ACCESS_FORBIDDEN"}

type intent struct {
	client    *mautrix.Client
	localpart string
	parent    *Client
}

var _ ports.Intent = (*intent)(nil)

func (in *intent) UserID() id.UserID {
	return in.client.UserID
}

type reqRegister struct {
	Type         string `json:"type"`
	Username     string `json:"username"`
	InhibitLogin bool   `json:"inhibit_login"`
}

// EnsureRegistered registers the user through the appservice registration
// flow. An existing account counts as success.
func (in *intent) EnsureRegistered(ctx context.Context) error {
	// Registration is made as the appservice sender, not as the user.
	as := in.parent.bot.client
	req := &reqRegister{
		Type:         "m.login.application_service",
		Username:     in.localpart,
		InhibitLogin: true,
	}

	_, err := as.MakeRequest(ctx, http.MethodPost, as.BuildClientURL("v3", "register"), req, nil)
	if err != nil && !errors.Is(err, mautrix.MUserInUse) {
		return fmt.Errorf("register %s: %w", in.localpart, err)
	}
	return nil
}

func (in *intent) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := in.client.JoinRoomByID(ctx, roomID)
	if errors.Is(err, MGuestAccessForbidden) {
		return fmt.Errorf("join %s: %w: %w", roomID, domain.ErrGuestAccessForbidden, err)
	}
	if err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	return nil
}

func (in *intent) LeaveRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := in.client.LeaveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("leave %s: %w", roomID, err)
	}
	return nil
}

func (in *intent) SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	resp, err := in.client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if errors.Is(err, mautrix.MForbidden) {
		return "", fmt.Errorf("send to %s: %w: %w", roomID, domain.ErrNotJoined, err)
	}
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", roomID, err)
	}
	return resp.EventID, nil
}

func (in *intent) UploadContent(ctx context.Context, data []byte, contentType, fileName string) (id.ContentURI, error) {
	resp, err := in.client.UploadBytesWithName(ctx, data, contentType, fileName)
	if err != nil {
		return id.ContentURI{}, fmt.Errorf("upload %s: %w", fileName, err)
	}
	return resp.ContentURI, nil
}

func (in *intent) GetDisplayName(ctx context.Context) (string, error) {
	resp, err := in.client.GetOwnDisplayName(ctx)
	if errors.Is(err, mautrix.MNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get display name: %w", err)
	}
	return resp.DisplayName, nil
}

func (in *intent) SetDisplayName(ctx context.Context, name string) error {
	if err := in.client.SetDisplayName(ctx, name); err != nil {
		return fmt.Errorf("set display name: %w", err)
	}
	return nil
}

func (in *intent) SetAvatarURL(ctx context.Context, uri id.ContentURI) error {
	if err := in.client.SetAvatarURL(ctx, uri); err != nil {
		return fmt.Errorf("set avatar: %w", err)
	}
	return nil
}

// botIntent adds the room inspection calls only the bot needs.
type botIntent struct {
	*intent
}

var _ ports.BotIntent = (*botIntent)(nil)

func (b *botIntent) InviteUser(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	_, err := b.client.InviteUser(ctx, roomID, &mautrix.ReqInviteUser{UserID: userID})
	if err != nil {
		return fmt.Errorf("invite %s to %s: %w", userID, roomID, err)
	}
	return nil
}

func (b *botIntent) PowerLevels(ctx context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error) {
	var pl event.PowerLevelsEventContent
	err := b.client.StateEvent(ctx, roomID, event.StatePowerLevels, "", &pl)
	if errors.Is(err, mautrix.MNotFound) {
		return nil, fmt.Errorf("power levels of %s: %w: %w", roomID, domain.ErrStateNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("power levels of %s: %w", roomID, err)
	}
	return &pl, nil
}

func (b *botIntent) JoinedMembers(ctx context.Context, roomID id.RoomID) ([]id.UserID, error) {
	resp, err := b.client.JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("joined members of %s: %w", roomID, err)
	}
	members := make([]id.UserID, 0, len(resp.Joined))
	for userID := range resp.Joined {
		members = append(members, userID)
	}
	return members, nil
}

func (b *botIntent) JoinedRooms(ctx context.Context) ([]id.RoomID, error) {
	resp, err := b.client.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("joined rooms: %w", err)
	}
	return resp.JoinedRooms, nil
}

func (b *botIntent) CreateDirectRoom(ctx context.Context, userID id.UserID) (id.RoomID, error) {
	resp, err := b.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Visibility: "private",
		Preset:     "trusted_private_chat",
		Invite:     []id.UserID{userID},
		IsDirect:   true,
	})
	if err != nil {
		return "", fmt.Errorf("create direct room for %s: %w", userID, err)
	}
	return resp.RoomID, nil
}
