package ports

import (
	"context"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ContentUploader uploads media to the homeserver's content repository.
type ContentUploader interface {
	UploadContent(ctx context.Context, data []byte, contentType, fileName string) (id.ContentURI, error)
}

// Intent acts on the homeserver as one bridge-controlled user.
type Intent interface {
	ContentUploader

	UserID() id.UserID

	// EnsureRegistered creates the account if the homeserver does not know it yet.
	EnsureRegistered(ctx context.Context) error

	JoinRoom(ctx context.Context, roomID id.RoomID) error
	LeaveRoom(ctx context.Context, roomID id.RoomID) error

	// SendMessage posts a message. It returns an error wrapping
	// domain.ErrNotJoined when the user is not in the room.
	SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error)

	GetDisplayName(ctx context.Context) (string, error)
	SetDisplayName(ctx context.Context, name string) error
	SetAvatarURL(ctx context.Context, uri id.ContentURI) error
}

// BotIntent is the bridge's primary identity. It can also inspect rooms.
type BotIntent interface {
	Intent

	InviteUser(ctx context.Context, roomID id.RoomID, userID id.UserID) error

	// PowerLevels returns the room's power levels or an error wrapping
	// domain.ErrStateNotFound when the room has none.
	PowerLevels(ctx context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error)

	JoinedMembers(ctx context.Context, roomID id.RoomID) ([]id.UserID, error)
	JoinedRooms(ctx context.Context) ([]id.RoomID, error)

	// CreateDirectRoom creates a private direct room and invites the user.
	CreateDirectRoom(ctx context.Context, userID id.UserID) (id.RoomID, error)
}

// IntentProvider hands out intents for the bot and for virtual users.
type IntentProvider interface {
	Bot() BotIntent
	Intent(localpart string) (Intent, error)

	// IsBridgeUser reports whether the user ID belongs to the bot or one of
	// its virtual users.
	IsBridgeUser(userID id.UserID) bool
}

// MediaUploader re-hosts remote media into the content repository.
type MediaUploader interface {
	// Upload fetches the URL (http(s) or data:) and uploads it through the
	// given uploader.
	Upload(ctx context.Context, uploader ContentUploader, url string) (id.ContentURI, error)
}
