package provisioning

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pipeline/layers"
)

// Notices sent back to the requesting user.
const (
	NoticePrivateMessage = "I've sent you a private message with your hook information"
	NoticeGuestForbidden = "Room is not public or not found"
	NoticeCommandError   = "There was an error processing your command."
	NoticeNoHooks        = "There are no webhooks in this room."
)

const exampleHookPayload = `{
    "text": "Hello world!",
    "format": "plain",
    "displayName": "My Cool Webhook",
    "avatarUrl": "http://i.imgur.com/IDOBtEJ.png"
}`

// AdminRooms finds or creates the direct room the bot uses to talk to a user.
type AdminRooms interface {
	GetOrCreateAdminRoom(ctx context.Context, userID id.UserID) (id.RoomID, error)
}

// HookURLFunc renders the public URL of a hook.
type HookURLFunc func(hookID string) string

// InteractiveProvisioner runs provisioning requests typed in chat and
// answers with notices.
type InteractiveProvisioner struct {
	service *Service
	bot     ports.BotIntent
	admin   AdminRooms
	hookURL HookURLFunc
	logger  *slog.Logger
}

// NewInteractiveProvisioner creates a chat front end for the service.
func NewInteractiveProvisioner(service *Service, bot ports.BotIntent, admin AdminRooms, hookURL HookURLFunc, logger *slog.Logger) *InteractiveProvisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &InteractiveProvisioner{
		service: service,
		bot:     bot,
		admin:   admin,
		hookURL: hookURL,
		logger:  logger,
	}
}

// CreateWebhook creates a hook for roomID and sends its URL to the user's
// admin room. inRoomID is where the request was typed.
func (p *InteractiveProvisioner) CreateWebhook(ctx context.Context, userID id.UserID, roomID, inRoomID id.RoomID) error {
	hook, err := p.service.CreateWebhook(ctx, roomID.String(), userID.String(), "")
	if err != nil {
		return p.fail(ctx, err, "create", roomID, inRoomID)
	}

	adminRoom, err := p.admin.GetOrCreateAdminRoom(ctx, userID)
	if err != nil {
		return p.fail(ctx, err, "create", roomID, inRoomID)
	}

	url := html.EscapeString(p.hookURL(hook.ID))
	message := "Here's your webhook url for " + html.EscapeString(roomID.String()) +
		": <a href=\"" + url + "\">" + url + "</a><br>" +
		"To send a message, POST the following JSON to that URL:" +
		"<pre><code>" + html.EscapeString(exampleHookPayload) + "</code></pre>"

	if err := p.sendHTML(ctx, adminRoom, message); err != nil {
		return p.fail(ctx, err, "create", roomID, inRoomID)
	}

	if adminRoom != inRoomID {
		return p.notice(ctx, inRoomID, NoticePrivateMessage)
	}
	return nil
}

// ListWebhooks answers with the hooks of roomID.
func (p *InteractiveProvisioner) ListWebhooks(ctx context.Context, userID id.UserID, roomID, inRoomID id.RoomID) error {
	hooks, err := p.service.GetWebhooks(ctx, roomID.String(), userID.String())
	if err != nil {
		return p.fail(ctx, err, "manage", roomID, inRoomID)
	}
	if len(hooks) == 0 {
		return p.notice(ctx, inRoomID, NoticeNoHooks)
	}

	var b strings.Builder
	b.WriteString("Webhooks for " + html.EscapeString(roomID.String()) + ":<ul>")
	for _, h := range hooks {
		b.WriteString("<li><code>" + html.EscapeString(h.ID) + "</code>")
		if h.Label != "" {
			b.WriteString(" " + html.EscapeString(h.Label))
		}
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return p.sendHTML(ctx, inRoomID, b.String())
}

// DeleteWebhook removes a hook of roomID.
func (p *InteractiveProvisioner) DeleteWebhook(ctx context.Context, userID id.UserID, roomID, inRoomID id.RoomID, hookID string) error {
	if err := p.service.DeleteWebhook(ctx, roomID.String(), userID.String(), hookID); err != nil {
		return p.fail(ctx, err, "manage", roomID, inRoomID)
	}
	return p.notice(ctx, inRoomID, "Webhook "+hookID+" deleted.")
}

// fail reports err to the user in inRoomID. Permission errors are expected
// and only the unexpected ones are returned.
func (p *InteractiveProvisioner) fail(ctx context.Context, err error, verb string, roomID, inRoomID id.RoomID) error {
	if errors.Is(err, domain.ErrPermission) {
		target := roomID.String()
		if roomID == inRoomID {
			target = "this room"
		}
		return p.notice(ctx, inRoomID, fmt.Sprintf("Sorry, you don't have permission to %s webhooks for %s", verb, target))
	}

	p.logger.Error("provisioning command failed",
		slog.String("room_id", roomID.String()),
		slog.String("in_room_id", inRoomID.String()),
		slog.String("error", err.Error()))

	msg := NoticeCommandError
	if errors.Is(err, domain.ErrGuestAccessForbidden) {
		msg = NoticeGuestForbidden
	}
	if nerr := p.notice(ctx, inRoomID, msg); nerr != nil {
		return errors.Join(err, nerr)
	}
	return err
}

func (p *InteractiveProvisioner) notice(ctx context.Context, roomID id.RoomID, body string) error {
	_, err := p.bot.SendMessage(ctx, roomID, &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    body,
	})
	return err
}

func (p *InteractiveProvisioner) sendHTML(ctx context.Context, roomID id.RoomID, message string) error {
	_, err := p.bot.SendMessage(ctx, roomID, &event.MessageEventContent{
		MsgType:       event.MsgNotice,
		Body:          layers.StripTags(message),
		Format:        event.FormatHTML,
		FormattedBody: message,
	})
	return err
}
