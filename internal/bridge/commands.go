package bridge

import (
	"context"
	"log/slog"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const commandPrefix = "!webhook"

// HelpText lists the chat commands.
const HelpText = `Available commands:
!webhook [roomId] - create a webhook for this room or the given room
!webhook list [roomId] - list the webhooks of this room or the given room
!webhook delete <hookId> [roomId] - delete a webhook
!webhook help - show this message`

// Command is a parsed chat command.
type Command struct {
	Name   string
	RoomID id.RoomID
	HookID string
}

// Command names.
const (
	CommandCreate = "create"
	CommandList   = "list"
	CommandDelete = "delete"
	CommandHelp   = "help"
)

// ParseCommand parses a message body typed in inRoomID. It returns false
// for anything that is not a webhook command.
func ParseCommand(body string, inRoomID id.RoomID) (Command, bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 || fields[0] != commandPrefix {
		return Command{}, false
	}
	args := fields[1:]
	cmd := Command{Name: CommandCreate, RoomID: inRoomID}

	if len(args) > 0 && !isRoomID(args[0]) {
		cmd.Name = args[0]
		args = args[1:]
	}

	switch cmd.Name {
	case CommandCreate, CommandList:
	case CommandDelete:
		if len(args) == 0 {
			return Command{Name: CommandHelp}, true
		}
		cmd.HookID = args[0]
		args = args[1:]
	default:
		return Command{Name: CommandHelp}, true
	}

	if len(args) > 0 {
		cmd.RoomID = id.RoomID(args[0])
	}
	return cmd, true
}

func isRoomID(s string) bool {
	return strings.HasPrefix(s, "!")
}

func (b *Bridge) handleCommand(ctx context.Context, evt *event.Event) {
	msg := evt.Content.AsMessage()
	cmd, ok := ParseCommand(msg.Body, evt.RoomID)
	if !ok {
		return
	}

	b.logger.Info("webhook command",
		slog.String("command", cmd.Name),
		slog.String("sender", evt.Sender.String()),
		slog.String("room_id", cmd.RoomID.String()),
		slog.String("in_room_id", evt.RoomID.String()))

	var err error
	switch cmd.Name {
	case CommandCreate:
		err = b.provisioner.CreateWebhook(ctx, evt.Sender, cmd.RoomID, evt.RoomID)
	case CommandList:
		err = b.provisioner.ListWebhooks(ctx, evt.Sender, cmd.RoomID, evt.RoomID)
	case CommandDelete:
		err = b.provisioner.DeleteWebhook(ctx, evt.Sender, cmd.RoomID, evt.RoomID, cmd.HookID)
	case CommandHelp:
		_, err = b.bot.SendMessage(ctx, evt.RoomID, &event.MessageEventContent{
			MsgType: event.MsgNotice,
			Body:    HelpText,
		})
	}
	if err != nil {
		b.logger.Error("webhook command failed",
			slog.String("command", cmd.Name),
			slog.String("sender", evt.Sender.String()),
			slog.String("error", err.Error()))
	}
}
