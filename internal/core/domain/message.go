package domain

import (
	"maunium.net/go/mautrix/event"
)

// Sender is the appearance a webhook message is posted with.
type Sender struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// MatrixPayload accumulates the message the pipeline is building. Layers read
// and mutate it in order; the final Event is sent verbatim.
type MatrixPayload struct {
	Event  event.MessageEventContent `json:"event"`
	Sender Sender                    `json:"sender"`

	// Format tracks whether the body currently holds HTML. It is independent
	// of Event.Format, which is only set once the body has been finalized.
	Format string `json:"-"`
}

// NewMatrixPayload returns an empty text message.
func NewMatrixPayload() *MatrixPayload {
	return &MatrixPayload{
		Event: event.MessageEventContent{MsgType: event.MsgText},
	}
}

// IsHTML reports whether the accumulated body is HTML.
func (m *MatrixPayload) IsHTML() bool {
	return m.Format == FormatHTML
}
