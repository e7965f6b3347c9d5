package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/slack-go/slack"
)

// HookIDLength is the number of characters in a generated hook ID.
const HookIDLength = 64

// Webhook is a provisioned endpoint that posts into one room.
type Webhook struct {
	ID        string    `json:"id" db:"id"`
	RoomID    string    `json:"roomId" db:"room_id"`
	UserID    string    `json:"userId" db:"user_id"`
	Label     string    `json:"label,omitempty" db:"label"`
	CreatedAt time.Time `json:"-" db:"created_at"`
}

// AccountData is one cached key/value pair for a Matrix identity.
type AccountData struct {
	ObjectID string `db:"object_id"`
	Key      string `db:"key"`
	Value    string `db:"value"`
}

// Account data keys.
const (
	AccountDataAvatarURL = "avatarUrl"
)

// WebhookEvent is the unit of work handed from the HTTP endpoint to the
// dispatch queue. The payload stays raw so queues can carry it unchanged.
type WebhookEvent struct {
	HookID     string          `json:"hook_id"`
	Hook       *Webhook        `json:"hook"`
	Payload    json.RawMessage `json:"payload"`
	RequestID  string          `json:"request_id,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Payload formats understood by the message layers.
const (
	FormatPlain = "plain"
	FormatHTML  = "html"
)

// WebhookPayload is a Slack-compatible incoming webhook body with the
// extensions this bridge accepts.
type WebhookPayload struct {
	slack.WebhookMessage

	DisplayName     string `json:"displayName,omitempty"`
	AvatarURL       string `json:"avatarUrl,omitempty"`
	AvatarURLLegacy string `json:"avatar_url,omitempty"`
	Format          string `json:"format,omitempty"`
	MsgType         string `json:"msgtype,omitempty"`

	// Emoji disables shortcode expansion only when explicitly false.
	Emoji *bool `json:"emoji,omitempty"`
}

// ParseWebhookPayload decodes a raw webhook body.
func ParseWebhookPayload(raw []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	return &p, nil
}

// HasContent reports whether the payload carries text or at least one attachment.
func (p *WebhookPayload) HasContent() bool {
	return p.Text != "" || len(p.Attachments) > 0
}

// EmojiEnabled reports whether shortcode expansion should run.
func (p *WebhookPayload) EmojiEnabled() bool {
	return p.Emoji == nil || *p.Emoji
}
