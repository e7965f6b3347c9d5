// Package layers holds the message layers that build a Matrix message from
// a Slack-compatible webhook payload.
//
// Each layer is a ports.Stage that is a no-op unless its trigger is present
// in the payload. Default returns them in the order they must run.
package layers

import (
	"context"
	"log/slog"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

// Stage names.
const (
	NameAvatar           = "avatar"
	NameDisplayName      = "display_name"
	NameFromWebhook      = "message.from_webhook"
	NameSlackAttachments = "message.slack_attachments"
	NameEmoji            = "message.emoji"
	NameSlackLinks       = "message.slack_links"
	NameNewlines         = "message.newlines"
	NameHTML             = "message.html"
	NameSlackFallback    = "message.slack_fallback"
	NameHTMLFallback     = "message.html_fallback"
	NameMsgType          = "msgtype"
	NameUploadImages     = "postprocess.upload_images"
)

// Options configures the default layer set.
type Options struct {
	// Defaults returns the appearance used when the payload names none.
	// It is read on every message so configuration reloads apply.
	Defaults func() domain.Sender

	// EmojiImageBaseURL is where icon_emoji images are served from.
	EmojiImageBaseURL string

	// Media re-hosts images and Uploader is the identity that owns them.
	// Image re-hosting is skipped when either is nil.
	Media    ports.MediaUploader
	Uploader ports.ContentUploader

	// UploadConcurrency bounds parallel image uploads within one message.
	UploadConcurrency int

	Logger *slog.Logger
}

// Default returns the full layer list in execution order.
func Default(opts Options) []ports.Stage {
	defaults := opts.Defaults
	if defaults == nil {
		defaults = func() domain.Sender { return domain.Sender{} }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stages := []ports.Stage{
		Avatar(
			FromPayloadAvatar,
			FromIconURL,
			FromIconEmoji(opts.EmojiImageBaseURL),
			DefaultAvatar(defaults),
		),
		DisplayName(
			FromPayloadDisplayName,
			FromUsername,
			DefaultDisplayName(defaults),
		),
		FromWebhook(),
		SlackAttachments(),
		Emoji(),
		SlackLinks(),
		Newlines(),
		HTML(),
		SlackFallback(),
		HTMLFallback(),
		MsgType(),
	}

	if opts.Media != nil && opts.Uploader != nil {
		stages = append(stages, UploadImages(opts.Media, opts.Uploader, opts.UploadConcurrency, logger))
	}

	return stages
}

// ApplyFunc mutates the message accumulator for one layer.
type ApplyFunc func(ctx context.Context, payload *domain.WebhookPayload, msg *domain.MatrixPayload) error

// Layer adapts an ApplyFunc to ports.Stage. Layers always allow; they only
// edit the accumulator in place.
type Layer struct {
	name      string
	stageType ports.StageType
	apply     ApplyFunc
}

// New creates a layer.
func New(name string, stageType ports.StageType, apply ApplyFunc) *Layer {
	return &Layer{name: name, stageType: stageType, apply: apply}
}

func (l *Layer) Name() string          { return l.name }
func (l *Layer) Type() ports.StageType { return l.stageType }

func (l *Layer) Process(ctx context.Context, in *ports.StageInput) (*ports.StageOutput, error) {
	if err := l.apply(ctx, in.Payload, in.Message); err != nil {
		return nil, err
	}
	return &ports.StageOutput{Action: ports.ActionAllow}, nil
}

var _ ports.Stage = (*Layer)(nil)
