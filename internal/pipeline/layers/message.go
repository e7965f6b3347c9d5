package layers

import (
	"context"
	"regexp"
	"strings"

	"github.com/slack-go/slack"
	"maunium.net/go/mautrix/event"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

// FromWebhook copies the payload text into the body and records its format.
func FromWebhook() *Layer {
	return New(NameFromWebhook, ports.StagePre, func(_ context.Context, p *domain.WebhookPayload, msg *domain.MatrixPayload) error {
		msg.Event.Body = p.Text
		if p.Format == domain.FormatHTML {
			msg.Format = domain.FormatHTML
		} else {
			msg.Format = domain.FormatPlain
		}
		return nil
	})
}

var attachmentColors = map[string]string{
	"danger":  "#d9534f",
	"warning": "#f0ad4e",
	"good":    "#5cb85c",
}

const defaultAttachmentColor = "#f7f7f7"

// SlackAttachments renders each attachment as a colored blockquote appended
// to the body. The message becomes HTML.
func SlackAttachments() *Layer {
	return New(NameSlackAttachments, ports.StagePre, func(_ context.Context, p *domain.WebhookPayload, msg *domain.MatrixPayload) error {
		if len(p.Attachments) == 0 {
			return nil
		}

		var b strings.Builder
		b.WriteString(msg.Event.Body)
		for _, a := range p.Attachments {
			renderAttachment(&b, a)
		}

		msg.Event.Body = b.String()
		msg.Format = domain.FormatHTML
		return nil
	})
}

func attachmentColor(color string) string {
	if c, ok := attachmentColors[color]; ok {
		return c
	}
	if color != "" {
		return color
	}
	return defaultAttachmentColor
}

func renderAttachment(b *strings.Builder, a slack.Attachment) {
	if a.Pretext != "" {
		b.WriteString(a.Pretext)
		b.WriteString("<br/>")
	}

	b.WriteString("<blockquote data-mx-border-color='")
	b.WriteString(attachmentColor(a.Color))
	b.WriteString("'>")

	if a.AuthorName != "" {
		b.WriteString("<small>")
		if a.AuthorIcon != "" {
			b.WriteString("<img src='" + a.AuthorIcon + "' height='16' width='16' />")
		}
		if a.AuthorLink != "" {
			b.WriteString("<a href='" + a.AuthorLink + "'>" + a.AuthorName + "</a>")
		} else {
			b.WriteString(a.AuthorName)
		}
		b.WriteString("</small><br/>")
	}

	if a.Title != "" {
		b.WriteString("<h4>")
		if a.TitleLink != "" {
			b.WriteString("<a href='" + a.TitleLink + "'>" + a.Title + "</a>")
		} else {
			b.WriteString(a.Title)
		}
		b.WriteString("</h4>")
	}

	if a.Text != "" {
		b.WriteString(a.Text)
		b.WriteString("<br/>")
	}

	for _, f := range a.Fields {
		b.WriteString("<b>" + f.Title + "</b><br/>" + f.Value + "<br/>")
	}

	image := a.ImageURL
	if image == "" {
		image = a.ThumbURL
	}
	if image != "" {
		b.WriteString("<img src='" + image + "'><br/>")
	}

	if a.Footer != "" {
		b.WriteString("<small>")
		if a.FooterIcon != "" {
			b.WriteString("<img src='" + a.FooterIcon + "' height='16' width='16'>")
		}
		b.WriteString(a.Footer)
		b.WriteString("</small><br/>")
	}

	b.WriteString("</blockquote>")
}

// Emoji expands :shortcode: sequences in the body unless the payload opts out.
func Emoji() *Layer {
	return New(NameEmoji, ports.StagePre, func(_ context.Context, p *domain.WebhookPayload, msg *domain.MatrixPayload) error {
		if p.EmojiEnabled() {
			msg.Event.Body = Emojify(msg.Event.Body)
		}
		return nil
	})
}

// Slack link markup, see https://api.slack.com/reference/surfaces/formatting#linking-urls
var (
	linkWithLabel   = regexp.MustCompile(`<([a-zA-Z]+)://([^|>]+?)\|([^|>]+?)>`)
	linkBare        = regexp.MustCompile(`<([a-zA-Z]+)://([^|>]+?)>`)
	mailtoWithLabel = regexp.MustCompile(`<mailto:([^|>]+?)\|([^|>]+?)>`)
	mailtoBare      = regexp.MustCompile(`<mailto:([^|>]+?)>`)
)

var linkRewrites = []struct {
	re   *regexp.Regexp
	repl string
}{
	{linkWithLabel, "<a href='$1://$2'>$3</a>"},
	{linkBare, "<a href='$1://$2'>$1://$2</a>"},
	{mailtoWithLabel, "<a href='mailto:$1'>$2</a>"},
	{mailtoBare, "<a href='mailto:$1'>mailto:$1</a>"},
}

// SlackLinks turns Slack <url|label> markup into anchors. Any rewrite makes
// the message HTML.
func SlackLinks() *Layer {
	return New(NameSlackLinks, ports.StagePre, func(_ context.Context, _ *domain.WebhookPayload, msg *domain.MatrixPayload) error {
		body := msg.Event.Body
		changed := false
		for _, rw := range linkRewrites {
			if rw.re.MatchString(body) {
				body = rw.re.ReplaceAllString(body, rw.repl)
				changed = true
			}
		}
		if changed {
			msg.Event.Body = body
			msg.Format = domain.FormatHTML
		}
		return nil
	})
}

// Newlines converts line breaks to <br> in HTML messages.
func Newlines() *Layer {
	return New(NameNewlines, ports.StagePre, func(_ context.Context, _ *domain.WebhookPayload, msg *domain.MatrixPayload) error {
		if msg.IsHTML() {
			msg.Event.Body = strings.ReplaceAll(msg.Event.Body, "\n", "<br>")
		}
		return nil
	})
}

// HTML finalizes an HTML message: the body moves to the formatted body and
// the plain body becomes its text content.
func HTML() *Layer {
	return New(NameHTML, ports.StagePre, func(_ context.Context, _ *domain.WebhookPayload, msg *domain.MatrixPayload) error {
		if !msg.IsHTML() {
			return nil
		}
		msg.Event.Format = event.FormatHTML
		msg.Event.FormattedBody = msg.Event.Body
		msg.Event.Body = StripTags(msg.Event.FormattedBody)
		return nil
	})
}

var blankLines = regexp.MustCompile(`\n[ \t]*(?:\n[ \t]*)+`)

// SlackFallback uses the attachment fallback texts as the plain body when
// every attachment carries one.
func SlackFallback() *Layer {
	return New(NameSlackFallback, ports.StagePre, func(_ context.Context, p *domain.WebhookPayload, msg *domain.MatrixPayload) error {
		if len(p.Attachments) == 0 {
			return nil
		}

		parts := make([]string, 0, len(p.Attachments))
		for _, a := range p.Attachments {
			if a.Fallback == "" {
				return nil
			}
			parts = append(parts, strings.TrimSpace(a.Fallback))
		}

		text := blankLines.ReplaceAllString(strings.Join(parts, "\n"), "\n")
		msg.Event.Body = strings.TrimSpace(text)
		return nil
	})
}

// HTMLFallback fills an empty plain body from the formatted body.
func HTMLFallback() *Layer {
	return New(NameHTMLFallback, ports.StagePre, func(_ context.Context, _ *domain.WebhookPayload, msg *domain.MatrixPayload) error {
		if strings.TrimSpace(msg.Event.Body) == "" && msg.Event.FormattedBody != "" {
			msg.Event.Body = strings.TrimSpace(StripTags(msg.Event.FormattedBody))
		}
		return nil
	})
}

// MsgType applies the payload msgtype when it is one Matrix clients render
// as text.
func MsgType() *Layer {
	return New(NameMsgType, ports.StagePre, func(_ context.Context, p *domain.WebhookPayload, msg *domain.MatrixPayload) error {
		switch mt := event.MessageType(p.MsgType); mt {
		case event.MsgText, event.MsgNotice, event.MsgEmote:
			msg.Event.MsgType = mt
		}
		return nil
	})
}
