package layers

import (
	"context"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

// Resolver proposes a value from the payload. The first resolver that
// reports ok wins.
type Resolver func(p *domain.WebhookPayload) (string, bool)

func firstMatch(p *domain.WebhookPayload, resolvers []Resolver) (string, bool) {
	for _, r := range resolvers {
		if v, ok := r(p); ok {
			return v, true
		}
	}
	return "", false
}

func nonEmpty(s string) (string, bool) {
	return s, s != ""
}

// Avatar sets the sender avatar from the first matching resolver.
func Avatar(resolvers ...Resolver) *Layer {
	return New(NameAvatar, ports.StagePre, func(_ context.Context, p *domain.WebhookPayload, msg *domain.MatrixPayload) error {
		if v, ok := firstMatch(p, resolvers); ok {
			msg.Sender.AvatarURL = v
		}
		return nil
	})
}

// DisplayName sets the sender name from the first matching resolver and
// expands emoji shortcodes in it.
func DisplayName(resolvers ...Resolver) *Layer {
	return New(NameDisplayName, ports.StagePre, func(_ context.Context, p *domain.WebhookPayload, msg *domain.MatrixPayload) error {
		v, ok := firstMatch(p, resolvers)
		if !ok {
			return nil
		}
		if p.EmojiEnabled() {
			v = Emojify(v)
		}
		msg.Sender.DisplayName = v
		return nil
	})
}

// FromPayloadAvatar reads avatarUrl, then avatar_url.
func FromPayloadAvatar(p *domain.WebhookPayload) (string, bool) {
	if p.AvatarURL != "" {
		return p.AvatarURL, true
	}
	return nonEmpty(p.AvatarURLLegacy)
}

// FromIconURL reads the Slack icon_url field.
func FromIconURL(p *domain.WebhookPayload) (string, bool) {
	return nonEmpty(p.IconURL)
}

// FromIconEmoji maps the Slack icon_emoji shortcode to an image under baseURL.
func FromIconEmoji(baseURL string) Resolver {
	return func(p *domain.WebhookPayload) (string, bool) {
		if p.IconEmoji == "" || baseURL == "" {
			return "", false
		}
		return EmojiImageURL(baseURL, p.IconEmoji)
	}
}

// DefaultAvatar falls back to the configured avatar.
func DefaultAvatar(defaults func() domain.Sender) Resolver {
	return func(*domain.WebhookPayload) (string, bool) {
		return nonEmpty(defaults().AvatarURL)
	}
}

// FromPayloadDisplayName reads displayName.
func FromPayloadDisplayName(p *domain.WebhookPayload) (string, bool) {
	return nonEmpty(p.DisplayName)
}

// FromUsername reads the Slack username field.
func FromUsername(p *domain.WebhookPayload) (string, bool) {
	return nonEmpty(p.Username)
}

// DefaultDisplayName falls back to the configured display name.
func DefaultDisplayName(defaults func() domain.Sender) Resolver {
	return func(*domain.WebhookPayload) (string, bool) {
		return nonEmpty(defaults().DisplayName)
	}
}
