// Package identity manages the virtual Matrix users that webhook messages
// are posted as.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/keylock"
)

// DefaultUserPrefix namespaces virtual users.
const DefaultUserPrefix = "_webhook_"

const defaultRegistrationCacheSize = 4096

// ResolveHandle derives the stable virtual user handle for a sender name in
// a room. Every rune that is not an ASCII letter or digit becomes '_', so
// different names can collide; they then share one identity.
func ResolveHandle(roomID id.RoomID, displayName string) string {
	src := string(roomID) + "_" + displayName
	var b strings.Builder
	b.Grow(len(src))
	for _, r := range src {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Config configures a Manager.
type Config struct {
	UserPrefix string
	CacheSize  int
	Logger     *slog.Logger
}

// Manager hands out registered virtual user intents and keeps their
// profiles in line with the webhook sender.
type Manager struct {
	provider   ports.IntentProvider
	store      ports.AccountDataStore
	media      ports.MediaUploader
	prefix     string
	registered *lru.Cache[string, struct{}]
	profiles   keylock.Locker
	logger     *slog.Logger
}

// NewManager creates a manager.
func NewManager(provider ports.IntentProvider, store ports.AccountDataStore, media ports.MediaUploader, cfg Config) (*Manager, error) {
	if cfg.UserPrefix == "" {
		cfg.UserPrefix = DefaultUserPrefix
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultRegistrationCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache, err := lru.New[string, struct{}](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create registration cache: %w", err)
	}

	return &Manager{
		provider:   provider,
		store:      store,
		media:      media,
		prefix:     cfg.UserPrefix,
		registered: cache,
		logger:     cfg.Logger,
	}, nil
}

// Bot returns the bridge bot's intent.
func (m *Manager) Bot() ports.BotIntent {
	return m.provider.Bot()
}

// IsBridgeUser reports whether userID is the bot or one of the virtual users.
func (m *Manager) IsBridgeUser(userID id.UserID) bool {
	return m.provider.IsBridgeUser(userID)
}

// Localpart maps a handle into the virtual user namespace. Matrix localparts
// are lowercase.
func (m *Manager) Localpart(handle string) string {
	return m.prefix + strings.ToLower(handle)
}

// Intent returns the intent for handle, registering the user on first use.
func (m *Manager) Intent(ctx context.Context, handle string) (ports.Intent, error) {
	localpart := m.Localpart(handle)
	in, err := m.provider.Intent(localpart)
	if err != nil {
		return nil, err
	}

	if _, ok := m.registered.Get(localpart); ok {
		return in, nil
	}
	if err := in.EnsureRegistered(ctx); err != nil {
		return nil, err
	}
	m.registered.Add(localpart, struct{}{})
	return in, nil
}

// UpdateProfile brings the intent's avatar and display name in line with
// the desired values. Both are updated independently; whatever succeeds is
// kept and the failures are joined. Updates of one user run one at a time so
// the cached avatar always matches the live one.
func (m *Manager) UpdateProfile(ctx context.Context, in ports.Intent, displayName, avatarURL string) error {
	userID := in.UserID().String()
	unlock := m.profiles.Lock(userID)
	defer unlock()

	data, err := m.store.GetAccountData(ctx, userID)
	if err != nil {
		return fmt.Errorf("load account data for %s: %w", userID, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	if avatarURL != "" && data[domain.AccountDataAvatarURL] != avatarURL {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.updateAvatar(ctx, in, data, avatarURL); err != nil {
				fail(err)
			}
		}()
	}

	if displayName != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := updateDisplayName(ctx, in, displayName); err != nil {
				fail(err)
			}
		}()
	}

	wg.Wait()
	return errors.Join(errs...)
}

func (m *Manager) updateAvatar(ctx context.Context, in ports.Intent, data map[string]string, avatarURL string) error {
	var uri id.ContentURI
	if strings.HasPrefix(avatarURL, "mxc://") {
		parsed, err := id.ParseContentURI(avatarURL)
		if err != nil {
			return fmt.Errorf("invalid avatar %s: %w", avatarURL, err)
		}
		uri = parsed
	} else {
		if m.media == nil {
			return fmt.Errorf("cannot upload avatar %s: no media uploader", avatarURL)
		}
		uploaded, err := m.media.Upload(ctx, in, avatarURL)
		if err != nil {
			return fmt.Errorf("upload avatar %s: %w", avatarURL, err)
		}
		uri = uploaded
	}

	if err := in.SetAvatarURL(ctx, uri); err != nil {
		return err
	}

	updated := make(map[string]string, len(data)+1)
	for k, v := range data {
		updated[k] = v
	}
	updated[domain.AccountDataAvatarURL] = avatarURL
	if err := m.store.SetAccountData(ctx, in.UserID().String(), updated); err != nil {
		return fmt.Errorf("save account data: %w", err)
	}
	return nil
}

func updateDisplayName(ctx context.Context, in ports.Intent, displayName string) error {
	current, err := in.GetDisplayName(ctx)
	if err != nil {
		return err
	}
	if current == displayName {
		return nil
	}
	return in.SetDisplayName(ctx, displayName)
}

// EnsureJoinedAndSend sends the message, joining the room when the user is
// not in it yet and having the bot invite the user when a plain join is
// refused.
func (m *Manager) EnsureJoinedAndSend(ctx context.Context, in ports.Intent, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	eventID, err := in.SendMessage(ctx, roomID, content)
	if err == nil {
		return eventID, nil
	}
	if !errors.Is(err, domain.ErrNotJoined) {
		return "", err
	}

	if err := in.JoinRoom(ctx, roomID); err != nil {
		m.logger.Debug("join refused, inviting",
			slog.String("user_id", in.UserID().String()),
			slog.String("room_id", roomID.String()),
			slog.String("error", err.Error()))

		if err := m.Bot().InviteUser(ctx, roomID, in.UserID()); err != nil {
			return "", fmt.Errorf("invite %s: %w", in.UserID(), err)
		}
		if err := in.JoinRoom(ctx, roomID); err != nil {
			return "", err
		}
	}

	return in.SendMessage(ctx, roomID, content)
}
