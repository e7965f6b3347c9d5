package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/matrix/matrixtest"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/storage/memory"
)

type fakeMedia struct {
	urls []string
	err  error
}

func (f *fakeMedia) Upload(ctx context.Context, uploader ports.ContentUploader, url string) (id.ContentURI, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return id.ContentURI{}, f.err
	}
	return uploader.UploadContent(ctx, []byte(url), "image/png", "avatar.png")
}

func newTestManager(t *testing.T, media ports.MediaUploader) (*Manager, *matrixtest.Provider, *memory.Store) {
	t.Helper()
	provider := matrixtest.NewProvider("example.org", "_webhook", DefaultUserPrefix)
	store := memory.New()
	m, err := NewManager(provider, store, media, Config{})
	require.NoError(t, err)
	return m, provider, store
}

func TestResolveHandle(t *testing.T) {
	tests := []struct {
		name        string
		roomID      id.RoomID
		displayName string
		want        string
	}{
		{"simple", "!abc:example.org", "Bot", "_abc_example_org_Bot"},
		{"spaces", "!abc:example.org", "CI Bot", "_abc_example_org_CI_Bot"},
		{"unicode", "!abc:example.org", "Zoë", "_abc_example_org_Zo_"},
		{"empty name", "!abc:example.org", "", "_abc_example_org_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveHandle(tt.roomID, tt.displayName))
		})
	}
}

func TestResolveHandleDeterministic(t *testing.T) {
	a := ResolveHandle("!room:example.org", "Deploy Bot")
	b := ResolveHandle("!room:example.org", "Deploy Bot")
	assert.Equal(t, a, b)

	// Different names that sanitize alike share a handle.
	assert.Equal(t,
		ResolveHandle("!room:example.org", "deploy-bot"),
		ResolveHandle("!room:example.org", "deploy.bot"))

	assert.NotEqual(t,
		ResolveHandle("!room:example.org", "Deploy Bot"),
		ResolveHandle("!other:example.org", "Deploy Bot"))
}

func TestManagerLocalpart(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	assert.Equal(t, "_webhook__abc_example_org_ci_bot", m.Localpart("_abc_example_org_CI_Bot"))
}

func TestManagerIntentRegistersOnce(t *testing.T) {
	m, provider, _ := newTestManager(t, nil)
	ctx := context.Background()

	first, err := m.Intent(ctx, "handle")
	require.NoError(t, err)
	second, err := m.Intent(ctx, "handle")
	require.NoError(t, err)

	assert.Equal(t, first.UserID(), second.UserID())
	assert.Equal(t, id.UserID("@_webhook_handle:example.org"), first.UserID())
	assert.Equal(t, 1, provider.Get("_webhook_handle").Registered)
}

func TestManagerIntentRegistrationError(t *testing.T) {
	m, provider, _ := newTestManager(t, nil)
	provider.Get("_webhook_broken").RegisterErr = errors.New("M_EXCLUSIVE")

	_, err := m.Intent(context.Background(), "broken")
	require.Error(t, err)

	// A failed registration is retried on the next call.
	provider.Get("_webhook_broken").RegisterErr = nil
	_, err = m.Intent(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.Get("_webhook_broken").CountCalls("register"))
}

func TestUpdateProfile(t *testing.T) {
	media := &fakeMedia{}
	m, provider, store := newTestManager(t, media)
	ctx := context.Background()

	in, err := m.Intent(ctx, "handle")
	require.NoError(t, err)
	fake := provider.Get("_webhook_handle")

	require.NoError(t, m.UpdateProfile(ctx, in, "CI", "https://example.com/a.png"))
	assert.Equal(t, "CI", fake.DisplayName)
	assert.False(t, fake.AvatarURL.IsEmpty())
	assert.Equal(t, []string{"https://example.com/a.png"}, media.urls)

	data, err := store.GetAccountData(ctx, in.UserID().String())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.png", data[domain.AccountDataAvatarURL])

	// Unchanged values do not touch the homeserver again.
	require.NoError(t, m.UpdateProfile(ctx, in, "CI", "https://example.com/a.png"))
	assert.Len(t, media.urls, 1)
	assert.Equal(t, 1, fake.CountCalls("set_displayname"))
	assert.Equal(t, 1, fake.CountCalls("set_avatar"))
}

func TestUpdateProfileMXCAvatar(t *testing.T) {
	media := &fakeMedia{}
	m, provider, _ := newTestManager(t, media)
	ctx := context.Background()

	in, err := m.Intent(ctx, "handle")
	require.NoError(t, err)

	require.NoError(t, m.UpdateProfile(ctx, in, "", "mxc://example.org/abc"))
	assert.Empty(t, media.urls)
	assert.Equal(t, "mxc://example.org/abc", provider.Get("_webhook_handle").AvatarURL.String())
	assert.Zero(t, provider.Get("_webhook_handle").CountCalls("get_displayname"))
}

func TestUpdateProfileKeepsPartialSuccess(t *testing.T) {
	media := &fakeMedia{err: errors.New("fetch failed")}
	m, provider, store := newTestManager(t, media)
	ctx := context.Background()

	in, err := m.Intent(ctx, "handle")
	require.NoError(t, err)

	err = m.UpdateProfile(ctx, in, "CI", "https://example.com/a.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch failed")
	assert.Equal(t, "CI", provider.Get("_webhook_handle").DisplayName)

	data, err := store.GetAccountData(ctx, in.UserID().String())
	require.NoError(t, err)
	assert.NotContains(t, data, domain.AccountDataAvatarURL)
}

func TestUpdateProfilePreservesOtherAccountData(t *testing.T) {
	m, _, store := newTestManager(t, &fakeMedia{})
	ctx := context.Background()

	in, err := m.Intent(ctx, "handle")
	require.NoError(t, err)
	require.NoError(t, store.SetAccountData(ctx, in.UserID().String(), map[string]string{"other": "kept"}))

	require.NoError(t, m.UpdateProfile(ctx, in, "", "https://example.com/a.png"))

	data, err := store.GetAccountData(ctx, in.UserID().String())
	require.NoError(t, err)
	assert.Equal(t, "kept", data["other"])
	assert.Equal(t, "https://example.com/a.png", data[domain.AccountDataAvatarURL])
}

// stallingIntent blocks inside the first SetAvatarURL to stallOn, after the
// homeserver call went through, until release is closed.
type stallingIntent struct {
	ports.Intent
	stallOn id.ContentURI
	once    sync.Once
	stalled chan struct{}
	release chan struct{}
}

func (s *stallingIntent) SetAvatarURL(ctx context.Context, uri id.ContentURI) error {
	err := s.Intent.SetAvatarURL(ctx, uri)
	if uri == s.stallOn {
		s.once.Do(func() {
			close(s.stalled)
			<-s.release
		})
	}
	return err
}

func TestUpdateProfileSerializesPerUser(t *testing.T) {
	m, provider, store := newTestManager(t, nil)
	ctx := context.Background()

	in, err := m.Intent(ctx, "handle")
	require.NoError(t, err)
	fake := provider.Get("_webhook_handle")

	const avatarA, avatarB = "mxc://example.org/A", "mxc://example.org/B"
	stalling := &stallingIntent{
		Intent:  in,
		stallOn: id.MustParseContentURI(avatarA),
		stalled: make(chan struct{}),
		release: make(chan struct{}),
	}

	errA := make(chan error, 1)
	go func() { errA <- m.UpdateProfile(ctx, stalling, "", avatarA) }()
	<-stalling.stalled

	errB := make(chan error, 1)
	go func() { errB <- m.UpdateProfile(ctx, stalling, "", avatarB) }()

	select {
	case err := <-errB:
		t.Fatalf("second update finished while the first was in flight (err %v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(stalling.release)
	require.NoError(t, <-errA)
	require.NoError(t, <-errB)

	data, err := store.GetAccountData(ctx, in.UserID().String())
	require.NoError(t, err)
	assert.Equal(t, avatarB, fake.AvatarURL.String())
	assert.Equal(t, avatarB, data[domain.AccountDataAvatarURL])

	// Asking for A again must reach the homeserver.
	calls := fake.CountCalls("set_avatar")
	require.NoError(t, m.UpdateProfile(ctx, in, "", avatarA))
	assert.Equal(t, calls+1, fake.CountCalls("set_avatar"))
	assert.Equal(t, avatarA, fake.AvatarURL.String())
}

func TestEnsureJoinedAndSend(t *testing.T) {
	const room = id.RoomID("!room:example.org")
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: "hi"}
	ctx := context.Background()

	t.Run("already joined", func(t *testing.T) {
		m, provider, _ := newTestManager(t, nil)
		in, err := m.Intent(ctx, "a")
		require.NoError(t, err)
		provider.Get("_webhook_a").Joined[room] = true

		eventID, err := m.EnsureJoinedAndSend(ctx, in, room, content)
		require.NoError(t, err)
		assert.NotEmpty(t, eventID)
		assert.Zero(t, provider.Get("_webhook_a").CountCalls("join"))
	})

	t.Run("joins public room", func(t *testing.T) {
		m, provider, _ := newTestManager(t, nil)
		in, err := m.Intent(ctx, "a")
		require.NoError(t, err)

		_, err = m.EnsureJoinedAndSend(ctx, in, room, content)
		require.NoError(t, err)

		fake := provider.Get("_webhook_a")
		assert.Equal(t, []string{"register", "send " + room.String(), "join " + room.String(), "send " + room.String()}, fake.CallLog())
		assert.Empty(t, provider.FakeBot().Invites)
	})

	t.Run("invited by bot", func(t *testing.T) {
		m, provider, _ := newTestManager(t, nil)
		provider.InviteOnly[room] = true
		in, err := m.Intent(ctx, "a")
		require.NoError(t, err)

		_, err = m.EnsureJoinedAndSend(ctx, in, room, content)
		require.NoError(t, err)

		assert.Equal(t, []string{"@_webhook_a:example.org " + room.String()}, provider.FakeBot().Invites)
		assert.Len(t, provider.Get("_webhook_a").SentMessages(), 1)
		assert.Equal(t, 2, provider.Get("_webhook_a").CountCalls("join"))
	})

	t.Run("invite fails", func(t *testing.T) {
		m, provider, _ := newTestManager(t, nil)
		provider.InviteOnly[room] = true
		provider.FakeBot().InviteErr = errors.New("M_FORBIDDEN")
		in, err := m.Intent(ctx, "a")
		require.NoError(t, err)

		_, err = m.EnsureJoinedAndSend(ctx, in, room, content)
		require.Error(t, err)
		assert.Empty(t, provider.Get("_webhook_a").SentMessages())
	})

	t.Run("other send errors are terminal", func(t *testing.T) {
		m, provider, _ := newTestManager(t, nil)
		in, err := m.Intent(ctx, "a")
		require.NoError(t, err)
		provider.Get("_webhook_a").SendErr = errors.New("M_LIMIT_EXCEEDED")

		_, err = m.EnsureJoinedAndSend(ctx, in, room, content)
		require.Error(t, err)
		assert.Zero(t, provider.Get("_webhook_a").CountCalls("join"))
	})
}
