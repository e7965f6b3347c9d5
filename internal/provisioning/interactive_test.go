package provisioning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/matrix/matrixtest"
)

const adminRoom = id.RoomID("!admin:example.org")

type fakeAdminRooms struct {
	room id.RoomID
	err  error
}

func (f *fakeAdminRooms) GetOrCreateAdminRoom(context.Context, id.UserID) (id.RoomID, error) {
	return f.room, f.err
}

func newTestProvisioner(t *testing.T) (*InteractiveProvisioner, *matrixtest.Bot, *fakeAdminRooms) {
	t.Helper()
	svc, bot, _ := newTestService(t)
	admin := &fakeAdminRooms{room: adminRoom}
	hookURL := func(hookID string) string { return "https://hooks.example.org/api/v1/matrix/hook/" + hookID }
	return NewInteractiveProvisioner(svc, bot, admin, hookURL, nil), bot, admin
}

func sentTo(bot *matrixtest.Bot, room id.RoomID) []*event.MessageEventContent {
	var out []*event.MessageEventContent
	for _, s := range bot.SentMessages() {
		if s.RoomID == room {
			out = append(out, s.Content)
		}
	}
	return out
}

func TestInteractiveCreateFromOtherRoom(t *testing.T) {
	p, bot, _ := newTestProvisioner(t)

	require.NoError(t, p.CreateWebhook(context.Background(), alice, testRoom, testRoom))

	admin := sentTo(bot, adminRoom)
	require.Len(t, admin, 1)
	assert.Equal(t, event.MsgNotice, admin[0].MsgType)
	assert.Equal(t, event.FormatHTML, admin[0].Format)
	assert.Contains(t, admin[0].FormattedBody, "https://hooks.example.org/api/v1/matrix/hook/")
	assert.Contains(t, admin[0].FormattedBody, "<pre><code>")
	assert.NotContains(t, admin[0].Body, "<a href")
	assert.Contains(t, admin[0].Body, `"text": "Hello world!"`)

	inRoom := sentTo(bot, testRoom)
	require.Len(t, inRoom, 1)
	assert.Equal(t, NoticePrivateMessage, inRoom[0].Body)
}

func TestInteractiveCreateFromAdminRoom(t *testing.T) {
	p, bot, _ := newTestProvisioner(t)
	bot.Levels[adminRoom] = powerLevels(intPtr(50), 0, map[id.UserID]int{alice: 100})

	require.NoError(t, p.CreateWebhook(context.Background(), alice, adminRoom, adminRoom))

	msgs := sentTo(bot, adminRoom)
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].Body, "Here's your webhook url for "+adminRoom.String()))
}

func TestInteractiveCreateDenied(t *testing.T) {
	tests := []struct {
		name   string
		roomID id.RoomID
		want   string
	}{
		{"same room", testRoom, "Sorry, you don't have permission to create webhooks for this room"},
		{"other room", otherRoom, "Sorry, you don't have permission to create webhooks for " + otherRoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, bot, _ := newTestProvisioner(t)

			require.NoError(t, p.CreateWebhook(context.Background(), bob, tt.roomID, testRoom))

			msgs := sentTo(bot, testRoom)
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.want, msgs[0].Body)
			assert.Empty(t, sentTo(bot, adminRoom))
		})
	}
}

func TestInteractiveCreateErrors(t *testing.T) {
	t.Run("guest access forbidden", func(t *testing.T) {
		p, bot, _ := newTestProvisioner(t)
		bot.JoinErr[otherRoom] = domain.ErrGuestAccessForbidden

		err := p.CreateWebhook(context.Background(), alice, otherRoom, testRoom)
		require.ErrorIs(t, err, domain.ErrGuestAccessForbidden)

		msgs := sentTo(bot, testRoom)
		require.Len(t, msgs, 1)
		assert.Equal(t, NoticeGuestForbidden, msgs[0].Body)
	})

	t.Run("admin room failure", func(t *testing.T) {
		p, bot, admin := newTestProvisioner(t)
		admin.err = errors.New("create room failed")

		err := p.CreateWebhook(context.Background(), alice, testRoom, testRoom)
		require.Error(t, err)

		msgs := sentTo(bot, testRoom)
		require.Len(t, msgs, 1)
		assert.Equal(t, NoticeCommandError, msgs[0].Body)
	})
}

func TestInteractiveListAndDelete(t *testing.T) {
	p, bot, _ := newTestProvisioner(t)
	ctx := context.Background()

	require.NoError(t, p.ListWebhooks(ctx, alice, testRoom, testRoom))
	msgs := sentTo(bot, testRoom)
	require.Len(t, msgs, 1)
	assert.Equal(t, NoticeNoHooks, msgs[0].Body)

	hook, err := p.service.CreateWebhook(ctx, testRoom, alice, "deploys")
	require.NoError(t, err)

	require.NoError(t, p.ListWebhooks(ctx, alice, testRoom, testRoom))
	msgs = sentTo(bot, testRoom)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].FormattedBody, "<code>"+hook.ID+"</code> deploys")

	require.NoError(t, p.DeleteWebhook(ctx, alice, testRoom, testRoom, hook.ID))
	msgs = sentTo(bot, testRoom)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Webhook "+hook.ID+" deleted.", msgs[2].Body)

	require.NoError(t, p.DeleteWebhook(ctx, bob, testRoom, testRoom, hook.ID))
	msgs = sentTo(bot, testRoom)
	assert.Equal(t, "Sorry, you don't have permission to manage webhooks for this room", msgs[len(msgs)-1].Body)
}
