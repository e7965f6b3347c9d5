// Package matrixtest provides in-memory implementations of the intent ports
// for tests. A Provider tracks joins and invites across all of its intents
// so join, invite and send interplay like on a homeserver.
package matrixtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

// Sent is a message recorded by an intent.
type Sent struct {
	RoomID  id.RoomID
	Content *event.MessageEventContent
}

// Provider is a fake ports.IntentProvider.
type Provider struct {
	mu      sync.Mutex
	domain  string
	prefix  string
	bot     *Bot
	intents map[string]*Intent

	// InviteOnly rooms can only be joined after an invite.
	InviteOnly map[id.RoomID]bool
	invited    map[id.RoomID]map[id.UserID]bool
}

var _ ports.IntentProvider = (*Provider)(nil)

// NewProvider creates a provider whose bot is botLocalpart and whose virtual
// users start with prefix.
func NewProvider(domain, botLocalpart, prefix string) *Provider {
	p := &Provider{
		domain:     domain,
		prefix:     prefix,
		intents:    make(map[string]*Intent),
		InviteOnly: make(map[id.RoomID]bool),
		invited:    make(map[id.RoomID]map[id.UserID]bool),
	}
	p.bot = &Bot{
		Intent:  p.newIntent(botLocalpart),
		Levels:  make(map[id.RoomID]*event.PowerLevelsEventContent),
		Members: make(map[id.RoomID][]id.UserID),
	}
	p.bot.AlwaysJoined = true
	return p
}

func (p *Provider) newIntent(localpart string) *Intent {
	return &Intent{
		provider: p,
		ID:       id.NewUserID(localpart, p.domain),
		Joined:   make(map[id.RoomID]bool),
		JoinErr:  make(map[id.RoomID]error),
	}
}

func (p *Provider) Bot() ports.BotIntent { return p.bot }

// FakeBot returns the bot with its recording fields.
func (p *Provider) FakeBot() *Bot { return p.bot }

func (p *Provider) Intent(localpart string) (ports.Intent, error) {
	return p.Get(localpart), nil
}

// Get returns the fake intent for localpart, creating it if needed.
func (p *Provider) Get(localpart string) *Intent {
	if id.NewUserID(localpart, p.domain) == p.bot.ID {
		return p.bot.Intent
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.intents[localpart]
	if !ok {
		in = p.newIntent(localpart)
		p.intents[localpart] = in
	}
	return in
}

// Localparts returns every virtual user handed out so far.
func (p *Provider) Localparts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.intents))
	for lp := range p.intents {
		out = append(out, lp)
	}
	return out
}

func (p *Provider) IsBridgeUser(userID id.UserID) bool {
	if userID == p.bot.ID {
		return true
	}
	localpart, server, err := userID.Parse()
	return err == nil && server == p.domain && strings.HasPrefix(localpart, p.prefix)
}

func (p *Provider) invite(roomID id.RoomID, userID id.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.invited[roomID] == nil {
		p.invited[roomID] = make(map[id.UserID]bool)
	}
	p.invited[roomID][userID] = true
}

func (p *Provider) canJoin(roomID id.RoomID, userID id.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.InviteOnly[roomID] || p.invited[roomID][userID]
}

// Intent is a fake ports.Intent.
type Intent struct {
	provider *Provider

	mu           sync.Mutex
	ID           id.UserID
	Joined       map[id.RoomID]bool
	AlwaysJoined bool
	DisplayName  string
	AvatarURL    id.ContentURI
	Sent         []Sent
	Uploads      []string
	Registered   int
	Left         []id.RoomID
	Calls        []string

	JoinErr           map[id.RoomID]error
	SendErr           error
	RegisterErr       error
	GetDisplayNameErr error
	SetDisplayNameErr error
	SetAvatarErr      error
	UploadErr         error
}

var _ ports.Intent = (*Intent)(nil)

func (in *Intent) record(call string) {
	in.Calls = append(in.Calls, call)
}

func (in *Intent) UserID() id.UserID { return in.ID }

func (in *Intent) EnsureRegistered(context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.record("register")
	if in.RegisterErr != nil {
		return in.RegisterErr
	}
	in.Registered++
	return nil
}

func (in *Intent) JoinRoom(_ context.Context, roomID id.RoomID) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.record("join " + roomID.String())
	if err := in.JoinErr[roomID]; err != nil {
		return err
	}
	if !in.provider.canJoin(roomID, in.ID) {
		return fmt.Errorf("M_FORBIDDEN: %s is not invited to %s", in.ID, roomID)
	}
	in.Joined[roomID] = true
	return nil
}

func (in *Intent) LeaveRoom(_ context.Context, roomID id.RoomID) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.record("leave " + roomID.String())
	delete(in.Joined, roomID)
	in.Left = append(in.Left, roomID)
	return nil
}

func (in *Intent) SendMessage(_ context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.record("send " + roomID.String())
	if in.SendErr != nil {
		return "", in.SendErr
	}
	if !in.AlwaysJoined && !in.Joined[roomID] {
		return "", fmt.Errorf("%w: %s", domain.ErrNotJoined, roomID)
	}
	in.Sent = append(in.Sent, Sent{RoomID: roomID, Content: content})
	return id.EventID(fmt.Sprintf("$event%d", len(in.Sent))), nil
}

func (in *Intent) UploadContent(_ context.Context, data []byte, _, fileName string) (id.ContentURI, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.record("upload " + fileName)
	if in.UploadErr != nil {
		return id.ContentURI{}, in.UploadErr
	}
	in.Uploads = append(in.Uploads, string(data))
	return id.ContentURI{Homeserver: in.provider.domain, FileID: fmt.Sprintf("upload%d", len(in.Uploads))}, nil
}

func (in *Intent) GetDisplayName(context.Context) (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.record("get_displayname")
	return in.DisplayName, in.GetDisplayNameErr
}

func (in *Intent) SetDisplayName(_ context.Context, name string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.record("set_displayname")
	if in.SetDisplayNameErr != nil {
		return in.SetDisplayNameErr
	}
	in.DisplayName = name
	return nil
}

func (in *Intent) SetAvatarURL(_ context.Context, uri id.ContentURI) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.record("set_avatar")
	if in.SetAvatarErr != nil {
		return in.SetAvatarErr
	}
	in.AvatarURL = uri
	return nil
}

// SentMessages returns a copy of the recorded messages.
func (in *Intent) SentMessages() []Sent {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Sent(nil), in.Sent...)
}

// CallLog returns a copy of the recorded calls.
func (in *Intent) CallLog() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.Calls...)
}

// Bot is a fake ports.BotIntent.
type Bot struct {
	*Intent

	Levels       map[id.RoomID]*event.PowerLevelsEventContent
	Members      map[id.RoomID][]id.UserID
	Rooms        []id.RoomID
	Invites      []string
	CreatedRooms []id.RoomID

	PowerLevelsErr error
	InviteErr      error
	CreateRoomErr  error
	MembersErr     error
}

var _ ports.BotIntent = (*Bot)(nil)

func (b *Bot) InviteUser(_ context.Context, roomID id.RoomID, userID id.UserID) error {
	b.mu.Lock()
	b.record("invite " + userID.String() + " " + roomID.String())
	err := b.InviteErr
	if err == nil {
		b.Invites = append(b.Invites, userID.String()+" "+roomID.String())
	}
	b.mu.Unlock()

	if err != nil {
		return err
	}
	b.provider.invite(roomID, userID)
	return nil
}

// PowerLevels returns the configured levels or ErrStateNotFound.
func (b *Bot) PowerLevels(_ context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PowerLevelsErr != nil {
		return nil, b.PowerLevelsErr
	}
	pl, ok := b.Levels[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrStateNotFound, roomID)
	}
	return pl, nil
}

// SetMembers replaces a room's joined member list.
func (b *Bot) SetMembers(roomID id.RoomID, members ...id.UserID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Members[roomID] = members
}

func (b *Bot) JoinedMembers(_ context.Context, roomID id.RoomID) ([]id.UserID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("members " + roomID.String())
	if b.MembersErr != nil {
		return nil, b.MembersErr
	}
	return append([]id.UserID(nil), b.Members[roomID]...), nil
}

func (b *Bot) JoinedRooms(context.Context) ([]id.RoomID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]id.RoomID(nil), b.Rooms...), nil
}

func (b *Bot) CreateDirectRoom(_ context.Context, userID id.UserID) (id.RoomID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("create_room " + userID.String())
	if b.CreateRoomErr != nil {
		return "", b.CreateRoomErr
	}
	roomID := id.RoomID(fmt.Sprintf("!dm%d:%s", len(b.CreatedRooms)+1, b.provider.domain))
	b.CreatedRooms = append(b.CreatedRooms, roomID)
	b.Members[roomID] = []id.UserID{b.ID}
	return roomID, nil
}

// CountCalls returns how many recorded calls start with prefix.
func (in *Intent) CountCalls(prefix string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, c := range in.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
