package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-chat/internal/access"
	"github.com/weiawesome/wes-chat/internal/broadcast"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/receipt"
	"github.com/weiawesome/wes-chat/internal/repository"
	"github.com/weiawesome/wes-chat/internal/unread"
	"github.com/weiawesome/wes-chat/pkg/database"
)

const ws = "ws1"

type fakeBroadcaster struct {
	mu      sync.Mutex
	created []*domain.Message
	updated []*domain.Message
	deleted []*domain.Message
}

func (f *fakeBroadcaster) MessageCreated(_ context.Context, _ *domain.Channel, msg *domain.Message) broadcast.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, msg)
	return broadcast.Result{}
}

func (f *fakeBroadcaster) MessageUpdated(_ context.Context, _ *domain.Channel, msg *domain.Message) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, msg)
	return 0
}

func (f *fakeBroadcaster) MessageDeleted(_ context.Context, _ *domain.Channel, msg *domain.Message) broadcast.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, msg)
	return broadcast.Result{}
}

type nopNotifier struct{}

func (nopNotifier) Seen(context.Context, *domain.SeenEvent)             {}
func (nopNotifier) UnreadChanged(context.Context, string, string, int64) {}

type fakeRooms struct {
	mu      sync.Mutex
	evicted []string
	closed  []string
}

func (f *fakeRooms) EvictUser(_ context.Context, userID, room string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, userID+"@"+room)
}

func (f *fakeRooms) CloseRoom(_ context.Context, room string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, room)
}

type fakeLookup struct {
	known map[string]bool
	err   error
}

func (f fakeLookup) Exists(_ context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.known[key], nil
}

type harness struct {
	channels  ChannelService
	messages  MessageService
	broadcast *fakeBroadcaster
	rooms     *fakeRooms
}

func newHarness(t *testing.T, lookup fakeLookup) *harness {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     "file:service_" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, repository.Models()...))
	t.Cleanup(func() { _ = database.Close(db) })

	ctx := context.Background()
	workspaces := repository.NewGormWorkspaceDirectory(db)
	require.NoError(t, workspaces.AddMember(ctx, ws, "owner", domain.RoleOwner))
	require.NoError(t, workspaces.AddMember(ctx, ws, "alice", domain.RoleMember))
	require.NoError(t, workspaces.AddMember(ctx, ws, "bob", domain.RoleMember))
	require.NoError(t, workspaces.AddMember(ctx, ws, "carol", domain.RoleMember))
	require.NoError(t, workspaces.AddMember(ctx, ws, "guest", domain.RoleGuest))

	channels := repository.NewGormChannelRepository(db)
	msgs := repository.NewGormMessageRepository(db)
	reads := repository.NewGormReadStateRepository(db)
	counter := unread.NewCounter(unread.NewMemoryStore(), msgs, reads)
	fb := &fakeBroadcaster{}
	rooms := &fakeRooms{}

	deps := MessageDeps{
		Channels:    channels,
		Messages:    msgs,
		Workspaces:  workspaces,
		Broadcaster: fb,
		Receipts:    receipt.NewAggregator(msgs, reads, counter, nopNotifier{}),
		Unread:      counter,
	}
	if lookup.known != nil || lookup.err != nil {
		deps.Attachments = lookup
	}

	return &harness{
		channels:  NewChannelService(channels, workspaces, counter, rooms, 0),
		messages:  NewMessageService(deps),
		broadcast: fb,
		rooms:     rooms,
	}
}

func (h *harness) private(t *testing.T, creator string, members ...string) *domain.Channel {
	t.Helper()
	ch, err := h.channels.Create(context.Background(), creator, &domain.CreateChannelRequest{
		WorkspaceID: ws,
		Name:        "team",
		Kind:        domain.ChannelPrivate,
		Members:     members,
	})
	require.NoError(t, err)
	return ch
}

func TestCreatePublicChannelOncePerWorkspace(t *testing.T) {
	h := newHarness(t, fakeLookup{})
	ctx := context.Background()
	req := &domain.CreateChannelRequest{WorkspaceID: ws, Name: "general", Kind: domain.ChannelPublic}

	_, err := h.channels.Create(ctx, "alice", req)
	assert.True(t, errors.Is(err, domain.ErrAccessDenied), "members cannot create public channels")

	ch, err := h.channels.Create(ctx, "owner", req)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelPublic, ch.Kind)

	_, err = h.channels.Create(ctx, "owner", &domain.CreateChannelRequest{WorkspaceID: ws, Name: "second", Kind: domain.ChannelPublic})
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestCreatePrivateChannel(t *testing.T) {
	h := newHarness(t, fakeLookup{})
	ctx := context.Background()

	ch := h.private(t, "alice", "bob", "bob", "alice")
	assert.Equal(t, []string{"alice", "bob"}, ch.Members)

	_, err := h.channels.Create(ctx, "alice", &domain.CreateChannelRequest{
		WorkspaceID: ws, Name: "x", Kind: domain.ChannelPrivate, Members: []string{"stranger"},
	})
	assert.True(t, errors.Is(err, domain.ErrBadRequest))

	_, err = h.channels.Create(ctx, "guest", &domain.CreateChannelRequest{WorkspaceID: ws, Name: "x", Kind: domain.ChannelPrivate})
	assert.True(t, errors.Is(err, domain.ErrAccessDenied))

	_, err = h.channels.Create(ctx, "alice", &domain.CreateChannelRequest{WorkspaceID: ws, Name: "  ", Kind: domain.ChannelPrivate})
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestOpenDirectIsIdempotent(t *testing.T) {
	h := newHarness(t, fakeLookup{})
	ctx := context.Background()

	first, created, err := h.channels.OpenDirect(ctx, "alice", &domain.DirectChannelRequest{WorkspaceID: ws, UserID: "bob"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"alice", "bob"}, first.Members)

	second, created, err := h.channels.OpenDirect(ctx, "bob", &domain.DirectChannelRequest{WorkspaceID: ws, UserID: "alice"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = h.channels.OpenDirect(ctx, "alice", &domain.DirectChannelRequest{WorkspaceID: ws, UserID: "alice"})
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestDirectChannelHasExactlyTwoMembers(t *testing.T) {
	h := newHarness(t, fakeLookup{})
	ctx := context.Background()

	_, err := h.channels.Create(ctx, "alice", &domain.CreateChannelRequest{
		WorkspaceID: ws, Kind: domain.ChannelDirect, Members: []string{"bob", "carol"},
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidState))

	ch, err := h.channels.Create(ctx, "alice", &domain.CreateChannelRequest{
		WorkspaceID: ws, Kind: domain.ChannelDirect, Members: []string{"bob"},
	})
	require.NoError(t, err)

	_, err = h.channels.AddMember(ctx, "alice", ch.ID, "carol")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestListOnlyShowsVisibleChannels(t *testing.T) {
	h := newHarness(t, fakeLookup{})
	ctx := context.Background()

	h.private(t, "alice", "bob")
	h.private(t, "carol")

	list, err := h.channels.List(ctx, "bob", ws)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = h.channels.List(ctx, "stranger", ws)
	assert.True(t, errors.Is(err, domain.ErrAccessDenied))
}

func TestUpdateAndAuthorize(t *testing.T) {
	h := newHarness(t, fakeLookup{})
	ctx := context.Background()
	ch := h.private(t, "alice", "bob")

	name := "renamed"
	updated, err := h.channels.Update(ctx, "alice", ch.ID, &domain.UpdateChannelRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	_, err = h.channels.Update(ctx, "alice", ch.ID, &domain.UpdateChannelRequest{})
	assert.True(t, errors.Is(err, domain.ErrBadRequest))

	_, err = h.channels.Authorize(ctx, "carol", ch.ID, access.ActionRead)
	assert.True(t, errors.Is(err, domain.ErrAccessDenied))

	_, err = h.channels.Get(ctx, "bob", "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRemoveMemberEvictsFromPrivateRoom(t *testing.T) {
	h := newHarness(t, fakeLookup{})
	ctx := context.Background()
	ch := h.private(t, "alice", "bob")

	updated, err := h.channels.RemoveMember(ctx, "alice", ch.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, updated.Members)
	assert.Equal(t, []string{"bob@" + domain.ChannelRoom(ch.ID)}, h.rooms.evicted)

	updated, err = h.channels.AddMember(ctx, "alice", ch.ID, "carol")
	require.NoError(t, err)
	assert.True(t, updated.HasMember("carol"))

	_, err = h.channels.AddMember(ctx, "alice", ch.ID, "stranger")
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestDeleteChannelClosesRoom(t *testing.T) {
	h := newHarness(t, fakeLookup{})
	ctx := context.Background()
	ch := h.private(t, "alice", "bob")

	assert.True(t, errors.Is(h.channels.Delete(ctx, "bob", ch.ID), domain.ErrAccessDenied))
	require.NoError(t, h.channels.Delete(ctx, "alice", ch.ID))
	assert.Equal(t, []string{domain.ChannelRoom(ch.ID)}, h.rooms.closed)

	_, err := h.channels.Get(ctx, "alice", ch.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t, fakeLookup{known: map[string]bool{"att-1": true}})
	ctx := context.Background()
	ch := h.private(t, "alice", "bob")

	cases := []struct {
		name string
		req  *domain.SendMessageRequest
		want error
	}{
		{"empty", &domain.SendMessageRequest{ChannelID: ch.ID, Body: "   "}, domain.ErrBadRequest},
		{"too long", &domain.SendMessageRequest{ChannelID: ch.ID, Body: strings.Repeat("é", MaxBodyLength+1)}, domain.ErrBadRequest},
		{"system type", &domain.SendMessageRequest{ChannelID: ch.ID, Body: "x", Type: domain.MessageSystem}, domain.ErrBadRequest},
		{"file without attachment", &domain.SendMessageRequest{ChannelID: ch.ID, Body: "x", Type: domain.MessageFile}, domain.ErrBadRequest},
		{"unknown attachment", &domain.SendMessageRequest{ChannelID: ch.ID, Attachments: []string{"att-2"}}, domain.ErrBadRequest},
		{"missing channel", &domain.SendMessageRequest{ChannelID: "nope", Body: "x"}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.messages.Send(ctx, "alice", tc.req)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	_, err := h.messages.Send(ctx, "carol", &domain.SendMessageRequest{ChannelID: ch.ID, Body: "hi"})
	assert.True(t, errors.Is(err, domain.ErrAccessDenied))

	msg, err := h.messages.Send(ctx, "alice", &domain.SendMessageRequest{ChannelID: ch.ID, Attachments: []string{"att-1", "att-1"}})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageFile, msg.Type)
	assert.Equal(t, []string{"att-1"}, msg.Attachments)
	assert.Len(t, h.broadcast.created, 1)
}

func TestSendAttachmentLookupFailureIsTransient(t *testing.T) {
	h := newHarness(t, fakeLookup{err: errors.New("s3 down")})
	ch := h.private(t, "alice", "bob")

	_, err := h.messages.Send(context.Background(), "alice", &domain.SendMessageRequest{ChannelID: ch.ID, Attachments: []string{"att-1"}})
	assert.True(t, errors.Is(err, domain.ErrTransientFailure))
}

func TestReplyMustStayInChannel(t *testing.T) {
	h := newHarness(t, fakeLookup{})
	ctx := context.Background()
	first := h.private(t, "alice", "bob")
	other := h.private(t, "alice")

	parent, err := h.messages.Send(ctx, "alice", &domain.SendMessageRequest{ChannelID: other.ID, Body: "elsewhere"})
	require.NoError(t, err)

	_, err = h.messages.Send(ctx, "alice", &domain.SendMessageRequest{ChannelID: first.ID, Body: "re", ReplyToID: &parent.ID})
	assert.True(t, errors.Is(err, domain.ErrBadRequest))

	missing := uint64(9999)
	_, err = h.messages.Send(ctx, "alice", &domain.SendMessageRequest{ChannelID: first.ID, Body: "re", ReplyToID: &missing})
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestEditAndDeleteLifecycle(t *testing.T) {
	h := newHarness(t, fakeLookup{})
	ctx := context.Background()
	ch := h.private(t, "alice", "bob")

	msg, err := h.messages.Send(ctx, "bob", &domain.SendMessageRequest{ChannelID: ch.ID, Body: "first"})
	require.NoError(t, err)

	_, err = h.messages.Edit(ctx, "alice", msg.ID, "hijack")
	assert.True(t, errors.Is(err, domain.ErrAccessDenied))

	edited, err := h.messages.Edit(ctx, "bob", msg.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", edited.Body)
	assert.True(t, edited.IsEdited)

	// the channel creator may delete someone else's message
	deleted, err := h.messages.Delete(ctx, "alice", msg.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Empty(t, deleted.Body)
	assert.True(t, deleted.IsEdited)
	assert.Len(t, h.broadcast.deleted, 1)

	again, err := h.messages.Delete(ctx, "bob", msg.ID)
	require.NoError(t, err)
	assert.True(t, again.IsDeleted)
	assert.Len(t, h.broadcast.deleted, 1, "deleting twice broadcasts once")

	_, err = h.messages.Edit(ctx, "bob", msg.ID, "back")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestHistoryPaging(t *testing.T) {
	h := newHarness(t, fakeLookup{})
	ctx := context.Background()
	ch := h.private(t, "alice", "bob")

	var ids []uint64
	for i := 0; i < 5; i++ {
		msg, err := h.messages.Send(ctx, "alice", &domain.SendMessageRequest{ChannelID: ch.ID, Body: "m"})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	page, err := h.messages.History(ctx, "bob", ch.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, ids[3], page.Messages[0].ID)
	assert.Equal(t, ids[4], page.Messages[1].ID)
	require.NotNil(t, page.NextBefore)

	page, err = h.messages.History(ctx, "bob", ch.ID, *page.NextBefore, 10)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 3)
	assert.False(t, page.HasMore)
	assert.Nil(t, page.NextBefore)

	_, err = h.messages.History(ctx, "carol", ch.ID, 0, 10)
	assert.True(t, errors.Is(err, domain.ErrAccessDenied))
}

func TestUnreadFlow(t *testing.T) {
	h := newHarness(t, fakeLookup{})
	ctx := context.Background()
	ch := h.private(t, "alice", "bob")

	var last *domain.Message
	for i := 0; i < 3; i++ {
		msg, err := h.messages.Send(ctx, "alice", &domain.SendMessageRequest{ChannelID: ch.ID, Body: "m"})
		require.NoError(t, err)
		last = msg
	}

	n, err := h.messages.UnreadCount(ctx, "bob", ch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = h.messages.UnreadCount(ctx, "alice", ch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "own messages are never unread")

	res, err := h.messages.MarkRead(ctx, "bob", ch.ID, []uint64{last.ID - 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Unread)

	counts, err := h.messages.UnreadCounts(ctx, "bob", ws)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{ch.ID: 1}, counts)

	res, err = h.messages.MarkAllRead(ctx, "bob", ch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Unread)

	_, err = h.messages.MarkRead(ctx, "bob", ch.ID, make([]uint64, MaxReadBatch+1))
	assert.True(t, errors.Is(err, domain.ErrBadRequest))

	_, err = h.messages.UnreadCounts(ctx, "stranger", ws)
	assert.True(t, errors.Is(err, domain.ErrAccessDenied))
}
