package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/pkg/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     "file:" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, Models()...))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func createChannel(t *testing.T, repo *GormChannelRepository, ch *domain.Channel) *domain.Channel {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), ch))
	return ch
}

func TestChannelCreateAndGet(t *testing.T) {
	repo := NewGormChannelRepository(newTestDB(t))
	ctx := context.Background()

	ch := createChannel(t, repo, &domain.Channel{
		WorkspaceID: "w1", Name: "design", Kind: domain.ChannelPrivate, CreatorID: "alice",
		Members: []string{"alice", "bob"},
	})
	assert.NotEmpty(t, ch.ID)

	got, err := repo.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "design", got.Name)
	assert.Equal(t, domain.ChannelPrivate, got.Kind)
	assert.Equal(t, []string{"alice", "bob"}, got.Members)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChannelSecondPublicChannelIsRejected(t *testing.T) {
	repo := NewGormChannelRepository(newTestDB(t))
	ctx := context.Background()

	createChannel(t, repo, &domain.Channel{WorkspaceID: "w1", Name: "general", Kind: domain.ChannelPublic, CreatorID: "admin"})

	err := repo.Create(ctx, &domain.Channel{WorkspaceID: "w1", Name: "random", Kind: domain.ChannelPublic, CreatorID: "admin"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	createChannel(t, repo, &domain.Channel{WorkspaceID: "w2", Name: "general", Kind: domain.ChannelPublic, CreatorID: "admin"})
}

func TestChannelFindDirectIgnoresPairOrder(t *testing.T) {
	repo := NewGormChannelRepository(newTestDB(t))
	ctx := context.Background()

	dm := createChannel(t, repo, &domain.Channel{
		WorkspaceID: "w1", Kind: domain.ChannelDirect, CreatorID: "alice",
		Members: []string{"alice", "bob"},
	})

	got, err := repo.FindDirect(ctx, "w1", "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, dm.ID, got.ID)

	_, err = repo.FindDirect(ctx, "w2", "bob", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = repo.Create(ctx, &domain.Channel{
		WorkspaceID: "w1", Kind: domain.ChannelDirect, CreatorID: "bob",
		Members: []string{"bob", "alice"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState, "unique direct key")
}

func TestChannelListForUser(t *testing.T) {
	repo := NewGormChannelRepository(newTestDB(t))
	ctx := context.Background()

	pub := createChannel(t, repo, &domain.Channel{WorkspaceID: "w1", Name: "general", Kind: domain.ChannelPublic, CreatorID: "admin"})
	priv := createChannel(t, repo, &domain.Channel{WorkspaceID: "w1", Name: "secret", Kind: domain.ChannelPrivate, CreatorID: "alice", Members: []string{"alice"}})
	createChannel(t, repo, &domain.Channel{WorkspaceID: "w2", Name: "other", Kind: domain.ChannelPrivate, CreatorID: "alice", Members: []string{"alice"}})

	ids := func(chs []*domain.Channel) []string {
		out := make([]string, len(chs))
		for i, c := range chs {
			out[i] = c.ID
		}
		return out
	}

	forAlice, err := repo.ListForUser(ctx, "w1", "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{pub.ID, priv.ID}, ids(forAlice))

	forBob, err := repo.ListForUser(ctx, "w1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{pub.ID}, ids(forBob))
}

func TestChannelMembersAndUpdate(t *testing.T) {
	repo := NewGormChannelRepository(newTestDB(t))
	ctx := context.Background()

	ch := createChannel(t, repo, &domain.Channel{WorkspaceID: "w1", Name: "ops", Kind: domain.ChannelPrivate, CreatorID: "alice", Members: []string{"alice"}})

	added, err := repo.AddMember(ctx, ch.ID, "bob")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.AddMember(ctx, ch.ID, "bob")
	require.NoError(t, err)
	assert.False(t, added, "second add is a no-op")

	removed, err := repo.RemoveMember(ctx, ch.ID, "alice")
	require.NoError(t, err)
	assert.True(t, removed)

	name := "ops-oncall"
	got, err := repo.Update(ctx, ch.ID, &name, nil)
	require.NoError(t, err)
	assert.Equal(t, "ops-oncall", got.Name)
	assert.Equal(t, []string{"bob"}, got.Members)

	_, err = repo.Update(ctx, "missing", &name, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChannelDeleteCascadesMessages(t *testing.T) {
	db := newTestDB(t)
	channels := NewGormChannelRepository(db)
	messages := NewGormMessageRepository(db)
	ctx := context.Background()

	ch := createChannel(t, channels, &domain.Channel{WorkspaceID: "w1", Name: "tmp", Kind: domain.ChannelPrivate, CreatorID: "alice", Members: []string{"alice", "bob"}})
	msg := &domain.Message{ChannelID: ch.ID, SenderID: "alice", Body: "hi", Type: domain.MessageText}
	require.NoError(t, messages.Create(ctx, msg))
	_, _, err := messages.AddReads(ctx, ch.ID, "bob", []uint64{msg.ID}, time.Now())
	require.NoError(t, err)

	require.NoError(t, channels.Delete(ctx, ch.ID))

	_, err = channels.GetByID(ctx, ch.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = messages.GetByID(ctx, msg.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var reads int64
	require.NoError(t, db.Model(&domain.MessageReadModel{}).Count(&reads).Error)
	assert.Zero(t, reads)

	assert.ErrorIs(t, channels.Delete(ctx, ch.ID), domain.ErrNotFound)
}

func TestMessageCreateStampsChannel(t *testing.T) {
	db := newTestDB(t)
	channels := NewGormChannelRepository(db)
	messages := NewGormMessageRepository(db)
	ctx := context.Background()

	ch := createChannel(t, channels, &domain.Channel{WorkspaceID: "w1", Name: "a", Kind: domain.ChannelPrivate, CreatorID: "alice", Members: []string{"alice"}})

	msg := &domain.Message{ChannelID: ch.ID, SenderID: "alice", Body: "hello", Type: domain.MessageText, Attachments: []string{"f1"}}
	require.NoError(t, messages.Create(ctx, msg))
	assert.NotZero(t, msg.ID)

	got, err := channels.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageID)
	assert.Equal(t, msg.ID, *got.LastMessageID)

	stored, err := messages.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, stored.Attachments)
	assert.Empty(t, stored.ReadBy)

	err = messages.Create(ctx, &domain.Message{ChannelID: "gone", SenderID: "alice", Body: "x", Type: domain.MessageText})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMessageListBeforePaginates(t *testing.T) {
	db := newTestDB(t)
	channels := NewGormChannelRepository(db)
	messages := NewGormMessageRepository(db)
	ctx := context.Background()

	ch := createChannel(t, channels, &domain.Channel{WorkspaceID: "w1", Name: "a", Kind: domain.ChannelPrivate, CreatorID: "alice", Members: []string{"alice"}})
	var ids []uint64
	for i := 0; i < 5; i++ {
		msg := &domain.Message{ChannelID: ch.ID, SenderID: "alice", Body: "m", Type: domain.MessageText}
		require.NoError(t, messages.Create(ctx, msg))
		ids = append(ids, msg.ID)
	}

	page, hasMore, err := messages.ListBefore(ctx, ch.ID, 0, 2)
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, page, 2)
	assert.Equal(t, []uint64{ids[3], ids[4]}, []uint64{page[0].ID, page[1].ID}, "oldest first")

	page, hasMore, err = messages.ListBefore(ctx, ch.ID, page[0].ID, 10)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, page, 3)
	assert.Equal(t, ids[0], page[0].ID)
}

func TestMessageEditAndSoftDelete(t *testing.T) {
	db := newTestDB(t)
	channels := NewGormChannelRepository(db)
	messages := NewGormMessageRepository(db)
	ctx := context.Background()

	ch := createChannel(t, channels, &domain.Channel{WorkspaceID: "w1", Name: "a", Kind: domain.ChannelPrivate, CreatorID: "alice", Members: []string{"alice"}})
	msg := &domain.Message{ChannelID: ch.ID, SenderID: "alice", Body: "helo", Type: domain.MessageText, Attachments: []string{"f"}}
	require.NoError(t, messages.Create(ctx, msg))

	edited, err := messages.UpdateBody(ctx, msg.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Body)
	assert.True(t, edited.IsEdited)

	deleted, changed, err := messages.SoftDelete(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, deleted.IsDeleted)
	assert.Empty(t, deleted.Body)
	assert.Empty(t, deleted.Attachments)

	_, changed, err = messages.SoftDelete(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = messages.UpdateBody(ctx, msg.ID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	stored, err := messages.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
	assert.Empty(t, stored.Body)

	_, err = messages.UpdateBody(ctx, 9999, "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMessageAddReadsIsIdempotentAndSkipsSender(t *testing.T) {
	db := newTestDB(t)
	channels := NewGormChannelRepository(db)
	messages := NewGormMessageRepository(db)
	ctx := context.Background()

	ch := createChannel(t, channels, &domain.Channel{WorkspaceID: "w1", Name: "a", Kind: domain.ChannelPrivate, CreatorID: "alice", Members: []string{"alice", "bob"}})
	m1 := &domain.Message{ChannelID: ch.ID, SenderID: "alice", Body: "1", Type: domain.MessageText}
	m2 := &domain.Message{ChannelID: ch.ID, SenderID: "bob", Body: "2", Type: domain.MessageText}
	require.NoError(t, messages.Create(ctx, m1))
	require.NoError(t, messages.Create(ctx, m2))

	added, newest, err := messages.AddReads(ctx, ch.ID, "bob", []uint64{m1.ID, m2.ID}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []uint64{m1.ID}, added, "own message is never in readBy")
	assert.Equal(t, m2.ID, newest)

	added, newest, err = messages.AddReads(ctx, ch.ID, "bob", []uint64{m1.ID, m2.ID}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, m2.ID, newest)

	added, newest, err = messages.AddReads(ctx, ch.ID, "bob", nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Zero(t, newest)

	stored, err := messages.GetByID(ctx, m1.ID)
	require.NoError(t, err)
	require.Len(t, stored.ReadBy, 1)
	assert.Equal(t, "bob", stored.ReadBy[0].UserID)

	own, err := messages.GetByID(ctx, m2.ID)
	require.NoError(t, err)
	assert.Empty(t, own.ReadBy)
}

func TestMessageUnreadIDsAndLatest(t *testing.T) {
	db := newTestDB(t)
	channels := NewGormChannelRepository(db)
	messages := NewGormMessageRepository(db)
	ctx := context.Background()

	ch := createChannel(t, channels, &domain.Channel{WorkspaceID: "w1", Name: "a", Kind: domain.ChannelPrivate, CreatorID: "alice", Members: []string{"alice", "bob"}})

	latest, err := messages.LatestID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Zero(t, latest)

	var ids []uint64
	for _, sender := range []string{"alice", "bob", "alice", "alice"} {
		m := &domain.Message{ChannelID: ch.ID, SenderID: sender, Body: "x", Type: domain.MessageText}
		require.NoError(t, messages.Create(ctx, m))
		ids = append(ids, m.ID)
	}
	_, _, err = messages.SoftDelete(ctx, ids[2])
	require.NoError(t, err)

	unread, err := messages.UnreadIDs(ctx, ch.ID, "bob", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{ids[0], ids[3]}, unread)

	unread, err = messages.UnreadIDs(ctx, ch.ID, "bob", ids[0], ids[2])
	require.NoError(t, err)
	assert.Empty(t, unread)

	latest, err = messages.LatestID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[3], latest)
}

func TestReadStateAdvanceIsForwardOnly(t *testing.T) {
	repo := NewGormReadStateRepository(newTestDB(t))
	ctx := context.Background()

	got, err := repo.Get(ctx, "bob", "c1")
	require.NoError(t, err)
	assert.Zero(t, got)

	require.NoError(t, repo.Advance(ctx, "bob", "c1", 10))
	require.NoError(t, repo.Advance(ctx, "bob", "c1", 4))

	got, err = repo.Get(ctx, "bob", "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got)

	require.NoError(t, repo.Advance(ctx, "bob", "c1", 12))
	got, err = repo.Get(ctx, "bob", "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), got)
}

func TestWorkspaceDirectory(t *testing.T) {
	dir := NewGormWorkspaceDirectory(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, dir.AddMember(ctx, "w1", "alice", domain.RoleAdmin))
	require.NoError(t, dir.AddMember(ctx, "w1", "bob", domain.RoleMember))

	role, err := dir.Role(ctx, "w1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, role)

	role, err = dir.Role(ctx, "w1", "mallory")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleNone, role)

	members, err := dir.Members(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)
}

func TestMessageAddReadsIgnoresOtherChannels(t *testing.T) {
	db := newTestDB(t)
	channels := NewGormChannelRepository(db)
	messages := NewGormMessageRepository(db)
	ctx := context.Background()

	x := createChannel(t, channels, &domain.Channel{WorkspaceID: "w1", Name: "x", Kind: domain.ChannelPrivate, CreatorID: "alice", Members: []string{"alice", "bob"}})
	y := createChannel(t, channels, &domain.Channel{WorkspaceID: "w1", Name: "y", Kind: domain.ChannelPrivate, CreatorID: "alice", Members: []string{"alice", "bob"}})
	inX := &domain.Message{ChannelID: x.ID, SenderID: "alice", Body: "x", Type: domain.MessageText}
	inY := &domain.Message{ChannelID: y.ID, SenderID: "alice", Body: "y", Type: domain.MessageText}
	require.NoError(t, messages.Create(ctx, inX))
	require.NoError(t, messages.Create(ctx, inY))

	added, newest, err := messages.AddReads(ctx, x.ID, "bob", []uint64{inY.ID, inY.ID + 100}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Zero(t, newest)

	added, newest, err = messages.AddReads(ctx, x.ID, "bob", []uint64{inX.ID, inY.ID}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []uint64{inX.ID}, added)
	assert.Equal(t, inX.ID, newest)
}
