package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-chat/internal/broadcast"
	"github.com/weiawesome/wes-chat/internal/config"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/gateway"
	"github.com/weiawesome/wes-chat/internal/hub"
	"github.com/weiawesome/wes-chat/internal/receipt"
	"github.com/weiawesome/wes-chat/internal/repository"
	"github.com/weiawesome/wes-chat/internal/room"
	"github.com/weiawesome/wes-chat/internal/service"
	"github.com/weiawesome/wes-chat/internal/typing"
	"github.com/weiawesome/wes-chat/internal/unread"
	"github.com/weiawesome/wes-chat/pkg/database"
	"github.com/weiawesome/wes-chat/pkg/jwt"
)

const testWorkspace = "ws1"

type stack struct {
	engine   *gin.Engine
	server   *httptest.Server
	verifier *jwt.Verifier
	hub      *hub.Hub
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     "file:handler_" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, repository.Models()...))
	t.Cleanup(func() { _ = database.Close(db) })

	ctx := context.Background()
	workspaces := repository.NewGormWorkspaceDirectory(db)
	require.NoError(t, workspaces.AddMember(ctx, testWorkspace, "owner", domain.RoleOwner))
	require.NoError(t, workspaces.AddMember(ctx, testWorkspace, "alice", domain.RoleMember))
	require.NoError(t, workspaces.AddMember(ctx, testWorkspace, "bob", domain.RoleMember))
	require.NoError(t, workspaces.AddMember(ctx, testWorkspace, "carol", domain.RoleMember))

	channels := repository.NewGormChannelRepository(db)
	messages := repository.NewGormMessageRepository(db)
	reads := repository.NewGormReadStateRepository(db)
	counter := unread.NewCounter(unread.NewMemoryStore(), messages, reads)

	h := hub.NewHub()
	fanout := broadcast.NewFanout(h, nil, "test")
	rooms := room.NewCoordinator(h, fanout, typing.New(5*time.Second))
	broadcaster := broadcast.NewBroadcaster(fanout, h, counter, reads, workspaces)

	channelSvc := service.NewChannelService(channels, workspaces, counter, rooms, time.Second)
	messageSvc := service.NewMessageService(service.MessageDeps{
		Channels:    channels,
		Messages:    messages,
		Workspaces:  workspaces,
		Broadcaster: broadcaster,
		Receipts:    receipt.NewAggregator(messages, reads, counter, broadcaster),
		Unread:      counter,
		Timeout:     time.Second,
	})

	verifier, err := jwt.NewVerifier(jwt.Config{Secret: "test-secret", Issuer: "test"})
	require.NoError(t, err)

	wsCfg := config.WebSocketConfig{SendBuffer: 64, AuthTimeout: 2 * time.Second}
	gw := gateway.New(h, rooms, channelSvc, messageSvc, verifier, time.Second)

	engine := gin.New()
	NewHandler(channelSvc, messageSvc, verifier).RegisterRoutes(engine)
	NewWSHandler(gw, wsCfg).RegisterRoutes(engine)

	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	return &stack{engine: engine, server: server, verifier: verifier, hub: h}
}

func (s *stack) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.verifier.Sign(userID, userID, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *stack) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}
