package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-chat/internal/config"
	"github.com/weiawesome/wes-chat/internal/gateway"
	"github.com/weiawesome/wes-chat/internal/hub"
	"github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/middleware"
)

const defaultAuthTimeout = 10 * time.Second

type WSHandler struct {
	gateway  *gateway.Gateway
	upgrader websocket.Upgrader
	wsCfg    config.WebSocketConfig
}

func NewWSHandler(gw *gateway.Gateway, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		gateway: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsCfg.ReadBufferSize,
			WriteBufferSize: wsCfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		wsCfg: wsCfg,
	}
}

// HandleWebSocket upgrades the request and starts the connection pumps. A
// token from the query or Authorization header authenticates at once;
// otherwise the client has auth_timeout to send an auth frame.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if bearer, ok := middleware.BearerToken(c.GetHeader(middleware.AuthHeaderKey)); ok {
		token = bearer
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), conn, h.wsCfg)
	dispatcher := h.gateway.Attach(client)

	// the request context ends with this handler; the connection outlives it
	logger := log.L().With().Str(log.FieldConnID, client.ID).Logger()
	ctx := log.WithLogger(context.Background(), logger)

	go client.WritePump()

	var timer *time.Timer
	if token != "" {
		h.gateway.Authenticate(ctx, client, token)
	} else {
		timeout := h.wsCfg.AuthTimeout
		if timeout <= 0 {
			timeout = defaultAuthTimeout
		}
		timer = time.AfterFunc(timeout, func() {
			h.gateway.ExpireAuth(ctx, client)
		})
	}

	go func() {
		client.ReadPump(dispatcher.Handle)
		if timer != nil {
			timer.Stop()
		}
		h.gateway.Disconnect(ctx, client)
	}()
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
	r.GET("/api/v1/ws", h.HandleWebSocket)
}
