package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/service"
	"github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/middleware"
	"github.com/weiawesome/wes-chat/pkg/response"
)

// Handler serves the REST facade.
type Handler struct {
	channels  service.ChannelService
	messages  service.MessageService
	validator middleware.TokenValidator
}

func NewHandler(channels service.ChannelService, messages service.MessageService, validator middleware.TokenValidator) *Handler {
	return &Handler{
		channels:  channels,
		messages:  messages,
		validator: validator,
	}
}

// RegisterRoutes mounts every REST route under /api/v1 behind bearer auth.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", middleware.RequireAuth(h.validator))
	{
		channels := api.Group("/channels")
		{
			channels.GET("", h.ListChannels)
			channels.POST("", h.CreateChannel)
			channels.POST("/direct", h.OpenDirect)
			channels.GET("/:id", h.GetChannel)
			channels.PATCH("/:id", h.UpdateChannel)
			channels.DELETE("/:id", h.DeleteChannel)
			channels.POST("/:id/members", h.AddMember)
			channels.DELETE("/:id/members", h.RemoveMember)
			channels.GET("/:id/messages", h.History)
			channels.POST("/:id/messages", h.SendMessage)
			channels.POST("/:id/read", h.MarkRead)
			channels.GET("/:id/unread-count", h.UnreadCount)
		}

		messages := api.Group("/messages")
		{
			messages.PATCH("/:id", h.EditMessage)
			messages.DELETE("/:id", h.DeleteMessage)
		}

		api.GET("/workspace/:id/unread-counts", h.UnreadCounts)
	}
}

// fail writes the response for a service error.
func fail(c *gin.Context, err error, what string) {
	code := domain.ErrorCode(err)
	switch code {
	case domain.ErrCodeNotFound:
		response.NotFound(c, err.Error())
	case domain.ErrCodeAccessDenied:
		response.Forbidden(c, err.Error())
	case domain.ErrCodeInvalidState:
		response.Conflict(c, err.Error())
	case domain.ErrCodeUnauthorized:
		response.Unauthorized(c, err.Error())
	case domain.ErrCodeTransient:
		response.ServiceUnavailable(c, "temporarily unavailable, retry")
	case domain.ErrCodeBadRequest:
		response.BadRequest(c, err.Error())
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("failed to " + what)
		response.InternalError(c, "failed to "+what)
	}
}

func messageID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid message id")
		return 0, false
	}
	return id, true
}

// ListChannels lists the channels of ?workspace= visible to the caller.
func (h *Handler) ListChannels(c *gin.Context) {
	workspaceID := c.Query("workspace")
	if workspaceID == "" {
		response.BadRequest(c, "workspace is required")
		return
	}

	channels, err := h.channels.List(c.Request.Context(), middleware.GetUserID(c), workspaceID)
	if err != nil {
		fail(c, err, "list channels")
		return
	}
	response.Success(c, channels)
}

func (h *Handler) CreateChannel(c *gin.Context) {
	var req domain.CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ch, err := h.channels.Create(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		fail(c, err, "create channel")
		return
	}
	response.Created(c, ch)
}

// OpenDirect returns the direct channel with another user, creating it on
// first use.
func (h *Handler) OpenDirect(c *gin.Context) {
	var req domain.DirectChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ch, created, err := h.channels.OpenDirect(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		fail(c, err, "open direct channel")
		return
	}
	if created {
		response.Created(c, ch)
		return
	}
	response.Success(c, ch)
}

func (h *Handler) GetChannel(c *gin.Context) {
	ch, err := h.channels.Get(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		fail(c, err, "get channel")
		return
	}
	response.Success(c, ch)
}

func (h *Handler) UpdateChannel(c *gin.Context) {
	var req domain.UpdateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ch, err := h.channels.Update(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		fail(c, err, "update channel")
		return
	}
	response.Success(c, ch)
}

func (h *Handler) DeleteChannel(c *gin.Context) {
	if err := h.channels.Delete(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		fail(c, err, "delete channel")
		return
	}
	response.NoContent(c)
}

func (h *Handler) AddMember(c *gin.Context) {
	var req domain.MemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ch, err := h.channels.AddMember(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.UserID)
	if err != nil {
		fail(c, err, "add member")
		return
	}
	response.Success(c, ch)
}

func (h *Handler) RemoveMember(c *gin.Context) {
	var req domain.MemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ch, err := h.channels.RemoveMember(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.UserID)
	if err != nil {
		fail(c, err, "remove member")
		return
	}
	response.Success(c, ch)
}

// History returns one page of ?before=&limit=, oldest first.
func (h *Handler) History(c *gin.Context) {
	var before uint64
	if v := c.Query("before"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid before")
			return
		}
		before = parsed
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.messages.History(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), before, limit)
	if err != nil {
		fail(c, err, "load history")
		return
	}
	response.Success(c, page)
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.ChannelID = c.Param("id")

	msg, err := h.messages.Send(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		fail(c, err, "send message")
		return
	}
	response.Created(c, msg)
}

func (h *Handler) EditMessage(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	var req domain.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), middleware.GetUserID(c), id, req.Body)
	if err != nil {
		fail(c, err, "edit message")
		return
	}
	response.Success(c, msg)
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}

	msg, err := h.messages.Delete(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		fail(c, err, "delete message")
		return
	}
	response.Success(c, msg)
}

// MarkRead marks every unread message of the channel as read.
func (h *Handler) MarkRead(c *gin.Context) {
	result, err := h.messages.MarkAllRead(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		fail(c, err, "mark read")
		return
	}
	response.Success(c, result)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	channelID := c.Param("id")
	n, err := h.messages.UnreadCount(c.Request.Context(), middleware.GetUserID(c), channelID)
	if err != nil {
		fail(c, err, "count unread")
		return
	}
	response.Success(c, domain.UnreadUpdated{ChannelID: channelID, Count: n})
}

func (h *Handler) UnreadCounts(c *gin.Context) {
	counts, err := h.messages.UnreadCounts(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		fail(c, err, "count unread")
		return
	}
	response.Success(c, counts)
}
