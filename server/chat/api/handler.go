package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"unilink_server/server/chat/domain"
	"unilink_server/server/chat/service"
	commonlog "unilink_server/server/common/log"
	"unilink_server/server/common/middleware"
	"unilink_server/server/common/transport/httpresp"
	"unilink_server/server/realtime"
)

type Handler struct {
	svc        *service.ChatService
	dispatcher *realtime.Dispatcher
}

func NewHandler(svc *service.ChatService, dispatcher *realtime.Dispatcher) *Handler {
	return &Handler{svc: svc, dispatcher: dispatcher}
}

type tokenAuth interface {
	VerifyUser(token string) (userID string, err error)
}

func (h *Handler) RegisterRoutes(r *gin.Engine, auth tokenAuth) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ws/chat", h.dispatcher.HandleWS)

	api := r.Group("/api/v1/chat", middleware.AuthRequired(auth))
	api.GET("/conversations", h.listConversations)
	api.GET("/conversations/:id/messages", h.listMessages)
	api.POST("/conversations/:id/read", h.markRead)
	api.POST("/messages", h.sendMessage)
	api.POST("/online-status", h.onlineStatus)
}

// internalError logs the full error and answers with a generic reason;
// collaborator detail never reaches a response body.
func internalError(c *gin.Context, action string, err error) {
	commonlog.Errorf("event=chat_api action=%s status=failed error=%v", action, err)
	c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(httpresp.ErrInternal))
}

func (h *Handler) listConversations(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	views, err := h.svc.Conversations(c.Request.Context(), userID)
	if err != nil {
		internalError(c, "list_conversations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

func (h *Handler) listMessages(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	msgs, pages, err := h.svc.Messages(c.Request.Context(), userID, c.Param("id"), page, limit)
	if errors.Is(err, service.ErrConversationUnknown) {
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrConversationUnknown))
		return
	}
	if err != nil {
		internalError(c, "list_messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "page": page, "totalPages": pages})
}

func (h *Handler) markRead(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	total, err := h.svc.MarkRead(c.Request.Context(), userID, c.Param("id"))
	if errors.Is(err, service.ErrConversationUnknown) {
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrConversationUnknown))
		return
	}
	if err != nil {
		internalError(c, "mark_read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "unreadTotal": total})
}

func (h *Handler) sendMessage(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var body domain.SendMessagePayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("malformed payload"))
		return
	}
	snap, err := h.svc.SendMessage(c.Request.Context(), userID, body.RecipientID, body.Content)
	var ae *realtime.ActionError
	if errors.As(err, &ae) {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(ae.Reason))
		return
	}
	if err != nil {
		internalError(c, "send_message", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": snap})
}

func (h *Handler) onlineStatus(c *gin.Context) {
	var body domain.UsersStatusPayload
	if err := c.ShouldBindJSON(&body); err != nil || len(body.UserIDs) == 0 {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrUserIDsRequired))
		return
	}
	online, err := h.svc.OnlineStatus(c.Request.Context(), body.UserIDs)
	if err != nil {
		internalError(c, "online_status", err)
		return
	}
	if online == nil {
		online = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"onlineUsers": online})
}
