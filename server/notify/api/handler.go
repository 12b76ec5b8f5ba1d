package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	commonlog "unilink_server/server/common/log"
	"unilink_server/server/common/middleware"
	"unilink_server/server/common/transport/httpresp"
	"unilink_server/server/notify/domain"
	"unilink_server/server/notify/service"
	"unilink_server/server/notify/store"
	"unilink_server/server/realtime"
)

type Handler struct {
	svc        *service.NotifyService
	dispatcher *realtime.Dispatcher
}

func NewHandler(svc *service.NotifyService, dispatcher *realtime.Dispatcher) *Handler {
	return &Handler{svc: svc, dispatcher: dispatcher}
}

type tokenAuth interface {
	VerifyUser(token string) (userID string, err error)
}

func (h *Handler) RegisterRoutes(r *gin.Engine, auth tokenAuth) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ws/notify", h.dispatcher.HandleWS)

	api := r.Group("/api/v1/notifications", middleware.AuthRequired(auth))
	api.GET("", h.list)
	api.GET("/unread-count", h.unreadCount)
	api.POST("/:id/read", h.markRead)
	api.POST("/read-all", h.markAllRead)
	api.DELETE("/:id", h.remove)
	api.GET("/preferences", h.preferences)
	api.PUT("/preferences", h.updatePreferences)
}

// internalError logs the full error and answers with a generic reason;
// collaborator detail never reaches a response body.
func internalError(c *gin.Context, action string, err error) {
	commonlog.Errorf("event=notify_api action=%s status=failed error=%v", action, err)
	c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(httpresp.ErrInternal))
}

func (h *Handler) list(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	items, total, err := h.svc.List(c.Request.Context(), userID, page, limit)
	if err != nil {
		internalError(c, "list", err)
		return
	}
	if items == nil {
		items = []domain.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "page": page, "total": total})
}

func (h *Handler) unreadCount(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	count, err := h.svc.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		internalError(c, "unread_count", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *Handler) markRead(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	err := h.svc.MarkRead(c.Request.Context(), userID, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrNotificationUnknown))
		return
	}
	if err != nil {
		internalError(c, "mark_read", err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) markAllRead(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	updated, err := h.svc.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		internalError(c, "mark_all_read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": updated})
}

func (h *Handler) remove(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	err := h.svc.Delete(c.Request.Context(), userID, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrNotificationUnknown))
		return
	}
	if err != nil {
		internalError(c, "delete", err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) preferences(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	prefs, err := h.svc.Preferences(c.Request.Context(), userID)
	if err != nil {
		internalError(c, "preferences", err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (h *Handler) updatePreferences(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var prefs domain.Preferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("malformed payload"))
		return
	}
	prefs.UserID = userID
	if err := h.svc.UpdatePreferences(c.Request.Context(), prefs); err != nil {
		internalError(c, "update_preferences", err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}
