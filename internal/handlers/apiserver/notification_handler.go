package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"donor-finder/internal/services"
	"donor-finder/internal/storage"
)

// NotificationHandler 封装了通知相关的 HTTP 处理器。
type NotificationHandler struct {
	NotificationService services.NotificationService
	logger              *zap.Logger
}

// NewNotificationHandler 创建一个新的 NotificationHandler 实例。
func NewNotificationHandler(notificationService services.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{NotificationService: notificationService, logger: logger}
}

// UnreadCountResponse is the body of GET /api/notifications/unread/count.
type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

// List 处理 GET /api/notifications。
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	notifications, err := h.NotificationService.List(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, h.logger, "查询通知", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, notifications)
}

// UnreadCount 处理 GET /api/notifications/unread/count。
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	count, err := h.NotificationService.UnreadCount(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, h.logger, "统计未读通知", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, UnreadCountResponse{Count: count})
}

// MarkRead 处理 PUT /api/notifications/{id}/read。
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := storage.ParseID(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, "无效的通知 ID", http.StatusBadRequest)
		return
	}
	notification, err := h.NotificationService.MarkRead(r.Context(), actor.ID, id)
	if err != nil {
		writeServiceError(w, h.logger, "标记通知已读", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, notification)
}

// MarkAllRead 处理 PUT /api/notifications/read-all。
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if _, err := h.NotificationService.MarkAllRead(r.Context(), actor.ID); err != nil {
		writeServiceError(w, h.logger, "标记全部通知已读", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, MessageResponse{Message: "All notifications marked as read"})
}

// Delete 处理 DELETE /api/notifications/{id}。
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := storage.ParseID(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, "无效的通知 ID", http.StatusBadRequest)
		return
	}
	if err := h.NotificationService.Delete(r.Context(), actor.ID, id); err != nil {
		writeServiceError(w, h.logger, "删除通知", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, MessageResponse{Message: "Notification deleted"})
}
