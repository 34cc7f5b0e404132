package handler

import (
	"net/http"

	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/repository"
)

const maxNotificationPage = 100

type NotificationHandler struct {
	notifRepo *repository.NotificationRepository
}

func NewNotificationHandler(notifRepo *repository.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{notifRepo: notifRepo}
}

// ListUnread returns the caller's unread notifications, newest first.
// GET /api/notifications?limit=50
func (h *NotificationHandler) ListUnread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > maxNotificationPage {
		limit = 50
	}
	notifs, err := h.notifRepo.ListUnread(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, notifs)
}
