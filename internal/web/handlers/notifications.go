package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/notification"
)

type NotificationService interface {
	Active(ctx context.Context, userID int64) (notification.View, error)
	Dismiss(ctx context.Context, userID int64, ref models.NotificationRef) error
	DismissAll(ctx context.Context, userID int64) notification.DismissAllResult
	History(ctx context.Context, userID int64, limit int) ([]models.DismissalRecord, error)
}

type NotificationHandler struct {
	notifications NotificationService
}

func NewNotificationHandler(notifications NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	view, err := h.notifications.Active(r.Context(), id.UserID)
	if err != nil {
		internalError(w, "failed to load notifications", "user_id", id.UserID, "error", err)
		return
	}
	if view.Items == nil {
		view.Items = []notification.Item{}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *NotificationHandler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var ref models.NotificationRef
	if !decodeJSON(w, r, &ref) {
		return
	}

	err := h.notifications.Dismiss(r.Context(), id.UserID, ref)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, models.ErrInvalidRef):
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "kind must be stock, listing or email and sourceId is required"})
	case errors.Is(err, notification.ErrNotificationNotFound):
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "notification not found"})
	default:
		internalError(w, "failed to dismiss notification", "user_id", id.UserID, "ref", ref.String(), "error", err)
	}
}

type dismissAllResponse struct {
	RulesDismissed  int      `json:"rulesDismissed"`
	EmailsDismissed int      `json:"emailsDismissed"`
	Errors          []string `json:"errors,omitempty"`
}

// HandleDismissAll answers 207 when only one of the two stores was cleared.
func (h *NotificationHandler) HandleDismissAll(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	res := h.notifications.DismissAll(r.Context(), id.UserID)

	resp := dismissAllResponse{RulesDismissed: res.RulesDismissed, EmailsDismissed: res.EmailsDismissed}
	if res.RuleError != nil {
		resp.Errors = append(resp.Errors, "failed to dismiss inventory notifications")
	}
	if res.EmailError != nil {
		resp.Errors = append(resp.Errors, "failed to dismiss email notifications")
	}

	status := http.StatusOK
	switch {
	case res.Partial():
		status = http.StatusMultiStatus
	case res.Err() != nil:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

type dismissalView struct {
	ID              string                  `json:"id"`
	NotificationKey string                  `json:"notificationKey"`
	Type            models.NotificationType `json:"type"`
	Title           string                  `json:"title"`
	Subtitle        string                  `json:"subtitle"`
	Icon            string                  `json:"icon"`
	Severity        models.Severity         `json:"severity"`
	SourceItemID    string                  `json:"sourceItemId"`
	DismissedAt     time.Time               `json:"dismissedAt"`
}

func (h *NotificationHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	recs, err := h.notifications.History(r.Context(), id.UserID, limit)
	if err != nil {
		internalError(w, "failed to load dismissal history", "user_id", id.UserID, "error", err)
		return
	}

	items := make([]dismissalView, 0, len(recs))
	for _, rec := range recs {
		items = append(items, dismissalView{
			ID:              rec.ID.String(),
			NotificationKey: rec.NotificationKey,
			Type:            rec.Type,
			Title:           rec.Title,
			Subtitle:        rec.Subtitle,
			Icon:            rec.Icon,
			Severity:        rec.Severity,
			SourceItemID:    rec.SourceItemID,
			DismissedAt:     rec.DismissedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}
