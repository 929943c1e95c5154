package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/trigger"
)

type TriggerService interface {
	List(ctx context.Context, userID int64) ([]models.TriggerPhrase, error)
	Add(ctx context.Context, userID int64, phrase, label string) (*models.TriggerPhrase, error)
	Remove(ctx context.Context, userID int64, triggerID uuid.UUID) error
}

type TriggerHandler struct {
	triggers TriggerService
}

func NewTriggerHandler(triggers TriggerService) *TriggerHandler {
	return &TriggerHandler{triggers: triggers}
}

type triggerView struct {
	ID        uuid.UUID `json:"id"`
	Phrase    string    `json:"phrase"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

func newTriggerView(t models.TriggerPhrase) triggerView {
	return triggerView{ID: t.ID, Phrase: t.Phrase, Label: t.Label, CreatedAt: t.CreatedAt}
}

func (h *TriggerHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	phrases, err := h.triggers.List(r.Context(), id.UserID)
	if err != nil {
		internalError(w, "failed to list trigger phrases", "user_id", id.UserID, "error", err)
		return
	}
	items := make([]triggerView, 0, len(phrases))
	for _, p := range phrases {
		items = append(items, newTriggerView(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *TriggerHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var body struct {
		Phrase string `json:"phrase"`
		Label  string `json:"label"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	t, err := h.triggers.Add(r.Context(), id.UserID, body.Phrase, body.Label)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, newTriggerView(*t))
	case errors.Is(err, trigger.ErrInvalidPhrase), errors.Is(err, trigger.ErrLabelTooLong):
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
	case errors.Is(err, trigger.ErrDuplicateTrigger):
		writeJSON(w, http.StatusConflict, jsonResponse{Error: err.Error()})
	default:
		internalError(w, "failed to create trigger phrase", "user_id", id.UserID, "error", err)
	}
}

func (h *TriggerHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	triggerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "trigger phrase not found"})
		return
	}

	err = h.triggers.Remove(r.Context(), id.UserID, triggerID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, trigger.ErrTriggerNotFound):
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "trigger phrase not found"})
	default:
		internalError(w, "failed to delete trigger phrase", "user_id", id.UserID, "error", err)
	}
}
