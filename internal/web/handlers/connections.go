package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/znz-systems/solebook/internal/auth"
	"github.com/znz-systems/solebook/internal/connection"
	"github.com/znz-systems/solebook/internal/models"
)

type ConnectionService interface {
	Get(ctx context.Context, id auth.Identity) (*models.EmailConnection, error)
	Upsert(ctx context.Context, id auth.Identity, in connection.Input) (*models.EmailConnection, error)
	Delete(ctx context.Context, id auth.Identity) error
}

type ConnectionHandler struct {
	connections ConnectionService
}

func NewConnectionHandler(connections ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connections: connections}
}

// connectionView never carries the sealed credential.
type connectionView struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	Host        string     `json:"host"`
	Port        int        `json:"port"`
	IsActive    bool       `json:"isActive"`
	LastCheckAt *time.Time `json:"lastCheckAt"`
	LastError   *string    `json:"lastError"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func newConnectionView(c *models.EmailConnection) connectionView {
	return connectionView{
		ID:          c.ID,
		Email:       c.Email,
		Host:        c.Host,
		Port:        c.Port,
		IsActive:    c.IsActive,
		LastCheckAt: c.LastCheckAt,
		LastError:   c.LastError,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func (h *ConnectionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	conn, err := h.connections.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, connection.ErrConnectionNotFound) {
			writeJSON(w, http.StatusNotFound, jsonResponse{Error: "no email connection"})
			return
		}
		internalError(w, "failed to load email connection", "user_id", id.UserID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, newConnectionView(conn))
}

func (h *ConnectionHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var in connection.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	conn, err := h.connections.Upsert(r.Context(), id, in)
	if err != nil {
		if errors.Is(err, connection.ErrInvalidConnection) {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
			return
		}
		internalError(w, "failed to save email connection", "user_id", id.UserID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, newConnectionView(conn))
}

func (h *ConnectionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.connections.Delete(r.Context(), id); err != nil {
		if errors.Is(err, connection.ErrConnectionNotFound) {
			writeJSON(w, http.StatusNotFound, jsonResponse{Error: "no email connection"})
			return
		}
		internalError(w, "failed to delete email connection", "user_id", id.UserID, "error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
