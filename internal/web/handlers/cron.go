package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/znz-systems/solebook/internal/poller"
	"github.com/znz-systems/solebook/internal/polllock"
)

type PollRunner interface {
	Run(ctx context.Context) (*poller.Result, error)
}

// CronHandler serves the scheduler-facing email check endpoint. The caller
// is authenticated by the cron secret middleware.
type CronHandler struct {
	poller PollRunner
	locker polllock.Locker
}

func NewCronHandler(p PollRunner, locker polllock.Locker) *CronHandler {
	if locker == nil {
		locker = polllock.NewLocalLocker()
	}
	return &CronHandler{poller: p, locker: locker}
}

func (h *CronHandler) HandleCheckEmails(w http.ResponseWriter, r *http.Request) {
	// The run is bounded by the poller's own deadline and should finish
	// even if the scheduler hangs up.
	ctx := context.WithoutCancel(r.Context())

	release, err := h.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, polllock.ErrLocked) {
			writeJSON(w, http.StatusConflict, jsonResponse{Error: "an email check is already running"})
			return
		}
		internalError(w, "failed to acquire poll lock", "error", err)
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			slog.Warn("failed to release poll lock", "error", err)
		}
	}()

	result, err := h.poller.Run(ctx)
	if err != nil {
		internalError(w, "email check failed", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
