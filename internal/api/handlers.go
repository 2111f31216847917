package api

import (
	"context"
	"encoding/json"
	"net/http"

	"melding/internal/config"
	"melding/internal/types"
)

// CandidateProcessor is the batch entry point of the orchestrator.
type CandidateProcessor interface {
	ProcessCandidates(ctx context.Context, resourceIDs []string) error
}

// Handler holds the dependencies of the intake endpoints.
type Handler struct {
	processor CandidateProcessor
	intake    config.IntakeConfig
	logger    types.Logger

	// baseCtx drives the background batch processing kicked off by
	// HandleSubmitPublication; request contexts die with the response.
	baseCtx context.Context
}

// NewHandler creates the intake handler. Batches started by the handler run
// under baseCtx, which should live as long as the process.
func NewHandler(baseCtx context.Context, processor CandidateProcessor, intake config.IntakeConfig, logger types.Logger) *Handler {
	return &Handler{
		processor: processor,
		intake:    intake,
		logger:    logger,
		baseCtx:   baseCtx,
	}
}

// HandleWelcome answers the root path with a service banner.
func (h *Handler) HandleWelcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the decision publication melding service",
	})
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSubmitPublication receives a delta change notification, extracts the
// newly published resource ids, and starts a processing batch in the
// background. The response does not wait for the batch: the upstream
// delta notifier treats anything slow as a delivery failure and the
// reconciliation sweep covers batches lost to a crash after acknowledgment.
func (h *Handler) HandleSubmitPublication(w http.ResponseWriter, r *http.Request) {
	var delta []Changeset
	if err := json.NewDecoder(r.Body).Decode(&delta); err != nil {
		h.logger.Warn("rejected malformed delta message", "error", err)
		appErr := types.NewAppError(types.ErrCodeValidationBadDelta, "request body is not a valid delta message", err)
		writeJSON(w, appErr.HTTPStatus(), appErr)
		return
	}

	ids := PublishedResources(delta, h.intake)
	h.logger.Info("delta message received",
		"changesets", len(delta),
		"published_resources", len(ids),
	)

	if len(ids) > 0 {
		go func() {
			if err := h.processor.ProcessCandidates(h.baseCtx, ids); err != nil {
				h.logger.Error("batch processing failed", "error", err)
			}
		}()
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Started."})
}

// writeJSON serializes v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
