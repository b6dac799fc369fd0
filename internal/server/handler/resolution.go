package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/domain"
	"github.com/veilbet/veilbet/internal/threshold"
)

// ResolutionService defines the lifecycle methods the resolution handler
// requires from the service layer.
type ResolutionService interface {
	Lock(ctx context.Context, caller common.Address, marketID uint64) error
	RequestResolution(ctx context.Context, caller common.Address, marketID uint64) error
	SubmitDecryptedTotals(ctx context.Context, caller common.Address, marketID uint64, proof threshold.DecryptionProof) error
	SetResolution(ctx context.Context, caller common.Address, marketID uint64, outcome domain.Outcome) error
}

// ResolutionHandler serves the market lifecycle endpoints: lock, resolution
// request, proof submission, and outcome.
type ResolutionHandler struct {
	resolution ResolutionService
	logger     *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler with the given service and
// logger.
func NewResolutionHandler(resolution ResolutionService, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		resolution: resolution,
		logger:     logger,
	}
}

// callerRequest is the JSON body for lifecycle transitions that carry no
// payload beyond the acting address.
type callerRequest struct {
	Caller string `json:"caller"`
}

// Lock closes betting on a market whose deadline has passed.
// POST /api/markets/{id}/lock
func (h *ResolutionHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "lock", h.resolution.Lock)
}

// RequestResolution starts the decryption phase for a locked market.
// POST /api/markets/{id}/resolution/request
func (h *ResolutionHandler) RequestResolution(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "request_resolution", h.resolution.RequestResolution)
}

// transition runs a caller-only lifecycle step shared by Lock and
// RequestResolution.
func (h *ResolutionHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	fn func(ctx context.Context, caller common.Address, marketID uint64) error,
) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := fn(r.Context(), caller, id); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: lifecycle transition failed",
			slog.String("transition", name),
			slog.Uint64("market_id", id),
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    name,
		"market_id": id,
	})
}

// submitTotalsRequest is the JSON body for decryption-proof submission.
type submitTotalsRequest struct {
	Caller string                    `json:"caller"`
	Proof  threshold.DecryptionProof `json:"proof"`
}

// SubmitDecryptedTotals commits the revealed pool totals under a threshold
// decryption proof.
// POST /api/markets/{id}/resolution/totals
func (h *ResolutionHandler) SubmitDecryptedTotals(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req submitTotalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := h.resolution.SubmitDecryptedTotals(r.Context(), caller, id, req.Proof); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: submit totals failed",
			slog.Uint64("market_id", id),
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "totals_revealed",
		"market_id": id,
	})
}

// setOutcomeRequest is the JSON body for the final outcome.
type setOutcomeRequest struct {
	Caller  string `json:"caller"`
	Outcome string `json:"outcome"`
}

// SetResolution records the market's final outcome.
// POST /api/markets/{id}/resolution/outcome
func (h *ResolutionHandler) SetResolution(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req setOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := h.resolution.SetResolution(r.Context(), caller, id, domain.Outcome(req.Outcome)); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: set outcome failed",
			slog.Uint64("market_id", id),
			slog.String("caller", caller.Hex()),
			slog.String("outcome", req.Outcome),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "outcome_set",
		"market_id": id,
		"outcome":   req.Outcome,
	})
}
