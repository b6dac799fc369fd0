package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	GetPosition(ctx context.Context, marketID uint64, bettor common.Address) (domain.Position, error)
	Claim(ctx context.Context, bettor common.Address, marketID uint64) error
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// positionResponse is the wire form of a position. The per-side amounts are
// opaque ciphertext handles; only the bettor can open them through the
// confidential ACL, never through this API.
type positionResponse struct {
	MarketID    uint64     `json:"market_id"`
	Bettor      string     `json:"bettor"`
	YesAmount   string     `json:"yes_amount"`
	NoAmount    string     `json:"no_amount"`
	HasPosition string     `json:"has_position"`
	Claimed     bool       `json:"claimed"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
}

// GetPosition returns a bettor's sealed position on a market.
// GET /api/markets/{id}/positions/{bettor}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	bettor, ok := parseAddress(pathParam(r, "bettor"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bettor address")
		return
	}

	pos, err := h.positions.GetPosition(r.Context(), id, bettor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, positionResponse{
		MarketID:    pos.MarketID,
		Bettor:      pos.Bettor.Hex(),
		YesAmount:   pos.YesAmount.Hex(),
		NoAmount:    pos.NoAmount.Hex(),
		HasPosition: pos.HasPosition.Hex(),
		Claimed:     pos.Claimed,
		ClaimedAt:   pos.ClaimedAt,
	})
}

// claimRequest is the JSON body for a claim.
type claimRequest struct {
	Bettor string `json:"bettor"`
}

// Claim pays out a bettor's winnings on a resolved market.
// POST /api/markets/{id}/claim
func (h *PositionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	bettor, ok := parseAddress(req.Bettor)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bettor address")
		return
	}

	if err := h.positions.Claim(r.Context(), bettor, id); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: claim failed",
			slog.Uint64("market_id", id),
			slog.String("bettor", bettor.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "claimed",
		"market_id": id,
	})
}
