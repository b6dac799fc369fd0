package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/engine"
)

// BetHandler serves the sealed-bet endpoint.
type BetHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(markets MarketService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		markets: markets,
		logger:  logger,
	}
}

// placeBetRequest carries a sealed bet: two ciphertext handles plus the
// bettor's attestations binding each handle to this deployment. Amounts never
// appear in the request.
type placeBetRequest struct {
	Bettor            string `json:"bettor"`
	Amount            string `json:"amount"`
	AmountAttestation string `json:"amount_attestation"`
	Side              string `json:"side"`
	SideAttestation   string `json:"side_attestation"`
}

// PlaceBet records a sealed bet on a market.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req placeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bettor, ok := parseAddress(req.Bettor)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bettor address")
		return
	}
	amount := conf.HandleFromHex(req.Amount)
	side := conf.HandleFromHex(req.Side)
	if amount.IsZero() || side.IsZero() {
		writeError(w, http.StatusBadRequest, "amount and side must be ciphertext handles")
		return
	}

	err := h.markets.PlaceBet(r.Context(), engine.BetRequest{
		MarketID:          id,
		Bettor:            bettor,
		Amount:            amount,
		AmountAttestation: common.FromHex(req.AmountAttestation),
		Side:              side,
		SideAttestation:   common.FromHex(req.SideAttestation),
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: place bet failed",
			slog.Uint64("market_id", id),
			slog.String("bettor", bettor.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"market_id": id,
	})
}
