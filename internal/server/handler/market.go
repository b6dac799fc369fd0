package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/domain"
	"github.com/veilbet/veilbet/internal/engine"
	"github.com/veilbet/veilbet/internal/validate"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, creator common.Address, p validate.MarketParams) (domain.Market, error)
	PlaceBet(ctx context.Context, req engine.BetRequest) error
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	ListMarkets(ctx context.Context) []domain.Market
	Count(ctx context.Context) (int64, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// marketResponse is the wire form of a market. Pool totals appear only once
// a verified decryption proof has revealed them; before that the response
// carries the opaque ciphertext handles.
type marketResponse struct {
	ID              uint64    `json:"id"`
	Question        string    `json:"question"`
	ImageURL        string    `json:"image_url,omitempty"`
	Category        string    `json:"category,omitempty"`
	Creator         string    `json:"creator"`
	Resolver        string    `json:"resolver"`
	CreatedAt       time.Time `json:"created_at"`
	BettingDeadline time.Time `json:"betting_deadline"`
	ResolutionTime  time.Time `json:"resolution_time"`
	State           string    `json:"state"`
	Outcome         string    `json:"outcome"`
	YesPool         string    `json:"yes_pool"`
	NoPool          string    `json:"no_pool"`
	TotalsRevealed  bool      `json:"totals_revealed"`
	YesTotal        *uint64   `json:"yes_total,omitempty"`
	NoTotal         *uint64   `json:"no_total,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toMarketResponse(m domain.Market) marketResponse {
	resp := marketResponse{
		ID:              m.ID,
		Question:        m.Question,
		ImageURL:        m.ImageURL,
		Category:        m.Category,
		Creator:         m.Creator.Hex(),
		Resolver:        m.Resolver.Hex(),
		CreatedAt:       m.CreatedAt,
		BettingDeadline: m.BettingDeadline,
		ResolutionTime:  m.ResolutionTime,
		State:           string(m.State),
		Outcome:         string(m.Outcome),
		YesPool:         m.YesPool.Hex(),
		NoPool:          m.NoPool.Hex(),
		TotalsRevealed:  m.TotalsRevealed,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.TotalsRevealed {
		yes, no := m.YesTotal, m.NoTotal
		resp.YesTotal = &yes
		resp.NoTotal = &no
	}
	return resp
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketResponse `json:"markets"`
	Total   int64            `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListMarkets returns markets with pagination, optionally filtered by state.
// GET /api/markets?state=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	stateFilter := r.URL.Query().Get("state")
	if stateFilter != "" && !domain.MarketState(stateFilter).Valid() {
		writeError(w, http.StatusBadRequest, "unknown state filter: "+stateFilter)
		return
	}

	all := h.markets.ListMarkets(r.Context())
	filtered := make([]marketResponse, 0, len(all))
	for _, m := range all {
		if stateFilter != "" && string(m.State) != stateFilter {
			continue
		}
		filtered = append(filtered, toMarketResponse(m))
	}
	total := int64(len(filtered))

	// Apply pagination over the filtered slice.
	lo := opts.Offset
	if lo > len(filtered) {
		lo = len(filtered)
	}
	hi := lo + opts.Limit
	if hi > len(filtered) {
		hi = len(filtered)
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: filtered[lo:hi],
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMarketResponse(market))
}

// createMarketRequest is the JSON body for market creation.
type createMarketRequest struct {
	Creator         string    `json:"creator"`
	Question        string    `json:"question"`
	ImageURL        string    `json:"image_url"`
	Category        string    `json:"category"`
	Resolver        string    `json:"resolver"`
	BettingDeadline time.Time `json:"betting_deadline"`
	ResolutionTime  time.Time `json:"resolution_time"`
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	creator, ok := parseAddress(req.Creator)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid creator address")
		return
	}
	resolver, ok := parseAddress(req.Resolver)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid resolver address")
		return
	}

	market, err := h.markets.CreateMarket(r.Context(), creator, validate.MarketParams{
		Question:        req.Question,
		ImageURL:        req.ImageURL,
		Category:        req.Category,
		Resolver:        resolver,
		BettingDeadline: req.BettingDeadline,
		ResolutionTime:  req.ResolutionTime,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create market failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMarketResponse(market))
}
