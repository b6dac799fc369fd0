package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the engine's sentinel errors onto HTTP status codes
// and sends the mapped response. Unknown errors become an opaque 500; the
// caller is expected to have logged them already.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "caller not authorized for this operation")
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrReentrantCall),
		errors.Is(err, domain.ErrBettingClosed),
		errors.Is(err, domain.ErrDeadlineNotReached),
		errors.Is(err, domain.ErrTotalsNotRevealed),
		errors.Is(err, domain.ErrOutcomeNotSet):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrBadProof),
		errors.Is(err, domain.ErrProofMismatch):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrQuestionLength),
		errors.Is(err, domain.ErrDurationBounds),
		errors.Is(err, domain.ErrZeroResolver),
		errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, conf.ErrBadAttestation),
		errors.Is(err, conf.ErrUnknownHandle):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// marketIDParam parses the {id} path parameter as a market ID.
func marketIDParam(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	return id, err == nil
}

// parseAddress validates and parses a hex Ethereum-style address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
