package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketengine/internal/service"
)

// HistoryHandler serves the persisted record, which outlives restarts of
// the in-memory engine.
type HistoryHandler struct {
	svc    *service.HistoryService
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(svc *service.HistoryService, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{svc: svc, logger: logHandler(logger, "history")}
}

// ListingsBySeller handles GET /api/history/listings?seller=0x..
func (h *HistoryHandler) ListingsBySeller(w http.ResponseWriter, r *http.Request) {
	seller, err := parseAddress(r.URL.Query().Get("seller"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.ListingsBySeller(r.Context(), seller, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// AuctionsBySeller handles GET /api/history/auctions?seller=0x..
func (h *HistoryHandler) AuctionsBySeller(w http.ResponseWriter, r *http.Request) {
	seller, err := parseAddress(r.URL.Query().Get("seller"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.AuctionsBySeller(r.Context(), seller, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// OffersByOfferer handles GET /api/history/offers?offerer=0x..
func (h *HistoryHandler) OffersByOfferer(w http.ResponseWriter, r *http.Request) {
	offerer, err := parseAddress(r.URL.Query().Get("offerer"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.OffersByOfferer(r.Context(), offerer, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Withdrawals handles GET /api/history/withdrawals/{account}.
func (h *HistoryHandler) Withdrawals(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "account")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.Withdrawals(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Audit handles GET /api/audit?offset=&limit=.
func (h *HistoryHandler) Audit(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Audit(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
