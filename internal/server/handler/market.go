package handler

import (
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/service"
)

// MarketHandler serves listing, auction, offer and withdrawal endpoints.
type MarketHandler struct {
	svc    *service.MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(svc *service.MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{svc: svc, logger: logHandler(logger, "market")}
}

// itemBody is the shared shape of a listing, auction or offer to create.
// For auctions Price is the start price.
type itemBody struct {
	Collection      common.Address        `json:"collection"`
	AssetID         *math.HexOrDecimal256 `json:"asset_id"`
	PaymentMethod   domain.PaymentMethod  `json:"payment_method"`
	Price           *math.HexOrDecimal256 `json:"price"`
	DurationSeconds int64                 `json:"duration_seconds"`
}

func (b itemBody) params() domain.ListingParams {
	return domain.ListingParams{
		Collection:    b.Collection,
		AssetID:       bigOf(b.AssetID),
		PaymentMethod: b.PaymentMethod,
		Price:         bigOf(b.Price),
		Duration:      time.Duration(b.DurationSeconds) * time.Second,
	}
}

type createRequest struct {
	callRequest
	itemBody
}

type batchCreateRequest struct {
	callRequest
	Items []itemBody `json:"items"`
}

type batchIDsRequest struct {
	callRequest
	IDs []uint64 `json:"ids"`
}

type batchPricesRequest struct {
	callRequest
	IDs    []uint64                `json:"ids"`
	Prices []*math.HexOrDecimal256 `json:"prices"`
}

type priceRequest struct {
	callRequest
	Price *math.HexOrDecimal256 `json:"price"`
}

type bidRequest struct {
	callRequest
	Amount *math.HexOrDecimal256 `json:"amount"`
}

type withdrawRequest struct {
	callRequest
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
}

func (h *MarketHandler) decodeCall(w http.ResponseWriter, r *http.Request, req caller) (domain.Call, bool) {
	return decodeCall(w, r, h.logger, req)
}

// decodeIDCall is decodeCall for routes carrying an {id} segment.
func (h *MarketHandler) decodeIDCall(w http.ResponseWriter, r *http.Request, req caller) (uint64, domain.Call, bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, domain.Call{}, false
	}
	call, ok := h.decodeCall(w, r, req)
	return id, call, ok
}

// pageIDs resolves the ids of a list request: the explicit ?ids= list, or
// the window [offset+1, offset+limit] of all ids issued so far.
func pageIDs(r *http.Request, issued uint64) ([]uint64, int, int, error) {
	opts := parseListOpts(r)
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		return nil, 0, 0, err
	}
	if ids != nil {
		return ids, opts.Offset, opts.Limit, nil
	}
	for id := uint64(opts.Offset) + 1; id <= issued && len(ids) < opts.Limit; id++ {
		ids = append(ids, id)
	}
	return ids, 0, len(ids), nil
}

// --- listings ---

// CreateListing handles POST /api/listings.
func (h *MarketHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	call, ok := h.decodeCall(w, r, &req)
	if !ok {
		return
	}
	id, err := h.svc.CreateListing(r.Context(), call, req.params())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// BatchCreateListings handles POST /api/listings/batch.
func (h *MarketHandler) BatchCreateListings(w http.ResponseWriter, r *http.Request) {
	var req batchCreateRequest
	call, ok := h.decodeCall(w, r, &req)
	if !ok {
		return
	}
	params := make([]domain.ListingParams, len(req.Items))
	for i, it := range req.Items {
		params[i] = it.params()
	}
	ids, err := h.svc.BatchCreateListings(r.Context(), call, params)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}

// BatchCancelListings handles POST /api/listings/batch/cancel.
func (h *MarketHandler) BatchCancelListings(w http.ResponseWriter, r *http.Request) {
	var req batchIDsRequest
	call, ok := h.decodeCall(w, r, &req)
	if !ok {
		return
	}
	if err := h.svc.BatchCancelListings(r.Context(), call, req.IDs); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BatchUpdatePrices handles PUT /api/listings/batch/prices.
func (h *MarketHandler) BatchUpdatePrices(w http.ResponseWriter, r *http.Request) {
	var req batchPricesRequest
	call, ok := h.decodeCall(w, r, &req)
	if !ok {
		return
	}
	prices := make([]*big.Int, len(req.Prices))
	for i, p := range req.Prices {
		prices[i] = bigOf(p)
	}
	if err := h.svc.BatchUpdatePrices(r.Context(), call, req.IDs, prices); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BuyListing handles POST /api/listings/{id}/buy.
func (h *MarketHandler) BuyListing(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	id, call, ok := h.decodeIDCall(w, r, &req)
	if !ok {
		return
	}
	s, err := h.svc.BuyListing(r.Context(), call, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// CancelListing handles POST /api/listings/{id}/cancel.
func (h *MarketHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	id, call, ok := h.decodeIDCall(w, r, &req)
	if !ok {
		return
	}
	if err := h.svc.CancelListing(r.Context(), call, id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateListingPrice handles PUT /api/listings/{id}/price.
func (h *MarketHandler) UpdateListingPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	id, call, ok := h.decodeIDCall(w, r, &req)
	if !ok {
		return
	}
	if err := h.svc.UpdateListing(r.Context(), call, id, bigOf(req.Price)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetListing handles GET /api/listings/{id}.
func (h *MarketHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := h.svc.Listing(id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// ListListings handles GET /api/listings?ids=&offset=&limit=.
func (h *MarketHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	ids, offset, limit, err := pageIDs(r, h.svc.Status().Stats.Listings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Listings(ids, offset, limit))
}

// --- auctions ---

// CreateAuction handles POST /api/auctions. The price field is the start
// price.
func (h *MarketHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	call, ok := h.decodeCall(w, r, &req)
	if !ok {
		return
	}
	id, err := h.svc.CreateAuction(r.Context(), call, req.params())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// PlaceBid handles POST /api/auctions/{id}/bid.
func (h *MarketHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	id, call, ok := h.decodeIDCall(w, r, &req)
	if !ok {
		return
	}
	if err := h.svc.PlaceBid(r.Context(), call, id, bigOf(req.Amount)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FinalizeAuction handles POST /api/auctions/{id}/finalize.
func (h *MarketHandler) FinalizeAuction(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	id, call, ok := h.decodeIDCall(w, r, &req)
	if !ok {
		return
	}
	if err := h.svc.FinalizeAuction(r.Context(), call, id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelAuction handles POST /api/auctions/{id}/cancel.
func (h *MarketHandler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	id, call, ok := h.decodeIDCall(w, r, &req)
	if !ok {
		return
	}
	if err := h.svc.CancelAuction(r.Context(), call, id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAuction handles GET /api/auctions/{id}. Active auctions include the
// minimum acceptable next bid.
func (h *MarketHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.svc.Auction(id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	resp := struct {
		domain.Auction
		MinimumBid *big.Int `json:"minimum_bid,omitempty"`
	}{Auction: a}
	if a.IsActive() {
		if minBid, err := h.svc.MinimumBid(id); err == nil {
			resp.MinimumBid = minBid
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListAuctions handles GET /api/auctions?ids=&offset=&limit=.
func (h *MarketHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	ids, offset, limit, err := pageIDs(r, h.svc.Status().Stats.Auctions)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Auctions(ids, offset, limit))
}

// EndedAuctions handles GET /api/auctions/ended?limit=. It lists active
// auctions past their end time, which is what a remote keeper polls.
func (h *MarketHandler) EndedAuctions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.EndedAuctions(r.Context(), parseListOpts(r).Limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

// --- offers ---

// CreateOffer handles POST /api/offers. Native offers escrow the attached
// value, which must equal the price.
func (h *MarketHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	call, ok := h.decodeCall(w, r, &req)
	if !ok {
		return
	}
	id, err := h.svc.CreateOffer(r.Context(), call, req.params())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// AcceptOffer handles POST /api/offers/{id}/accept.
func (h *MarketHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	id, call, ok := h.decodeIDCall(w, r, &req)
	if !ok {
		return
	}
	s, err := h.svc.AcceptOffer(r.Context(), call, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// CancelOffer handles POST /api/offers/{id}/cancel.
func (h *MarketHandler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	id, call, ok := h.decodeIDCall(w, r, &req)
	if !ok {
		return
	}
	if err := h.svc.CancelOffer(r.Context(), call, id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetOffer handles GET /api/offers/{id}.
func (h *MarketHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.svc.Offer(id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOffers handles GET /api/offers?ids=&offset=&limit=.
func (h *MarketHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	ids, offset, limit, err := pageIDs(r, h.svc.Status().Stats.Offers)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Offers(ids, offset, limit))
}

// --- withdrawals ---

// Withdraw handles POST /api/withdrawals.
func (h *MarketHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	call, ok := h.decodeCall(w, r, &req)
	if !ok {
		return
	}
	amount, err := h.svc.Withdraw(r.Context(), call, req.PaymentMethod)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payment_method": req.PaymentMethod,
		"amount":         amount,
	})
}

// PendingWithdrawals handles GET /api/withdrawals/{account}.
func (h *MarketHandler) PendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "account")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.PendingWithdrawals(account))
}
