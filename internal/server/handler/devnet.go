package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/service"
)

// DevnetHandler serves the faucet endpoints of the in-memory ledger. It is
// only registered when devnet mode is enabled.
type DevnetHandler struct {
	svc    *service.DevnetService
	logger *slog.Logger
}

// NewDevnetHandler creates a DevnetHandler.
func NewDevnetHandler(svc *service.DevnetService, logger *slog.Logger) *DevnetHandler {
	return &DevnetHandler{svc: svc, logger: logHandler(logger, "devnet")}
}

type fundRequest struct {
	Account common.Address        `json:"account"`
	Amount  *math.HexOrDecimal256 `json:"amount"`
}

type mintTokenRequest struct {
	Token   common.Address        `json:"token"`
	Account common.Address        `json:"account"`
	Amount  *math.HexOrDecimal256 `json:"amount"`
}

type approveTokenRequest struct {
	Token   common.Address        `json:"token"`
	Owner   common.Address        `json:"owner"`
	Spender common.Address        `json:"spender"`
	Amount  *math.HexOrDecimal256 `json:"amount"`
}

type mintAssetRequest struct {
	Collection common.Address        `json:"collection"`
	AssetID    *math.HexOrDecimal256 `json:"asset_id"`
	Owner      common.Address        `json:"owner"`
}

type operatorRequest struct {
	Collection common.Address `json:"collection"`
	Owner      common.Address `json:"owner"`
	Operator   common.Address `json:"operator"`
	Approved   bool           `json:"approved"`
}

type royaltyRequest struct {
	Collection common.Address `json:"collection"`
	Receiver   common.Address `json:"receiver"`
	Bps        uint64         `json:"bps"`
}

// writeDevnetError maps ledger errors, which carry no engine kind.
func (h *DevnetHandler) writeDevnetError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chain.ErrUnknownAsset), errors.Is(err, chain.ErrUnknownToken):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chain.ErrAssetExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeServiceError(w, r, h.logger, err)
	}
}

func (h *DevnetHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(w, r, v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// Fund handles POST /api/devnet/fund.
func (h *DevnetHandler) Fund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Fund(r.Context(), req.Account, bigOf(req.Amount)); err != nil {
		h.writeDevnetError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MintToken handles POST /api/devnet/tokens/mint.
func (h *DevnetHandler) MintToken(w http.ResponseWriter, r *http.Request) {
	var req mintTokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.MintToken(r.Context(), req.Token, req.Account, bigOf(req.Amount)); err != nil {
		h.writeDevnetError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApproveToken handles POST /api/devnet/tokens/approve.
func (h *DevnetHandler) ApproveToken(w http.ResponseWriter, r *http.Request) {
	var req approveTokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ApproveToken(r.Context(), req.Token, req.Owner, req.Spender, bigOf(req.Amount)); err != nil {
		h.writeDevnetError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MintAsset handles POST /api/devnet/assets/mint.
func (h *DevnetHandler) MintAsset(w http.ResponseWriter, r *http.Request) {
	var req mintAssetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.MintAsset(r.Context(), req.Collection, bigOf(req.AssetID), req.Owner); err != nil {
		h.writeDevnetError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetOperator handles POST /api/devnet/operators.
func (h *DevnetHandler) SetOperator(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SetOperator(r.Context(), req.Collection, req.Owner, req.Operator, req.Approved); err != nil {
		h.writeDevnetError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetRoyalty handles POST /api/devnet/royalties.
func (h *DevnetHandler) SetRoyalty(w http.ResponseWriter, r *http.Request) {
	var req royaltyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SetRoyalty(r.Context(), req.Collection, req.Receiver, req.Bps); err != nil {
		h.writeDevnetError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Balances handles GET /api/devnet/balances/{account}?tokens=0x..,0x..
func (h *DevnetHandler) Balances(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "account")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	var tokens []common.Address
	if raw := r.URL.Query().Get("tokens"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			addr, err := parseAddress(strings.TrimSpace(t))
			if err != nil {
				writeServiceError(w, r, h.logger, err)
				return
			}
			tokens = append(tokens, addr)
		}
	}
	writeJSON(w, http.StatusOK, h.svc.Balances(account, tokens))
}

// OwnerOf handles GET /api/devnet/owner?collection=0x..&asset_id=N.
func (h *DevnetHandler) OwnerOf(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	collection, err := parseAddress(q.Get("collection"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	assetID, ok := math.ParseBig256(q.Get("asset_id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset_id")
		return
	}
	owner, err := h.svc.OwnerOf(r.Context(), collection, assetID)
	if err != nil {
		h.writeDevnetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collection": collection,
		"asset_id":   assetID,
		"owner":      owner,
	})
}
