package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/service"
)

// AdminHandler serves owner-only engine configuration and the archive
// controls. Ownership is enforced by the engine, not here.
type AdminHandler struct {
	svc      *service.MarketService
	archive  *service.ArchiveService
	archives domain.BlobReader
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler. archive and archives may be nil
// when cold storage is not configured.
func NewAdminHandler(svc *service.MarketService, archive *service.ArchiveService, archives domain.BlobReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, archive: archive, archives: archives, logger: logHandler(logger, "admin")}
}

type feeRequest struct {
	callRequest
	FeeBps uint64 `json:"fee_bps"`
}

type feeRecipientRequest struct {
	callRequest
	Recipient common.Address `json:"recipient"`
}

type paymentMethodRequest struct {
	callRequest
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	Supported     bool                 `json:"supported"`
}

func (h *AdminHandler) decodeCall(w http.ResponseWriter, r *http.Request, req caller) (domain.Call, bool) {
	return decodeCall(w, r, h.logger, req)
}

// SetFee handles PUT /api/admin/fee.
func (h *AdminHandler) SetFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	call, ok := h.decodeCall(w, r, &req)
	if !ok {
		return
	}
	if err := h.svc.SetFeeRate(r.Context(), call, req.FeeBps); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetFeeRecipient handles PUT /api/admin/fee-recipient.
func (h *AdminHandler) SetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	var req feeRecipientRequest
	call, ok := h.decodeCall(w, r, &req)
	if !ok {
		return
	}
	if err := h.svc.SetFeeRecipient(r.Context(), call, req.Recipient); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPaymentMethod handles PUT /api/admin/payment-methods.
func (h *AdminHandler) SetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req paymentMethodRequest
	call, ok := h.decodeCall(w, r, &req)
	if !ok {
		return
	}
	if err := h.svc.SetPaymentMethod(r.Context(), call, req.PaymentMethod, req.Supported); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pause handles POST /api/admin/pause.
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	call, ok := h.decodeCall(w, r, &req)
	if !ok {
		return
	}
	if err := h.svc.Pause(r.Context(), call); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unpause handles POST /api/admin/unpause.
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	call, ok := h.decodeCall(w, r, &req)
	if !ok {
		return
	}
	if err := h.svc.Unpause(r.Context(), call); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunArchive handles POST /api/admin/archive. It runs synchronously and
// reports what each kind moved, including partial progress on failure.
func (h *AdminHandler) RunArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archiving is not configured")
		return
	}
	results, err := h.archive.Run(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "archive run failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "archive run incomplete",
			"results": results,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ListArchives handles GET /api/admin/archives?kind=listings.
func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "archiving is not configured")
		return
	}
	prefix := "archive/"
	if kind := strings.Trim(r.URL.Query().Get("kind"), "/"); kind != "" {
		prefix += kind + "/"
	}
	objects, err := h.archives.List(r.Context(), prefix)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, objects)
}
