package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/server/middleware"
)

// maxBodyBytes caps request bodies; batch calls are the largest.
const maxBodyBytes = 1 << 20

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

// statusFor maps an engine or service error to an HTTP status by its kind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindState:
		return http.StatusConflict
	case domain.KindPayment:
		return http.StatusPaymentRequired
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with the status for its kind, including the
// kind in the body so clients can branch without parsing messages.
// Internal errors are logged and not echoed.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal server error")
		return
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(domain.KindOf(err)),
	})
}

// decodeJSON reads a size-limited JSON body into v, rejecting unknown fields
// and anything after the first JSON value.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid request body: unexpected data after JSON value")
	}
	return nil
}

// callRequest identifies the caller of a mutating operation. Amounts are
// decimal or 0x-prefixed hex, quoted or bare.
type callRequest struct {
	From  common.Address        `json:"from"`
	Value *math.HexOrDecimal256 `json:"value,omitempty"`
}

func (c callRequest) call() (domain.Call, error) {
	if c.From == (common.Address{}) {
		return domain.Call{}, fmt.Errorf("from: %w", domain.ErrInvalidAddress)
	}
	return domain.Call{From: c.From, Value: bigOf(c.Value)}, nil
}

// caller is a request body that names the caller of an operation.
type caller interface {
	call() (domain.Call, error)
}

// decodeCall decodes the body into req and returns the caller it names. On
// failure the error response has already been written.
func decodeCall(w http.ResponseWriter, r *http.Request, logger *slog.Logger, req caller) (domain.Call, bool) {
	if err := decodeJSON(w, r, req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.Call{}, false
	}
	call, err := req.call()
	if err == nil {
		err = checkSigner(r, call)
	}
	if err != nil {
		writeServiceError(w, r, logger, err)
		return domain.Call{}, false
	}
	return call, true
}

// checkSigner rejects a call whose caller differs from the account that
// signed the request, when request signatures are enforced.
func checkSigner(r *http.Request, call domain.Call) error {
	signer, signed, enforced := middleware.VerifiedCaller(r.Context())
	if !enforced {
		return nil
	}
	if !signed || signer != call.From {
		return fmt.Errorf("caller %s did not sign the request: %w", call.From.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// bigOf converts an optional decoded amount. A missing amount is nil.
func bigOf(v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set((*big.Int)(v))
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

// pathID parses the {id} path segment.
func pathID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// pathAddress parses a named address path segment.
func pathAddress(r *http.Request, name string) (common.Address, error) {
	return parseAddress(r.PathValue(name))
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("address %q: %w", raw, domain.ErrInvalidAddress)
	}
	return common.HexToAddress(raw), nil
}

// parseIDs parses a comma-separated id list such as "1,2,3". An empty
// string yields nil.
func parseIDs(raw string) ([]uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
