package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/patrickmn/go-cache"
	"github.com/raulk/clock"

	"github.com/alanyoungcy/marketengine/internal/crypto"
)

const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"

	maxSignedBody = 1 << 20
)

// SignatureConfig configures the Signatures middleware.
type SignatureConfig struct {
	Domain  crypto.Domain
	MaxSkew time.Duration
	Clock   clock.Clock
}

type callerKey struct{}

type signedCaller struct {
	addr   common.Address
	signed bool
}

// VerifiedCaller returns the account whose signature was verified for the
// request. enforced is false when the Signatures middleware did not see
// the request; signed is false when the body named no caller.
func VerifiedCaller(ctx context.Context) (addr common.Address, signed, enforced bool) {
	c, ok := ctx.Value(callerKey{}).(signedCaller)
	if !ok {
		return common.Address{}, false, false
	}
	return c.addr, c.signed, true
}

// Signatures returns middleware that requires every POST or PUT body naming
// a "from" caller to carry an EIP-712 signature by that caller in the
// X-Signature header, over the body, method, path and the unix time in
// X-Timestamp. Each signature is accepted once. A body must be exactly one
// JSON object. Bodies without a "from" field pass through unsigned, and the
// handler sees through VerifiedCaller that nobody was verified.
func Signatures(cfg SignatureConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	seen := cache.New(2*cfg.MaxSkew, 4*cfg.MaxSkew)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			_ = r.Body.Close()
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "read body: "+err.Error())
				return
			}
			if len(body) > maxSignedBody {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			from, ok, err := callerOf(body)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
				return
			}
			if !ok {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, signedCaller{})))
				return
			}

			sig := r.Header.Get(SignatureHeader)
			if sig == "" {
				writeUnauthorized(w, "missing request signature")
				return
			}
			ts, err := strconv.ParseInt(r.Header.Get(TimestampHeader), 10, 64)
			if err != nil {
				writeUnauthorized(w, "missing or invalid request timestamp")
				return
			}
			skew := cfg.Clock.Now().Sub(time.Unix(ts, 0))
			if skew > cfg.MaxSkew || skew < -cfg.MaxSkew {
				writeUnauthorized(w, "request timestamp outside allowed window")
				return
			}

			call := crypto.Call{
				From:      from,
				Method:    r.Method,
				Path:      r.URL.Path,
				Body:      body,
				Timestamp: ts,
			}
			if err := cfg.Domain.Verify(call, sig); err != nil {
				logger.WarnContext(r.Context(), "rejected request signature",
					slog.String("path", r.URL.Path),
					slog.String("from", from.Hex()),
					slog.String("error", err.Error()),
				)
				msg := "invalid request signature"
				if errors.Is(err, crypto.ErrSignerMismatch) {
					msg = "signature does not match caller"
				}
				writeUnauthorized(w, msg)
				return
			}
			if err := seen.Add(sig, struct{}{}, cache.DefaultExpiration); err != nil {
				writeUnauthorized(w, "request signature already used")
				return
			}

			ctx := context.WithValue(r.Context(), callerKey{}, signedCaller{addr: from, signed: true})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// callerOf extracts the "from" address of a JSON body. The body must hold
// a single JSON value and nothing after it; an empty body names no caller.
func callerOf(body []byte) (common.Address, bool, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return common.Address{}, false, nil
	}
	var head struct {
		From *string `json:"from"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&head); err != nil {
		return common.Address{}, false, err
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return common.Address{}, false, errors.New("unexpected data after JSON value")
	}
	if head.From == nil {
		return common.Address{}, false, nil
	}
	if !common.IsHexAddress(*head.From) {
		return common.Address{}, false, fmt.Errorf("from %q is not an address", *head.From)
	}
	return common.HexToAddress(*head.From), true, nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}
