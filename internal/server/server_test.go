package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/cache/local"
	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/crypto"
	"github.com/alanyoungcy/marketengine/internal/market"
	"github.com/alanyoungcy/marketengine/internal/metrics"
	"github.com/alanyoungcy/marketengine/internal/server"
	"github.com/alanyoungcy/marketengine/internal/server/handler"
	"github.com/alanyoungcy/marketengine/internal/server/middleware"
	"github.com/alanyoungcy/marketengine/internal/service"
)

const apiKey = "test-key"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	t          *testing.T
	h          http.Handler
	ledger     *chain.Ledger
	owner      common.Address
	engineAddr common.Address
	collection common.Address
}

func newHarness(t *testing.T, cfg server.Config) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Add(1_000 * time.Hour)

	hs := &harness{
		t:          t,
		ledger:     chain.NewLedger(),
		owner:      chain.AccountFor("owner"),
		engineAddr: chain.AccountFor("engine"),
		collection: chain.AccountFor("collection"),
	}

	params := market.DefaultParams()
	params.Address = hs.engineAddr
	params.Owner = hs.owner
	params.FeeRecipient = chain.AccountFor("fees")
	eng, err := market.New(params, market.Backend{
		Assets:    hs.ledger,
		Native:    hs.ledger,
		Tokens:    hs.ledger.Tokens(),
		Royalties: hs.ledger,
		State:     hs.ledger,
	}, market.WithClock(clk), market.WithLogger(quiet))
	require.NoError(t, err)

	svc := service.NewMarketService(eng, nil, time.Second, quiet)
	devnet := service.NewDevnetService(svc, hs.ledger, quiet)

	cfg.APIKey = apiKey
	srv := server.NewServer(cfg, server.Handlers{
		Health: handler.NewHealthHandler(nil, quiet),
		Status: handler.NewStatusHandler("test", svc),
		Market: handler.NewMarketHandler(svc, quiet),
		Admin:  handler.NewAdminHandler(svc, nil, nil, quiet),
		Devnet: handler.NewDevnetHandler(devnet, quiet),
	}, server.Deps{
		Limiter: local.NewRateLimiter(time.Minute),
		Metrics: metrics.New(),
	}, quiet)
	hs.h = srv.Handler()
	return hs
}

func (hs *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	hs.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(hs.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("X-API-Key", apiKey)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed funds seller and buyer, mints asset 1 to seller and approves the
// engine for it.
func (hs *harness) seed(seller, buyer common.Address) {
	hs.t.Helper()
	for _, acct := range []common.Address{seller, buyer} {
		rec := hs.do(http.MethodPost, "/api/devnet/fund", map[string]any{"account": acct, "amount": "1000"})
		require.Equal(hs.t, http.StatusNoContent, rec.Code, rec.Body.String())
	}
	rec := hs.do(http.MethodPost, "/api/devnet/assets/mint", map[string]any{
		"collection": hs.collection, "asset_id": "1", "owner": seller,
	})
	require.Equal(hs.t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = hs.do(http.MethodPost, "/api/devnet/operators", map[string]any{
		"collection": hs.collection, "owner": seller, "operator": hs.engineAddr, "approved": true,
	})
	require.Equal(hs.t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func TestServer_ListAndBuy(t *testing.T) {
	hs := newHarness(t, server.Config{})
	seller, buyer := chain.AccountFor("seller"), chain.AccountFor("buyer")
	hs.seed(seller, buyer)

	rec := hs.do(http.MethodPost, "/api/listings", map[string]any{
		"from":             seller,
		"collection":       hs.collection,
		"asset_id":         "1",
		"price":            "0x64",
		"duration_seconds": 3600,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]uint64](t, rec)
	assert.Equal(t, uint64(1), created["id"])

	rec = hs.do(http.MethodPost, "/api/listings/1/buy", map[string]any{"from": buyer, "value": "99"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode[map[string]string](t, rec)["kind"])

	rec = hs.do(http.MethodPost, "/api/listings/1/buy", map[string]any{"from": buyer, "value": 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settlement := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, settlement["fee"])
	assert.EqualValues(t, 98, settlement["seller_proceeds"])

	rec = hs.do(http.MethodGet, "/api/listings/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["active"])

	rec = hs.do(http.MethodGet, "/api/listings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = hs.do(http.MethodGet, "/api/devnet/owner?collection="+hs.collection.Hex()+"&asset_id=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strings.ToLower(buyer.Hex()), strings.ToLower(decode[map[string]string](t, rec)["owner"]))

	rec = hs.do(http.MethodPost, "/api/listings/1/buy", map[string]any{"from": buyer, "value": "100"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_AuctionBidAndStatus(t *testing.T) {
	hs := newHarness(t, server.Config{})
	seller, bidder := chain.AccountFor("seller"), chain.AccountFor("bidder")
	hs.seed(seller, bidder)

	rec := hs.do(http.MethodPost, "/api/auctions", map[string]any{
		"from": seller, "collection": hs.collection, "asset_id": 1, "price": 100, "duration_seconds": 7200,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = hs.do(http.MethodPost, "/api/auctions/1/bid", map[string]any{"from": seller, "value": 100, "amount": 100})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = hs.do(http.MethodPost, "/api/auctions/1/bid", map[string]any{"from": bidder, "value": 100, "amount": 100})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = hs.do(http.MethodGet, "/api/auctions/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode[map[string]any](t, rec)
	assert.EqualValues(t, 100, a["current_bid"])
	assert.EqualValues(t, 105, a["minimum_bid"])

	rec = hs.do(http.MethodPost, "/api/auctions/1/finalize", map[string]any{"from": bidder})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = hs.do(http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[map[string]any](t, rec)
	assert.Equal(t, "test", st["mode"])
	assert.EqualValues(t, 1, st["stats"].(map[string]any)["active_auctions"])
}

func TestServer_ErrorMapping(t *testing.T) {
	hs := newHarness(t, server.Config{})

	rec := hs.do(http.MethodGet, "/api/listings/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = hs.do(http.MethodGet, "/api/listings/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = hs.do(http.MethodPut, "/api/admin/fee", map[string]any{"from": chain.AccountFor("mallory"), "fee_bps": 10})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = hs.do(http.MethodPut, "/api/admin/fee", map[string]any{"from": hs.owner, "fee_bps": 10, "extra": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = hs.do(http.MethodPost, "/api/admin/pause", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing caller")

	rec = hs.do(http.MethodPost, "/api/admin/pause", map[string]any{"from": hs.owner})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = hs.do(http.MethodPost, "/api/admin/archive", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = hs.do(http.MethodPost, "/api/devnet/fund", map[string]any{"account": hs.owner, "amount": "0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = hs.do(http.MethodPost, "/api/withdrawals", map[string]any{"from": hs.owner})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_AuthAndMetrics(t *testing.T) {
	hs := newHarness(t, server.Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec = httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `marketengine_http_requests_total{method="GET",route="GET /api/health",status="200"} 1`)
}

func TestServer_RateLimit(t *testing.T) {
	hs := newHarness(t, server.Config{RateLimit: 2, RateLimitWindow: time.Minute})

	assert.Equal(t, http.StatusOK, hs.do(http.MethodGet, "/api/status", nil).Code)
	assert.Equal(t, http.StatusOK, hs.do(http.MethodGet, "/api/status", nil).Code)
	rec := hs.do(http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}


func TestServer_SignedCalls(t *testing.T) {
	domain := crypto.NewDomain(31337, chain.AccountFor("engine"))
	hs := newHarness(t, server.Config{
		Signatures: &middleware.SignatureConfig{Domain: domain, MaxSkew: time.Minute},
	})

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(key, domain)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{"from": signer.Address()})
	require.NoError(t, err)

	send := func(sign bool, tail ...byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/withdrawals", bytes.NewReader(append(body, tail...)))
		req.Header.Set("X-API-Key", apiKey)
		if sign {
			ts := time.Now().Unix()
			sig, err := signer.SignCall(crypto.Call{Method: http.MethodPost, Path: "/api/withdrawals", Body: body, Timestamp: ts})
			require.NoError(t, err)
			req.Header.Set(middleware.SignatureHeader, sig)
			req.Header.Set(middleware.TimestampHeader, strconv.FormatInt(ts, 10))
		}
		rec := httptest.NewRecorder()
		hs.h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, send(false).Code)
	// Trailing bytes must not hide the caller from the signature check.
	rec := send(false, []byte(" x")...)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	// Signed calls reach the engine, which has nothing to pay out.
	assert.Equal(t, http.StatusConflict, send(true).Code)
}

func TestServer_RejectsTrailingBodyData(t *testing.T) {
	hs := newHarness(t, server.Config{})
	seller := chain.AccountFor("seller")

	body := `{"from":"` + seller.Hex() + `"} {"from":"` + seller.Hex() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/withdrawals", strings.NewReader(body))
	req.Header.Set("X-API-Key", apiKey)
	out := httptest.NewRecorder()
	hs.h.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
	assert.Contains(t, out.Body.String(), "unexpected data")
}
