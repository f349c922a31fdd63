// Package client is the REST client for a running marketd. The remote keeper
// and the marketctl command drive the engine through it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/crypto"
	"github.com/alanyoungcy/marketengine/internal/domain"
)

// APIError is a non-2xx response from marketd.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("marketd: %d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("marketd: %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to the marketd HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	signer     *crypto.Signer
	httpClient *http.Client
}

// New creates a Client. baseURL is the server root, e.g.
// "http://localhost:8080"; apiKey may be empty when auth is disabled.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithSigner makes the client sign every request body with s, for servers
// that require signed calls. The "from" of each call must be s.Address().
func (c *Client) WithSigner(s *crypto.Signer) *Client {
	c.signer = s
	return c
}

// Item describes a listing, auction or offer to create.
type Item struct {
	Collection    common.Address
	AssetID       *big.Int
	PaymentMethod domain.PaymentMethod
	Price         *big.Int
	Duration      time.Duration
}

func (it Item) body() map[string]any {
	return map[string]any{
		"collection":       it.Collection,
		"asset_id":         amount(it.AssetID),
		"payment_method":   it.PaymentMethod,
		"price":            amount(it.Price),
		"duration_seconds": int64(it.Duration / time.Second),
	}
}

// callBody merges the caller fields into body.
func callBody(call domain.Call, body map[string]any) map[string]any {
	if body == nil {
		body = make(map[string]any, 2)
	}
	body["from"] = call.From
	if call.HasValue() {
		body["value"] = amount(call.Value)
	}
	return body
}

func amount(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

type idResponse struct {
	ID uint64 `json:"id"`
}

// Status returns the engine status document.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.Do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, fmt.Errorf("client: status: %w", err)
	}
	return out, nil
}

// CreateListing lists an asset at a fixed price.
func (c *Client) CreateListing(ctx context.Context, call domain.Call, it Item) (uint64, error) {
	var out idResponse
	if err := c.Do(ctx, http.MethodPost, "/api/listings", callBody(call, it.body()), &out); err != nil {
		return 0, fmt.Errorf("client: create listing: %w", err)
	}
	return out.ID, nil
}

// BuyListing buys listing id. Native listings need the price attached.
func (c *Client) BuyListing(ctx context.Context, call domain.Call, id uint64) (domain.Settlement, error) {
	var out domain.Settlement
	if err := c.Do(ctx, http.MethodPost, itemPath("listings", id, "buy"), callBody(call, nil), &out); err != nil {
		return domain.Settlement{}, fmt.Errorf("client: buy listing %d: %w", id, err)
	}
	return out, nil
}

// CancelListing cancels listing id.
func (c *Client) CancelListing(ctx context.Context, call domain.Call, id uint64) error {
	if err := c.Do(ctx, http.MethodPost, itemPath("listings", id, "cancel"), callBody(call, nil), nil); err != nil {
		return fmt.Errorf("client: cancel listing %d: %w", id, err)
	}
	return nil
}

// GetListing fetches listing id.
func (c *Client) GetListing(ctx context.Context, id uint64) (domain.Listing, error) {
	var out domain.Listing
	if err := c.Do(ctx, http.MethodGet, itemPath("listings", id, ""), nil, &out); err != nil {
		return domain.Listing{}, fmt.Errorf("client: get listing %d: %w", id, err)
	}
	return out, nil
}

// CreateAuction starts an auction; it.Price is the start price.
func (c *Client) CreateAuction(ctx context.Context, call domain.Call, it Item) (uint64, error) {
	var out idResponse
	if err := c.Do(ctx, http.MethodPost, "/api/auctions", callBody(call, it.body()), &out); err != nil {
		return 0, fmt.Errorf("client: create auction: %w", err)
	}
	return out.ID, nil
}

// PlaceBid bids amount on auction id.
func (c *Client) PlaceBid(ctx context.Context, call domain.Call, id uint64, bid *big.Int) error {
	body := callBody(call, map[string]any{"amount": amount(bid)})
	if err := c.Do(ctx, http.MethodPost, itemPath("auctions", id, "bid"), body, nil); err != nil {
		return fmt.Errorf("client: bid on auction %d: %w", id, err)
	}
	return nil
}

// FinalizeAuction settles auction id once it has ended.
func (c *Client) FinalizeAuction(ctx context.Context, call domain.Call, id uint64) error {
	if err := c.Do(ctx, http.MethodPost, itemPath("auctions", id, "finalize"), callBody(call, nil), nil); err != nil {
		return fmt.Errorf("client: finalize auction %d: %w", id, err)
	}
	return nil
}

// CancelAuction cancels auction id before any bid.
func (c *Client) CancelAuction(ctx context.Context, call domain.Call, id uint64) error {
	if err := c.Do(ctx, http.MethodPost, itemPath("auctions", id, "cancel"), callBody(call, nil), nil); err != nil {
		return fmt.Errorf("client: cancel auction %d: %w", id, err)
	}
	return nil
}

// GetAuction fetches auction id.
func (c *Client) GetAuction(ctx context.Context, id uint64) (map[string]any, error) {
	var out map[string]any
	if err := c.Do(ctx, http.MethodGet, itemPath("auctions", id, ""), nil, &out); err != nil {
		return nil, fmt.Errorf("client: get auction %d: %w", id, err)
	}
	return out, nil
}

// EndedAuctions lists up to limit active auctions past their end time.
func (c *Client) EndedAuctions(ctx context.Context, limit int) ([]uint64, error) {
	var out struct {
		IDs []uint64 `json:"ids"`
	}
	path := "/api/auctions/ended?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	if err := c.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("client: ended auctions: %w", err)
	}
	return out.IDs, nil
}

// CreateOffer escrows an offer for an asset.
func (c *Client) CreateOffer(ctx context.Context, call domain.Call, it Item) (uint64, error) {
	var out idResponse
	if err := c.Do(ctx, http.MethodPost, "/api/offers", callBody(call, it.body()), &out); err != nil {
		return 0, fmt.Errorf("client: create offer: %w", err)
	}
	return out.ID, nil
}

// AcceptOffer accepts offer id as the asset owner.
func (c *Client) AcceptOffer(ctx context.Context, call domain.Call, id uint64) (domain.Settlement, error) {
	var out domain.Settlement
	if err := c.Do(ctx, http.MethodPost, itemPath("offers", id, "accept"), callBody(call, nil), &out); err != nil {
		return domain.Settlement{}, fmt.Errorf("client: accept offer %d: %w", id, err)
	}
	return out, nil
}

// CancelOffer cancels offer id and refunds its escrow.
func (c *Client) CancelOffer(ctx context.Context, call domain.Call, id uint64) error {
	if err := c.Do(ctx, http.MethodPost, itemPath("offers", id, "cancel"), callBody(call, nil), nil); err != nil {
		return fmt.Errorf("client: cancel offer %d: %w", id, err)
	}
	return nil
}

// Withdraw claims the caller's pending balance in pm.
func (c *Client) Withdraw(ctx context.Context, call domain.Call, pm domain.PaymentMethod) (*big.Int, error) {
	var out struct {
		Amount *big.Int `json:"amount"`
	}
	body := callBody(call, map[string]any{"payment_method": pm})
	if err := c.Do(ctx, http.MethodPost, "/api/withdrawals", body, &out); err != nil {
		return nil, fmt.Errorf("client: withdraw: %w", err)
	}
	return out.Amount, nil
}

// PendingWithdrawals lists account's claimable balances.
func (c *Client) PendingWithdrawals(ctx context.Context, account common.Address) ([]domain.PendingWithdrawal, error) {
	var out []domain.PendingWithdrawal
	if err := c.Do(ctx, http.MethodGet, "/api/withdrawals/"+account.Hex(), nil, &out); err != nil {
		return nil, fmt.Errorf("client: pending withdrawals: %w", err)
	}
	return out, nil
}

// Fund credits devnet native currency to account.
func (c *Client) Fund(ctx context.Context, account common.Address, n *big.Int) error {
	body := map[string]any{"account": account, "amount": amount(n)}
	if err := c.Do(ctx, http.MethodPost, "/api/devnet/fund", body, nil); err != nil {
		return fmt.Errorf("client: fund: %w", err)
	}
	return nil
}

// MintAsset mints a devnet asset to owner.
func (c *Client) MintAsset(ctx context.Context, collection common.Address, assetID *big.Int, owner common.Address) error {
	body := map[string]any{"collection": collection, "asset_id": amount(assetID), "owner": owner}
	if err := c.Do(ctx, http.MethodPost, "/api/devnet/assets/mint", body, nil); err != nil {
		return fmt.Errorf("client: mint asset: %w", err)
	}
	return nil
}

// SetOperator approves or revokes operator over owner's assets in collection.
func (c *Client) SetOperator(ctx context.Context, collection, owner, operator common.Address, approved bool) error {
	body := map[string]any{"collection": collection, "owner": owner, "operator": operator, "approved": approved}
	if err := c.Do(ctx, http.MethodPost, "/api/devnet/operators", body, nil); err != nil {
		return fmt.Errorf("client: set operator: %w", err)
	}
	return nil
}

// RunArchive triggers one archive pass.
func (c *Client) RunArchive(ctx context.Context) ([]domain.ArchiveResult, error) {
	var out struct {
		Results []domain.ArchiveResult `json:"results"`
	}
	if err := c.Do(ctx, http.MethodPost, "/api/admin/archive", nil, &out); err != nil {
		return out.Results, fmt.Errorf("client: run archive: %w", err)
	}
	return out.Results, nil
}

func itemPath(kind string, id uint64, action string) string {
	p := "/api/" + kind + "/" + strconv.FormatUint(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

// Do sends a JSON request and decodes a JSON response into out. A nil body
// sends no payload; a nil out discards the response.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var (
		reader  io.Reader
		payload []byte
	)
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.signer != nil && body != nil {
		if err := c.sign(req, payload); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			apiErr.Message, apiErr.Kind = e.Error, e.Kind
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// sign attaches the signature headers marketd checks on mutating calls.
func (c *Client) sign(req *http.Request, payload []byte) error {
	ts := time.Now().Unix()
	sig, err := c.signer.SignCall(crypto.Call{
		Method:    req.Method,
		Path:      req.URL.Path,
		Body:      payload,
		Timestamp: ts,
	})
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set("X-Signature", sig)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	return nil
}
