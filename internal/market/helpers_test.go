package market_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
)

const startingBalance = 1_000

type recordingSink struct {
	events []domain.Event
}

func (s *recordingSink) Record(_ context.Context, events []domain.Event) error {
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) types() []domain.EventType {
	out := make([]domain.EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func (s *recordingSink) last() domain.Event {
	return s.events[len(s.events)-1]
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	ledger *chain.Ledger
	clock  *clock.Mock
	engine *market.Engine
	sink   *recordingSink

	engineAddr common.Address
	owner      common.Address
	feeTo      common.Address
	collection common.Address
	token      common.Address
	nextAsset  int64
}

func newHarness(t *testing.T, tweaks ...func(*market.Params)) *harness {
	t.Helper()

	h := &harness{
		t:          t,
		ctx:        context.Background(),
		ledger:     chain.NewLedger(),
		clock:      clock.NewMock(),
		sink:       &recordingSink{},
		engineAddr: chain.AccountFor("engine"),
		owner:      chain.AccountFor("owner"),
		feeTo:      chain.AccountFor("fees"),
		collection: chain.AccountFor("collection"),
		token:      chain.AccountFor("token"),
	}
	h.clock.Add(1_000 * time.Hour)
	h.ledger.DeployToken(h.token)

	params := market.DefaultParams()
	params.Address = h.engineAddr
	params.Owner = h.owner
	params.FeeRecipient = h.feeTo
	params.PaymentMethods = []domain.PaymentMethod{domain.Native, domain.TokenMethod(h.token)}
	for _, tweak := range tweaks {
		tweak(&params)
	}

	eng, err := market.New(params, market.Backend{
		Assets:    h.ledger,
		Native:    h.ledger,
		Tokens:    h.ledger.Tokens(),
		Royalties: h.ledger,
		State:     h.ledger,
	}, market.WithClock(h.clock), market.WithEventSink(h.sink))
	require.NoError(t, err)
	h.engine = eng
	return h
}

// account returns a funded account that has approved the engine to pull
// its tokens.
func (h *harness) account(name string) common.Address {
	addr := chain.AccountFor(name)
	h.ledger.Fund(addr, big.NewInt(startingBalance))
	require.NoError(h.t, h.ledger.MintToken(h.token, addr, big.NewInt(startingBalance)))
	require.NoError(h.t, h.ledger.Approve(h.token, addr, h.engineAddr, big.NewInt(startingBalance)))
	return addr
}

// mint creates a new asset owned by owner with the engine approved as
// operator.
func (h *harness) mint(owner common.Address) *big.Int {
	h.nextAsset++
	id := big.NewInt(h.nextAsset)
	require.NoError(h.t, h.ledger.MintAsset(h.collection, id, owner))
	h.ledger.SetApprovalForAll(h.collection, owner, h.engineAddr, true)
	return id
}

func (h *harness) ownerOf(assetID *big.Int) common.Address {
	owner, err := h.ledger.OwnerOf(h.ctx, h.collection, assetID)
	require.NoError(h.t, err)
	return owner
}

func (h *harness) native(addr common.Address) int64 {
	return h.ledger.NativeBalance(addr).Int64()
}

func (h *harness) tokens(addr common.Address) int64 {
	return h.ledger.TokenBalance(h.token, addr).Int64()
}

func (h *harness) tokenMethod() domain.PaymentMethod {
	return domain.TokenMethod(h.token)
}

func (h *harness) list(seller common.Address, assetID *big.Int, price int64) uint64 {
	id, err := h.engine.CreateListing(h.ctx, domain.CallFrom(seller), h.collection, assetID, domain.Native, big.NewInt(price), 24*time.Hour)
	require.NoError(h.t, err)
	return id
}

func (h *harness) auction(seller common.Address, assetID *big.Int, startPrice int64) uint64 {
	id, err := h.engine.CreateAuction(h.ctx, domain.CallFrom(seller), h.collection, assetID, domain.Native, big.NewInt(startPrice), time.Hour)
	require.NoError(h.t, err)
	return id
}

func (h *harness) bid(bidder common.Address, auctionID uint64, amount int64) error {
	return h.engine.PlaceBid(h.ctx, pay(bidder, amount), auctionID, big.NewInt(amount))
}

// pay is a call from addr carrying amount of native currency.
func pay(addr common.Address, amount int64) domain.Call {
	return domain.CallFrom(addr).WithValue(big.NewInt(amount))
}
