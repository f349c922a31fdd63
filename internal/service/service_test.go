package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
	"github.com/alanyoungcy/marketengine/internal/service"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- fakes ---

type fakeLocks struct {
	mu       sync.Mutex
	busy     int // calls to reject with ErrLockHeld
	fail     error
	acquired int
	released int
	leases   []*fakeLease
}

func (f *fakeLocks) take() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if f.busy > 0 {
		f.busy--
		return domain.ErrLockHeld
	}
	f.acquired++
	return nil
}

func (f *fakeLocks) release() {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
}

func (f *fakeLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if err := f.take(); err != nil {
		return nil, err
	}
	return f.release, nil
}

func (f *fakeLocks) Lease(_ context.Context, _ string, _ time.Duration) (domain.Lease, error) {
	if err := f.take(); err != nil {
		return nil, err
	}
	l := &fakeLease{done: make(chan struct{}), onRelease: f.release}
	f.mu.Lock()
	f.leases = append(f.leases, l)
	f.mu.Unlock()
	return l, nil
}

// fakeLease ends when lose or Release is called.
type fakeLease struct {
	done      chan struct{}
	once      sync.Once
	onRelease func()
}

func (l *fakeLease) Done() <-chan struct{} { return l.done }

func (l *fakeLease) lose() { l.once.Do(func() { close(l.done) }) }

func (l *fakeLease) Release() {
	l.once.Do(func() {
		close(l.done)
		l.onRelease()
	})
}

type fakeBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, ch string, payload []byte) error {
	b.published[ch] = append(b.published[ch], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeAudit struct {
	events []domain.Event
}

func (a *fakeAudit) Log(context.Context, string, map[string]any) error { return nil }

func (a *fakeAudit) LogEvent(_ context.Context, ev domain.Event) error {
	a.events = append(a.events, ev)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	out := make([]domain.AuditEntry, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, domain.AuditEntry{EventID: ev.ID.Hex(), Seq: ev.Seq, Event: string(ev.Type), EntityID: ev.EntityID})
	}
	return out, nil
}

func (a *fakeAudit) ListBefore(context.Context, time.Time, int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *fakeAudit) DeleteByIDs(context.Context, []int64) (int64, error) { return 0, nil }

type fakeListings struct {
	rows map[uint64]domain.Listing
	err  error
}

func (f *fakeListings) Upsert(_ context.Context, l domain.Listing) error {
	if f.err != nil {
		return f.err
	}
	f.rows[l.ID] = l
	return nil
}

func (f *fakeListings) GetByID(_ context.Context, id uint64) (domain.Listing, error) {
	l, ok := f.rows[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (f *fakeListings) ListBySeller(_ context.Context, seller common.Address, _ domain.ListOpts) ([]domain.Listing, error) {
	var out []domain.Listing
	for _, l := range f.rows {
		if l.Seller == seller {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeListings) ListClosedBefore(context.Context, time.Time, int) ([]domain.Listing, error) {
	return nil, nil
}

func (f *fakeListings) DeleteByIDs(context.Context, []uint64) (int64, error) { return 0, nil }

type fakeAuctions struct {
	rows map[uint64]domain.Auction
}

func (f *fakeAuctions) Upsert(_ context.Context, a domain.Auction) error {
	f.rows[a.ID] = a
	return nil
}

func (f *fakeAuctions) GetByID(_ context.Context, id uint64) (domain.Auction, error) {
	return f.rows[id], nil
}

func (f *fakeAuctions) ListBySeller(context.Context, common.Address, domain.ListOpts) ([]domain.Auction, error) {
	return nil, nil
}

func (f *fakeAuctions) ListClosedBefore(context.Context, time.Time, int) ([]domain.Auction, error) {
	return nil, nil
}

func (f *fakeAuctions) DeleteByIDs(context.Context, []uint64) (int64, error) { return 0, nil }

type fakeWithdrawals struct {
	rows []domain.PendingWithdrawal
}

func (f *fakeWithdrawals) Upsert(_ context.Context, w domain.PendingWithdrawal) error {
	f.rows = append(f.rows, w)
	return nil
}

func (f *fakeWithdrawals) ListByBeneficiary(context.Context, common.Address) ([]domain.PendingWithdrawal, error) {
	return f.rows, nil
}

type notification struct {
	event, title, message string
}

type fakeNotifier struct {
	sent []notification
}

func (n *fakeNotifier) Notify(_ context.Context, event, title, message string) error {
	n.sent = append(n.sent, notification{event, title, message})
	return nil
}

// --- harness ---

type fixture struct {
	ctx        context.Context
	t          *testing.T
	clock      *clock.Mock
	ledger     *chain.Ledger
	svc        *service.MarketService
	collection common.Address
	engineAddr common.Address
	owner      common.Address
	nextAsset  int64

	listings    *fakeListings
	auctions    *fakeAuctions
	withdrawals *fakeWithdrawals
	audit       *fakeAudit
	bus         *fakeBus
	notifier    *fakeNotifier
}

func newFixture(t *testing.T, locks domain.LockManager) *fixture {
	t.Helper()
	f := &fixture{
		ctx:         context.Background(),
		t:           t,
		clock:       clock.NewMock(),
		ledger:      chain.NewLedger(),
		collection:  chain.AccountFor("collection"),
		engineAddr:  chain.AccountFor("engine"),
		owner:       chain.AccountFor("owner"),
		listings:    &fakeListings{rows: map[uint64]domain.Listing{}},
		auctions:    &fakeAuctions{rows: map[uint64]domain.Auction{}},
		withdrawals: &fakeWithdrawals{},
		audit:       &fakeAudit{},
		bus:         newFakeBus(),
		notifier:    &fakeNotifier{},
	}
	f.clock.Add(1_000 * time.Hour)

	rec := service.NewRecorder(service.RecorderDeps{
		Listings:    f.listings,
		Auctions:    f.auctions,
		Withdrawals: f.withdrawals,
		Audit:       f.audit,
		Bus:         f.bus,
		Notifier:    f.notifier,
	}, quiet)

	params := market.DefaultParams()
	params.Address = f.engineAddr
	params.Owner = f.owner
	params.FeeRecipient = chain.AccountFor("fees")
	eng, err := market.New(params, market.Backend{
		Assets:    f.ledger,
		Native:    f.ledger,
		Tokens:    f.ledger.Tokens(),
		Royalties: f.ledger,
		State:     f.ledger,
	}, market.WithClock(f.clock), market.WithEventSink(rec), market.WithLogger(quiet))
	require.NoError(t, err)

	f.svc = service.NewMarketService(eng, locks, time.Second, quiet)
	return f
}

func (f *fixture) account(name string) common.Address {
	addr := chain.AccountFor(name)
	f.ledger.Fund(addr, big.NewInt(1_000))
	return addr
}

func (f *fixture) mint(owner common.Address) *big.Int {
	f.nextAsset++
	id := big.NewInt(f.nextAsset)
	require.NoError(f.t, f.ledger.MintAsset(f.collection, id, owner))
	f.ledger.SetApprovalForAll(f.collection, owner, f.engineAddr, true)
	return id
}

func (f *fixture) params(assetID *big.Int, price int64, d time.Duration) domain.ListingParams {
	return domain.ListingParams{
		Collection:    f.collection,
		AssetID:       assetID,
		PaymentMethod: domain.Native,
		Price:         big.NewInt(price),
		Duration:      d,
	}
}

type fakeSequences struct {
	marks domain.Sequences
}

func (f *fakeSequences) Load(context.Context) (domain.Sequences, error) { return f.marks, nil }

func (f *fakeSequences) Advance(_ context.Context, s domain.Sequences) error {
	f.marks = f.marks.Merge(s)
	return nil
}
