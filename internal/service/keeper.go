package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raulk/clock"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/metrics"
)

// KeeperConfig configures the auction keeper.
type KeeperConfig struct {
	Account   common.Address
	Interval  time.Duration
	BatchSize int
}

// AuctionFinalizer is what the keeper drives: the in-process MarketService
// or a remote engine reached over HTTP.
type AuctionFinalizer interface {
	EndedAuctions(ctx context.Context, limit int) ([]uint64, error)
	FinalizeAuction(ctx context.Context, call domain.Call, id uint64) error
}

// Keeper finalizes auctions whose end time has passed. It is an ordinary
// caller of FinalizeAuction; anyone may finalize an ended auction.
type Keeper struct {
	svc     AuctionFinalizer
	cfg     KeeperConfig
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewKeeper creates a Keeper. A nil clock uses wall time.
func NewKeeper(svc AuctionFinalizer, cfg KeeperConfig, clk clock.Clock, logger *slog.Logger) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Keeper{
		svc:    svc,
		cfg:    cfg,
		clock:  clk,
		logger: logger.With(slog.String("component", "keeper")),
	}
}

// WithMetrics makes the keeper count finalization outcomes on m.
func (k *Keeper) WithMetrics(m *metrics.Metrics) *Keeper {
	k.metrics = m
	return k
}

// Run ticks until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper: started",
		slog.String("account", k.cfg.Account.Hex()),
		slog.Duration("interval", k.cfg.Interval),
	)
	ticker := k.clock.Ticker(k.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.logger.InfoContext(ctx, "keeper: stopped")
			return nil
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// writerChecker is implemented by targets that only accept mutations on one
// replica at a time.
type writerChecker interface {
	IsWriter(ctx context.Context) bool
}

// Tick finalizes one batch of ended auctions and returns how many
// succeeded. Failures are logged and left for the next tick. A replica
// that is not the writer skips the tick.
func (k *Keeper) Tick(ctx context.Context) int {
	if w, ok := k.svc.(writerChecker); ok && !w.IsWriter(ctx) {
		k.logger.DebugContext(ctx, "keeper: not the writer, skipping tick")
		return 0
	}
	ids, err := k.svc.EndedAuctions(ctx, k.cfg.BatchSize)
	if err != nil {
		k.logger.WarnContext(ctx, "keeper: list ended auctions failed", slog.String("error", err.Error()))
		return 0
	}
	done := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		err := k.svc.FinalizeAuction(ctx, domain.CallFrom(k.cfg.Account), id)
		k.metrics.KeeperFinalized(err == nil)
		if err != nil {
			k.logger.WarnContext(ctx, "keeper: finalize failed",
				slog.Uint64("auction_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		done++
	}
	if done > 0 {
		k.logger.InfoContext(ctx, "keeper: finalized auctions", slog.Int("count", done))
	}
	return done
}
