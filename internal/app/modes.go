package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raulk/clock"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketengine/internal/client"
	"github.com/alanyoungcy/marketengine/internal/crypto"
	"github.com/alanyoungcy/marketengine/internal/server"
	"github.com/alanyoungcy/marketengine/internal/server/handler"
	"github.com/alanyoungcy/marketengine/internal/server/middleware"
	"github.com/alanyoungcy/marketengine/internal/server/ws"
	"github.com/alanyoungcy/marketengine/internal/service"
)

// ServeMode runs the HTTP and WebSocket API over the in-process engine,
// plus the keeper when keeper.enabled is set.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps)
	if a.cfg.Keeper.Enabled {
		a.startKeeper(ctx, g, deps.Market, a.cfg.KeeperAccount(), deps)
	}

	return g.Wait()
}

// KeeperMode finalizes ended auctions of a remote marketd over its API.
func (a *App) KeeperMode(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting keeper mode",
		slog.String("endpoint", a.cfg.Keeper.Endpoint),
	)

	remote := client.New(a.cfg.Keeper.Endpoint, a.cfg.Server.APIKey)
	account := a.cfg.KeeperAccount()
	if src := a.cfg.KeeperKey(); !src.Empty() {
		domain, err := a.cfg.SignatureDomain()
		if err != nil {
			return fmt.Errorf("keeper mode: %w", err)
		}
		signer, err := crypto.LoadSigner(src, domain)
		if err != nil {
			return fmt.Errorf("keeper mode: load key: %w", err)
		}
		remote.WithSigner(signer)
		account = signer.Address()
		a.logger.InfoContext(ctx, "keeper mode: signing calls", slog.String("account", account.Hex()))
	}
	if _, err := remote.Status(ctx); err != nil {
		return fmt.Errorf("keeper mode: reach %s: %w", a.cfg.Keeper.Endpoint, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, remote, account, nil)
	return g.Wait()
}

// ArchiveMode moves closed records to cold storage: once when archive.cron
// is empty, otherwise on the cron schedule until ctx is cancelled.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archive == nil {
		return errors.New("archive mode: requires postgres and s3")
	}

	if strings.TrimSpace(a.cfg.Archive.Cron) == "" {
		results, err := deps.Archive.Run(ctx)
		for _, res := range results {
			a.logger.InfoContext(ctx, "archive mode: archived",
				slog.String("kind", res.Kind),
				slog.Int64("count", res.Count),
				slog.Int("objects", len(res.Paths)),
			)
		}
		return err
	}

	return ignoreCanceled(deps.Archive.RunCron(ctx, a.cfg.Archive.Cron))
}

// FullMode runs every subsystem in one process: the API, the keeper and the
// archive schedule when storage is configured.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps)
	if a.cfg.Keeper.Enabled {
		a.startKeeper(ctx, g, deps.Market, a.cfg.KeeperAccount(), deps)
	}

	if deps.Archive != nil && strings.TrimSpace(a.cfg.Archive.Cron) != "" {
		g.Go(func() error {
			return ignoreCanceled(deps.Archive.RunCron(ctx, a.cfg.Archive.Cron))
		})
	} else {
		a.logger.InfoContext(ctx, "full mode: archive schedule disabled (needs postgres, s3 and archive.cron)")
	}

	return g.Wait()
}

// startKeeper runs the auction keeper against target as account. deps may be
// nil for a remote target, in which case no metrics are recorded.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, target service.AuctionFinalizer, account common.Address, deps *Dependencies) {
	var clk clock.Clock
	if deps != nil {
		clk = deps.Clock
	}
	keeper := service.NewKeeper(target, service.KeeperConfig{
		Account:   account,
		Interval:  a.cfg.Keeper.Interval.Duration,
		BatchSize: a.cfg.Keeper.BatchSize,
	}, clk, a.logger)
	if deps != nil {
		keeper = keeper.WithMetrics(deps.Metrics)
	}
	g.Go(func() error {
		return keeper.Run(ctx)
	})
}

// startHTTPServer builds the API server and its WebSocket hub and runs them
// until ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: deps.Clock.Now().UTC(),
		Channel:   service.EventsChannel,
		Stream:    service.EventsStream,
		LastSeq:   func() uint64 { return deps.Market.Status().Stats.Events },
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, deps.Market),
		Market: handler.NewMarketHandler(deps.Market, a.logger),
		Admin:  handler.NewAdminHandler(deps.Market, deps.Archive, deps.BlobReader, a.logger),
	}
	if deps.History != nil {
		handlers.History = handler.NewHistoryHandler(deps.History, a.logger)
	}
	if deps.Devnet != nil {
		handlers.Devnet = handler.NewDevnetHandler(deps.Devnet, a.logger)
	}

	srvCfg := server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}
	if a.cfg.Server.RequireSignatures {
		// Validate already resolved the engine address.
		domain, _ := a.cfg.SignatureDomain()
		srvCfg.Signatures = &middleware.SignatureConfig{
			Domain:  domain,
			MaxSkew: a.cfg.Server.SignatureMaxSkew.Duration,
			Clock:   deps.Clock,
		}
	}

	srv := server.NewServer(srvCfg, handlers, server.Deps{
		Hub:     hub,
		Limiter: deps.RateLimiter,
		Metrics: deps.Metrics,
	}, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
			slog.Bool("devnet", deps.Devnet != nil),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(a.cfg))
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
