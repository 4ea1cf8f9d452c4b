package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bookcost/internal/domain"
	"github.com/alanyoungcy/bookcost/internal/feed"
	"github.com/alanyoungcy/bookcost/internal/metrics"
	"github.com/alanyoungcy/bookcost/internal/platform/gomarket"
	"github.com/alanyoungcy/bookcost/internal/server"
	"github.com/alanyoungcy/bookcost/internal/server/handler"
	"github.com/alanyoungcy/bookcost/internal/server/ws"
	"github.com/alanyoungcy/bookcost/internal/service"
)

const shutdownTimeout = 5 * time.Second

// core is the feed and the cost service it drives.
type core struct {
	feed  *feed.BookFeed
	costs *service.CostService
}

// buildCore connects the book feed to the cost service and the notifier.
// Callbacks run with ctx so cache and bus writes stop at shutdown.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	req, err := a.cfg.TradeRequest()
	if err != nil {
		return nil, fmt.Errorf("app: trade request: %w", err)
	}

	svcDeps := service.Deps{
		Estimator: deps.Estimator,
		Cache:     deps.Cache,
		Bus:       deps.SignalBus,
		Store:     deps.Store,
	}
	if deps.Archiver != nil {
		svcDeps.Sink = deps.Archiver
	}
	costs := service.NewCostService(svcDeps, req, a.logger)

	src := gomarket.NewWSClient(a.cfg.Feed.WSURL, a.logger)
	bf := feed.NewBookFeed(src, feed.Options{
		BaseDelay: a.cfg.Feed.BaseDelay.Duration,
		MaxDelay:  a.cfg.Feed.MaxDelay.Duration,
	}, a.logger)

	bf.OnStateChange(func(c domain.StateChange) {
		costs.HandleState(ctx, c)
		deps.Notifier.OnStateChange(c)
	})
	bf.OnSnapshot(func(snap domain.OrderBookSnapshot) {
		costs.HandleSnapshot(ctx, snap)
	})

	return &core{feed: bf, costs: costs}, nil
}

// startCore runs the feed and the background pipeline in g.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, c *core, deps *Dependencies) {
	g.Go(func() error {
		err := c.feed.Run(ctx)
		c.costs.Wait()
		return err
	})
	if deps.Pipeline != nil {
		g.Go(func() error {
			return deps.Pipeline.Run(ctx)
		})
	}
}

// ServerMode runs the feed, the cost service, the pipeline and the HTTP API
// with its WebSocket relay.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}
	a.startCore(ctx, g, c, deps)
	a.startHTTPServer(ctx, g, c, deps)

	return ignoreCanceled(g.Wait())
}

// MonitorMode runs the feed and the cost service headless and logs every
// applied estimate.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}
	c.costs.OnEstimate(func(est domain.CostEstimate) {
		a.logger.Info("estimate",
			slog.String("symbol", est.Symbol),
			slog.String("quantity", est.RequestedQuantity.String()),
			slog.String("filled", est.FilledQuantity.String()),
			slog.String("vwap", est.VWAP.String()),
			slog.String("slippage", est.Slippage.String()),
			slog.String("fee", est.Fee.String()),
			slog.String("market_impact", est.MarketImpact.String()),
			slog.String("net_cost", est.NetCost.String()),
			slog.String("maker_taker", est.MakerTakerProportion),
			slog.String("confidence", string(est.Confidence)),
			slog.Bool("fully_filled", est.FullyFilled),
			slog.Duration("latency", est.Latency),
		)
	})
	a.startCore(ctx, g, c, deps)

	return ignoreCanceled(g.Wait())
}

// startHTTPServer adds the API server and, when Redis is wired, the WebSocket
// hub to g. The server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, c *core, deps *Dependencies) {
	startedAt := time.Now().UTC()

	var hub *ws.Hub
	if deps.SignalBus != nil {
		symbol := c.costs.Request().Symbol
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Channels: []string{
				domain.ChannelStatus,
				domain.BookChannel(symbol),
				domain.EstimateChannel(symbol),
			},
			Mode:      a.cfg.Mode,
			Estimator: c.costs.EstimatorName(),
			StartedAt: startedAt,
			State:     c.costs.State,
		})
		g.Go(func() error {
			return ignoreCanceled(hub.Run(ctx))
		})
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, c.costs, startedAt),
		Book:      handler.NewBookHandler(c.costs),
		Estimates: handler.NewEstimateHandler(c.costs, deps.Store, a.logger),
	}
	if a.cfg.Metrics.Enabled {
		handlers.Metrics = metrics.Handler(deps.Registry)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		MetricsPath:     a.cfg.Metrics.Path,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
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
