package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"execution_gateway/internal/config"
	"execution_gateway/internal/core"
	"execution_gateway/internal/gateway"
	"execution_gateway/internal/infrastructure/health"
	"execution_gateway/internal/infrastructure/server"
	"execution_gateway/internal/mock"
	"execution_gateway/internal/venue"
	"execution_gateway/pkg/logging"
	"execution_gateway/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gateway version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	tel, err := telemetry.Setup("execution_gateway")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up telemetry: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	logger.Info("Starting execution gateway",
		"version", version,
		"venues", len(cfg.Venues),
		"default_venue", cfg.Execution.DefaultVenue,
	)

	g := gateway.New(cfg, logger)
	remotes := registerVenues(g, cfg, logger)

	hm := health.NewHealthManager(logger)
	hm.Register("gateway", func() error { return nil })

	janitor := gateway.NewJanitor(g, cfg.Janitor.Interval(), cfg.Janitor.Retention(), logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	api := server.NewServer(addr, g, hm, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return janitor.Start(gctx)
	})

	for _, r := range remotes {
		r.Start()
	}
	api.Start()

	<-gctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := api.Stop(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", "error", err)
	}
	if err := janitor.Stop(); err != nil {
		logger.Error("Janitor shutdown failed", "error", err)
	}
	for _, r := range remotes {
		r.Stop()
	}
	g.Stop()

	if err := group.Wait(); err != nil {
		logger.Error("Background task failed", "error", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown failed", "error", err)
	}

	logger.Info("Shutdown complete")
}

// registerVenues builds the configured adapters and returns the remote ones
// so their fill streams can be started and stopped.
func registerVenues(g *gateway.ExecutionGateway, cfg *config.Config, logger core.ILogger) []*venue.Remote {
	var remotes []*venue.Remote

	for name, vc := range cfg.Venues {
		switch vc.Type {
		case "remote":
			r := venue.NewRemote(name, vc.BaseURL, vc.WSURL, nil, logger)
			r.SetFillHandler(func(orderID string, fill core.PartialFill) {
				result := &core.VenueOrderResult{
					OrderID:        orderID,
					Status:         core.OrderStatusPartiallyFilled,
					FilledQuantity: fill.Quantity,
					AveragePrice:   fill.Price,
					Commission:     fill.Commission,
					Fills:          []core.PartialFill{fill},
				}
				if err := g.Manager().ApplyVenueResult(orderID, result); err != nil {
					logger.Warn("Dropping streamed fill", "order_id", orderID, "error", err)
				}
			})
			g.RegisterVenue(r)
			remotes = append(remotes, r)
		default:
			g.RegisterVenue(mock.NewVenue(name))
		}
	}

	return remotes
}
