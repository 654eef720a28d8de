package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/stockflow-backend/api/routes"
	"github.com/angelmondragon/stockflow-backend/internal/catalog"
	"github.com/angelmondragon/stockflow-backend/internal/inventory"
	"github.com/angelmondragon/stockflow-backend/internal/orders"
	"github.com/angelmondragon/stockflow-backend/internal/stocksync"
	"github.com/angelmondragon/stockflow-backend/internal/webhookevents"
	squarewebhook "github.com/angelmondragon/stockflow-backend/internal/webhooks/square"
	stripewebhook "github.com/angelmondragon/stockflow-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/stockflow-backend/pkg/config"
	"github.com/angelmondragon/stockflow-backend/pkg/db"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/metrics"
	"github.com/angelmondragon/stockflow-backend/pkg/migrate"
	"github.com/angelmondragon/stockflow-backend/pkg/outbox"
	"github.com/angelmondragon/stockflow-backend/pkg/redis"
	"github.com/angelmondragon/stockflow-backend/pkg/square"
	"github.com/angelmondragon/stockflow-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	mintRole := flag.String("mint-token", "", "print a dev access token for the given role and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.ForService("api", cfg.App)

	if *mintRole != "" {
		if err := mintDevToken(cfg, *mintRole, time.Now(), os.Stdout); err != nil {
			logg.Error(context.Background(), "failed to mint dev token", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}
	invoicing, err := stripe.NewInvoicing(stripeClient, cfg.Stripe, logg)
	if err != nil {
		return err
	}
	squareClient, err := square.NewClient(ctx, cfg.Square, logg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	domainMetrics := metrics.NewDomain(reg)

	gormDB := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)

	ledger, err := inventory.NewLedger(
		dbClient,
		inventory.NewRepository(gormDB),
		inventory.NewAuditRepository(gormDB),
		outboxService,
		logg,
		inventory.WithMetrics(domainMetrics),
	)
	if err != nil {
		return err
	}

	dispatcher, err := stocksync.NewDispatcher(stocksync.Params{
		Store:       ledger,
		Marketplace: squareClient,
		Config:      cfg.Sync,
		Metrics:     domainMetrics,
		Logger:      logg,
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			logg.Error(closeCtx, "sync dispatcher did not drain", err)
		}
	}()

	orchestrator, err := orders.NewOrchestrator(orders.Dependencies{
		Repo:           orders.NewRepository(gormDB),
		Tx:             dbClient,
		Outbox:         outboxService,
		Catalog:        catalog.NewRepository(gormDB),
		Prices:         invoicing,
		Invoicer:       invoicing,
		Stock:          ledger,
		Dispatcher:     dispatcher,
		Metrics:        domainMetrics,
		Logger:         logg,
		InvoiceTimeout: cfg.Stripe.InvoiceTimeout,
	})
	if err != nil {
		return err
	}

	gate, err := webhookevents.NewGate(webhookevents.NewRepository(gormDB), logg)
	if err != nil {
		return err
	}
	stripeWebhooks, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Gate:    gate,
		Orders:  orchestrator,
		Metrics: domainMetrics,
		Logger:  logg,
	})
	if err != nil {
		return err
	}
	squareWebhooks, err := squarewebhook.NewService(squarewebhook.ServiceParams{
		Gate:    gate,
		Stock:   ledger,
		Metrics: domainMetrics,
		Logger:  logg,
	})
	if err != nil {
		return err
	}

	handler := routes.NewRouter(cfg, logg, routes.Dependencies{
		DB:             dbClient,
		Redis:          redisClient,
		Metrics:        domainMetrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Orders:         orchestrator,
		Stock:          ledger,
		Sync:           dispatcher,
		WebhookEvents:  gate,
		DeadLetters:    outbox.NewDLQRepository(gormDB),
		StripeWebhooks: stripeWebhooks,
		StripeClient:   stripeClient,
		SquareWebhooks: squareWebhooks,
		SquareClient:   squareClient,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"stripe_env":   stripeClient.Environment(),
		"square_env":   squareClient.Environment(),
		"sync_workers": cfg.Sync.Workers,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
