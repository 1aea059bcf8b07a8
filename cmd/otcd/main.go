package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"otcdesk/config"
	"otcdesk/core"
	"otcdesk/core/events"
	coretypes "otcdesk/core/types"
	"otcdesk/gateway/middleware"
	"otcdesk/gateway/routes"
	"otcdesk/ledger/evmstate"
	"otcdesk/ledger/solstate"
	"otcdesk/native/otc"
	"otcdesk/observability"
	"otcdesk/observability/logging"
	"otcdesk/observability/metrics"
	"otcdesk/reconcile"
	"otcdesk/rpc"
	"otcdesk/storage"
)

// metricsSubscriber feeds committed desk events into the Prometheus counters.
type metricsSubscriber struct{}

func (metricsSubscriber) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())

	carrier, ok := evt.(interface{ Event() *coretypes.Event })
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	desk := metrics.Desk()
	switch payload.Type {
	case otc.EventTypeOfferCreated:
		origin := "direct"
		if payload.Attributes["consignmentId"] != "0" {
			origin = "consignment"
		}
		desk.RecordOfferCreated(origin)
	case otc.EventTypeOfferPaid:
		currency := "stable"
		if payload.Attributes["currency"] == strconv.Itoa(int(otc.CurrencyNative)) {
			currency = "native"
		}
		desk.RecordSettlement(currency)
	case otc.EventTypeOfferClaimed:
		desk.RecordClaim()
	case otc.EventTypeOfferRefunded:
		desk.RecordRefund()
	}
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	logger := logging.Setup("otcd", cfg.NetworkName, logging.ParseLevel(cfg.LogLevel))

	treasury, err := cfg.TreasuryBytes()
	if err != nil {
		logger.Error("Invalid treasury address", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	var ledger core.Ledger
	switch cfg.Backend {
	case config.BackendSolana:
		ledger = solstate.New(db, treasury)
	default:
		ledger = evmstate.New(db, treasury)
	}

	node := core.NewNode(ledger)
	node.Subscribe(metricsSubscriber{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Recon.Enabled {
		if err := startRecon(ctx, cfg, node, treasury, logger); err != nil {
			logger.Error("Failed to start reconciliation", slog.Any("error", err))
			os.Exit(1)
		}
	}

	gatewaySrv := &http.Server{
		Addr: cfg.GatewayAddress,
		Handler: routes.New(routes.Config{
			Node:   node,
			Logger: logger,
			CORS:   middleware.CORSConfig{},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Gateway listening", "address", cfg.GatewayAddress)
		if err := gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Gateway server failed", slog.Any("error", err))
			stop()
		}
	}()

	rpcServer := rpc.NewServer(node, logger)
	go func() {
		logger.Info("RPC listening", "address", cfg.RPCAddress, "backend", cfg.Backend)
		if err := rpcServer.Start(cfg.RPCAddress); err != nil {
			logger.Error("RPC server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gatewaySrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway shutdown failed", slog.Any("error", err))
	}
}

func startRecon(ctx context.Context, cfg *config.Config, node *core.Node, treasury [20]byte, logger *slog.Logger) error {
	mirrorDB, err := gorm.Open(sqlite.Open(cfg.Recon.DatabasePath), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open mirror database: %w", err)
	}
	if err := reconcile.AutoMigrate(mirrorDB); err != nil {
		return fmt.Errorf("migrate mirror database: %w", err)
	}
	node.Subscribe(reconcile.NewMirror(mirrorDB, logger))

	reconciler, err := reconcile.NewReconciler(reconcile.Config{
		DB:        mirrorDB,
		Chain:     node,
		Treasury:  treasury,
		OutputDir: filepath.Join(cfg.DataDir, "recon-reports"),
		Alert: func(_ context.Context, anomaly reconcile.Anomaly) error {
			logger.Warn("Reconciliation anomaly",
				"kind", anomaly.Kind,
				"entity", anomaly.EntityKind,
				"id", anomaly.EntityID,
				"details", anomaly.Details)
			return nil
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	scheduler := reconcile.NewScheduler(reconcile.SchedulerConfig{
		Reconciler: reconciler,
		RunHour:    cfg.Recon.RunHour,
		RunMinute:  cfg.Recon.RunMinute,
		Logger:     logger,
	})
	go scheduler.Start(ctx)
	return nil
}
