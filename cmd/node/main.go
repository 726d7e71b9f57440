package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/params"
	"github.com/uhyunpark/custodex/pkg/api"
	"github.com/uhyunpark/custodex/pkg/app/core/asset"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/app/exchange"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/events"
	"github.com/uhyunpark/custodex/pkg/gateway"
	"github.com/uhyunpark/custodex/pkg/metrics"
	"github.com/uhyunpark/custodex/pkg/storage"
	"github.com/uhyunpark/custodex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logger, closeLog, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closeLog()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	if err := run(cfg, sugar); err != nil {
		sugar.Errorw("node_failed", "err", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Custody.AllowUnverifiedDeposits {
		sugar.Warn("unverified_deposits_enabled - any signer can credit itself")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := storage.Open(cfg.LedgerPath())
	if err != nil {
		return err
	}
	defer store.Close()

	wal, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "transfers.wal"))
	if err != nil {
		return err
	}
	defer wal.Close()

	// ---- Gateway: Kafka when brokers are configured, log-only otherwise ----
	var gw gateway.Gateway
	publishers := events.Fanout{}
	if len(cfg.Kafka.Brokers) > 0 {
		kg, err := gateway.NewKafkaGateway(cfg.Kafka.Brokers, cfg.Kafka.TransferTopic, sugar)
		if err != nil {
			return err
		}
		defer kg.Close()
		gw = kg

		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventTopic, sugar)
		defer kp.Close()
		publishers = append(publishers, kp)
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers,
			"transfer_topic", cfg.Kafka.TransferTopic, "event_topic", cfg.Kafka.EventTopic)
	} else {
		gw = gateway.NewLogGateway(sugar)
		sugar.Warn("kafka_disabled - withdrawals are only logged")
	}

	hub := api.NewHub(sugar)
	publishers = append(publishers, hub)

	// ---- Metrics ----
	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	// ---- Engine ----
	engine, err := exchange.New(
		exchange.Config{
			Custody:                 cfg.Custody.Account,
			Notifier:                cfg.Custody.Notifier,
			AllowUnverifiedDeposits: cfg.Custody.AllowUnverifiedDeposits,
		},
		exchange.Deps{
			Store:     store,
			Gateway:   gw,
			Publisher: publishers,
			WAL:       wal,
			Metrics:   m,
			Logger:    sugar,
			Resolver:  asset.Allowlist(cfg.Custody.Issuers...),
		},
	)
	if err != nil {
		return err
	}
	hash, err := engine.StateHash()
	if err != nil {
		return err
	}
	sugar.Infow("node_starting",
		"custody", cfg.Custody.Account.Hex(),
		"notifier", cfg.Custody.Notifier.Hex(),
		"chain_id", cfg.Custody.ChainID.String(),
		"open_orders", engine.OpenOrders(),
		"state_hash", hash.Hex())

	// ---- API Server ----
	domain := crypto.DefaultDomain()
	domain.ChainID = cfg.Custody.ChainID
	apiServer := api.NewServer(api.Options{
		Engine:      engine,
		Verifier:    transaction.NewVerifier(domain),
		Hub:         hub,
		Registry:    reg,
		Metrics:     m,
		CORSOrigins: cfg.Node.CORSOrigins,
		Logger:      sugar,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start(ctx, cfg.Node.APIAddr)
	}()

	select {
	case <-ctx.Done():
		sugar.Info("shutdown_requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	sugar.Info("node_stopped")
	return nil
}
