// Stakebot - a chat bot that forwards deposits and escrows stakes on the DAG
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/mbd888/stakebot/internal/chat"
	"github.com/mbd888/stakebot/internal/config"
	"github.com/mbd888/stakebot/internal/events"
	"github.com/mbd888/stakebot/internal/health"
	"github.com/mbd888/stakebot/internal/ledger"
	"github.com/mbd888/stakebot/internal/logging"
	"github.com/mbd888/stakebot/internal/metrics"
	"github.com/mbd888/stakebot/internal/node"
	"github.com/mbd888/stakebot/internal/server"
	"github.com/mbd888/stakebot/internal/session"
	"github.com/mbd888/stakebot/internal/settlement"
	"github.com/mbd888/stakebot/internal/watcher"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting stakebot",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"testnet", cfg.Testnet,
	)

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session store: PostgreSQL when configured, in-memory otherwise.
	var store session.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := db.PingContext(ctx); err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		store = session.NewPostgresStore(db)
		logger.Info("using postgres session store")
	} else {
		store = session.NewMemoryStore()
		logger.Info("using in-memory session store")
	}

	dispatcher := events.NewDispatcher(logger)
	client := node.New(cfg.HubURL, dispatcher, logger)

	controller := chat.New(chat.Config{
		MinStake:        cfg.MinStake,
		DefaultAmount:   cfg.DefaultAmount,
		Vesting:         cfg.VestingHours,
		PairingProtocol: cfg.PairingProtocol(),
	}, store, client, client, client, client, logger)

	deposits := watcher.New(store, client, client, logger)

	engine := settlement.New(settlement.Config{
		WithdrawalFee:        cfg.WithdrawalFee,
		RewardBPS:            cfg.RewardBPS,
		MaxOutputsPerMessage: cfg.MaxOutputsPerMessage,
	}, store, client, client, client, logger)

	dispatcher.Subscribe(func(ctx context.Context, ev events.Event) {
		switch ev := ev.(type) {
		case events.WalletReady:
			controller.SetIdentity(ev.FirstAddress, ev.DeviceAddress)
			engine.SetTreasury(ev.FirstAddress)
			logger.Info("wallet ready", "first_address", ev.FirstAddress)
		case events.Paired:
			controller.HandlePaired(ctx, ev.Device, ev.Secret)
		case events.MessageReceived:
			controller.HandleText(ctx, ev.Device, ev.Text)
		case events.UnconfirmedTransactions:
			deposits.HandleUnconfirmed(ctx, ev.Units)
		case events.TransactionsStable:
			engine.HandleStable(ctx, ev.Units)
		}
	})

	checks := health.NewRegistry()
	checks.Register("node", func(ctx context.Context) health.Status {
		if !client.Connected() {
			return health.Fail("node", ledger.ErrNotConnected)
		}
		return health.OK("node")
	})
	checks.Register("store", func(ctx context.Context) health.Status {
		if err := store.Ping(ctx); err != nil {
			return health.Fail("store", err)
		}
		return health.OK("store")
	})

	go dispatcher.Run(ctx)
	go client.Run(ctx)

	srv := server.New(cfg.Port, checks, logger, cfg.IsDevelopment())
	if err := srv.Run(ctx); err != nil {
		logger.Error("status server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutting down")
}
