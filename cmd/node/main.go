package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fractionfi/bondcore/params"
	"github.com/fractionfi/bondcore/pkg/api"
	"github.com/fractionfi/bondcore/pkg/core/instrument"
	"github.com/fractionfi/bondcore/pkg/core/ledger"
	"github.com/fractionfi/bondcore/pkg/core/marketdata"
	"github.com/fractionfi/bondcore/pkg/core/portfolio"
	"github.com/fractionfi/bondcore/pkg/engine"
	"github.com/fractionfi/bondcore/pkg/identity"
	"github.com/fractionfi/bondcore/pkg/settlement"
	"github.com/fractionfi/bondcore/pkg/storage"
	"github.com/fractionfi/bondcore/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file when configured)
	var logger *zap.Logger
	var err error
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Storage ----
	// DataDir empty means run purely in memory (dev/test)
	var store *storage.Store
	var instStore instrument.Store
	var tradeStore ledger.Store
	var holdStore portfolio.Store
	if cfg.Node.DataDir != "" {
		store, err = storage.Open(cfg.Node.DataDir)
		if err != nil {
			sugar.Fatalw("storage_open_failed", "dir", cfg.Node.DataDir, "err", err)
		}
		defer store.Close()
		instStore, tradeStore, holdStore = store, store, store
		sugar.Infow("storage_opened", "dir", cfg.Node.DataDir)
	}

	// ---- Core state: registry, ledger, portfolio ----
	registry := instrument.NewRegistry(instStore)
	tradeLog := ledger.New(tradeStore, sugar)
	accounts := portfolio.NewAccounts(holdStore)

	if store != nil {
		restoreState(store, registry, tradeLog, accounts, sugar)
	}

	// ---- Market data ----
	marketData := marketdata.New(tradeLog, registry, cfg.Market.StatsWindow, util.RealClock{}, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Settlement ----
	dispatcher := settlement.NewDispatcher(settlement.ChainNotifier{}, tradeLog, sugar)
	dispatcher.Start(ctx)

	// ---- Trade journal (optional) ----
	var journal storage.TradeJournal
	if cfg.Node.TradeJournal != "" {
		fj, err := storage.NewFileJournal(cfg.Node.TradeJournal)
		if err != nil {
			sugar.Fatalw("trade_journal_open_failed", "path", cfg.Node.TradeJournal, "err", err)
		}
		defer fj.Close()
		journal = fj
		sugar.Infow("trade_journal_enabled", "path", cfg.Node.TradeJournal)
	}

	// ---- Matching engine ----
	eng := engine.New(engine.Config{
		Registry:   registry,
		Ledger:     tradeLog,
		Accounts:   accounts,
		MarketData: marketData,
		Settlement: dispatcher,
		Journal:    journal,
		Logger:     sugar,
	})

	// ---- Wallet identity ----
	wallets := identity.NewStaticSource()
	unsubscribe := wallets.Subscribe(func(ev identity.Event) {
		sugar.Infow("wallet_event", "wallet", ev.Wallet.Hex(), "connected", ev.Connected)
	})
	defer unsubscribe()
	if addr := os.Getenv("WALLET_ADDRESS"); identity.Valid(addr) {
		wallets.SetCurrent(identity.Parse(addr))
	}

	// ---- API server ----
	server := api.NewServer(eng, cfg.API.AllowedOrigins, sugar)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.API.Listen)
	}()

	select {
	case <-ctx.Done():
		sugar.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			sugar.Errorw("api_server_failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_error", "err", err)
	}

	// Let in-flight settlement instructions drain
	stop()
	dispatcher.Wait()

	sugar.Info("node stopped")
}

// restoreState reloads registry, ledger and holdings from the pebble store.
// When trades exist but no holdings were persisted, holdings are rebuilt by
// replaying the ledger.
func restoreState(store *storage.Store, registry *instrument.Registry, tradeLog *ledger.Ledger, accounts *portfolio.Accounts, sugar *zap.SugaredLogger) {
	instruments, err := store.LoadInstruments()
	if err != nil {
		sugar.Fatalw("load_instruments_failed", "err", err)
	}
	for _, b := range instruments {
		if err := registry.Register(b); err != nil {
			sugar.Fatalw("restore_instrument_failed", "isin", b.ISIN, "err", err)
		}
	}

	trades, err := store.LoadTrades()
	if err != nil {
		sugar.Fatalw("load_trades_failed", "err", err)
	}
	tradeLog.Load(trades)

	holdings, err := store.LoadHoldings()
	if err != nil {
		sugar.Fatalw("load_holdings_failed", "err", err)
	}
	if len(holdings) == 0 && len(trades) > 0 {
		replayed, err := portfolio.Replay(trades)
		if err != nil {
			sugar.Fatalw("ledger_replay_failed", "err", err)
		}
		for _, byInstrument := range replayed.Snapshot() {
			for _, h := range byInstrument {
				hc := h
				holdings = append(holdings, &hc)
			}
		}
		sugar.Infow("holdings_rebuilt_from_ledger", "count", len(holdings))
	}
	accounts.Load(holdings)

	sugar.Infow("state_restored",
		"instruments", len(instruments),
		"trades", len(trades),
		"holdings", len(holdings),
	)
}
