// Package app wires configuration into a running trading instance.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"scalpd/internal/config"
	"scalpd/internal/engine"
	"scalpd/internal/gateway"
	"scalpd/internal/gateway/binance"
	"scalpd/internal/gateway/exchange"
	"scalpd/internal/gateway/sim"
	"scalpd/internal/levels"
	"scalpd/internal/logger"
	"scalpd/internal/monitor"
	"scalpd/internal/risk"
	"scalpd/internal/sizer"
	"scalpd/internal/store"
	"scalpd/internal/trade"
	tradehttp "scalpd/internal/transport/http"
)

const binanceTestnetURL = "https://testnet.binancefuture.com"

type App struct {
	cfg     *config.Config
	ledger  *risk.Ledger
	eng     *engine.Engine
	mon     *monitor.Monitor
	journal *store.Journal
	httpSrv *tradehttp.Server
	simGW   *sim.Gateway // non-nil in paper mode
}

func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	ledger := risk.NewLedger(risk.Config{
		StartingEquity:       cfg.Risk.StartingEquity,
		RiskPerTrade:         cfg.Risk.RiskPerTrade,
		MaxOpenRisk:          cfg.Risk.MaxOpenRisk,
		MaxDailyLossPct:      cfg.Risk.MaxDailyLossPct,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		Cooldown:             time.Duration(cfg.Risk.CooldownMinutes) * time.Minute,
	})

	a := &App{cfg: cfg, ledger: ledger}

	raw, err := a.buildGateway(cfg.Exchange)
	if err != nil {
		return nil, err
	}
	gw := exchange.Gateway(gateway.NewRetrying(raw, cfg.Exchange.Retry))

	levelsCfg := levels.Config{
		StopATRMultiplier: cfg.Levels.StopATRMultiplier,
		TP1Reward:         cfg.Levels.TP1Reward,
		TP2Reward:         cfg.Levels.TP2Reward,
	}
	szr := sizer.New(cfg.Sizer, cfg.Leverage, levelsCfg, cfg.Risk, ledger)
	a.eng = engine.New(cfg.Engine, cfg.Levels, ledger, szr, gw)
	a.mon = monitor.New(cfg.Monitor, a.eng, gw, ledger)

	if cfg.Store.Path != "" {
		journal, err := store.NewJournal(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.journal = journal
	}

	srv, err := tradehttp.NewServer(tradehttp.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Engine:  a.eng,
		Ledger:  ledger,
		Intake:  a,
		Journal: a.journal,
	})
	if err != nil {
		return nil, err
	}
	a.httpSrv = srv
	return a, nil
}

func (a *App) buildGateway(cfg config.ExchangeConfig) (exchange.Gateway, error) {
	switch cfg.Mode {
	case "sim":
		a.simGW = sim.New()
		return a.simGW, nil
	case "binance":
		bcfg := binance.Config{
			APIKey:      cfg.APIKey,
			APISecret:   cfg.APISecret,
			HTTPTimeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}
		if cfg.Testnet {
			bcfg.RESTBaseURL = binanceTestnetURL
		}
		return binance.New(bcfg)
	default:
		return nil, fmt.Errorf("unknown exchange mode %q", cfg.Mode)
	}
}

// Offer feeds a signal to the engine. In paper mode the signal's reference
// price doubles as the simulated mark price so entries can fill.
func (a *App) Offer(sig trade.Signal) bool {
	if a.simGW != nil && sig.ReferencePrice > 0 {
		a.simGW.SetPrice(sig.Symbol, sig.ReferencePrice)
	}
	return a.eng.Offer(sig)
}

func (a *App) Engine() *engine.Engine { return a.eng }

func (a *App) Ledger() *risk.Ledger { return a.ledger }

func (a *App) Monitor() *monitor.Monitor { return a.mon }

func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return errors.New("app not initialized")
	}
	logger.Infof("Starting scalpd: exchange=%s http=%s", a.cfg.Exchange.Mode, a.httpSrv.Addr())

	group, ctx := errgroup.WithContext(ctx)

	if a.journal != nil {
		events := a.eng.Events().Subscribe()
		group.Go(func() error {
			defer a.journal.Close()
			err := a.journal.Run(ctx, events, a.eng)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		err := a.mon.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		return a.eng.Run(ctx)
	})

	return group.Wait()
}
