package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ltpbot/internal/infrastructure/config"
	"ltpbot/internal/infrastructure/logger"
	"ltpbot/internal/infrastructure/metrics"
	"ltpbot/internal/infrastructure/svc"
	"ltpbot/internal/interfaces/console"
)

const usage = `usage: ltpbot [-config path] <run|status|reset|flatten|quote|trades>`

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cmd := "run"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	// logger comes up before config so load errors are readable
	logger.Setup(logger.Options{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	closer := logger.Setup(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service context initialization failed")
	}
	defer sc.Close()

	if err := dispatch(ctx, cmd, sc); err != nil {
		log.Error().Err(err).Str("cmd", cmd).Msg("command failed")
		sc.Close()
		closer.Close()
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cmd string, sc *svc.ServiceContext) error {
	out := console.NewSink(os.Stdout)
	positions := sc.Container().PositionService()

	switch cmd {
	case "run":
		if err := sc.ConnectBroker(ctx); err != nil {
			return err
		}
		return run(ctx, sc)

	case "status":
		st, err := positions.Status(ctx)
		if err != nil {
			return err
		}
		return out.WriteStatus(st)

	case "reset":
		if _, err := positions.Reset(ctx); err != nil {
			return err
		}
		log.Info().Str("state", sc.Config.State.Path).Msg("state reset")
		return nil

	case "flatten":
		if err := sc.ConnectBroker(ctx); err != nil {
			return err
		}
		if err := sc.Trader().Flatten(ctx); err != nil {
			return err
		}
		st, err := positions.Status(ctx)
		if err != nil {
			return err
		}
		return out.WriteStatus(st)

	case "quote":
		if err := sc.ConnectBroker(ctx); err != nil {
			return err
		}
		q, err := sc.Trader().Quote(ctx)
		if err != nil {
			return err
		}
		return out.WriteQuote(sc.Instrument.Display, q)

	case "trades":
		now := time.Now().In(sc.Config.MarketLocation())
		since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		trades, err := sc.Container().TradeService().ListTrades(ctx, since)
		if err != nil {
			return err
		}
		return out.WriteTrades(trades)

	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

// run the decision loop and, when enabled, the metrics endpoint until a
// signal arrives.
func run(ctx context.Context, sc *svc.ServiceContext) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sc.Trader().Run(gctx)
	})
	if sc.Config.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, sc.Config.Metrics.Addr, sc.Gatherer())
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("ltpbot stopped")
	return nil
}
