// Command run_bots is the CLI/process surface CycleScheduler.run_many runs
// behind (spec.md §6): `run_bots --bot-ids i j k …` launches every named
// bot's supervised cycle loop and blocks until SIGINT/SIGTERM. Exit codes:
// 0 normal shutdown, 1 initialization failure, 2 fatal uncaught error.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/helion-systems/helion/internal/checkpoint"
	"github.com/helion-systems/helion/internal/config"
	"github.com/helion-systems/helion/internal/configcenter"
	"github.com/helion-systems/helion/internal/cycle"
	"github.com/helion-systems/helion/internal/events"
	"github.com/helion-systems/helion/internal/store"
	"github.com/helion-systems/helion/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	botIDs, err := parseBotIDs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(botIDs) == 0 {
		fmt.Fprintln(os.Stderr, "usage: run_bots --bot-ids i j k ...")
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	db, err := store.Open(store.Config{Path: cfg.DataDir + "/helion.db", Profile: store.ProfileStandard, Name: "helion"})
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		return 1
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		log.Error().Err(err).Msg("failed to migrate database")
		return 1
	}

	systemConfig := store.NewSystemConfigRepo(db)
	configCenter, err := configcenter.New(ctx, systemConfig, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to build config center")
		return 1
	}
	if err := configCenter.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start config center")
		return 1
	}
	defer configCenter.Stop()

	deps := cycle.Deps{
		Bots:         store.NewBotRepo(db),
		Exchanges:    store.NewExchangeRepo(db),
		Workflows:    store.NewWorkflowRepo(db),
		LLMConfigs:   store.NewLLMConfigRepo(db),
		TradeHistory: store.NewTradeHistoryRepo(db),
		Config:       configCenter,
		Checkpointer: checkpoint.NewSQLite(db.Conn()),
		Events:       events.NewManager(),
		Log:          log,
	}
	scheduler := cycle.New(deps)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := scheduler.RunMany(sigCtx, botIDs); err != nil {
		log.Error().Err(err).Msg("run_bots exited with errors")
		return 1
	}
	log.Info().Msg("run_bots shut down cleanly")
	return 0
}

func parseBotIDs(args []string) ([]int64, error) {
	var ids []int64
	collecting := false
	for _, arg := range args {
		if arg == "--bot-ids" {
			collecting = true
			continue
		}
		if collecting {
			if len(arg) > 2 && arg[:2] == "--" {
				collecting = false
				continue
			}
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid bot id %q: %w", arg, err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
