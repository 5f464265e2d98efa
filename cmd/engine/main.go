// Command engine is the position-lifecycle engine's entry point: it parses
// the CLI surface and environment (spec.md §6), wires every component
// together exactly as internal/runner.Runner expects, and runs until an
// operator sends SIGINT/SIGTERM.
//
// Grounded on the teacher's main.go wiring order (config -> logging ->
// stores -> components -> signal-driven shutdown), compressed to this
// engine's own dependency graph.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/alert"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/brokerage"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/brokerage/paper"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/capacity"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/config"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/logging"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/metrics"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/position"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/retry"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/router"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/runner"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/secrets"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/statusserver"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/store"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/vpvr"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/writequeue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "engine:", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(flag.NewFlagSet("engine", flag.ContinueOnError), os.Args[1:])
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if len(flags.Accounts) == 0 {
		return fmt.Errorf("at least one --account is required")
	}

	env := config.LoadEnv()
	log := logging.New(logging.Config{Level: env.LogLevel, Output: env.LogOutput, JSONFormat: env.LogJSON})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secretsClient, err := secrets.NewClient(secrets.Config{
		Enabled: env.VaultEnabled, Address: env.VaultAddr, Token: env.VaultToken, Mount: env.VaultMount,
	})
	if err != nil {
		return fmt.Errorf("secrets client: %w", err)
	}
	if !env.VaultEnabled {
		for _, acct := range flags.Accounts {
			secretsClient.Put(acct.ID, secrets.BrokerageCredentials{AccountTag: acct.ID})
		}
	}
	for _, acct := range flags.Accounts {
		if _, err := secretsClient.Credentials(ctx, acct.ID); err != nil {
			return fmt.Errorf("load credentials for account %s: %w", acct.ID, err)
		}
	}

	var redisClient *redis.Client
	if env.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: env.RedisAddr, Password: env.RedisPassword, DB: env.RedisDB})
	}

	st, err := store.Open(ctx, store.PGConfig{DSN: env.PostgresDSN, ConnTimeout: 10 * time.Second}, redisClient, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rt := router.New(log)
	vpvrProvider := vpvr.NewMemoryProvider()

	for _, acct := range flags.Accounts {
		capacityAcct := capacity.NewAccountant(acct.MaxContracts)
		machine := position.NewMachine(acct.ID, capacityAcct, acct.MaxRetries, acct.SLBufferTicks, log)

		filter := make(map[string]bool, len(acct.Symbols))
		for _, s := range acct.Symbols {
			filter[s] = true
		}
		rt.AddAccount(&router.Account{
			ID:           acct.ID,
			SymbolFilter: filter,
			AlertName:    acct.AlertName,
			MaxContracts: acct.MaxContracts,
		}, machine)
	}

	retryCoord := retry.NewCoordinator(log)
	writeQueue := writequeue.New(st, env.WriteQueueBuffer, log)

	var alertSource alert.Source
	if flags.DryRun {
		alertSource = alert.NewChanSource(64)
	} else {
		pgSource, err := alert.NewPGSource(ctx, st.Pool(), env.AlertChannel, log)
		if err != nil {
			return fmt.Errorf("alert source: %w", err)
		}
		alertSource = pgSource
	}

	var adapter brokerage.Adapter
	if flags.DryRun {
		adapter = paper.NewAdapter(paper.Config{URL: env.PaperFeedURL, JWTSecret: env.PaperJWTSecret, Subject: "engine-dry-run"}, log)
	} else {
		return fmt.Errorf("no live brokerage adapter is bundled; run with --dry-run, or wire a production Adapter")
	}

	// The default registry is the one the status server's /metrics serves.
	metricsReg := metrics.New(prometheus.DefaultRegisterer)
	seedCapacityMetrics(metricsReg, rt)

	statusSrv := statusserver.New(statusserver.Config{
		Addr: env.StatusAddr, OperatorTokenHash: env.StatusOperatorTokenHash,
	}, rt)

	eng := runner.New(runner.Config{
		FlattenOnStartup: flags.DryRun,
		SyncInterval:     time.Duration(flags.SyncIntervalMS) * time.Millisecond,
		WriteQueueFlush:  env.WriteQueueFlushInterval,
		OrderTimeout:     10 * time.Second,
	}, adapter, rt, retryCoord, writeQueue, alertSource, vpvrProvider, metricsReg, log)

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}

	statusErrCh := make(chan error, 1)
	go func() {
		if err := statusSrv.Run(ctx); err != nil {
			statusErrCh <- err
		}
	}()

	log.Info().Int("accounts", len(flags.Accounts)).Bool("dry_run", flags.DryRun).Msg("engine running")

	select {
	case <-ctx.Done():
	case err := <-statusErrCh:
		log.Error().Err(err).Msg("status server failed")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop runner: %w", err)
	}
	return nil
}

func seedCapacityMetrics(m *metrics.Registry, rt *router.Router) {
	for _, acct := range rt.Accounts() {
		m.CapacityMax.WithLabelValues(acct.ID).Set(float64(acct.MaxContracts))
	}
}
