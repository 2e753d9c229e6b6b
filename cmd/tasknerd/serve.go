package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"tasknerd/internal/logging"
	"tasknerd/internal/perception"
	"tasknerd/internal/server"
	"tasknerd/internal/store"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	turnRetention = 7 * 24 * time.Hour
	pruneInterval = time.Hour
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP resolver service",
	Long: `Serves the resolver over HTTP until interrupted:

  POST /v1/messages                    resolve one chat message
  POST /v1/corrections                 record that a message meant an intent
  GET  /v1/users/{user}/preferences    list learned preferences
  GET  /healthz                        liveness (pings Redis when used)
  GET  /metrics                        Prometheus metrics

When perception.watch_rules is set the rule file is reloaded on change.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := server.New(a.engine, server.Config{
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		Gatherer:          a.registry,
		Ping:              a.ping,
		ReadTimeout:       cfg.GetReadTimeout(),
		WriteTimeout:      cfg.GetWriteTimeout(),
	})

	var watcher *perception.RuleWatcher
	if cfg.Perception.WatchRules && cfg.Perception.RulesPath != "" {
		if watcher, err = perception.NewRuleWatcher(cfg.Perception.RulesPath, a.classifier); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, addr)
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}
	if a.local != nil {
		g.Go(func() error {
			pruneTurns(ctx, a.local)
			return nil
		})
	}

	logging.Boot("tasknerd serving on %s", addr)
	return g.Wait()
}

// pruneTurns drops old conversation history every pruneInterval until ctx ends.
func pruneTurns(ctx context.Context, local *store.LocalStore) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := local.PruneTurns(ctx, now.Add(-turnRetention))
			if err != nil {
				logging.StoreWarn("Turn pruning failed: %v", err)
				continue
			}
			if n > 0 {
				logging.Store("Pruned %d turns older than %s", n, turnRetention)
			}
		}
	}
}
