package main

import (
	"context"
	"errors"
	"fmt"

	"tasknerd/internal/config"
	"tasknerd/internal/logging"
	"tasknerd/internal/perception"
	"tasknerd/internal/personalization"
	"tasknerd/internal/resolver"
	"tasknerd/internal/session"
	"tasknerd/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app holds the wired components shared by every subcommand.
type app struct {
	engine     *resolver.Engine
	classifier *perception.Classifier
	local      *store.LocalStore // nil when no database is configured
	registry   *prometheus.Registry
	ping       func(ctx context.Context) error
	closers    []func() error
}

// buildApp wires the resolver from cfg. Components that fail to come up are closed
// before the error is returned.
func buildApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	timer := logging.StartTimer(logging.CategoryBoot, "buildApp")
	defer timer.Stop()

	a := &app{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := resolver.MustNewMetrics(a.registry)

	// 1. Perception
	var table *perception.RuleTable
	if path := cfg.Perception.RulesPath; path != "" {
		if table, err = perception.LoadRuleTable(path); err != nil {
			return nil, err
		}
		logging.Boot("Loaded %d rules from %s", len(table.Rules), path)
	}
	a.classifier = perception.NewClassifier(table,
		perception.WithDefaultHour(cfg.Perception.DefaultHour),
		perception.WithMentionAliases(cfg.Perception.Aliases),
	)

	// 2. Reasoning service
	client, err := perception.NewClientFromConfig(ctx, cfg.LLM, cfg.GetLLMTimeout())
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning service client: %w", err)
	}
	if client == nil {
		logging.Boot("No reasoning service configured; resolving with rules only")
	}
	fallback := perception.NewFallback(client, perception.FallbackConfig{
		Timeout:           cfg.GetFallbackTimeout(),
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
		OnResult:          metrics.ObserveFallback,
	}, a.classifier.Mentions())

	// 3. Sessions
	var kv session.KeyedStore
	if cfg.Session.Backend == "redis" {
		rs, err := session.DialRedis(ctx, cfg.Session.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		a.ping = rs.Ping
		kv = rs
	}
	sessions := session.NewStore(kv,
		session.WithTTL(cfg.GetSessionTTL()),
		session.WithRetention(cfg.GetSessionRetention()),
	)

	// 4. Local persistence and personalization
	if path := cfg.Personalization.DatabasePath; path != "" {
		if a.local, err = store.NewLocalStore(path); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.local.Close)
	}
	var personalizer *personalization.Personalizer
	if cfg.Personalization.Enabled {
		var prefs personalization.PreferenceStore
		if a.local != nil {
			prefs = a.local
		}
		personalizer = personalization.New(prefs, personalization.OptionsFromConfig(cfg))
	}

	// 5. Engine
	res := resolver.New(a.classifier,
		resolver.WithGate(resolver.NewGate(cfg.Resolver.ConfidenceThreshold)),
		resolver.WithDefaultMention(cfg.Resolver.DefaultMention),
	)
	ec := resolver.EngineConfig{
		Classifier:        a.classifier,
		Fallback:          fallback,
		Resolver:          res,
		Sessions:          sessions,
		Personalizer:      personalizer,
		Metrics:           metrics,
		FallbackThreshold: cfg.Resolver.FallbackThreshold,
		HistoryTurns:      cfg.Resolver.HistoryTurns,
		Location:          cfg.Location(),
	}
	if a.local != nil {
		ec.Turns = a.local
	}
	a.engine = resolver.NewEngine(ec)

	logging.Boot("Resolver ready: sessions=%s llm=%s personalization=%t", cfg.Session.Backend, cfg.LLM.Provider, personalizer != nil)
	return a, nil
}

// Close releases every component in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
