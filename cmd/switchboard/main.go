// Package main is the CLI entry point for switchboard, the channel policy
// and model routing core.
//
// Start the daemon:
//
//	switchboard serve --config switchboard.yaml
//
// Check a configuration file without starting anything:
//
//	switchboard validate --config switchboard.yaml
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/switchboardlabs/switchboard/internal/channels"
	"github.com/switchboardlabs/switchboard/internal/config"
	"github.com/switchboardlabs/switchboard/internal/gateway"
	"github.com/switchboardlabs/switchboard/internal/observability"
	"github.com/switchboardlabs/switchboard/internal/policy"
	"github.com/switchboardlabs/switchboard/internal/queue"
	"github.com/switchboardlabs/switchboard/internal/routing"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "switchboard",
		Short:         "Channel policy engine, model account router, and message queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to configuration file")

	rootCmd.AddCommand(buildServeCmd(&configPath))
	rootCmd.AddCommand(buildValidateCmd(&configPath))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "switchboard", version)
		},
	})
	return rootCmd
}

func buildValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d policy bindings, %d agents, %d model accounts\n",
				len(cfg.Policies.Bindings), len(cfg.Routing.Agents), len(cfg.Models))
			return nil
		},
	}
}

func buildServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the switchboard daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(cfg.Logging)
	metrics := observability.NewMetrics()
	tracer := observability.NewTracer()

	store, closeStore, err := buildQueueStore(cfg.Queue)
	if err != nil {
		return err
	}
	defer closeStore()

	queues := queue.NewManager(store, logger, metrics)
	registry := policy.NewRegistry()
	if err := bindPolicies(registry, cfg.Policies); err != nil {
		return err
	}

	router := routing.NewRouter(modelLookup(cfg.Models), routing.NewMemorySessionStore(), logger, metrics)
	for agentID, agent := range cfg.Routing.Agents {
		if err := router.Configure(agentID, agent.RoutingConfig()); err != nil {
			return err
		}
	}

	senders := channels.NewRegistry()
	integrator := gateway.New(gateway.Options{
		Policies: registry,
		Engine:   policy.NewEngine(logger),
		Queues:   queues,
		Router:   router,
		Senders:  senders,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracer,
	})
	for name, spec := range cfg.Queue.Queues {
		queues.RegisterHandler(name, deliveryHandler(integrator, senders, logger), spec.BatchConfig())
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(ctx, "metrics server failed", "error", err)
			}
		}()
		logger.Info(ctx, "metrics server started", "addr", cfg.Metrics.Addr)
	}

	logger.Info(ctx, "switchboard started",
		"policy_bindings", len(cfg.Policies.Bindings),
		"agents", len(cfg.Routing.Agents),
		"queues", len(cfg.Queue.Queues),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(ctx, "shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	queues.Stop()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// buildQueueStore selects the persistence backend named in config.
func buildQueueStore(cfg config.QueueConfig) (queue.Store, func(), error) {
	noop := func() {}
	switch cfg.Store {
	case "sqlite":
		store, err := queue.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	case "none":
		return queue.NewNullStore(), noop, nil
	default:
		store, err := queue.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	}
}

// bindPolicies installs configured policies into the registry.
func bindPolicies(registry *policy.Registry, cfg config.PoliciesConfig) error {
	if cfg.Default != nil {
		p, err := cfg.Default.ChannelPolicy()
		if err != nil {
			return err
		}
		registry.SetDefault(p)
	}
	for i, binding := range cfg.Bindings {
		p, err := binding.Policy.ChannelPolicy()
		if err != nil {
			return fmt.Errorf("policy binding %d: %w", i, err)
		}
		registry.Set(policy.Key(binding.Channel, binding.Account), p)
	}
	return nil
}

// modelLookup serves ModelInfo from the static catalog in config. Accounts
// missing from the catalog resolve as unavailable.
func modelLookup(models map[string]config.ModelSpec) routing.LookupFunc {
	return func(ctx context.Context, accountID string) (*routing.ModelInfo, error) {
		spec, ok := models[accountID]
		if !ok {
			return nil, fmt.Errorf("model account %q not in catalog", accountID)
		}
		info := spec.ModelInfo()
		return &info, nil
	}
}

// deliveryHandler drains queued messages: each one passes the outbound gate
// and, when allowed, goes out through the sender registry. A policy denial
// drops the message rather than failing the batch.
func deliveryHandler(ig *gateway.Integrator, senders *channels.Registry, logger *observability.Logger) queue.Handler {
	return func(ctx context.Context, batch []queue.Message) error {
		for _, msg := range batch {
			binding := gateway.Binding{
				AgentID:   msg.AgentID,
				ChannelID: msg.ChannelID,
				AccountID: msg.AccountID,
			}
			result := ig.CheckOutbound(ctx, binding, msg.Content, map[string]any{
				gateway.MetaFromQueue: true,
			})
			if !result.Allow {
				logger.Info(ctx, "queued message dropped by policy",
					"id", msg.ID, "reason", result.Reason)
				continue
			}

			text := result.TransformedMessage
			if text == "" {
				text = msg.Content
			}
			channelID, _ := channels.Normalize(msg.ChannelID)
			if err := senders.Send(ctx, channels.Message{
				ChannelID: channelID,
				AccountID: msg.AccountID,
				Text:      text,
			}); err != nil {
				return fmt.Errorf("deliver %s: %w", msg.ID, err)
			}
		}
		return nil
	}
}
