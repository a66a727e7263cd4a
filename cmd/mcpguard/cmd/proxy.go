package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mcpguard/mcpguard/internal/adapter/inbound/stdio"
	celadapter "github.com/mcpguard/mcpguard/internal/adapter/outbound/cel"
	mcpclient "github.com/mcpguard/mcpguard/internal/adapter/outbound/mcp"
	"github.com/mcpguard/mcpguard/internal/adapter/outbound/memory"
	sqlitestore "github.com/mcpguard/mcpguard/internal/adapter/outbound/store"
	"github.com/mcpguard/mcpguard/internal/config"
	"github.com/mcpguard/mcpguard/internal/domain/audit"
	"github.com/mcpguard/mcpguard/internal/domain/rule"
	"github.com/mcpguard/mcpguard/internal/observability"
	"github.com/mcpguard/mcpguard/internal/service"
)

var proxyServerName string

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Proxy a client's stdin/stdout to one configured MCP server",
	Long: `Sit between an AI client and a single configured MCP server,
speaking newline-delimited JSON-RPC on stdin/stdout to the client and
spawning the server as a child process.

Every tools/call invocation is evaluated against the configured rules
before being forwarded; denied calls get a synthesized JSON-RPC error
response instead of reaching the server. Every completed call,
allowed or denied, is appended to the audit log.`,
	RunE: runProxy,
}

func init() {
	proxyCmd.Flags().StringVar(&proxyServerName, "server", "", "name of the configured server to proxy to (required if more than one is configured)")
	rootCmd.AddCommand(proxyCmd)
}

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg)

	serverCfg, err := resolveServer(cfg, proxyServerName)
	if err != nil {
		return err
	}

	engine, err := buildRuleEngine(cfg)
	if err != nil {
		return fmt.Errorf("failed to build rule engine: %w", err)
	}

	auditStore, err := buildAuditStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, traceEnabled)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	_, metrics := observability.InitMetricsRegistry()

	meter, shutdownOTelMetrics, err := observability.InitOTelMetrics(ctx, traceEnabled)
	if err != nil {
		return fmt.Errorf("failed to init OTel metrics: %w", err)
	}
	defer shutdownOTelMetrics(context.Background())

	upstream := mcpclient.NewStdioClient(serverCfg.Command, serverCfg.Args, environSlice(serverCfg.Environment))
	orchestrator := service.NewProxyOrchestrator(serverCfg.Name, upstream, engine, auditStore, logger)
	orchestrator.SetMetrics(metrics)
	if err := orchestrator.SetMeter(meter); err != nil {
		return fmt.Errorf("failed to configure proxy meter: %w", err)
	}
	transport := stdio.NewStdioTransport(orchestrator)

	logger.Info("proxy starting", "server", serverCfg.Name)
	err = transport.Start(ctx)
	if closeErr := transport.Close(); closeErr != nil {
		logger.Warn("error while closing proxy transport", "error", closeErr)
	}
	if err != nil {
		return fmt.Errorf("proxy session ended with error: %w", err)
	}
	return nil
}

func resolveServer(cfg *config.Config, name string) (config.ServerConfig, error) {
	if name != "" {
		for _, s := range cfg.Servers {
			if s.Name == name {
				return s, nil
			}
		}
		return config.ServerConfig{}, fmt.Errorf("no server named %q in config", name)
	}
	switch len(cfg.Servers) {
	case 0:
		return config.ServerConfig{}, fmt.Errorf("no servers configured")
	case 1:
		return cfg.Servers[0], nil
	default:
		return config.ServerConfig{}, fmt.Errorf("more than one server configured; pass --server to pick one")
	}
}

func buildRuleEngine(cfg *config.Config) (*rule.Engine, error) {
	var condEval rule.ConditionEvaluator
	for _, r := range cfg.Rules {
		if r.Condition != "" {
			evaluator, err := celadapter.NewEvaluator()
			if err != nil {
				return nil, fmt.Errorf("build CEL evaluator: %w", err)
			}
			condEval = evaluator
			break
		}
	}

	rules := make([]rule.Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if !r.Enabled {
			continue
		}
		rules = append(rules, rule.Rule{
			ID:            r.ID,
			Kind:          rule.Kind(r.Kind),
			Pattern:       r.Pattern,
			Scope:         r.Scope,
			Priority:      r.Priority,
			Reason:        r.Reason,
			Condition:     r.Condition,
			MaxCalls:      r.MaxCalls,
			WindowSeconds: r.WindowSeconds,
		})
	}
	return rule.NewEngine(rules, condEval), nil
}

func buildAuditStore(cfg *config.Config) (audit.Store, error) {
	if cfg.Audit.StorePath == "" {
		return memory.NewAuditStore(os.Stdout, cfg.Audit.BufferCapacity), nil
	}
	return sqlitestore.Open(cfg.Audit.StorePath)
}

func environSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
