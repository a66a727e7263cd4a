package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	mcpclient "github.com/mcpguard/mcpguard/internal/adapter/outbound/mcp"
	"github.com/mcpguard/mcpguard/internal/config"
	"github.com/mcpguard/mcpguard/internal/domain/detect"
	"github.com/mcpguard/mcpguard/internal/domain/scan"
	"github.com/mcpguard/mcpguard/internal/domain/snapshot"
	"github.com/mcpguard/mcpguard/internal/domain/threat"
	"github.com/mcpguard/mcpguard/internal/observability"
	"github.com/mcpguard/mcpguard/internal/port/outbound"
	"github.com/mcpguard/mcpguard/internal/service"
)

var jsonOutput bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan configured MCP servers for threats",
	Long: `Connect to every server in the configuration, enumerate its
tools and resources, and run the threat detector suite against them.

Exit code is 1 if any High or Critical severity threat was found (this
wins over a scan error), 2 if a server failed to scan and no High or
Critical threat was found, 0 otherwise.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the report as JSON instead of a text summary")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, traceEnabled)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	_, metrics := observability.InitMetricsRegistry()

	specs := make([]scan.ServerSpec, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		specs = append(specs, scan.ServerSpec{
			ClientOrigin:  "mcpguard",
			Name:          s.Name,
			Command:       s.Command,
			Args:          s.Args,
			Environment:   s.Environment,
			TransportKind: scan.TransportKind(s.TransportKind),
		})
	}

	serverTimeout, err := time.ParseDuration(cfg.Scan.ServerTimeout)
	if err != nil {
		serverTimeout = service.DefaultServerTimeout
		logger.Warn("invalid scan.server_timeout, using default", "value", cfg.Scan.ServerTimeout, "default", serverTimeout)
	}

	snapshotStore := snapshot.NewStore(cfg.Scan.SnapshotDir)
	framework := detect.NewFramework(
		detect.NewDescriptionInjection(),
		detect.NewPermissionScope(),
		detect.NewNoAuth(),
		detect.NewToolShadowing(),
		detect.NewDescriptionDrift(snapshotStore),
	)

	orchestrator := service.NewScanOrchestrator(scanClientFactory, framework, cfg.Scan.Concurrency, serverTimeout, logger)
	orchestrator.SetMetrics(metrics)

	logger.Info("scan starting", "servers", len(specs), "concurrency", cfg.Scan.Concurrency)
	report, err := orchestrator.Scan(ctx, specs)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if jsonOutput {
		if err := printJSONReport(report); err != nil {
			return err
		}
	} else {
		printTextReport(report)
	}

	os.Exit(report.ExitCode())
	return nil
}

func scanClientFactory(spec scan.ServerSpec) outbound.ScanClient {
	return mcpclient.NewScanClient(spec, mcpclient.ScanClientConfig{CallTimeout: mcpclient.DefaultCallTimeout})
}

func printJSONReport(report threat.Report) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printTextReport(report threat.Report) {
	for _, res := range report.Results {
		fmt.Printf("== %s ==\n", res.Server.Name)
		if res.Error != "" {
			fmt.Printf("  error: %s\n", res.Error)
			continue
		}
		fmt.Printf("  tools: %d  resources: %d  elapsed: %dms\n", len(res.Tools), len(res.Resources), res.ElapsedMS)
		if len(res.Threats) == 0 {
			fmt.Println("  no threats found")
			continue
		}
		for _, th := range res.Threats {
			fmt.Printf("  [%s] %s: %s\n", th.Severity, th.Category, th.Title)
			if th.Remediation != "" {
				fmt.Printf("      remediation: %s\n", th.Remediation)
			}
		}
	}
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("scanned %d servers, exit code %d\n", len(report.Results), report.ExitCode())
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
