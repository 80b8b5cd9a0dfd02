package prospector

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// -------------- Main --------------

// Run is the entry point for the application
func Run(ctx context.Context) error {
	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	disableCache := flag.Bool("no-cache", false, "Disable DNS and result caching")
	outputFormat := flag.String("output", "", "Override report formats (text,csv,pdf,json,html)")

	target := flag.String("target", "", "Target hosts: IPs, CIDR blocks, ranges or hostnames, comma separated")
	ports := flag.String("ports", "", "Port specification, e.g. 22,80,8000-8100 or \"all\"")
	threads := flag.Int("threads", 0, "Maximum concurrent probes")
	timeout := flag.Int("timeout", 0, "Per-probe timeout in milliseconds")
	randomize := flag.Bool("randomize", false, "Shuffle probe order")
	seed := flag.Int64("seed", 0, "Shuffle seed, 0 picks one from the clock")
	offline := flag.Bool("offline", false, "Skip external CVE lookups")
	quick := flag.Bool("quick", false, "Scan the common well-known ports only")
	otMode := flag.Bool("ot", false, "Scan industrial protocol ports only")
	skipLiveness := flag.Bool("skip-liveness", false, "Probe every port even when a host looks down")
	deep := flag.Bool("deep", false, "Enable authenticated-protocol version probing")
	metricsEnabled := flag.Bool("metrics", false, "Expose Prometheus metrics while scanning")
	diffBaseline := flag.String("diff", "", "Path to an earlier JSON report to diff this run against")
	scaffoldPlugin := flag.String("scaffold-plugin", "", "Write an example plugin skeleton to the given directory and exit")
	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		fmt.Printf("Prospector version %s\n", Version)
		return nil
	}

	if *scaffoldPlugin != "" {
		if err := CreateExamplePluginStructure(*scaffoldPlugin); err != nil {
			return err
		}
		fmt.Printf("Example plugin skeleton written to %s\n", *scaffoldPlugin)
		return nil
	}

	// Load configuration
	var config *Config
	if *configPath != "" {
		var err error
		config, err = LoadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		config = DefaultConfig()
	}

	// Apply command line overrides
	if *target != "" {
		config.Targets = splitTargets(*target)
	}
	config.Targets = append(config.Targets, flag.Args()...)
	if *ports != "" {
		config.PortSpec = *ports
	}
	if *threads > 0 {
		config.Threads = *threads
	}
	if *timeout > 0 {
		config.TimeoutMs = *timeout
	}
	if *randomize {
		config.Randomize = true
	}
	if *seed != 0 {
		config.Seed = *seed
		config.Randomize = true
	}
	if *offline {
		config.Offline = true
	}
	if *skipLiveness {
		config.SkipLiveness = true
	}
	if *deep {
		config.DeepProbes = true
	}
	if *disableCache {
		config.EnableCaching = false
	}
	if *metricsEnabled {
		config.MetricsEnabled = true
	}

	// Scan modes swap the port list; probe behavior is per-port
	if *quick && *otMode {
		return fmt.Errorf("%w: quick and ot modes are mutually exclusive", ErrInvalidConfig)
	}
	if *quick {
		config.PortSpec = FormatPortSpec(QuickScanPorts())
	}
	if *otMode {
		config.PortSpec = FormatPortSpec(OTScanPorts())
		config.OTProbes = true
	}

	// Override output format if specified
	if *outputFormat != "" {
		formats := strings.Split(*outputFormat, ",")
		var validFormats []string
		for _, format := range formats {
			format = strings.TrimSpace(strings.ToLower(format))
			if format == "text" || format == "csv" || format == "pdf" || format == "json" || format == "html" {
				validFormats = append(validFormats, format)
			}
		}
		if len(validFormats) > 0 {
			config.ReportFormats = validFormats
		}
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// Setup logger
	logger, err := SetupLogger(config)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	// Get target hosts, prompting if none were specified
	input := NewInputHandler(logger)
	targets, err := input.ResolveTargets(config.Targets)
	if err != nil {
		logger.Error("Failed to get target hosts", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	config.Targets = targets

	// Initialize the scan engine
	engine, err := NewEngine(config, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	logger.Info("Prospector starting...",
		zap.String("version", Version),
		zap.String("run_id", engine.RunID()),
		zap.Any("config", config),
	)

	// Register Prometheus metrics if enabled
	if config.MetricsEnabled {
		engine.Metrics().Register()
		srv := StartMetricsServer(config, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Metrics server shutdown error", zap.Error(err))
			}
		}()
	}

	// Cancel the scan on interrupt so in-flight probes drain into a
	// partial report instead of being lost
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case s := <-sigChan:
			logger.Info("Received shutdown signal", zap.String("signal", s.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	// Drain the progress stream
	go func() {
		for event := range engine.Events() {
			logger.Debug("Probe finished",
				zap.String("address", event.Address),
				zap.Int("port", event.Port),
				zap.String("state", string(event.State)),
			)
		}
	}()

	// Start scanning
	report, err := engine.Run(ctx)
	if err != nil {
		logger.Error("Scanning failed", zap.Error(err))
		if IsValidationError(err) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrScanFailed, err)
	}

	if config.ConsoleReport {
		PrintConsoleReport(report)
	}

	// Generate reports
	if _, err := WriteReports(report, config, logger); err != nil {
		logger.Error("Report generation failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrReportFailed, err)
	}
	if plugins := engine.Plugins(); plugins != nil {
		plugins.GeneratePluginReports(report, config.ReportDir)
	}

	// Diff this run against the baseline report the operator pointed at
	if *diffBaseline != "" {
		baseline, err := LoadBaselineReport(*diffBaseline)
		if err != nil {
			logger.Warn("Baseline report unavailable", zap.String("path", *diffBaseline), zap.Error(err))
		} else {
			diffScanner := NewDiffScanner(logger)
			diffResult, err := diffScanner.Compare(baseline, report)
			if err != nil {
				logger.Warn("Scan diff failed", zap.Error(err))
			} else {
				diffScanner.PrintDiffSummary(diffResult)
				diffPath := filepath.Join(config.ReportDir,
					"prospector_diff_"+time.Now().Format("20060102_150405")+".json")
				if err := diffScanner.WriteDiffReport(diffResult, "json", diffPath); err != nil {
					logger.Warn("Failed to write diff report", zap.Error(err))
				}
			}
		}
	}

	logger.Info("Prospector exited cleanly")
	return nil
}

// splitTargets splits a comma separated target list, dropping empty entries.
func splitTargets(raw string) []string {
	var targets []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			targets = append(targets, t)
		}
	}
	return targets
}
