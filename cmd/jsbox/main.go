// Command jsbox runs a script in a sandboxed guest environment and prints the
// result as JSON.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/jsbox"
	"github.com/GriffinCanCode/jsbox/internal/config"
	"github.com/GriffinCanCode/jsbox/internal/logging"
	"github.com/GriffinCanCode/jsbox/internal/metrics"
)

func main() {
	expr := flag.String("e", "", "Evaluate an expression instead of a file")
	timeLimit := flag.Duration("time-limit", 0, "Per-run time budget (0 = unlimited)")
	memLimit := flag.Int64("memory-limit", 0, "Per-run memory budget in bytes (0 = unlimited)")
	snapshotOut := flag.String("snapshot", "", "Compile input into a startup snapshot written to this path")
	flag.Parse()

	cfg := config.LoadOrDefault()

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "jsbox: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	source, identifier, err := readInput(*expr, flag.Args())
	if err != nil {
		log.Error("failed to read input", zap.Error(err))
		os.Exit(1)
	}

	if *snapshotOut != "" {
		blob, err := jsbox.CreateSnapshot(source)
		if err != nil {
			log.Error("snapshot creation failed", zap.Error(err))
			os.Exit(1)
		}
		if err := os.WriteFile(*snapshotOut, blob, 0o644); err != nil {
			log.Error("failed to write snapshot", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		go serveMetrics(cfg.Metrics.Addr, reg, log)
	}

	if *timeLimit == 0 {
		*timeLimit = cfg.Limits.TimeLimit
	}
	if *memLimit == 0 {
		*memLimit = cfg.Limits.MemoryLimit
	}

	jsbox.SetWatchdogPollInterval(cfg.Watchdog.PollInterval)

	vm, err := jsbox.New(jsbox.Options{
		TimeLimit:         *timeLimit,
		MemoryLimit:       *memLimit,
		MaxCallStackDepth: cfg.Limits.MaxCallStackDepth,
		AverageObjectSize: cfg.Limits.AverageObjectSize,
		Logger:            log.Named("vm"),
		Metrics:           m,
	})
	if err != nil {
		log.Error("failed to create vm", zap.Error(err))
		os.Exit(1)
	}
	defer vm.Close()

	start := time.Now()
	result, err := vm.ExecuteString(source, identifier, jsbox.ExecOptions{})
	if err != nil {
		log.Error("execution failed",
			zap.String("identifier", identifier),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		os.Exit(exitCode(err))
	}

	out, err := sonic.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Error("failed to encode result", zap.Error(err))
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func readInput(expr string, args []string) (source, identifier string, err error) {
	if expr != "" {
		return expr, "<expr>", nil
	}
	if len(args) < 1 {
		return "", "", fmt.Errorf("usage: jsbox [flags] <script.js> (or -e <expr>)")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", err
	}
	return string(data), args[0], nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info("metrics listener started", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics listener stopped", zap.Error(err))
	}
}

func exitCode(err error) int {
	switch {
	case jsbox.IsResourceTermination(err):
		return 3
	case jsbox.IsCompileError(err):
		return 2
	default:
		return 1
	}
}
