// Command portexport exports entities from the Port catalog API to a JSON,
// YAML or CSV file.
//
// Examples:
//
//	portexport -all
//	portexport -blueprints service,deployment
//	portexport -entities service-1,deployment-prod
//	portexport -all -exclude service-1,old-deployment
//	portexport -all -format yaml -output entities.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dnswlt/portexport/internal/config"
	"github.com/dnswlt/portexport/internal/export"
	"github.com/dnswlt/portexport/internal/gitclient"
	"github.com/dnswlt/portexport/internal/metrics"
	"github.com/dnswlt/portexport/internal/port"
	"github.com/dnswlt/portexport/internal/query"
	"github.com/dnswlt/portexport/internal/report"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

var (
	// Version is the application version.
	// It is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
)

func main() {
	// A missing .env file is fine, flags and the environment still apply.
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// newLogger returns a text logger writing to stderr and, if configured, appending to the log file.
func newLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	w := stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open log file: %w", err)
		}
		w = io.MultiWriter(stderr, f)
		closeFn = func() { f.Close() }
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), closeFn, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("portexport", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := config.RegisterFlags(fs)
	if err := config.Parse(fs, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Flag error: %v\n", err)
		return 1
	}
	if cfg.Version {
		fmt.Fprintf(stdout, "portexport %s\n", Version)
		return 0
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger, closeLog, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()
	runID := uuid.NewString()
	logger = logger.With("run", runID)

	var filter *query.Evaluator
	if cfg.Filter != "" {
		// Already validated.
		filter, _ = query.Compile(cfg.Filter)
	}

	m := metrics.New()
	client := port.NewClient(port.ClientOptions{
		BaseURL:      cfg.BaseURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		UserAgent:    "portexport/" + Version,
		HTTPClient:   &http.Client{Timeout: cfg.Timeout},
		Logger:       logger,
		Metrics:      m,
	})
	if err := client.Authenticate(ctx); err != nil {
		fmt.Fprintln(stderr, "Authentication failed. Please check your credentials.")
		return 1
	}

	planner, err := export.NewPlanner(client, export.PlannerOptions{
		Logger:          logger,
		Filter:          filter,
		EntityCacheSize: cfg.EntityCacheSize,
		Metrics:         m,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Export failed: %v\n", err)
		return 1
	}

	scope := cfg.Scope()
	fmt.Fprintln(stdout, cfg.Describe())
	started := time.Now()
	res, err := planner.Export(ctx, scope)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, "\nExport cancelled by user")
			return 1
		}
		logger.Error("Export failed", "error", err)
		fmt.Fprintf(stderr, "Export failed: %v\n", err)
		return 1
	}
	for _, bp := range res.Blueprints() {
		m.SetExported(bp, len(res.Entities(bp)))
	}

	summary, err := export.Save(res, cfg.OutputPath(), cfg.OutputFormat())
	if err != nil {
		logger.Error("Export failed", "error", err)
		fmt.Fprintf(stderr, "Export failed: %v\n", err)
		return 1
	}
	if summary.Written {
		logger.Info("Entities saved", "path", summary.Path, "format", summary.Format)
	} else {
		logger.Warn("No entities to export, output file not written", "path", summary.Path)
	}
	summary.Print(stdout)

	var written []string
	if summary.Written {
		written = append(written, summary.Path)
	}
	if cfg.Report != "" {
		rep := report.New(runID, scope, res, summary, started, time.Now())
		rep.Filter = cfg.Filter
		if err := report.Write(cfg.Report, rep); err != nil {
			logger.Error("Failed to write report", "path", cfg.Report, "error", err)
			return 1
		}
		logger.Info("Report written", "path", cfg.Report)
		written = append(written, cfg.Report)
	}
	if cfg.GitCommit && len(written) > 0 {
		if err := commitOutput(logger, runID, summary, written); err != nil {
			logger.Error("Failed to commit output", "error", err)
			return 1
		}
	}
	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("Failed to write metrics", "error", err)
			return 1
		}
	}
	return 0
}

func commitOutput(logger *slog.Logger, runID string, summary *export.Summary, files []string) error {
	c, err := gitclient.Open(filepath.Dir(files[0]))
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("Export %d Port entities from %d blueprints\n\nRun: %s\n", summary.Entities, summary.Blueprints, runID)
	hash, committed, err := c.CommitFiles(msg, gitclient.Signature("portexport", "portexport@localhost"), files...)
	if err != nil {
		return err
	}
	if !committed {
		logger.Info("Output unchanged, nothing to commit", "repo", c.Root())
		return nil
	}
	logger.Info("Committed output", "repo", c.Root(), "commit", hash.String())
	return nil
}
