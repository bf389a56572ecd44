package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-book-lookup/config"
	"github.com/aluiziolira/go-book-lookup/models"
	"github.com/aluiziolira/go-book-lookup/parser"
	"github.com/aluiziolira/go-book-lookup/pipeline"
	"github.com/aluiziolira/go-book-lookup/progress"
	"github.com/aluiziolira/go-book-lookup/resolver"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// run performs one lookup batch: read the queries, resolve each in order,
// write the result set and print the summary to stdout.
func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger, level := newLogger(stderr, cfg.Verbose)
	logger = logger.With(slog.String("run_id", uuid.NewString()))
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	queries, err := parser.LoadQueries(cfg.InputFile)
	if err != nil {
		logger.Error("reading input", slog.String("input", cfg.InputFile), slog.Any("error", err))
		return err
	}

	logger.Info("starting lookup",
		slog.String("input", cfg.InputFile),
		slog.Int("queries", len(queries)),
		slog.String("api_url", cfg.APIURL),
	)

	r, err := resolver.NewResolver(cfg)
	if err != nil {
		logger.Error("initialising resolver", slog.Any("error", err))
		return err
	}
	r.Logger = logger

	reporter, err := progress.New(cfg.Progress, stdout)
	if err != nil {
		return err
	}
	r.Reporter = reporter

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		logger.Error("creating writer", slog.Any("error", err))
		return err
	}

	p, err := pipeline.NewPipeline(writer, cfg)
	if err != nil {
		logger.Error("creating pipeline", slog.Any("error", err))
		return err
	}
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(r.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		logger.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	result, err := r.Run(ctx, queries, p)
	if err != nil {
		p.Abort()
		logger.Error("lookup failed", slog.Any("error", err))
		return err
	}

	if err := p.Close(); err != nil {
		logger.Error("writing output failed", slog.Any("error", err))
		return err
	}

	if err := writer.Validate(); err != nil {
		logger.Error("output validation failed", slog.Any("error", err))
		return err
	}

	logSummary(logger, result)
	fmt.Fprintf(stdout, "\nSaved to %s\n", cfg.OutputFile)
	return nil
}

func logSummary(logger *slog.Logger, result *models.LookupResult) {
	attrs := []any{
		slog.Int("records", result.TotalCount),
		slog.Int("found", result.FoundCount),
		slog.Int("not_found", result.NotFound),
		slog.Int("failed", result.FailedCount),
		slog.Int("repeated", result.Repeated),
		slog.Int("requests", result.RequestCount),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)),
	}
	if len(result.ErrorsByType) > 0 {
		attrs = append(attrs, slog.Any("errors_by_type", result.ErrorsByType))
	}
	logger.Info("lookup complete", attrs...)
}

func newLogger(w io.Writer, verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(w) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
