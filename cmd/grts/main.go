// Command grts fetches GRTS watershed projects for every HUC12 in the input
// list and writes them to the configured output files.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/grts-huc-etl/internal/adapter/grts"
	httpadapter "github.com/couchcryptid/grts-huc-etl/internal/adapter/http"
	"github.com/couchcryptid/grts-huc-etl/internal/adapter/hucsource"
	kafkaadapter "github.com/couchcryptid/grts-huc-etl/internal/adapter/kafka"
	"github.com/couchcryptid/grts-huc-etl/internal/adapter/sink"
	"github.com/couchcryptid/grts-huc-etl/internal/config"
	"github.com/couchcryptid/grts-huc-etl/internal/domain"
	"github.com/couchcryptid/grts-huc-etl/internal/observability"
	"github.com/couchcryptid/grts-huc-etl/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	codes, err := hucsource.Load(cfg.InputFile)
	if err != nil {
		logger.Error("failed to load huc list", "error", err)
		return 1
	}
	logger.Info("huc list loaded", "path", cfg.InputFile, "codes", len(codes))

	progress, err := hucsource.OpenProgressLog(cfg.ProgressFile, cfg.LineEnding)
	if err != nil {
		logger.Error("failed to open progress log", "error", err)
		return 1
	}
	defer func() {
		if err := progress.Close(); err != nil {
			logger.Error("progress log close error", "error", err)
		}
	}()

	fanout, unavailable := openSinks(cfg, metrics, logger)

	client := grts.NewClient(grts.Options{
		BaseURL:   cfg.APIBase,
		Timeout:   cfg.RequestTimeout,
		LegacyTLS: cfg.LegacyTLS,
		Retry: grts.RetryPolicy{
			Total:         cfg.RetryTotal,
			Connect:       cfg.RetryConnect,
			Read:          cfg.RetryRead,
			BackoffFactor: cfg.RetryBackoffFactor,
		},
		ErrorBackoff: cfg.ErrorBackoff,
	}, clock, metrics, logger)

	normalizer := domain.NewDateNormalizer(cfg.MinValidDate, clock)
	transformer := pipeline.NewTransformer(normalizer, metrics, logger)
	p := pipeline.New(client, progress, transformer, fanout, clock, cfg.PaceInterval, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, func() any { return p.Status() }, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	summary, runErr := p.Run(ctx, codes)
	if runErr != nil {
		logger.Warn("run interrupted", "error", runErr)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}

	failures := fanout.Failures() + unavailable
	logger.Info("run complete",
		"codes", summary.Codes,
		"attempted", summary.Attempted,
		"fetched", summary.Fetched,
		"status_errors", summary.StatusErrors,
		"transport_errors", summary.TransportErrors,
		"decode_errors", summary.DecodeErrors,
		"items", summary.Items,
		"sink_errors", failures,
		"interrupted", summary.Interrupted,
	)
	if failures > 0 || runErr != nil {
		return 1
	}
	return 0
}

// openSinks opens every configured sink. A sink that cannot be opened is
// logged and left out; the run continues with the rest. The second result is
// the number of sinks left out.
func openSinks(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*sink.Fanout, int) {
	fanout := sink.NewFanout(metrics, logger)

	unavailable := 0
	skip := func(name string, err error) {
		unavailable++
		metrics.SinkErrors.WithLabelValues(name).Inc()
		logger.Error("sink unavailable, continuing without it", "sink", name, "error", err)
	}

	if s, err := sink.OpenJSONArray(cfg.OutputPath(config.SuffixJSON)); err != nil {
		skip("json", err)
	} else {
		fanout.AddResponseSink(s)
	}
	if s, err := sink.OpenJSONLines(cfg.OutputPath(config.SuffixLines), cfg.LineEnding); err != nil {
		skip("jsonlines", err)
	} else {
		fanout.AddResponseSink(s)
	}
	if len(cfg.KafkaBrokers) > 0 {
		fanout.AddResponseSink(kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger))
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	if s, err := sink.OpenDelimited(cfg.OutputPath(config.SuffixCSV), cfg.CSVHeaderFile, cfg.CSVDelimiter, cfg.LineEnding); err != nil {
		skip("csv", err)
	} else {
		fanout.AddItemSink(s)
	}
	fanout.AddItemSink(sink.NewTabular(cfg.OutputPath(config.SuffixXLSX), cfg.OutputPath(config.SuffixFeather)))

	if s, err := sink.OpenSnapshot(cfg.OutputPath(config.SuffixSnapshot)); err != nil {
		skip("snapshot", err)
	} else {
		fanout.AddCollectionSink(s)
	}

	logger.Info("sinks opened", "output_dir", cfg.OutputDir, "base_name", cfg.OutputBaseName, "unavailable", unavailable)
	return fanout, unavailable
}
