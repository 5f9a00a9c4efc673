package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ava-labs/avalanche-msgbus/pkg/kafka"
	"github.com/ava-labs/avalanche-msgbus/pkg/metrics"
	"github.com/ava-labs/avalanche-msgbus/pkg/telemetry"
	"github.com/ava-labs/avalanche-msgbus/pkg/utils"
)

const tracerName = "github.com/ava-labs/avalanche-msgbus/cmd/relay"

func run(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"bootstrapServers", cfg.Consumer.BootstrapServers,
		"groupID", cfg.Consumer.GroupID,
		"topics", cfg.Consumer.Topics,
		"destinationTopic", cfg.Producer.Topic,
		"deadLetterTopic", cfg.DeadLetterTopic,
		"autoOffsetReset", cfg.Consumer.AutoOffsetReset,
		"commitMode", cfg.Consumer.CommitMode,
		"concurrency", cfg.Concurrency,
		"sendTimeout", cfg.Producer.SendTimeout,
		"flushTimeout", cfg.Producer.FlushTimeout,
		"pollInterval", cfg.Consumer.PollInterval,
		"metricsAddr", cfg.MetricsAddr(),
		"tracingEnabled", cfg.Telemetry.Enabled,
		"service", cfg.Labels.Service,
		"environment", cfg.Labels.Environment,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewWithLabels(registry, cfg.Labels)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	tracing, err := telemetry.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to create tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("tracer provider shutdown error", "error", err)
		}
	}()

	producer, err := kafka.NewProducer(ctx, sugar, cfg.Producer, m)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	defer producer.Close(*cfg.Producer.FlushTimeout)

	consumer, err := kafka.NewConsumer(ctx, sugar, cfg.Consumer, m)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	stream, err := consumer.IntoStream(ctx)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			sugar.Warnw("failed to close stream", "error", err)
		}
	}()

	r := newRelay[*kafka.Message](
		producer,
		telemetry.Tracer(tracerName),
		sugar,
		m,
		cfg.Concurrency,
		cfg.DeadLetterTopic,
		cfg.Labels.Service,
	)

	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry, metrics.WithReadiness(r.ready))
	metricsErrCh := metricsServer.Start()
	if cfg.MetricsHost == "" {
		sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
	} else {
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := r.run(gctx, stream); err != nil {
			return fmt.Errorf("relay error: %w", err)
		}
		// The stream ended without an error; stop the other goroutines.
		stop()
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err, ok := <-producer.Errors():
			if !ok {
				return nil
			}
			return fmt.Errorf("producer error: %w", err)
		}
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-metricsErrCh:
			if err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		}
	})

	err = g.Wait()

	sugar.Info("shutting down metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		sugar.Warnw("metrics server shutdown error", "error", shutdownErr)
	}

	sugar.Info("shutdown complete")
	return err
}
