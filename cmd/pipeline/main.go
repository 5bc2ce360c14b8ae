package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/evidenceflow/internal/extractor"
	"github.com/your-org/evidenceflow/internal/ingest"
	"github.com/your-org/evidenceflow/internal/pipeline"
	"github.com/your-org/evidenceflow/internal/probe"
	"github.com/your-org/evidenceflow/internal/scenes"
	"github.com/your-org/evidenceflow/pkg/config"
	"github.com/your-org/evidenceflow/pkg/kafka"
	"github.com/your-org/evidenceflow/pkg/logger"
	"github.com/your-org/evidenceflow/pkg/metrics"
	"github.com/your-org/evidenceflow/pkg/storage/objectstore"
	"github.com/your-org/evidenceflow/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  parseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.BundleTopic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  cfg.Kafka.Retries,
	})

	store, err := objectstore.New(objectstore.Config{
		Provider:  cfg.Storage.Provider,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logr.Fatal("init object store", zap.Error(err))
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logr.Fatal("ensure bucket", zap.Error(err))
	}

	pipe := pipeline.New(pipeline.Params{
		Prober:    probe.NewFFprobe(cfg.Pipeline.FFprobePath),
		Extractor: extractor.New(cfg.Pipeline.FFmpegPath, logr),
		Scenes:    scenes.NewDetector(cfg.Pipeline.FFmpegPath),
		Logger:    logr,
		Config: pipeline.Config{
			Sampling: extractor.SamplingPolicy{
				IntervalSeconds: cfg.Pipeline.IntervalSeconds,
				MaxFrames:       cfg.Pipeline.MaxFrames,
				StartOffset:     cfg.Pipeline.StartOffset,
			},
			Concurrency:    cfg.Pipeline.Concurrency,
			StageTimeout:   cfg.Pipeline.StageTimeout,
			MaxRetries:     cfg.Pipeline.MaxRetries,
			RetryBaseDelay: cfg.Pipeline.RetryBaseDelay,
			SceneThreshold: cfg.Pipeline.SceneThreshold,
		},
	})

	service := ingest.NewService(ingest.Params{
		Store:    store,
		Producer: producer,
		Pipeline: pipe,
		WorkRoot: cfg.Pipeline.WorkDir,
		Logger:   logr,
	})

	handler := ingest.NewHTTPHandler(service, logr, cfg.Upload.MaxSizeBytes, cfg.Upload.MultipartMemBytes)

	metricsSrv := metrics.StartServer(cfg.Metrics.Addr, logr)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logr.Error("metrics server shutdown failed", zap.Error(err))
		}
		if err := service.Close(shutdownCtx); err != nil {
			logr.Error("service shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("pipeline service starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("pipeline_version", pipeline.Version),
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Fatal("http server failed", zap.Error(err))
	}
}

func parseResourceAttributes(raw string) map[string]string {
	attrs := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		attrs[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return attrs
}
