package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kozaktomas/attendance/internal/attendance"
	"github.com/kozaktomas/attendance/internal/catalog"
	"github.com/kozaktomas/attendance/internal/config"
	"github.com/kozaktomas/attendance/internal/detector"
	"github.com/kozaktomas/attendance/internal/facematch"
	"github.com/kozaktomas/attendance/internal/logger"
	"github.com/kozaktomas/attendance/internal/media"
	"github.com/kozaktomas/attendance/internal/metrics"
	"github.com/kozaktomas/attendance/internal/recognition"
	"github.com/kozaktomas/attendance/internal/store"
)

// core is the set of components every command works with. All of them share
// one store so that locks cover the CLI and server alike within a process.
type core struct {
	cfg         *config.Config
	log         *logger.Logger
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	store       *store.Store
	codec       facematch.Codec
	catalog     *catalog.Catalog
	recognition *recognition.Service
	ledger      *attendance.Ledger
}

func openCore() (*core, error) {
	cfg := config.Load()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(logger.ParseLevel(cfg.LogLevel))

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	st, err := store.Open(cfg.DataDir,
		store.WithLogger(log),
		store.WithMetrics(m),
		store.WithRetry(cfg.Store.Attempts, cfg.Store.RetryDelay),
	)
	if err != nil {
		return nil, err
	}

	ms, err := media.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	codec := facematch.NewCodec(cfg.LandmarkCount)

	catalogOpts := []catalog.Option{catalog.WithLogger(log), catalog.WithMetrics(m)}
	recognitionOpts := []recognition.Option{
		recognition.WithLogger(log),
		recognition.WithMetrics(m),
		recognition.WithCacheTTL(cfg.IndexCacheTTL),
		recognition.WithANN(cfg.MatchIndex == config.MatchIndexHNSW),
	}
	if cfg.Detector.URL != "" {
		d := detector.NewClient(cfg.Detector.URL, cfg.Detector.Timeout)
		catalogOpts = append(catalogOpts, catalog.WithDetector(d))
		recognitionOpts = append(recognitionOpts, recognition.WithDetector(d))
	}

	cat := catalog.New(st, ms, codec, catalogOpts...)
	svc := recognition.New(cat, codec, cfg.Threshold, recognitionOpts...)
	cat.OnChange(svc.Invalidate)

	ledger := attendance.New(st, cat, attendance.WithLogger(log), attendance.WithMetrics(m))

	return &core{
		cfg:         cfg,
		log:         log,
		registry:    registry,
		metrics:     m,
		store:       st,
		codec:       codec,
		catalog:     cat,
		recognition: svc,
		ledger:      ledger,
	}, nil
}

func (c *core) Close() error {
	return c.store.Close()
}
