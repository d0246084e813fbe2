package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gpumon/gpumon/internal/config"
	"github.com/gpumon/gpumon/internal/gpu"
	"github.com/gpumon/gpumon/internal/gpu/nv"
	"github.com/gpumon/gpumon/internal/monitor"
	"github.com/gpumon/gpumon/internal/wsserver"
)

const (
	samplerStopWait     = 5 * time.Second
	httpShutdownTimeout = 5 * time.Second
	providerInitRetry   = 30 * time.Second
)

type args struct {
	configPath string
	listen     string
	loglevel   zapcore.Level
	dummy      bool
	dummyCount int
}

func parseArgs() (*args, error) {
	configVar := flag.String("config", "", "Path to YAML config file")
	listenVar := flag.String("listen", "", "Listen address (overrides config)")
	loglevelVar := flag.String("loglevel", "info", "Log level")
	dummyVar := flag.Bool("dummy", false, "Use the dummy GPU provider")
	dummyCountVar := flag.Int("dummy-devices", 2, "Device count for the dummy provider")

	flag.Parse()

	loglevel, err := zapcore.ParseLevel(*loglevelVar)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", *loglevelVar)
	}

	return &args{
		configPath: *configVar,
		listen:     *listenVar,
		loglevel:   loglevel,
		dummy:      *dummyVar,
		dummyCount: *dummyCountVar,
	}, nil
}

func createLogger(a *args) (*zap.SugaredLogger, func(), error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(a.loglevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return zl.Sugar(), func() { _ = zl.Sync() }, nil
}

func createProvider(a *args, cfg *config.Config, l *zap.SugaredLogger) (gpu.Provider, error) {
	if a.dummy {
		return gpu.NewDummyProvider(l, a.dummyCount), nil
	}
	return nv.New(l, cfg.CommandTimeout)
}

func main() {
	args, err := parseArgs()
	if err != nil {
		log.Fatalf("invalid arguments: %v", err)
	}

	l, stopl, err := createLogger(args)
	if err != nil {
		log.Fatalf("fail to create logger: %v", err)
	}
	defer stopl()

	cfg, err := config.Load(args.configPath)
	if err != nil {
		l.Fatalf("fail to load config: %v", err)
	}
	if args.listen != "" {
		cfg.ListenAddr = args.listen
	}

	provider, err := createProvider(args, cfg, l)
	if err != nil {
		l.Fatalf("fail to create GPU provider: %v", err)
	}

	// The driver can come up after us on boot; retry initialization for a
	// while before treating it as fatal.
	initBackoff := backoff.NewExponentialBackOff()
	initBackoff.MaxElapsedTime = providerInitRetry
	err = backoff.RetryNotify(provider.Init, initBackoff, func(err error, next time.Duration) {
		l.Warnw("provider init failed, retrying", "error", err, "next", next)
	})
	if err != nil {
		l.Fatalf("fail to initialize GPU provider: %v", err)
	}
	defer provider.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := monitor.NewSnapshotQueue(cfg.QueueCapacity)
	history := monitor.NewHistory(cfg.WindowSize)

	sampler := monitor.NewSampler(monitor.SamplerConfig{
		Period:         cfg.SamplePeriod,
		ECCInterval:    cfg.ECCInterval,
		PowerInterval:  cfg.PowerInterval,
		DriverInterval: cfg.DriverInterval,
		CommandTimeout: cfg.CommandTimeout,
	}, provider, queue, l)

	broadcaster := monitor.NewBroadcaster(cfg.BroadcastPeriod, queue, history, cfg.Thresholds, l)
	server := wsserver.New(l, broadcaster, cfg.SubscriberQueueSize)

	sampler.Start()
	defer sampler.Stop(samplerStopWait)

	broadcastDone := make(chan struct{})
	go func() {
		defer close(broadcastDone)
		broadcaster.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	l.Infow("listening", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Fatalf("fail to start server: %v", err)
	}

	<-broadcastDone
	l.Info("shutdown")
}
