package service

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/storefront/pkg/audit"
	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/discovery"
	healthgrpc "github.com/example/storefront/pkg/grpc"
	"github.com/example/storefront/pkg/repository"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	probeInterval   = 10 * time.Second
)

// ConfigPath returns $CONFIG_PATH when set, otherwise fallback.
func ConfigPath(fallback string) string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return fallback
}

// OpenAudit connects the MongoDB audit log behind an actor dispatcher. Without
// a configured URI, or when MongoDB is unreachable, entries are dropped.
// The returned func flushes pending entries and disconnects.
func OpenAudit(cfg *config.Config, logger *zap.Logger) (audit.Recorder, func()) {
	if cfg.MongoDB.URI == "" {
		return audit.Nop{}, func() {}
	}

	mongo, err := repository.NewMongoRepository(&cfg.MongoDB)
	if err != nil {
		logger.Warn("MongoDB connection failed, audit log disabled", zap.Error(err))
		return audit.Nop{}, func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mongo.Ping(ctx); err != nil {
		logger.Warn("MongoDB ping failed, audit log disabled", zap.Error(err))
		_ = mongo.Close(ctx)
		return audit.Nop{}, func() {}
	}

	dispatcher, err := audit.NewDispatcher(cfg.Server.Name, mongo, logger)
	if err != nil {
		logger.Warn("Failed to start audit dispatcher", zap.Error(err))
		_ = mongo.Close(ctx)
		return audit.Nop{}, func() {}
	}
	logger.Info("MongoDB connected successfully")

	return dispatcher, func() {
		if err := dispatcher.Close(); err != nil {
			logger.Warn("Failed to flush audit log", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongo.Close(ctx)
	}
}

// Run serves handler on the configured address until SIGINT or SIGTERM.
// When configured it also serves gRPC health driven by probes and keeps the
// instance registered in etcd. Shutdown is graceful.
func Run(cfg *config.Config, logger *zap.Logger, handler http.Handler, probes ...healthgrpc.Probe) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 2)
	go func() {
		logger.Info("HTTP server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var health *healthgrpc.HealthServer
	if cfg.Server.GRPCPort > 0 {
		health = healthgrpc.NewHealthServer(cfg.Server.Name, logger)
		go func() {
			if err := health.Start(cfg.Server.Host, cfg.Server.GRPCPort); err != nil {
				serverErr <- err
			}
		}()
		go health.Watch(ctx, probeInterval, probes...)
	}

	sd, instance := register(ctx, cfg, logger)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-serverErr:
		logger.Error("Server error", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if sd != nil {
		if err := sd.Deregister(shutdownCtx, instance); err != nil {
			logger.Error("Failed to deregister service", zap.Error(err))
		}
		_ = sd.Close()
	}
	if health != nil {
		health.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	logger.Info("Service stopped")
	return runErr
}

func register(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*discovery.ServiceDiscovery, *discovery.ServiceInstance) {
	if !cfg.Etcd.Enabled() {
		return nil, nil
	}

	sd, err := discovery.NewServiceDiscovery(&cfg.Etcd)
	if err != nil {
		logger.Warn("Failed to connect to etcd, continuing without registration", zap.Error(err))
		return nil, nil
	}

	instance := &discovery.ServiceInstance{
		Name: cfg.Server.Name,
		Host: AdvertiseHost(cfg.Server.Host),
		Port: cfg.Server.Port,
	}
	if err := sd.Register(ctx, instance); err != nil {
		logger.Warn("Failed to register service", zap.Error(err))
		_ = sd.Close()
		return nil, nil
	}

	logger.Info("Service registered in etcd",
		zap.String("name", instance.Name),
		zap.String("address", instance.Addr()))
	return sd, instance
}

// AdvertiseHost replaces a wildcard listen address with the machine's
// hostname so peers can reach the registered instance.
func AdvertiseHost(host string) string {
	if host != "" && host != "0.0.0.0" && host != "::" {
		return host
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "localhost"
}

// Discoverer connects to etcd for lookups only. It returns nil, and the
// caller falls back to static addresses, when etcd is not configured or
// unreachable.
func Discoverer(cfg *config.EtcdConfig, logger *zap.Logger) (discovery.Discoverer, func()) {
	if !cfg.Enabled() {
		return nil, func() {}
	}
	sd, err := discovery.NewServiceDiscovery(cfg)
	if err != nil {
		logger.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
		return nil, func() {}
	}
	return sd, func() { _ = sd.Close() }
}
