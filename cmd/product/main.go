package main

import (
	"context"
	"fmt"

	"github.com/example/storefront/pkg/api"
	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/database"
	"github.com/example/storefront/pkg/discovery"
	"github.com/example/storefront/pkg/logger"
	"github.com/example/storefront/pkg/metrics"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/service"
	"github.com/example/storefront/pkg/store"
	"github.com/example/storefront/pkg/userclient"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(service.ConfigPath("config/product.yaml"))
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(&cfg.Log, cfg.Server.Name)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting product service",
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port),
		zap.String("user_service", cfg.UserService.URL),
		zap.Duration("user_service_timeout", cfg.UserService.Timeout))

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.Migrate(db, models.AllModels()...); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	disc, closeDisc := service.Discoverer(&cfg.Etcd, log)
	defer closeDisc()

	m := metrics.New(cfg.Server.Name)
	resolver := discovery.NewResolver(disc, cfg.UserService.Name, cfg.UserService.URL, log)
	users := userclient.New(resolver, cfg.UserService.Timeout, log.Named("user-client"), m)

	recorder, closeAudit := service.OpenAudit(cfg, log)
	defer closeAudit()

	server := api.NewProductServer(
		store.NewProductStore(db),
		store.NewOrderStore(db),
		users,
		users,
		recorder,
		log,
		m,
	)

	err = service.Run(cfg, log, server.Handler(), func(ctx context.Context) error {
		return database.Ping(ctx, db)
	})
	if err != nil {
		log.Error("Product service exited with error", zap.Error(err))
	}
}
