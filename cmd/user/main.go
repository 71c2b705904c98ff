package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/storefront/pkg/api"
	"github.com/example/storefront/pkg/auth"
	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/database"
	"github.com/example/storefront/pkg/logger"
	"github.com/example/storefront/pkg/metrics"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/service"
	"github.com/example/storefront/pkg/store"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(service.ConfigPath("config/user.yaml"))
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(&cfg.Log, cfg.Server.Name)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting user service",
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port))

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.Migrate(db, &models.User{}); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	issuer, err := auth.NewIssuer(&cfg.Auth)
	if err != nil {
		log.Fatal("Invalid auth config", zap.Error(err))
	}

	users := store.NewUserStore(db)
	if err := ensureAdmin(context.Background(), &cfg.Admin, users, log); err != nil {
		log.Fatal("Failed to create admin user", zap.Error(err))
	}

	var cache api.UserCache
	if cfg.Redis.Addr != "" {
		redisRepo := repository.NewRedisRepository(&cfg.Redis)
		defer redisRepo.Close()
		if err := redisRepo.Ping(context.Background()); err != nil {
			log.Warn("Redis connection failed, profile cache disabled", zap.Error(err))
		} else {
			log.Info("Redis connected successfully")
			cache = redisRepo
		}
	}

	recorder, closeAudit := service.OpenAudit(cfg, log)
	defer closeAudit()

	server := api.NewUserServer(users, issuer, cache, recorder, log, metrics.New(cfg.Server.Name))

	if err := service.Run(cfg, log, server.Handler(), dbProbe(db)); err != nil {
		log.Error("User service exited with error", zap.Error(err))
	}
}

// ensureAdmin creates the bootstrap superuser, or resets its password, when
// the admin section is filled in.
func ensureAdmin(ctx context.Context, cfg *config.AdminConfig, users *store.UserStore, log *zap.Logger) error {
	if cfg.Username == "" || cfg.Password == "" {
		return nil
	}
	if cfg.Email == "" {
		return errors.New("admin.email must be set together with admin.username")
	}

	hash, err := auth.HashPassword(cfg.Password)
	if err != nil {
		return err
	}
	admin, err := users.EnsureSuperuser(ctx, cfg.Username, cfg.Email, hash)
	if err != nil {
		return err
	}
	log.Info("Admin user ready", zap.String("username", admin.Username), zap.Uint("user_id", admin.ID))
	return nil
}

func dbProbe(db *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return database.Ping(ctx, db)
	}
}
