package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/Domenick1991/docbooking/config"
	"github.com/Domenick1991/docbooking/internal/logger"
	"github.com/Domenick1991/docbooking/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	applied, err := repository.Migrate(ctx, pool)
	if err != nil {
		zl.Fatal("apply migrations", zap.Error(err))
	}
	zl.Info("migrations applied", zap.Strings("files", applied))
}
