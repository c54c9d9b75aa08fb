package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"askbase/internal/api"
	"askbase/internal/auth"
	"askbase/internal/config"
	"askbase/internal/generation"
	"askbase/internal/logger"
	"askbase/internal/quota"
	"askbase/internal/redis"
	"askbase/internal/service/store"
	"askbase/internal/storage"
	"askbase/internal/upstream"
)

func main() {
	cfgPath := os.Getenv("ASKBASE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Init(cfg.BasicConfig.LogLevel, cfg.BasicConfig.LogFormat)
	defer logger.Sync()

	dbType := os.Getenv("ASKBASE_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Infof("using %s database", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatalf("migrate database: %v", err)
	}

	rdb, err := redis.NewClient(cfg)
	if err != nil {
		logger.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	storeSvc := store.NewService(db)
	authSvc := auth.NewService(db, 24*time.Hour)
	gate := quota.NewGate(rdb, cfg.Quota.DailyLimit)
	backend := upstream.NewClient(cfg)

	progress := generation.NewProgressCache(rdb, time.Duration(cfg.Generation.ProgressTTLSeconds)*time.Second)
	supervisor := generation.NewSupervisor(storeSvc, backend, progress, generation.Options{
		PollInterval:    time.Duration(cfg.Generation.PollIntervalMillis) * time.Millisecond,
		MaxPollInterval: time.Duration(cfg.Generation.MaxPollMillis) * time.Millisecond,
		BackoffFactor:   cfg.Generation.BackoffFactor,
		GracePeriod:     time.Duration(cfg.Generation.GraceSeconds) * time.Second,
		StallThreshold:  time.Duration(cfg.Generation.StallSeconds) * time.Second,
		Capacity:        cfg.Generation.MonitorCapacity,
	})

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	supervisor.StartSweeper(sweepCtx, time.Duration(cfg.Generation.SweepSeconds)*time.Second)

	handlers := api.NewHandler(storeSvc, authSvc, gate, backend, supervisor, cfg.Window())

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	if err := router.Run(addr); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
}
