package main

import (
	"context"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/punchamoorthee/chipledger/internal/api"
	"github.com/punchamoorthee/chipledger/internal/config"
	"github.com/punchamoorthee/chipledger/internal/notify"
	"github.com/punchamoorthee/chipledger/internal/service"
	"github.com/punchamoorthee/chipledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	dbPool, err := pgxpool.New(context.Background(), cfg.DBSource)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}

	broker := notify.NewBroker(logger)
	hub := notify.NewHub(logger)
	feed, stopFeed := broker.SubscribeAll(256)
	defer stopFeed()
	go hub.Run(feed)

	ledgerStore := store.NewPostgres(dbPool, broker, logger)
	sessions := service.NewSessionService(ledgerStore, logger)
	transfers := service.NewTransferService(ledgerStore, logger)
	settlement := service.NewSettlementService(ledgerStore, logger)

	handler := api.NewHandler(ledgerStore, sessions, transfers, settlement, hub, []byte(cfg.JWTSecret), logger)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	})

	logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	if err := http.ListenAndServe(":"+cfg.Port, c.Handler(handler.Router())); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zcfg zap.Config
	if cfg.Env == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
