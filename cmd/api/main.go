package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farmstore/internal/config"
	"farmstore/internal/domain/model"
	"farmstore/internal/handler"
	"farmstore/internal/infra/db"
	infraRepo "farmstore/internal/infra/repository"
	"farmstore/internal/logging"
	"farmstore/internal/metrics"
	"farmstore/internal/notification"
	"farmstore/internal/server"
	"farmstore/internal/usecase"
	"farmstore/internal/validator"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type uuidGenerator struct{}

func (g *uuidGenerator) NewID() string {
	return uuid.NewString()
}

type realClock struct{}

func (c *realClock) Now() time.Time {
	return time.Now().UTC()
}

func main() {
	//.envは任意（本番は環境変数のみ）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.MustNew("farmstore-api", cfg.GoEnv, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(gormDB); err != nil {
		return err
	}

	m := metrics.New()

	//usecaseに渡す部品
	idGen := &uuidGenerator{}
	clock := &realClock{}

	//通知の配信先（Kafkaがなければログのみ）
	var sender notification.Sender = notification.NewLogSender(logger)
	var kafkaSender *notification.KafkaSender
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSender = notification.NewKafkaSender(cfg.KafkaBrokers, cfg.NotifyTopic)
		sender = kafkaSender
	}

	//重複排除（Redisがなければなし）
	var deduper notification.Deduper
	var redisCloser func() error
	if cfg.RedisAddr != "" {
		rdb, err := notification.NewRedisClient(context.Background(), cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, notification dedup disabled", zap.Error(err))
		} else {
			deduper = notification.NewRedisDeduper(rdb, 24*time.Hour)
			redisCloser = rdb.Close
		}
	}

	dispatcher := notification.NewDispatcher(sender, deduper, logger, m, notification.Options{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
	})

	//Repository（GORM実装）生成
	txm := infraRepo.NewTxManagerGorm(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)

	//Usecase生成
	ledger := usecase.NewInventoryLedger(txm, clock, logger, m)
	pricing := usecase.PricingPolicy{
		TaxBasisPoints: cfg.TaxBasisPoints,
		DeliveryFees: map[model.DeliveryMethod]int64{
			model.DeliveryPickup:        0,
			model.DeliveryLocalDelivery: cfg.DeliveryFeeLocal,
			model.DeliveryShipping:      cfg.DeliveryFeeShipping,
		},
	}
	checkoutUC := usecase.NewCheckoutUsecase(txm, ledger, validator.NewCheckoutValidator(), dispatcher, idGen, clock, pricing, logger, m)
	orderUC := usecase.NewOrderUsecase(txm, ledger, dispatcher, idGen, clock, logger, m)
	adminOrderUC := usecase.NewAdminOrderUsecase(txm)
	productUC := usecase.NewProductUsecase(productRepo, txm, clock, logger)

	//Handler生成
	srv := server.New(cfg, logger, m, server.Handlers{
		Products:      handler.NewProductHandler(productUC),
		AdminProducts: handler.NewAdminProductHandler(productUC),
		Checkout:      handler.NewCheckoutHandler(checkoutUC),
		Orders:        handler.NewOrderHandler(orderUC),
		AdminOrders:   handler.NewAdminOrderHandler(adminOrderUC),
		Inventory:     handler.NewInventoryHandler(ledger),
		Payments:      handler.NewPaymentHandler(orderUC),
	})

	//Server起動
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	//HTTP → 通知 → 外部接続の順に止める
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("notification drain", zap.Error(err))
	}
	if kafkaSender != nil {
		if err := kafkaSender.Close(); err != nil {
			logger.Error("kafka close", zap.Error(err))
		}
	}
	if redisCloser != nil {
		if err := redisCloser(); err != nil {
			logger.Error("redis close", zap.Error(err))
		}
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("server stopped")
	return nil
}
