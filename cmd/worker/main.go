package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"coinsight/internal/config"
	"coinsight/internal/database"
	"coinsight/internal/logger"
	"coinsight/internal/messaging"
	"coinsight/internal/services"
	"coinsight/internal/worker"
)

func main() {
	logger.Init(os.Getenv("ENV"))
	defer logger.Sync()

	if err := run(); err != nil && err != context.Canceled {
		logger.Get().Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	log := logger.Get()

	appConfig, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dbConfig, err := database.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load database configuration: %w", err)
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to create database manager: %w", err)
	}

	if err := dbManager.Migrate(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	client, err := messaging.NewClient(appConfig.AMQPURL, appConfig.EventExchange,
		appConfig.TransactionQueue, appConfig.TransactionDeleteQueue, appConfig.BudgetAlertQueue)
	if err != nil {
		return fmt.Errorf("failed to connect to message broker: %w", err)
	}
	defer client.Close()

	db := dbManager.DB()
	ledgerService := services.NewLedgerService(db)
	alertPublisher := messaging.NewAlertPublisher(client, appConfig.BudgetAlertQueue)
	trackerService := services.NewTrackerService(db, ledgerService, alertPublisher)

	processor := worker.NewProcessor(client, trackerService, ledgerService, appConfig)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("starting budget tracking worker",
		"transaction_queue", appConfig.TransactionQueue,
		"deletion_queue", appConfig.TransactionDeleteQueue,
		"alert_queue", appConfig.BudgetAlertQueue,
	)
	return processor.Run(ctx)
}
