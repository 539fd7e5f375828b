package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/arjunvm/pivot_sentry/internal/broker"
	"github.com/arjunvm/pivot_sentry/internal/config"
	"github.com/arjunvm/pivot_sentry/internal/dashboard"
	"github.com/arjunvm/pivot_sentry/internal/instruments"
	"github.com/arjunvm/pivot_sentry/internal/journal"
	"github.com/arjunvm/pivot_sentry/internal/levels"
	"github.com/arjunvm/pivot_sentry/internal/orders"
	"github.com/arjunvm/pivot_sentry/internal/positions"
	"github.com/arjunvm/pivot_sentry/internal/scheduler"
	"github.com/arjunvm/pivot_sentry/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; environment variables win either way.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags|log.Lshortfile)

	logger.Printf("Starting pivot sentry in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - no real money at risk")
	} else {
		logger.Println("LIVE TRADING MODE - real money at risk!")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		logger.Fatalf("Failed to create storage: %v", err)
	}

	kite := broker.NewKiteAPIWithBaseURL(cfg.Broker.APIKey, cfg.Broker.AccessToken, cfg.Broker.APIEndpoint).
		WithProduct(cfg.Broker.Product)

	var brokerClient broker.Broker = broker.NewCircuitBreakerBroker(kite)
	if cfg.IsPaperTrading() {
		brokerClient = broker.NewPaperBroker(brokerClient, logger)
	}

	var recorder positions.Recorder
	if cfg.Journal.Path != "" {
		j, err := journal.NewSQLiteJournal(cfg.Journal.Path, logger)
		if err != nil {
			logger.Fatalf("Failed to open trade journal: %v", err)
		}
		defer j.Close()
		recorder = j
	}

	locator := levels.NewLocator(brokerClient, logger, cfg.Location(), cfg.Levels.MaxLookbackDays)
	cache := levels.NewCache(locator, store, logger, cfg.Location())
	executor := orders.NewClient(brokerClient, logger)
	book := positions.NewBook(executor, brokerClient, store, recorder, logger, cfg.Broker.Quantity)
	book.Reload()

	resolver := instruments.NewResolver(cfg, logger)

	// Live sessions pick up the day's access token from storage before the
	// open; paper sessions run on the statically configured token.
	var tokenSink scheduler.TokenSink
	if !cfg.IsPaperTrading() {
		tokenSink = kite
	}

	sched, err := scheduler.New(cfg, cache, book, brokerClient, store, resolver, tokenSink, logger)
	if err != nil {
		logger.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		dashLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		dash = dashboard.NewServer(cfg, store, book, dashLogger)
		go func() {
			if err := dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("Dashboard server error: %v", err)
			}
		}()
	}

	sched.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Println("Shutdown signal received, stopping bot...")

	// Stop blocks until the in-flight tick completes, so an order sequence
	// is never cut in half by a restart.
	sched.Stop()

	if dash != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
		defer shutdownCancel()
		if err := dash.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Dashboard shutdown error: %v", err)
		}
	}

	if err := store.Save(); err != nil {
		logger.Printf("Final state save failed: %v", err)
	}

	logger.Println("Bot stopped successfully")
}
