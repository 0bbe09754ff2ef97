package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/api"
	"github.com/claimscope/analyzer/internal/config"
	"github.com/claimscope/analyzer/internal/database"
	"github.com/claimscope/analyzer/internal/health"
	"github.com/claimscope/analyzer/internal/metrics"
	"github.com/claimscope/analyzer/internal/migration"
	"github.com/claimscope/analyzer/internal/persistence"
	"github.com/claimscope/analyzer/internal/repository"
	"github.com/claimscope/analyzer/internal/scraper"
	"github.com/claimscope/analyzer/internal/services"
	"github.com/claimscope/analyzer/internal/store"
	"github.com/claimscope/analyzer/pkg/utils"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	logger := utils.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	utils.SetLevel(logger, cfg.LogLevel)

	logger.Info("Starting claim analyzer...")

	contributor := cfg.Contributor.ID
	switch {
	case contributor == "":
		contributor = utils.GenerateContributorID()
		logger.WithField("contributor", contributor).Info("Generated contributor id")
	case !utils.ValidateContributorID(contributor):
		logger.WithField("contributor", contributor).Warn("Contributor id does not follow the user_<hex> format")
	}

	// History database and cache are optional
	dbManager, err := database.NewManager(&database.Config{
		DatabaseURL: cfg.Database.URL,
		RedisURL:    cfg.Redis.URL,
		LogLevel:    cfg.LogLevel,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database manager")
	}
	defer dbManager.Close()

	var history *repository.RepositoryManager
	if dbManager.DB != nil {
		if err := dbManager.Migrate(); err != nil {
			logger.WithError(err).Fatal("Failed to migrate history tables")
		}
		if err := migration.NewRunner(dbManager, logger).RunMigrations("migrations"); err != nil {
			logger.WithError(err).Fatal("Failed to run SQL migrations")
		}
		history = repository.NewRepositoryManager(dbManager.DB)
	}

	backend, err := store.Open(cfg, dbManager.Redis, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open learning store")
	}

	opts := services.Options{
		Contributor: contributor,
		Persistence: persistence.Options{
			Debounce:      cfg.Persistence.Debounce,
			FollowUpDelay: cfg.Persistence.FollowUpDelay,
			ConflictGrace: cfg.Persistence.ConflictGrace,
			SaveTimeout:   30 * time.Second,
		},
		History: history,
		Extractor: scraper.NewClaimExtractor(scraper.ExtractorOptions{
			UserAgent:      cfg.Scraper.UserAgent,
			Timeout:        cfg.Scraper.Timeout,
			AllowedDomains: cfg.Scraper.AllowedDomains,
		}, logger),
	}
	if dbManager.Redis != nil {
		opts.Cache = database.NewCache(dbManager.Redis, logger)
	}
	if len(cfg.Scraper.AllowedDomains) == 0 {
		logger.Warn("scraper.allowed_domains is empty, URL analysis can fetch any host")
	}

	service := services.NewAnalyzerService(backend, opts, logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := service.Initialize(initCtx); err != nil {
		// Keep serving with the default state; the next save overwrites remote.
		logger.WithError(err).Error("Failed to load learning state")
	}
	initCancel()

	metrics.Init(service)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthChecker := health.NewHealthChecker(dbManager, backend, backend.Name(), logger)
	go healthChecker.PeriodicHealthCheck(ctx, time.Minute)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(ctx, api.RouterConfig{
		Service:   service,
		Health:    healthChecker,
		RateLimit: cfg.Server.RateLimit,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":  cfg.Server.Port,
			"store": backend.Name(),
		}).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := service.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to flush learning state")
	}

	logger.Info("Server exited")
}
