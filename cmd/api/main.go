package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/card-service/internal/config"
	"github.com/Dan9191/card-service/internal/handler"
	"github.com/Dan9191/card-service/internal/middleware"
	"github.com/Dan9191/card-service/internal/repository"
	"github.com/Dan9191/card-service/internal/service"
	"github.com/Dan9191/card-service/internal/utils"
	"github.com/Dan9191/card-service/internal/utils/email"
	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store
	var store service.Store
	if cfg.UseMemoryStore() {
		logger.Warn("Using in-memory card store, data is not persisted")
		store = repository.NewMemory(cfg.LockTimeout)
	} else {
		db, err := repository.Connect(ctx, cfg.DBConn)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defer db.Close()
		if err := repository.Migrate(ctx, db); err != nil {
			logger.Fatalf("Failed to migrate database: %v", err)
		}
		store = repository.NewRepository(db, cfg.LockTimeout)
	}

	// Initialize layers
	generator, err := utils.NewCardGenerator(cfg.BINPrefixes)
	if err != nil {
		logger.Fatalf("Invalid card BIN configuration: %v", err)
	}
	cipher, err := utils.NewNumberCipher(cfg.EncryptionKey, cfg.EncryptionSalt)
	if err != nil {
		logger.Fatalf("Invalid encryption configuration: %v", err)
	}
	mailer := email.NewSender(cfg, logger)
	if !mailer.Enabled() {
		logger.Info("SMTP_HOST or ADMIN_EMAIL not set, block request emails disabled")
	}
	svc := service.NewService(store, generator, cipher, mailer, logger, cfg)
	h := handler.NewHandler(svc, logger)

	// Expired card sweeper
	scheduler := cron.New()
	if _, err := svc.ScheduleSweeps(scheduler, cfg.SweepSchedule); err != nil {
		logger.Fatalf("%v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Decrypt rate limiting needs Redis
	var decryptLimit mux.MiddlewareFunc
	if cfg.RedisURL != "" {
		client, err := middleware.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defer client.Close()
		decryptLimit = middleware.RateLimit(middleware.NewRedisCounter(client), middleware.DecryptKeyPrefix,
			cfg.DecryptRateLimit, cfg.DecryptRateWindow, logger)
		logger.Infof("Decrypt rate limit: %d per %s", cfg.DecryptRateLimit, cfg.DecryptRateWindow)
	} else {
		logger.Info("REDIS_URL not set, decrypt rate limiting disabled")
	}

	// Setup router
	r := handler.NewRouter(h, cfg, decryptLimit)
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      corsHandler(r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatalf("Failed to listen on %s: %v", addr, err)
	}

	logger.Infof("Starting server on %s", addr)
	if err := serve(ctx, server, ln, 10*time.Second); err != nil {
		logger.Errorf("%v", err)
	}
	logger.Info("Server stopped")
}
