package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"referral-hub/internal/config"
	"referral-hub/internal/email"
	"referral-hub/internal/hubspot"
	"referral-hub/internal/metrics"
	"referral-hub/internal/migrations"
	"referral-hub/internal/referral"
	"referral-hub/internal/scheduler"
	"referral-hub/internal/store"
	"referral-hub/internal/tracker"
	"referral-hub/internal/webhook"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализация логгера
	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск приложения Referral Hub",
		zap.String("env", cfg.App.Env),
		zap.String("portal_id", cfg.HubSpot.PortalID))

	// Инициализация базы данных
	db, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации базы данных", zap.Error(err))
	}
	defer db.Close()

	// Применение миграций
	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("ошибка применения миграций", zap.Error(err))
	}

	// Инициализация метрик
	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, logger)

	// Инициализация клиента HubSpot
	hubspotClient := hubspot.NewClient(cfg.HubSpot.APIKey, cfg.HubSpot.PortalID, cfg.HubSpot.BaseURL, metricsSystem, logger)

	// Инициализация сервиса уведомлений
	mailer := email.NewSMTPMailer(&cfg.Email)
	emailService := email.NewService(&cfg.Email, cfg.Tracking.SiteName, mailer, hubspotClient, metricsSystem, logger)
	logger.Info("сервис уведомлений инициализирован", zap.String("method", cfg.Email.Method))

	// Инициализация реферального сервиса
	referralService := referral.NewService(hubspotClient, emailService, &cfg.Tracking, logger)
	apiHandler := referral.NewHandler(referralService, hubspotClient, logger)

	// Инициализация конвейера webhook'ов
	pipeline := webhook.NewPipeline(hubspotClient, emailService, db.WebhookLog(), metricsSystem, logger)
	webhookHandler := webhook.NewHandler(pipeline, db.WebhookLog(), cfg.Tracking.SiteBaseURL, logger)

	// Инициализация трекера переходов
	trackerHandler := tracker.NewHandler(hubspotClient, &cfg.Tracking, metricsSystem, logger)

	// Инициализация планировщика задач
	taskScheduler := scheduler.NewScheduler(logger)
	taskScheduler.AddJob(scheduler.NewMonthlyStatsJob(referralService, emailService, cfg.Email.SendMonthlyDigest, logger))
	taskScheduler.AddJob(scheduler.NewLogCleanupJob(db.WebhookLog(), logger))

	// Создание канала для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Запуск HTTP сервера
	router := buildRouter(webhookHandler, trackerHandler, apiHandler, metricsHandler)
	go startHTTPServer(ctx, cfg.App.Port, router, logger)

	// Запуск планировщика: тикаем каждый час, задачи сами следят за календарем
	go taskScheduler.Start(ctx, time.Hour)

	logger.Info("приложение запущено и готово к работе",
		zap.String("address", fmt.Sprintf("http://localhost:%d", cfg.App.Port)))

	// Ожидание сигнала завершения
	<-sigChan
	logger.Info("получен сигнал завершения, начинаем graceful shutdown")
	cancel()

	// Даем серверу и планировщику время завершиться
	time.Sleep(time.Second)
	logger.Info("приложение завершено")
}

// initLogger инициализирует логгер
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.App.IsProduction() {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = cfg.App.GetLogLevel()
	zapConfig.OutputPaths = []string{"stdout", "logs/app.log"}
	zapConfig.ErrorOutputPaths = []string{"stderr", "logs/error.log"}

	// Создаем директорию для логов если её нет
	if err := os.MkdirAll("logs", 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
	}

	return zapConfig.Build()
}

// buildRouter собирает все HTTP маршруты приложения
func buildRouter(webhookHandler *webhook.Handler, trackerHandler *tracker.Handler, apiHandler *referral.Handler, metricsHandler *metrics.Handler) *mux.Router {
	router := mux.NewRouter()

	// Webhook'и HubSpot
	router.HandleFunc("/webhook", webhookHandler.HandleWebhook).Methods(http.MethodPost)
	router.HandleFunc("/webhook-info", webhookHandler.HandleInfo).Methods(http.MethodGet)

	// Переходы по реферальным ссылкам
	router.HandleFunc("/track", trackerHandler.HandleTrack).Methods(http.MethodGet)

	// Публичное API реферальной программы
	router.HandleFunc("/api/referral-link", apiHandler.HandleEnroll).Methods(http.MethodPost)
	router.HandleFunc("/api/partner", apiHandler.HandlePartner).Methods(http.MethodGet)
	router.HandleFunc("/api/directory", apiHandler.HandleDirectory).Methods(http.MethodGet)
	router.HandleFunc("/api/test-connection", apiHandler.HandleTestConnection).Methods(http.MethodGet)

	// Админский доступ к журналу webhook'ов
	router.HandleFunc("/api/webhook-logs", webhookHandler.HandleLogs).Methods(http.MethodGet)
	router.HandleFunc("/api/webhook-logs", webhookHandler.HandleClearLogs).Methods(http.MethodDelete)

	// Метрики и health check
	router.Handle("/metrics", metricsHandler.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/health", metricsHandler.HealthHandler).Methods(http.MethodGet)

	return router
}

// startHTTPServer запускает HTTP сервер приложения
func startHTTPServer(ctx context.Context, port int, router *mux.Router, logger *zap.Logger) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	logger.Info("HTTP сервер запущен", zap.String("address", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ошибка HTTP сервера", zap.Error(err))
		}
	}()

	// Ожидание сигнала завершения
	<-ctx.Done()

	// Graceful shutdown HTTP сервера
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка при остановке HTTP сервера", zap.Error(err))
	}

	logger.Info("HTTP сервер остановлен")
}
