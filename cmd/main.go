package main

import (
	"log"

	"gauge-bot/config"
	telegram "gauge-bot/internal/api"
	"gauge-bot/internal/container"
	"gauge-bot/internal/domain/entity"
	"gauge-bot/internal/infrastructure/provider"
	"gauge-bot/internal/infrastructure/storage"
	"gauge-bot/internal/infrastructure/vision"
	"gauge-bot/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.TelegramToken == "" {
		log.Fatal("TELEGRAM_TOKEN is required")
	}
	if cfg.ProviderAPIKey == "" {
		log.Fatal("PROVIDER_API_KEY is required")
	}

	appLog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLog.Sync()

	// Профили приборов: шкалы и опасные зоны
	profiles, err := config.LoadProfiles(cfg.GaugeProfilesPath)
	if err != nil {
		appLog.Fatal("failed to load gauge profiles", "error", err)
	}

	// Основная и резервная vision-модели
	primary, err := provider.NewLlamaVisionProvider(entity.ModelPrimary, cfg.PrimaryModel, cfg.ProviderBaseURL, cfg.ProviderAPIKey)
	if err != nil {
		appLog.Fatal("failed to create primary provider", "error", err)
	}
	fallback, err := provider.NewLlamaVisionProvider(entity.ModelFallback, cfg.FallbackModel, cfg.ProviderBaseURL, cfg.ProviderAPIKey)
	if err != nil {
		appLog.Fatal("failed to create fallback provider", "error", err)
	}

	// Очередь на проверку и долговременный журнал
	staging := storage.NewMemoryStagingRepository()
	historian, err := storage.NewSQLiteHistorian(cfg.HistorianPath, appLog)
	if err != nil {
		appLog.Fatal("failed to open historian", "error", err)
	}

	gate := vision.NewGoCVQualityGate()

	// Собираем сервисы приложения
	appContainer := container.New(cfg, profiles, primary, fallback, staging, historian, gate, appLog)

	// Создаём бота
	bot, err := telegram.NewBot(cfg.TelegramToken, appContainer.ExtractionService, appContainer.ReviewService, appLog)
	if err != nil {
		appLog.Fatal("failed to create bot", "error", err)
	}

	appLog.Info("bot is running",
		"primary_model", cfg.PrimaryModel,
		"fallback_model", cfg.FallbackModel,
		"auto_accept", cfg.AutoAccept,
	)
	if err := bot.Run(); err != nil {
		appLog.Fatal("bot error", "error", err)
	}
}
