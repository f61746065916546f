package container

import (
	"gauge-bot/config"
	app "gauge-bot/internal/application"
	"gauge-bot/internal/domain/port"
	"gauge-bot/internal/logger"
)

type Container struct {
	ExtractionService *app.ExtractionService
	ReviewService     *app.ReviewService
}

func New(
	cfg *config.Config,
	profiles *config.ProfileSet,
	primary, fallback port.InferenceProvider,
	staging port.StagingRepository,
	historian port.HistorianSink,
	gate port.QualityGate,
	log *logger.Logger,
) *Container {
	classifier := app.NewConditionClassifier(profiles)
	reviewService := app.NewReviewService(staging, historian, classifier, log)
	extractionService := app.NewExtractionService(
		primary, fallback, staging, gate, classifier, reviewService,
		app.ExtractionOptions{
			ConfidenceHighThreshold: cfg.ConfidenceHighThreshold,
			DisagreementTolerance:   cfg.DisagreementTolerance,
			ProviderTimeout:         cfg.ProviderTimeout,
			MaxRetries:              cfg.MaxRetries,
			AutoAccept:              cfg.AutoAccept,
		},
		log,
	)

	return &Container{
		ExtractionService: extractionService,
		ReviewService:     reviewService,
	}
}
