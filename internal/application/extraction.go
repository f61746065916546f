package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"gauge-bot/internal/domain/entity"
	"gauge-bot/internal/domain/port"
	"gauge-bot/internal/logger"
)

// ExtractionOptions политика маршрутизации и арбитража моделей
type ExtractionOptions struct {
	ConfidenceHighThreshold float64       // ответ с уверенностью ниже порога эскалируется
	DisagreementTolerance   float64       // допустимое расхождение значений двух моделей
	ProviderTimeout         time.Duration // таймаут одного вызова модели
	MaxRetries              int           // повторы при временных отказах
	AutoAccept              bool          // автоподтверждение уверенных показаний
}

// ExtractionService прогоняет снимок через модели и ставит показание
// в очередь на проверку. Маршрут: основная модель, при отказе или низкой
// уверенности — резервная; если обе отказали, показание ждёт ручного ввода.
type ExtractionService struct {
	primary    port.InferenceProvider
	fallback   port.InferenceProvider
	staging    port.StagingRepository
	gate       port.QualityGate
	classifier *ConditionClassifier
	review     *ReviewService
	opts       ExtractionOptions
	log        *logger.Logger
}

func NewExtractionService(
	primary, fallback port.InferenceProvider,
	staging port.StagingRepository,
	gate port.QualityGate,
	classifier *ConditionClassifier,
	review *ReviewService,
	opts ExtractionOptions,
	log *logger.Logger,
) *ExtractionService {
	return &ExtractionService{
		primary:    primary,
		fallback:   fallback,
		staging:    staging,
		gate:       gate,
		classifier: classifier,
		review:     review,
		opts:       opts,
		log:        log.With("service", "extraction"),
	}
}

// settled итог арбитража: принятый кандидат и условия принятия
type settled struct {
	candidate *entity.Candidate
	model     entity.ModelKind
	mandatory bool
}

// Submit принимает снимок, получает показание от моделей и ставит его
// в очередь. Возвращает ID созданного показания. Отмена контекста до
// получения кандидата не оставляет частично заполненной записи.
func (s *ExtractionService) Submit(ctx context.Context, img entity.GaugeImage) (uuid.UUID, error) {
	if s.gate != nil {
		if err := s.gate.Check(ctx, img.Data); err != nil {
			return uuid.Nil, fmt.Errorf("image rejected by quality gate: %w", err)
		}
	}

	hints := s.classifier.HintsFor(img.Source)

	result, err := s.settle(ctx, img, hints)
	if err != nil {
		return uuid.Nil, err
	}

	if result == nil {
		// Обе модели отказали: это не ошибка системы, а штатный исход,
		// требующий ручного ввода значения оператором.
		reading := entity.NewManualEntryReading(img.Ref, img.Source)
		if err := s.staging.Add(ctx, reading); err != nil {
			return uuid.Nil, err
		}
		s.log.Warn("both providers failed, awaiting manual entry", "reading_id", reading.ID)
		return reading.ID, nil
	}

	reading := entity.NewExtractedReading(
		img.Ref, img.Source,
		result.candidate.Value, result.candidate.Units,
		result.candidate.Confidence, result.model,
	)
	reading.MandatoryReview = result.mandatory

	danger, flags := s.classifier.Classify(img.Source, reading.ExtractedValue, result.candidate.ConditionLabels)
	reading.DangerZone = danger
	reading.ConditionFlags = flags

	if err := reading.Transition(entity.StatusStaged, time.Now()); err != nil {
		return uuid.Nil, err
	}
	if err := s.staging.Add(ctx, reading); err != nil {
		return uuid.Nil, err
	}

	s.log.Info("reading staged",
		"reading_id", reading.ID,
		"value", result.candidate.Value,
		"units", result.candidate.Units,
		"confidence", result.candidate.Confidence,
		"model", result.model,
		"danger_zone", danger,
		"mandatory_review", result.mandatory,
	)

	s.maybeAutoAccept(ctx, reading)
	return reading.ID, nil
}

// maybeAutoAccept подтверждает уверенное показание без участия оператора.
// Флаг обязательной проверки нельзя обойти этим режимом.
func (s *ExtractionService) maybeAutoAccept(ctx context.Context, reading *entity.GaugeReading) {
	if !s.opts.AutoAccept || s.review == nil {
		return
	}
	if reading.MandatoryReview || reading.Confidence < s.opts.ConfidenceHighThreshold {
		return
	}
	if _, err := s.review.Confirm(ctx, reading.ID); err != nil {
		s.log.Warn("auto-accept failed, reading stays staged", "reading_id", reading.ID, "error", err)
		return
	}
	s.log.Info("reading auto-committed", "reading_id", reading.ID)
}

// settle выбирает одного кандидата из ответов моделей.
// nil без ошибки означает отказ обеих моделей.
func (s *ExtractionService) settle(ctx context.Context, img entity.GaugeImage, hints port.ScaleHints) (*settled, error) {
	primCand, primErr := s.invoke(ctx, s.primary, img, hints)
	if primErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn("primary provider failed, trying fallback", "error", primErr)

		fbCand, fbErr := s.invoke(ctx, s.fallback, img, hints)
		if fbErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("fallback provider failed too", "error", fbErr)
			return nil, nil
		}

		// Резервная модель — последняя инстанция: её неуверенный ответ
		// принимается, но только с обязательной проверкой оператором.
		return &settled{
			candidate: fbCand,
			model:     entity.ModelFallback,
			mandatory: fbCand.Confidence < s.opts.ConfidenceHighThreshold,
		}, nil
	}

	if primCand.Confidence >= s.opts.ConfidenceHighThreshold {
		return &settled{candidate: primCand, model: entity.ModelPrimary}, nil
	}

	// Эскалация: основная модель ответила неуверенно
	fbCand, fbErr := s.invoke(ctx, s.fallback, img, hints)
	if fbErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn("fallback unavailable, keeping low-confidence primary answer", "error", fbErr)
		return &settled{candidate: primCand, model: entity.ModelPrimary, mandatory: true}, nil
	}

	// Обе модели ответили: побеждает более уверенная, при равенстве —
	// основная. Любой ответ, добытый эскалацией, проверяет оператор.
	winner, model := primCand, entity.ModelPrimary
	if fbCand.Confidence > primCand.Confidence {
		winner, model = fbCand, entity.ModelFallback
	}
	if disagree := math.Abs(primCand.Value-fbCand.Value) > s.opts.DisagreementTolerance; disagree {
		s.log.Warn("providers disagree beyond tolerance",
			"primary_value", primCand.Value,
			"fallback_value", fbCand.Value,
			"tolerance", s.opts.DisagreementTolerance,
		)
	}
	return &settled{candidate: winner, model: model, mandatory: true}, nil
}

// invoke вызывает модель с таймаутом и повторами. Повторяются только
// временные отказы; неразборчивый ответ повторять бессмысленно.
func (s *ExtractionService) invoke(ctx context.Context, p port.InferenceProvider, img entity.GaugeImage, hints port.ScaleHints) (*entity.Candidate, error) {
	var lastErr error
	attempts := 1 + s.opts.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if s.opts.ProviderTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.opts.ProviderTimeout)
		}
		cand, err := p.Extract(callCtx, img, hints)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return cand, nil
		}

		lastErr = err
		if !port.IsTransient(err) {
			break
		}
		if attempt < attempts-1 {
			s.log.Debug("transient provider failure, retrying",
				"provider", p.Kind(), "attempt", attempt+1, "error", err)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("provider returned no candidate")
	}
	return nil, lastErr
}
