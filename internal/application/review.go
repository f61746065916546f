package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gauge-bot/internal/domain/entity"
	"gauge-bot/internal/domain/port"
	"gauge-bot/internal/logger"
)

// ReviewService проводит показания через проверку оператором.
// Решения по одной записи сериализуются хранилищем: из двух одновременных
// подтверждений выигрывает первое, второе получает ErrDispositionConflict.
type ReviewService struct {
	staging    port.StagingRepository
	historian  port.HistorianSink
	classifier *ConditionClassifier
	log        *logger.Logger
	now        func() time.Time
}

func NewReviewService(staging port.StagingRepository, historian port.HistorianSink, classifier *ConditionClassifier, log *logger.Logger) *ReviewService {
	return &ReviewService{
		staging:    staging,
		historian:  historian,
		classifier: classifier,
		log:        log.With("service", "review"),
		now:        time.Now,
	}
}

// EditRequest правка полей показания оператором; nil-поля не меняются
type EditRequest struct {
	Value          *float64
	Units          *string
	ConditionFlags []entity.ConditionFlag
	Note           *string
}

// ListStaged возвращает показания, ожидающие решения оператора
func (s *ReviewService) ListStaged(ctx context.Context) ([]*entity.GaugeReading, error) {
	return s.staging.Pending(ctx)
}

// Get возвращает показание по ID
func (s *ReviewService) Get(ctx context.Context, id uuid.UUID) (*entity.GaugeReading, error) {
	return s.staging.Get(ctx, id)
}

// ResolveByPrefix находит единственное ожидающее показание по префиксу ID
func (s *ReviewService) ResolveByPrefix(ctx context.Context, prefix string) (uuid.UUID, error) {
	if id, err := uuid.Parse(prefix); err == nil {
		return id, nil
	}

	pending, err := s.staging.Pending(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	var found uuid.UUID
	matches := 0
	for _, r := range pending {
		if strings.HasPrefix(r.ID.String(), strings.ToLower(prefix)) {
			found = r.ID
			matches++
		}
	}
	switch matches {
	case 1:
		return found, nil
	case 0:
		return uuid.Nil, entity.ErrNotFound
	default:
		return uuid.Nil, fmt.Errorf("ambiguous reading id prefix %q", prefix)
	}
}

// Edit правит показание, остающееся в очереди до явного подтверждения.
// Правка закрытого показания отбрасывается с ErrStaleEdit.
func (s *ReviewService) Edit(ctx context.Context, id uuid.UUID, req EditRequest) (*entity.GaugeReading, error) {
	return s.staging.Update(ctx, id, func(r *entity.GaugeReading) error {
		if r.Status.Terminal() {
			return entity.ErrStaleEdit
		}
		if r.Status != entity.StatusStaged {
			return fmt.Errorf("%w: cannot edit reading in status %s", entity.ErrInvalidTransition, r.Status)
		}

		if req.Value != nil {
			v := *req.Value
			r.ExtractedValue = &v
		}
		if req.Units != nil {
			r.Units = *req.Units
		}
		if req.ConditionFlags != nil {
			r.ConditionFlags = append([]entity.ConditionFlag(nil), req.ConditionFlags...)
		}
		if req.Note != nil {
			r.OperatorNote = *req.Note
		}

		// Исправленное значение могло войти в опасную зону или выйти из неё
		if req.Value != nil {
			danger, _ := s.classifier.Classify(r.Source, r.ExtractedValue, nil)
			r.DangerZone = danger
		}
		return r.Transition(entity.StatusStaged, s.now())
	})
}

// Confirm подтверждает показание и записывает его в журнал. Необратимо.
// Журнал пишется под эксклюзивной блокировкой записи, поэтому повторное
// одновременное подтверждение не создаст второго решения.
func (s *ReviewService) Confirm(ctx context.Context, id uuid.UUID) (*entity.GaugeReading, error) {
	committed, err := s.staging.Update(ctx, id, func(r *entity.GaugeReading) error {
		if r.Status.Terminal() {
			return entity.ErrDispositionConflict
		}
		if r.Status == entity.StatusStaged {
			if err := r.Transition(entity.StatusVerified, s.now()); err != nil {
				return err
			}
		}
		if err := r.Transition(entity.StatusCommitted, s.now()); err != nil {
			return err
		}
		return s.historian.Append(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("reading committed", "reading_id", id)
	return committed, nil
}

// Reject отклоняет показание без записи в журнал. Необратимо.
func (s *ReviewService) Reject(ctx context.Context, id uuid.UUID) (*entity.GaugeReading, error) {
	rejected, err := s.staging.Update(ctx, id, func(r *entity.GaugeReading) error {
		if r.Status.Terminal() {
			return entity.ErrDispositionConflict
		}
		return r.Transition(entity.StatusRejected, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("reading rejected", "reading_id", id)
	return rejected, nil
}

// ResolveManual принимает значение, введённое оператором вручную,
// и возвращает показание на обычный путь через очередь.
func (s *ReviewService) ResolveManual(ctx context.Context, id uuid.UUID, value float64, units string) (*entity.GaugeReading, error) {
	return s.staging.Update(ctx, id, func(r *entity.GaugeReading) error {
		if r.Status.Terminal() {
			return entity.ErrDispositionConflict
		}
		if r.Status != entity.StatusNeedsManualEntry {
			return fmt.Errorf("%w: reading %s does not await manual entry", entity.ErrInvalidTransition, id)
		}

		v := value
		r.ExtractedValue = &v
		r.Units = units
		danger, _ := s.classifier.Classify(r.Source, r.ExtractedValue, nil)
		r.DangerZone = danger
		return r.Transition(entity.StatusStaged, s.now())
	})
}

// Export возвращает подтверждённые показания за период [from, to)
func (s *ReviewService) Export(ctx context.Context, from, to time.Time) ([]*entity.GaugeReading, error) {
	return s.historian.Export(ctx, from, to)
}
