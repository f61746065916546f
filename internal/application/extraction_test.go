package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gauge-bot/internal/domain/entity"
	"gauge-bot/internal/domain/port"
	"gauge-bot/internal/infrastructure/storage"
	"gauge-bot/internal/logger"
)

// fakeProvider отвечает по сценарию, нумеруя вызовы с единицы
type fakeProvider struct {
	kind  entity.ModelKind
	calls int32
	fn    func(call int) (*entity.Candidate, error)
}

func (p *fakeProvider) Kind() entity.ModelKind { return p.kind }

func (p *fakeProvider) Extract(ctx context.Context, img entity.GaugeImage, hints port.ScaleHints) (*entity.Candidate, error) {
	call := int(atomic.AddInt32(&p.calls, 1))
	return p.fn(call)
}

func (p *fakeProvider) callCount() int { return int(atomic.LoadInt32(&p.calls)) }

func answer(value, confidence float64, labels ...string) func(int) (*entity.Candidate, error) {
	return func(int) (*entity.Candidate, error) {
		return &entity.Candidate{Value: value, Units: "psi", Confidence: confidence, ConditionLabels: labels}, nil
	}
}

func failAlways(kind port.FailureKind) func(int) (*entity.Candidate, error) {
	return func(int) (*entity.Candidate, error) {
		return nil, &port.ProviderError{Provider: entity.ModelPrimary, Kind: kind, Err: errors.New("boom")}
	}
}

// fakeHistorian накапливает записи в памяти; идемпотентен по ID
type fakeHistorian struct {
	mu      sync.Mutex
	appends []*entity.GaugeReading
}

func (h *fakeHistorian) Append(ctx context.Context, r *entity.GaugeReading) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.appends {
		if existing.ID == r.ID {
			return nil
		}
	}
	h.appends = append(h.appends, r.Clone())
	return nil
}

func (h *fakeHistorian) Export(ctx context.Context, from, to time.Time) ([]*entity.GaugeReading, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*entity.GaugeReading
	for _, r := range h.appends {
		if r.ReviewedAt != nil && !r.ReviewedAt.Before(from) && r.ReviewedAt.Before(to) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (h *fakeHistorian) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.appends)
}

func defaultOptions() ExtractionOptions {
	return ExtractionOptions{
		ConfidenceHighThreshold: 0.8,
		DisagreementTolerance:   5.0,
		MaxRetries:              2,
	}
}

func newTestPipeline(primary, fallback port.InferenceProvider, opts ExtractionOptions) (*ExtractionService, *storage.MemoryStagingRepository, *fakeHistorian) {
	staging := storage.NewMemoryStagingRepository()
	classifier := NewConditionClassifier(testProfiles())
	historian := &fakeHistorian{}
	review := NewReviewService(staging, historian, classifier, logger.NewNop())
	svc := NewExtractionService(primary, fallback, staging, nil, classifier, review, opts, logger.NewNop())
	return svc, staging, historian
}

func testImage() entity.GaugeImage {
	return entity.GaugeImage{Ref: "file-1", Data: []byte("jpeg"), CapturedAt: time.Now()}
}

func TestExtraction_ConfidentPrimaryNeverEscalates(t *testing.T) {
	primary := &fakeProvider{kind: entity.ModelPrimary, fn: answer(42.5, 0.92)}
	fallback := &fakeProvider{kind: entity.ModelFallback, fn: answer(40.0, 0.99)}
	svc, staging, _ := newTestPipeline(primary, fallback, defaultOptions())

	id, err := svc.Submit(context.Background(), testImage())
	require.NoError(t, err)

	reading, err := staging.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, entity.StatusStaged, reading.Status)
	require.Equal(t, entity.ModelPrimary, reading.ModelUsed)
	require.Equal(t, 42.5, *reading.ExtractedValue)
	require.False(t, reading.MandatoryReview)
	require.Equal(t, 1, primary.callCount())
	require.Equal(t, 0, fallback.callCount())
}

func TestExtraction_LowConfidenceEscalatesToFallback(t *testing.T) {
	primary := &fakeProvider{kind: entity.ModelPrimary, fn: answer(40.0, 0.4)}
	fallback := &fakeProvider{kind: entity.ModelFallback, fn: answer(42.0, 0.85)}
	svc, staging, _ := newTestPipeline(primary, fallback, defaultOptions())

	id, err := svc.Submit(context.Background(), testImage())
	require.NoError(t, err)

	reading, err := staging.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, entity.StatusStaged, reading.Status)
	require.Equal(t, entity.ModelFallback, reading.ModelUsed)
	require.Equal(t, 42.0, *reading.ExtractedValue)
	require.True(t, reading.MandatoryReview)
	require.Equal(t, 1, fallback.callCount())
}

func TestExtraction_BothProvidersFailNeedsManualEntry(t *testing.T) {
	primary := &fakeProvider{kind: entity.ModelPrimary, fn: failAlways(port.FailureTransient)}
	fallback := &fakeProvider{kind: entity.ModelFallback, fn: failAlways(port.FailureTransient)}
	opts := defaultOptions()
	opts.MaxRetries = 1
	svc, staging, _ := newTestPipeline(primary, fallback, opts)

	id, err := svc.Submit(context.Background(), testImage())
	require.NoError(t, err)

	reading, err := staging.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, entity.StatusNeedsManualEntry, reading.Status)
	require.Nil(t, reading.ExtractedValue)
	require.True(t, reading.MandatoryReview)

	// Временные отказы повторяются: 1 вызов + 1 повтор на каждую модель
	require.Equal(t, 2, primary.callCount())
	require.Equal(t, 2, fallback.callCount())
}

func TestExtraction_TransientFailureRetriedThenAccepted(t *testing.T) {
	primary := &fakeProvider{kind: entity.ModelPrimary, fn: func(call int) (*entity.Candidate, error) {
		if call == 1 {
			return nil, &port.ProviderError{Provider: entity.ModelPrimary, Kind: port.FailureTransient, Err: errors.New("timeout")}
		}
		return &entity.Candidate{Value: 55.0, Units: "psi", Confidence: 0.9}, nil
	}}
	fallback := &fakeProvider{kind: entity.ModelFallback, fn: answer(0, 0)}
	svc, staging, _ := newTestPipeline(primary, fallback, defaultOptions())

	id, err := svc.Submit(context.Background(), testImage())
	require.NoError(t, err)

	reading, err := staging.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, entity.ModelPrimary, reading.ModelUsed)
	require.Equal(t, 2, primary.callCount())
	require.Equal(t, 0, fallback.callCount())
}

func TestExtraction_MalformedResponseNotRetried(t *testing.T) {
	primary := &fakeProvider{kind: entity.ModelPrimary, fn: failAlways(port.FailureMalformed)}
	fallback := &fakeProvider{kind: entity.ModelFallback, fn: answer(33.0, 0.9)}
	svc, staging, _ := newTestPipeline(primary, fallback, defaultOptions())

	id, err := svc.Submit(context.Background(), testImage())
	require.NoError(t, err)

	reading, err := staging.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, entity.ModelFallback, reading.ModelUsed)
	require.False(t, reading.MandatoryReview)

	// Неразборчивый ответ не повторяется против той же модели
	require.Equal(t, 1, primary.callCount())
}

func TestExtraction_DisagreementKeepsHigherConfidence(t *testing.T) {
	primary := &fakeProvider{kind: entity.ModelPrimary, fn: answer(10.0, 0.7)}
	fallback := &fakeProvider{kind: entity.ModelFallback, fn: answer(50.0, 0.6)}
	svc, staging, _ := newTestPipeline(primary, fallback, defaultOptions())

	id, err := svc.Submit(context.Background(), testImage())
	require.NoError(t, err)

	reading, err := staging.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, entity.ModelPrimary, reading.ModelUsed)
	require.Equal(t, 10.0, *reading.ExtractedValue)
	require.True(t, reading.MandatoryReview)
}

func TestExtraction_ConfidenceTieBreakPrefersPrimary(t *testing.T) {
	primary := &fakeProvider{kind: entity.ModelPrimary, fn: answer(10.0, 0.5)}
	fallback := &fakeProvider{kind: entity.ModelFallback, fn: answer(11.0, 0.5)}
	svc, staging, _ := newTestPipeline(primary, fallback, defaultOptions())

	id, err := svc.Submit(context.Background(), testImage())
	require.NoError(t, err)

	reading, err := staging.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, entity.ModelPrimary, reading.ModelUsed)
}

func TestExtraction_AnnotatesDangerZoneAndFlags(t *testing.T) {
	primary := &fakeProvider{kind: entity.ModelPrimary, fn: answer(85.0, 0.9, "corrosion", "martian-dust")}
	fallback := &fakeProvider{kind: entity.ModelFallback, fn: answer(0, 0)}
	svc, staging, _ := newTestPipeline(primary, fallback, defaultOptions())

	id, err := svc.Submit(context.Background(), testImage())
	require.NoError(t, err)

	reading, err := staging.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, reading.DangerZone)
	require.Equal(t, []entity.ConditionFlag{entity.FlagCorrosion}, reading.ConditionFlags)
}

func TestExtraction_AutoAcceptCommitsConfidentReading(t *testing.T) {
	primary := &fakeProvider{kind: entity.ModelPrimary, fn: answer(42.5, 0.95)}
	fallback := &fakeProvider{kind: entity.ModelFallback, fn: answer(0, 0)}
	opts := defaultOptions()
	opts.AutoAccept = true
	svc, staging, historian := newTestPipeline(primary, fallback, opts)

	id, err := svc.Submit(context.Background(), testImage())
	require.NoError(t, err)

	reading, err := staging.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, entity.StatusCommitted, reading.Status)
	require.NotNil(t, reading.ReviewedAt)
	require.Equal(t, 1, historian.count())
}

func TestExtraction_AutoAcceptNeverBypassesMandatoryReview(t *testing.T) {
	primary := &fakeProvider{kind: entity.ModelPrimary, fn: answer(40.0, 0.4)}
	fallback := &fakeProvider{kind: entity.ModelFallback, fn: answer(42.0, 0.85)}
	opts := defaultOptions()
	opts.AutoAccept = true
	svc, staging, historian := newTestPipeline(primary, fallback, opts)

	id, err := svc.Submit(context.Background(), testImage())
	require.NoError(t, err)

	reading, err := staging.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, entity.StatusStaged, reading.Status)
	require.True(t, reading.MandatoryReview)
	require.Equal(t, 0, historian.count())
}

func TestExtraction_CancelledSubmitLeavesNoRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &fakeProvider{kind: entity.ModelPrimary, fn: func(int) (*entity.Candidate, error) {
		cancel()
		return nil, &port.ProviderError{Provider: entity.ModelPrimary, Kind: port.FailureTransient, Err: ctx.Err()}
	}}
	fallback := &fakeProvider{kind: entity.ModelFallback, fn: answer(0, 0)}
	svc, staging, _ := newTestPipeline(primary, fallback, defaultOptions())

	_, err := svc.Submit(ctx, testImage())
	require.Error(t, err)

	pending, err := staging.Pending(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Equal(t, 0, fallback.callCount())
}

// fakeGate отклоняет любой снимок
type fakeGate struct{ err error }

func (g *fakeGate) Check(ctx context.Context, imageData []byte) error { return g.err }

func TestExtraction_QualityGateRejectsBeforeProviders(t *testing.T) {
	primary := &fakeProvider{kind: entity.ModelPrimary, fn: answer(42.5, 0.95)}
	fallback := &fakeProvider{kind: entity.ModelFallback, fn: answer(0, 0)}
	staging := storage.NewMemoryStagingRepository()
	classifier := NewConditionClassifier(testProfiles())
	svc := NewExtractionService(primary, fallback, staging, &fakeGate{err: errors.New("image is blurry")}, classifier, nil, defaultOptions(), logger.NewNop())

	_, err := svc.Submit(context.Background(), testImage())
	require.Error(t, err)
	require.Contains(t, err.Error(), "quality gate")
	require.Equal(t, 0, primary.callCount())
	require.Equal(t, 0, fallback.callCount())
}
