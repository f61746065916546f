package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReadingStatus статус показания в конвейере проверки
type ReadingStatus string

const (
	StatusExtracted        ReadingStatus = "extracted"          // Получено от модели, ещё не классифицировано
	StatusStaged           ReadingStatus = "staged"             // Ожидает решения оператора
	StatusVerified         ReadingStatus = "verified"           // Подтверждено оператором
	StatusRejected         ReadingStatus = "rejected"           // Отклонено оператором, терминальный
	StatusCommitted        ReadingStatus = "committed"          // Записано в историю, терминальный
	StatusNeedsManualEntry ReadingStatus = "needs_manual_entry" // Обе модели не справились, нужен ручной ввод
)

// Terminal сообщает, достигло ли показание терминального статуса
func (s ReadingStatus) Terminal() bool {
	return s == StatusCommitted || s == StatusRejected
}

// allowedTransitions фиксированный порядок переходов; откат из более позднего
// статуса в более ранний невозможен.
var allowedTransitions = map[ReadingStatus][]ReadingStatus{
	StatusExtracted:        {StatusStaged},
	StatusNeedsManualEntry: {StatusStaged},
	StatusStaged:           {StatusStaged, StatusVerified, StatusCommitted, StatusRejected},
	StatusVerified:         {StatusCommitted},
}

// CanTransition проверяет, допустим ли переход в статус to
func (s ReadingStatus) CanTransition(to ReadingStatus) bool {
	for _, next := range allowedTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ModelKind какая модель дала принятый ответ
type ModelKind string

const (
	ModelPrimary  ModelKind = "primary"
	ModelFallback ModelKind = "fallback"
)

// ConditionFlag тег дефекта корпуса прибора
type ConditionFlag string

const (
	FlagCrackedGlass   ConditionFlag = "cracked-glass"
	FlagCorrosion      ConditionFlag = "corrosion"
	FlagIllegibleScale ConditionFlag = "illegible-scale"
	FlagBentNeedle     ConditionFlag = "bent-needle"
	FlagCondensation   ConditionFlag = "condensation"
)

// knownFlags словарь распознаваемых тегов; незнакомые метки модели отбрасываются.
var knownFlags = map[ConditionFlag]bool{
	FlagCrackedGlass:   true,
	FlagCorrosion:      true,
	FlagIllegibleScale: true,
	FlagBentNeedle:     true,
	FlagCondensation:   true,
}

// ParseConditionFlag возвращает тег дефекта, если метка распознана
func ParseConditionFlag(label string) (ConditionFlag, bool) {
	f := ConditionFlag(label)
	return f, knownFlags[f]
}

// GaugeReading показание прибора на пути от снимка до журнала
type GaugeReading struct {
	ID              uuid.UUID
	ImageRef        string // непрозрачная ссылка на исходный снимок
	Source          string // метка прибора/места съёмки
	ExtractedValue  *float64
	Units           string
	Confidence      float64
	ModelUsed       ModelKind
	DangerZone      bool
	ConditionFlags  []ConditionFlag
	Status          ReadingStatus
	MandatoryReview bool // проверку оператором нельзя обойти даже в режиме автоподтверждения
	OperatorNote    string
	CreatedAt       time.Time
	ReviewedAt      *time.Time
}

// NewExtractedReading создаёт показание из принятого ответа модели
func NewExtractedReading(imageRef, source string, value float64, units string, confidence float64, model ModelKind) *GaugeReading {
	v := value
	return &GaugeReading{
		ID:             uuid.New(),
		ImageRef:       imageRef,
		Source:         source,
		ExtractedValue: &v,
		Units:          units,
		Confidence:     confidence,
		ModelUsed:      model,
		Status:         StatusExtracted,
		CreatedAt:      time.Now().UTC(),
	}
}

// NewManualEntryReading создаёт показание без значения: обе модели отказали,
// значение введёт оператор.
func NewManualEntryReading(imageRef, source string) *GaugeReading {
	return &GaugeReading{
		ID:              uuid.New(),
		ImageRef:        imageRef,
		Source:          source,
		Status:          StatusNeedsManualEntry,
		MandatoryReview: true,
		CreatedAt:       time.Now().UTC(),
	}
}

// Transition переводит показание в статус to и проставляет ReviewedAt
// на терминальных решениях и подтверждении
func (r *GaugeReading) Transition(to ReadingStatus, at time.Time) error {
	if !r.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	switch to {
	case StatusVerified, StatusRejected, StatusCommitted:
		if r.ReviewedAt == nil {
			t := at.UTC()
			r.ReviewedAt = &t
		}
	}
	return nil
}

// Clone возвращает независимую копию показания
func (r *GaugeReading) Clone() *GaugeReading {
	c := *r
	if r.ExtractedValue != nil {
		v := *r.ExtractedValue
		c.ExtractedValue = &v
	}
	if r.ReviewedAt != nil {
		t := *r.ReviewedAt
		c.ReviewedAt = &t
	}
	if r.ConditionFlags != nil {
		c.ConditionFlags = append([]ConditionFlag(nil), r.ConditionFlags...)
	}
	return &c
}
