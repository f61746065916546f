package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"gauge-bot/internal/domain/entity"
	"gauge-bot/internal/domain/port"
	"gauge-bot/internal/logger"
)

// committedReading строка журнала подтверждённых показаний
type committedReading struct {
	ID             string `gorm:"primaryKey;size:36"`
	ImageRef       string
	Source         string
	ExtractedValue float64
	Units          string
	Confidence     float64
	ModelUsed      string
	DangerZone     bool
	ConditionFlags string // теги через запятую
	OperatorNote   string
	CreatedAt      time.Time
	ReviewedAt     time.Time `gorm:"index"`
}

func (committedReading) TableName() string { return "committed_readings" }

// SQLiteHistorian долговременный журнал показаний во встроенной базе
type SQLiteHistorian struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewSQLiteHistorian открывает базу журнала и выполняет миграцию
func NewSQLiteHistorian(path string, log *logger.Logger) (*SQLiteHistorian, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open historian db: %w", err)
	}
	if err := db.AutoMigrate(&committedReading{}); err != nil {
		return nil, fmt.Errorf("migrate historian db: %w", err)
	}
	return &SQLiteHistorian{db: db, log: log.With("sink", "historian")}, nil
}

// Append дописывает показание в журнал. Идемпотентен по ID: повторный
// коммит того же показания не создаёт дубликата.
func (h *SQLiteHistorian) Append(ctx context.Context, r *entity.GaugeReading) error {
	row, err := toRow(r)
	if err != nil {
		return err
	}
	return h.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
}

// Export возвращает подтверждённые показания за период [from, to)
// в порядке времени решения
func (h *SQLiteHistorian) Export(ctx context.Context, from, to time.Time) ([]*entity.GaugeReading, error) {
	var rows []committedReading
	err := h.db.WithContext(ctx).
		Where("reviewed_at >= ? AND reviewed_at < ?", from, to).
		Order("reviewed_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]*entity.GaugeReading, 0, len(rows))
	for i := range rows {
		reading, err := fromRow(&rows[i])
		if err != nil {
			h.log.Warn("skipping unreadable historian row", "id", rows[i].ID, "error", err)
			continue
		}
		out = append(out, reading)
	}
	return out, nil
}

func toRow(r *entity.GaugeReading) (*committedReading, error) {
	if r.ExtractedValue == nil || r.ReviewedAt == nil {
		return nil, fmt.Errorf("reading %s is not a committed reading", r.ID)
	}
	flags := make([]string, 0, len(r.ConditionFlags))
	for _, f := range r.ConditionFlags {
		flags = append(flags, string(f))
	}
	return &committedReading{
		ID:             r.ID.String(),
		ImageRef:       r.ImageRef,
		Source:         r.Source,
		ExtractedValue: *r.ExtractedValue,
		Units:          r.Units,
		Confidence:     r.Confidence,
		ModelUsed:      string(r.ModelUsed),
		DangerZone:     r.DangerZone,
		ConditionFlags: strings.Join(flags, ","),
		OperatorNote:   r.OperatorNote,
		CreatedAt:      r.CreatedAt,
		ReviewedAt:     *r.ReviewedAt,
	}, nil
}

func fromRow(row *committedReading) (*entity.GaugeReading, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}

	var flags []entity.ConditionFlag
	if row.ConditionFlags != "" {
		for _, s := range strings.Split(row.ConditionFlags, ",") {
			flags = append(flags, entity.ConditionFlag(s))
		}
	}

	value := row.ExtractedValue
	reviewedAt := row.ReviewedAt
	return &entity.GaugeReading{
		ID:             id,
		ImageRef:       row.ImageRef,
		Source:         row.Source,
		ExtractedValue: &value,
		Units:          row.Units,
		Confidence:     row.Confidence,
		ModelUsed:      entity.ModelKind(row.ModelUsed),
		DangerZone:     row.DangerZone,
		ConditionFlags: flags,
		Status:         entity.StatusCommitted,
		OperatorNote:   row.OperatorNote,
		CreatedAt:      row.CreatedAt,
		ReviewedAt:     &reviewedAt,
	}, nil
}

// Проверка реализации интерфейса
var _ port.HistorianSink = (*SQLiteHistorian)(nil)
