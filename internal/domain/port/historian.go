package port

import (
	"context"
	"time"

	"gauge-bot/internal/domain/entity"
)

// HistorianSink долговременный журнал подтверждённых показаний
type HistorianSink interface {
	// Append дописывает показание; идемпотентен по ID — повторный коммит
	// того же показания не создаёт дубликата
	Append(ctx context.Context, r *entity.GaugeReading) error

	// Export возвращает подтверждённые показания за период [from, to)
	// в порядке времени решения
	Export(ctx context.Context, from, to time.Time) ([]*entity.GaugeReading, error)
}
