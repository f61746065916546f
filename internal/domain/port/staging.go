package port

import (
	"context"

	"github.com/google/uuid"

	"gauge-bot/internal/domain/entity"
)

// StagingRepository очередь показаний, ожидающих решения оператора.
// Записи из очереди не удаляются: решение меняет только статус.
type StagingRepository interface {
	// Add помещает новое показание в очередь
	Add(ctx context.Context, r *entity.GaugeReading) error

	// Get возвращает копию показания по ID
	Get(ctx context.Context, id uuid.UUID) (*entity.GaugeReading, error)

	// Pending возвращает показания со статусом staged или needs_manual_entry
	// в порядке CreatedAt
	Pending(ctx context.Context) ([]*entity.GaugeReading, error)

	// Update применяет mutate под эксклюзивной блокировкой записи;
	// если mutate вернул ошибку, запись не меняется. Независимые записи
	// блокируются независимо.
	Update(ctx context.Context, id uuid.UUID, mutate func(*entity.GaugeReading) error) (*entity.GaugeReading, error)
}
