package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"gauge-bot/internal/domain/entity"
	"gauge-bot/internal/domain/port"
)

// stagedRecord запись очереди со своей блокировкой: решения по одной записи
// сериализуются, независимые записи обрабатываются параллельно.
type stagedRecord struct {
	mu      sync.Mutex
	reading *entity.GaugeReading
}

// MemoryStagingRepository in-memory очередь показаний на проверку.
// Записи не удаляются: решение оператора меняет только статус.
type MemoryStagingRepository struct {
	mu       sync.RWMutex
	readings map[uuid.UUID]*stagedRecord
}

// NewMemoryStagingRepository создаёт пустую очередь
func NewMemoryStagingRepository() *MemoryStagingRepository {
	return &MemoryStagingRepository{
		readings: make(map[uuid.UUID]*stagedRecord),
	}
}

// Add помещает показание в очередь
func (r *MemoryStagingRepository) Add(ctx context.Context, reading *entity.GaugeReading) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.readings[reading.ID]; exists {
		return fmt.Errorf("reading %s already staged", reading.ID)
	}
	r.readings[reading.ID] = &stagedRecord{reading: reading.Clone()}
	return nil
}

// Get возвращает копию показания по ID
func (r *MemoryStagingRepository) Get(ctx context.Context, id uuid.UUID) (*entity.GaugeReading, error) {
	r.mu.RLock()
	rec, exists := r.readings[id]
	r.mu.RUnlock()

	if !exists {
		return nil, entity.ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.reading.Clone(), nil
}

// Pending возвращает показания, ожидающие решения, в порядке CreatedAt
func (r *MemoryStagingRepository) Pending(ctx context.Context) ([]*entity.GaugeReading, error) {
	r.mu.RLock()
	records := make([]*stagedRecord, 0, len(r.readings))
	for _, rec := range r.readings {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	pending := make([]*entity.GaugeReading, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		if rec.reading.Status == entity.StatusStaged || rec.reading.Status == entity.StatusNeedsManualEntry {
			pending = append(pending, rec.reading.Clone())
		}
		rec.mu.Unlock()
	}

	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID.String() < pending[j].ID.String()
	})
	return pending, nil
}

// Update применяет mutate к копии показания под блокировкой записи.
// При ошибке mutate запись остаётся нетронутой.
func (r *MemoryStagingRepository) Update(ctx context.Context, id uuid.UUID, mutate func(*entity.GaugeReading) error) (*entity.GaugeReading, error) {
	r.mu.RLock()
	rec, exists := r.readings[id]
	r.mu.RUnlock()

	if !exists {
		return nil, entity.ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	updated := rec.reading.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}
	rec.reading = updated
	return updated.Clone(), nil
}

// Проверка реализации интерфейса
var _ port.StagingRepository = (*MemoryStagingRepository)(nil)
