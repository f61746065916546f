package port

import (
	"context"
	"errors"
	"fmt"

	"gauge-bot/internal/domain/entity"
)

// ScaleHints подсказки модели о шкале конкретного прибора
type ScaleHints struct {
	Units    string
	ScaleMin float64
	ScaleMax float64
}

// InferenceProvider один вызов удалённой vision-модели
type InferenceProvider interface {
	// Kind сообщает, основная это модель или резервная
	Kind() entity.ModelKind

	// Extract возвращает кандидата показания или типизированный отказ
	Extract(ctx context.Context, img entity.GaugeImage, hints ScaleHints) (*entity.Candidate, error)
}

// FailureKind класс отказа провайдера
type FailureKind int

const (
	FailureTransient FailureKind = iota // сеть/таймаут, вызов можно повторить
	FailureMalformed                    // ответ не разбирается, повтор против той же модели бессмысленен
)

func (k FailureKind) String() string {
	if k == FailureMalformed {
		return "malformed"
	}
	return "transient"
}

// ProviderError типизированный отказ провайдера
type ProviderError struct {
	Provider entity.ModelKind
	Kind     FailureKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %s failure: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient сообщает, стоит ли повторять вызов
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == FailureTransient
}
