package port

import "context"

// QualityGate проверка пригодности снимка до обращения к моделям
type QualityGate interface {
	// Check возвращает ошибку, если снимок непригоден для распознавания
	Check(ctx context.Context, imageData []byte) error
}
