//go:build !gocv
// +build !gocv

package vision

import (
	"context"

	"gauge-bot/internal/domain/port"
)

// GoCVQualityGate заглушка без OpenCV: пропускает любой снимок,
// распознавание остаётся на удалённой модели.
type GoCVQualityGate struct {
	MinImageSide          int
	MinSharpnessEdgeRatio float64
	MaxOverexposedRatio   float64
	MaxUnderexposedRatio  float64
	MaxGlareRatio         float64
}

// NewGoCVQualityGate создаёт гейт-заглушку (без тега gocv)
func NewGoCVQualityGate() *GoCVQualityGate {
	return &GoCVQualityGate{
		MinImageSide:          400,
		MinSharpnessEdgeRatio: 0.008,
		MaxOverexposedRatio:   0.35,
		MaxUnderexposedRatio:  0.45,
		MaxGlareRatio:         0.08,
	}
}

// Check без OpenCV проверок не делает
func (g *GoCVQualityGate) Check(ctx context.Context, imageData []byte) error {
	_ = ctx
	_ = imageData
	return nil
}

// Проверка реализации интерфейса
var _ port.QualityGate = (*GoCVQualityGate)(nil)
