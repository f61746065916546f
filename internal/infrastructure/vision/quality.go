//go:build gocv
// +build gocv

package vision

import (
	"context"
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"gauge-bot/internal/domain/port"
)

// GoCVQualityGate проверяет пригодность снимка до отправки модели:
// размер, резкость, экспозицию и блики. Плохой снимок дешевле отклонить
// сразу, чем тратить вызов удалённой модели.
type GoCVQualityGate struct {
	MinImageSide          int
	MinSharpnessEdgeRatio float64
	MaxOverexposedRatio   float64
	MaxUnderexposedRatio  float64
	MaxGlareRatio         float64
}

// NewGoCVQualityGate создаёт гейт с настройками по умолчанию
func NewGoCVQualityGate() *GoCVQualityGate {
	return &GoCVQualityGate{
		MinImageSide:          400,
		MinSharpnessEdgeRatio: 0.008,
		MaxOverexposedRatio:   0.35,
		MaxUnderexposedRatio:  0.45,
		MaxGlareRatio:         0.08,
	}
}

// Check возвращает ошибку, если снимок непригоден для распознавания
func (g *GoCVQualityGate) Check(ctx context.Context, imageData []byte) error {
	_ = ctx

	mat, err := gocv.IMDecode(imageData, gocv.IMReadColor)
	if err != nil || mat.Empty() {
		if !mat.Empty() {
			mat.Close()
		}
		return errors.New("failed to decode image")
	}
	defer mat.Close()

	if mat.Cols() < g.MinImageSide || mat.Rows() < g.MinImageSide {
		return fmt.Errorf("image is too small (%dx%d)", mat.Cols(), mat.Rows())
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 80, 160)
	if edgeRatio := ratioOfMask(edges); edgeRatio < g.MinSharpnessEdgeRatio {
		return fmt.Errorf("image is blurry (edge_ratio=%.4f)", edgeRatio)
	}

	bright := gocv.NewMat()
	defer bright.Close()
	gocv.Threshold(gray, &bright, 250, 255, gocv.ThresholdBinary)
	if overexposed := ratioOfMask(bright); overexposed > g.MaxOverexposedRatio {
		return fmt.Errorf("overexposed image (ratio=%.4f)", overexposed)
	}

	dark := gocv.NewMat()
	defer dark.Close()
	gocv.Threshold(gray, &dark, 20, 255, gocv.ThresholdBinaryInv)
	if underexposed := ratioOfMask(dark); underexposed > g.MaxUnderexposedRatio {
		return fmt.Errorf("underexposed image (ratio=%.4f)", underexposed)
	}

	// Блики на стекле прибора: низкая насыщенность при высокой яркости
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(mat, &hsv, gocv.ColorBGRToHSV)
	channels := gocv.Split(hsv)
	for i := range channels {
		defer channels[i].Close()
	}
	if len(channels) < 3 {
		return errors.New("invalid hsv channels")
	}

	lowSat := gocv.NewMat()
	defer lowSat.Close()
	gocv.Threshold(channels[1], &lowSat, 40, 255, gocv.ThresholdBinaryInv)

	highVal := gocv.NewMat()
	defer highVal.Close()
	gocv.Threshold(channels[2], &highVal, 245, 255, gocv.ThresholdBinary)

	glare := gocv.NewMat()
	defer glare.Close()
	gocv.BitwiseAnd(lowSat, highVal, &glare)
	if glareRatio := ratioOfMask(glare); glareRatio > g.MaxGlareRatio {
		return fmt.Errorf("too much glare (ratio=%.4f)", glareRatio)
	}

	return nil
}

func ratioOfMask(mask gocv.Mat) float64 {
	total := mask.Cols() * mask.Rows()
	if total <= 0 {
		return 0
	}
	return float64(gocv.CountNonZero(mask)) / float64(total)
}

// Проверка реализации интерфейса
var _ port.QualityGate = (*GoCVQualityGate)(nil)
