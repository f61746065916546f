package entity

import "time"

// GaugeImage снимок прибора с метаданными съёмки
type GaugeImage struct {
	Ref        string // непрозрачная ссылка (file id, путь)
	Data       []byte
	Source     string // метка прибора/места съёмки
	CapturedAt time.Time
}

// Candidate непроверенный ответ одной модели по одному снимку
type Candidate struct {
	Value           float64
	Units           string
	Confidence      float64  // в диапазоне [0,1]
	ConditionLabels []string // сырые метки дефектов из ответа модели
}
