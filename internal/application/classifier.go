package app

import (
	"strings"

	"gauge-bot/config"
	"gauge-bot/internal/domain/entity"
	"gauge-bot/internal/domain/port"
)

// ConditionClassifier чистое отображение ответа модели в признак опасной зоны
// и набор тегов дефектов. Теги берутся только из явных меток модели, никогда
// не выводятся из уверенности; незнакомые метки отбрасываются.
type ConditionClassifier struct {
	profiles *config.ProfileSet
}

func NewConditionClassifier(profiles *config.ProfileSet) *ConditionClassifier {
	return &ConditionClassifier{profiles: profiles}
}

// HintsFor подсказки о шкале для модели по метке источника
func (c *ConditionClassifier) HintsFor(source string) port.ScaleHints {
	p := c.profiles.ForSource(source)
	return port.ScaleHints{
		Units:    p.Units,
		ScaleMin: p.ScaleMin,
		ScaleMax: p.ScaleMax,
	}
}

// Classify возвращает признак опасной зоны и распознанные теги дефектов.
// Для показания без значения опасная зона всегда false.
func (c *ConditionClassifier) Classify(source string, value *float64, labels []string) (bool, []entity.ConditionFlag) {
	danger := false
	if value != nil {
		danger = c.profiles.ForSource(source).InDangerZone(*value)
	}

	flags := make([]entity.ConditionFlag, 0, len(labels))
	seen := map[entity.ConditionFlag]bool{}
	for _, label := range labels {
		f, ok := entity.ParseConditionFlag(normalizeLabel(label))
		if !ok || seen[f] {
			continue
		}
		seen[f] = true
		flags = append(flags, f)
	}
	return danger, flags
}

// normalizeLabel приводит метку модели к форме тега: нижний регистр, дефисы
func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.ReplaceAll(strings.ReplaceAll(label, " ", "-"), "_", "-")
}
