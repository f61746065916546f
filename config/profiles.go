package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GaugeProfile шкала и опасная зона для одного типа прибора.
// Профиль подбирается по метке источника снимка.
type GaugeProfile struct {
	Source     string  `yaml:"source"`
	Units      string  `yaml:"units"`
	ScaleMin   float64 `yaml:"scale_min"`
	ScaleMax   float64 `yaml:"scale_max"`
	DangerLow  float64 `yaml:"danger_low"`
	DangerHigh float64 `yaml:"danger_high"`
}

// InDangerZone проверяет, попадает ли значение в опасную зону шкалы
func (p GaugeProfile) InDangerZone(value float64) bool {
	return value >= p.DangerLow && value <= p.DangerHigh
}

// ProfileSet набор профилей приборов с профилем по умолчанию
type ProfileSet struct {
	Default  GaugeProfile   `yaml:"default"`
	Profiles []GaugeProfile `yaml:"profiles"`
}

// ForSource возвращает профиль по метке источника или профиль по умолчанию
func (s *ProfileSet) ForSource(source string) GaugeProfile {
	for _, p := range s.Profiles {
		if p.Source == source {
			return p
		}
	}
	return s.Default
}

// DefaultProfiles профили, используемые когда YAML-файл отсутствует
func DefaultProfiles() *ProfileSet {
	return &ProfileSet{
		Default: GaugeProfile{
			Units:      "psi",
			ScaleMin:   0,
			ScaleMax:   100,
			DangerLow:  80,
			DangerHigh: 100,
		},
	}
}

// LoadProfiles читает профили приборов из YAML-файла.
// Отсутствующий файл не ошибка: возвращаются профили по умолчанию.
func LoadProfiles(path string) (*ProfileSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultProfiles(), nil
		}
		return nil, fmt.Errorf("read gauge profiles: %w", err)
	}

	set := DefaultProfiles()
	if err := yaml.Unmarshal(data, set); err != nil {
		return nil, fmt.Errorf("parse gauge profiles: %w", err)
	}
	return set, nil
}
