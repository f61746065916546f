package telegram

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"gauge-bot/internal/domain/entity"
)

// buildCSVReport сериализует подтверждённые показания в CSV-отчёт смены
func buildCSVReport(readings []*entity.GaugeReading) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"reviewed_at", "reading_id", "source", "value", "units", "confidence", "model", "danger_zone", "condition_flags", "operator_note"}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, r := range readings {
		value := ""
		if r.ExtractedValue != nil {
			value = strconv.FormatFloat(*r.ExtractedValue, 'f', -1, 64)
		}
		reviewedAt := ""
		if r.ReviewedAt != nil {
			reviewedAt = r.ReviewedAt.Format(time.RFC3339)
		}
		flags := make([]string, 0, len(r.ConditionFlags))
		for _, f := range r.ConditionFlags {
			flags = append(flags, string(f))
		}

		row := []string{
			reviewedAt,
			r.ID.String(),
			r.Source,
			value,
			r.Units,
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
			string(r.ModelUsed),
			strconv.FormatBool(r.DangerZone),
			strings.Join(flags, ";"),
			r.OperatorNote,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
