package repo

import (
	_ "embed"
	"encoding/json"
	"time"

	"discord-digest/internal/domain"
)

//go:embed schema/postgres.sql
var postgresSchema string

//go:embed schema/sqlite.sql
var sqliteSchema string

// Store объединяет все репозитории конвейера.
type Store interface {
	domain.CursorRepo
	domain.SummaryRepo
	domain.RollupRepo
	domain.BusinessMetricRepo
	domain.SweepJobStatusRepo
}

func metadataJSON(metadata map[string]any) []byte {
	if metadata == nil {
		return nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return data
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func summaryKind(kind domain.SummaryKind) domain.SummaryKind {
	if kind == "" {
		return domain.SummaryPeriodic
	}
	return kind
}
