package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/metrics"
)

// sqliteTimeLayout имеет фиксированную ширину, чтобы строки сравнивались как время.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite реализует репозитории поверх одного файла базы.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite создаёт адаптер. Соединение открывается через db.OpenSQLite.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Migrate создаёт таблицы, если их ещё нет.
func (s *SQLite) Migrate(ctx context.Context) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	metrics.ObserveNetworkRequest("sqlite", "migrate", "schema", start, err)
	if err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return t.UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCursor(row rowScanner) (domain.ChannelCursor, error) {
	var (
		c                domain.ChannelCursor
		created, updated string
	)
	if err := row.Scan(&c.ChannelID, &c.LastReadPosition, &c.ChannelName, &c.GroupID, &c.GroupName, &created, &updated); err != nil {
		return domain.ChannelCursor{}, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

// GetCursor возвращает курсор канала или domain.ErrNotFound.
func (s *SQLite) GetCursor(ctx context.Context, channelID string) (domain.ChannelCursor, error) {
	start := time.Now()
	cursor, err := scanSQLiteCursor(s.db.QueryRowContext(ctx, `SELECT `+cursorColumns+` FROM channel_cursors WHERE channel_id=?`, channelID))
	metrics.ObserveNetworkRequest("sqlite", "channel_cursors_get", "channel_cursors", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChannelCursor{}, domain.ErrNotFound
	}
	return cursor, err
}

// EnsureCursor создаёт курсор при первом обращении и обновляет непустые метаданные.
func (s *SQLite) EnsureCursor(ctx context.Context, channelID string, meta domain.ChannelMeta) (domain.ChannelCursor, error) {
	now := formatTime(nowUTC())
	start := time.Now()
	cursor, err := scanSQLiteCursor(s.db.QueryRowContext(ctx, `
INSERT INTO channel_cursors (channel_id, channel_name, group_id, group_name, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (channel_id) DO UPDATE
    SET channel_name = COALESCE(NULLIF(excluded.channel_name, ''), channel_cursors.channel_name),
        group_id = COALESCE(NULLIF(excluded.group_id, ''), channel_cursors.group_id),
        group_name = COALESCE(NULLIF(excluded.group_name, ''), channel_cursors.group_name)
RETURNING `+cursorColumns, channelID, meta.Name, meta.GroupID, meta.GroupName, now, now))
	metrics.ObserveNetworkRequest("sqlite", "channel_cursors_upsert", "channel_cursors", start, err)
	return cursor, err
}

// ListCursors возвращает курсоры перечисленных каналов; пустой список — все курсоры.
func (s *SQLite) ListCursors(ctx context.Context, channelIDs []string) ([]domain.ChannelCursor, error) {
	query := `SELECT ` + cursorColumns + ` FROM channel_cursors`
	args := make([]any, 0, len(channelIDs))
	if len(channelIDs) > 0 {
		query += ` WHERE channel_id IN (` + strings.TrimSuffix(strings.Repeat("?,", len(channelIDs)), ",") + `)`
		for _, id := range channelIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY channel_id`

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.ObserveNetworkRequest("sqlite", "channel_cursors_list", "channel_cursors", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChannelCursor
	for rows.Next() {
		cursor, err := scanSQLiteCursor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cursor)
	}
	return out, rows.Err()
}

// CommitCycle атомарно проверяет окно дедупликации, сохраняет сводку и продвигает курсор.
// Транзакция открывается как BEGIN IMMEDIATE (параметр _txlock в DSN), поэтому запись сериализуется.
func (s *SQLite) CommitCycle(ctx context.Context, commit domain.CycleCommit) (domain.SummaryRecord, error) {
	record := commit.Record
	record.Kind = summaryKind(record.Kind)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = nowUTC()
	}

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	metrics.ObserveNetworkRequest("sqlite", "begin_tx", "summaries", start, err)
	if err != nil {
		return domain.SummaryRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(nowUTC())
	if _, err := tx.ExecContext(ctx, `
INSERT INTO channel_cursors (channel_id, created_at, updated_at) VALUES (?, ?, ?)
ON CONFLICT (channel_id) DO NOTHING`, record.ChannelID, now, now); err != nil {
		return domain.SummaryRecord{}, fmt.Errorf("ensure cursor: %w", err)
	}

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT last_read_position FROM channel_cursors WHERE channel_id=?`, record.ChannelID).Scan(&current); err != nil {
		return domain.SummaryRecord{}, fmt.Errorf("read cursor: %w", err)
	}

	if record.Kind == domain.SummaryPeriodic && commit.DedupWindow > 0 {
		var exists bool
		err := tx.QueryRowContext(ctx, `
SELECT EXISTS (
    SELECT 1 FROM summaries
    WHERE channel_id=? AND kind=? AND created_at > ?
)`, record.ChannelID, string(domain.SummaryPeriodic), formatTime(record.CreatedAt.Add(-commit.DedupWindow))).Scan(&exists)
		if err != nil {
			return domain.SummaryRecord{}, fmt.Errorf("dedup check: %w", err)
		}
		if exists {
			return domain.SummaryRecord{}, domain.ErrDuplicateSummary
		}
	}

	start = time.Now()
	res, err := tx.ExecContext(ctx, `
INSERT INTO summaries (channel_id, kind, created_at, message_count, text, raw_payload)
VALUES (?, ?, ?, ?, ?, ?)`, record.ChannelID, string(record.Kind), formatTime(record.CreatedAt), record.MessageCount, record.Text, record.RawPayload)
	metrics.ObserveNetworkRequest("sqlite", "summaries_insert", "summaries", start, err)
	if err != nil {
		return domain.SummaryRecord{}, fmt.Errorf("insert summary: %w", err)
	}
	if record.ID, err = res.LastInsertId(); err != nil {
		return domain.SummaryRecord{}, fmt.Errorf("insert summary: %w", err)
	}

	if commit.Position != "" && domain.AdvancesPosition(current, commit.Position) {
		if _, err := tx.ExecContext(ctx, `UPDATE channel_cursors SET last_read_position=?, updated_at=? WHERE channel_id=?`, commit.Position, now, record.ChannelID); err != nil {
			return domain.SummaryRecord{}, fmt.Errorf("advance cursor: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.SummaryRecord{}, fmt.Errorf("commit cycle: %w", err)
	}
	return record, nil
}

func scanSQLiteSummary(row rowScanner) (domain.SummaryRecord, error) {
	var (
		rec     domain.SummaryRecord
		kind    string
		created string
	)
	if err := row.Scan(&rec.ID, &rec.ChannelID, &kind, &created, &rec.MessageCount, &rec.Text, &rec.RawPayload); err != nil {
		return domain.SummaryRecord{}, err
	}
	rec.Kind = domain.SummaryKind(kind)
	rec.CreatedAt = parseTime(created)
	return rec, nil
}

func collectSQLiteSummaries(rows *sql.Rows) ([]domain.SummaryRecord, error) {
	defer rows.Close()
	var out []domain.SummaryRecord
	for rows.Next() {
		rec, err := scanSQLiteSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LatestSummary возвращает последнюю сводку канала указанного вида.
func (s *SQLite) LatestSummary(ctx context.Context, channelID string, kind domain.SummaryKind) (domain.SummaryRecord, error) {
	start := time.Now()
	rec, err := scanSQLiteSummary(s.db.QueryRowContext(ctx, `
SELECT `+summaryColumns+` FROM summaries
WHERE channel_id=? AND kind=?
ORDER BY created_at DESC, id DESC
LIMIT 1`, channelID, string(summaryKind(kind))))
	metrics.ObserveNetworkRequest("sqlite", "summaries_latest", "summaries", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SummaryRecord{}, domain.ErrNotFound
	}
	return rec, err
}

// ListSummariesSince возвращает сводки канала, созданные после since, от старых к новым.
func (s *SQLite) ListSummariesSince(ctx context.Context, channelID string, kind domain.SummaryKind, since time.Time) ([]domain.SummaryRecord, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT `+summaryColumns+` FROM summaries
WHERE channel_id=? AND kind=? AND created_at > ?
ORDER BY created_at ASC, id ASC`, channelID, string(summaryKind(kind)), formatTime(since))
	metrics.ObserveNetworkRequest("sqlite", "summaries_since", "summaries", start, err)
	if err != nil {
		return nil, err
	}
	return collectSQLiteSummaries(rows)
}

// ListRecentSummaries возвращает страницу сводок канала, новые первыми.
func (s *SQLite) ListRecentSummaries(ctx context.Context, channelID string, limit, offset int) ([]domain.SummaryRecord, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT `+summaryColumns+` FROM summaries
WHERE channel_id=?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`, channelID, limit, offset)
	metrics.ObserveNetworkRequest("sqlite", "summaries_recent", "summaries", start, err)
	if err != nil {
		return nil, err
	}
	return collectSQLiteSummaries(rows)
}

// AppendSummary сохраняет сводку без проверки дедупликации.
func (s *SQLite) AppendSummary(ctx context.Context, record domain.SummaryRecord) (domain.SummaryRecord, error) {
	record.Kind = summaryKind(record.Kind)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = nowUTC()
	}
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO summaries (channel_id, kind, created_at, message_count, text, raw_payload)
VALUES (?, ?, ?, ?, ?, ?)`, record.ChannelID, string(record.Kind), formatTime(record.CreatedAt), record.MessageCount, record.Text, record.RawPayload)
	metrics.ObserveNetworkRequest("sqlite", "summaries_insert", "summaries", start, err)
	if err != nil {
		return domain.SummaryRecord{}, err
	}
	record.ID, err = res.LastInsertId()
	return record, err
}

// CountSummaries возвращает общее количество сводок.
func (s *SQLite) CountSummaries(ctx context.Context) (int, error) {
	var count int
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM summaries`).Scan(&count)
	metrics.ObserveNetworkRequest("sqlite", "summaries_count", "summaries", start, err)
	return count, err
}

// ListDelivered возвращает доставленные группы за календарный день.
func (s *SQLite) ListDelivered(ctx context.Context, calendarDate string) ([]domain.RollupDeliveryRecord, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT group_name, calendar_date, delivered, delivered_at
FROM rollup_deliveries
WHERE calendar_date=? AND delivered=1
ORDER BY group_name`, calendarDate)
	metrics.ObserveNetworkRequest("sqlite", "rollup_deliveries_list", "rollup_deliveries", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RollupDeliveryRecord
	for rows.Next() {
		var (
			rec         domain.RollupDeliveryRecord
			deliveredAt sql.NullString
		)
		if err := rows.Scan(&rec.GroupName, &rec.CalendarDate, &rec.Delivered, &deliveredAt); err != nil {
			return nil, err
		}
		if deliveredAt.Valid {
			at := parseTime(deliveredAt.String)
			rec.DeliveredAt = &at
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkDelivered отмечает доставку; время первой доставки не перезаписывается.
func (s *SQLite) MarkDelivered(ctx context.Context, groupName, calendarDate string, deliveredAt time.Time) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO rollup_deliveries (group_name, calendar_date, delivered, delivered_at)
VALUES (?, ?, 1, ?)
ON CONFLICT (group_name, calendar_date) DO UPDATE
    SET delivered = 1,
        delivered_at = COALESCE(rollup_deliveries.delivered_at, excluded.delivered_at)
`, groupName, calendarDate, formatTime(deliveredAt))
	metrics.ObserveNetworkRequest("sqlite", "rollup_deliveries_mark", "rollup_deliveries", start, err)
	return err
}

// RecordBusinessMetric сохраняет бизнесовую метрику.
func (s *SQLite) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = nowUTC()
	}
	var channelID sql.NullString
	if metric.ChannelID != "" {
		channelID = sql.NullString{String: metric.ChannelID, Valid: true}
	}
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO business_metrics (event, channel_id, metadata, occurred_at)
VALUES (?, ?, ?, ?)`, metric.Event, channelID, metadataJSON(metric.Metadata), formatTime(metric.OccurredAt))
	metrics.ObserveNetworkRequest("sqlite", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// EnsureSweepJob регистрирует попытку обработки задачи.
func (s *SQLite) EnsureSweepJob(ctx context.Context, jobID string) (bool, int, error) {
	var (
		done     sql.NullString
		attempts int
	)
	now := formatTime(nowUTC())
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `
INSERT INTO sweep_job_statuses (job_id, attempts, updated_at)
VALUES (?, 1, ?)
ON CONFLICT (job_id) DO UPDATE
    SET attempts = sweep_job_statuses.attempts + 1,
        updated_at = excluded.updated_at
RETURNING done_at, attempts`, jobID, now).Scan(&done, &attempts)
	metrics.ObserveNetworkRequest("sqlite", "sweep_job_statuses_upsert", "sweep_job_statuses", start, err)
	if err != nil {
		return false, 0, err
	}
	return done.Valid, attempts, nil
}

// MarkSweepJobDone помечает задачу завершённой.
func (s *SQLite) MarkSweepJobDone(ctx context.Context, jobID string) error {
	now := formatTime(nowUTC())
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
UPDATE sweep_job_statuses
SET done_at = COALESCE(done_at, ?),
    updated_at = ?
WHERE job_id = ?`, now, now, jobID)
	metrics.ObserveNetworkRequest("sqlite", "sweep_job_statuses_done", "sweep_job_statuses", start, err)
	return err
}
