package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Migrate создаёт таблицы, если их ещё нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, postgresSchema)
	metrics.ObserveNetworkRequest("postgres", "migrate", "schema", start, err)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

const cursorColumns = `channel_id, last_read_position, channel_name, group_id, group_name, created_at, updated_at`

func scanCursor(row pgx.Row) (domain.ChannelCursor, error) {
	var c domain.ChannelCursor
	err := row.Scan(&c.ChannelID, &c.LastReadPosition, &c.ChannelName, &c.GroupID, &c.GroupName, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetCursor возвращает курсор канала или domain.ErrNotFound.
func (p *Postgres) GetCursor(ctx context.Context, channelID string) (domain.ChannelCursor, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	cursor, err := scanCursor(p.pool.QueryRow(ctx, `SELECT `+cursorColumns+` FROM channel_cursors WHERE channel_id=$1`, channelID))
	metrics.ObserveNetworkRequest("postgres", "channel_cursors_get", "channel_cursors", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChannelCursor{}, domain.ErrNotFound
	}
	return cursor, err
}

// EnsureCursor создаёт курсор при первом обращении и обновляет непустые метаданные.
func (p *Postgres) EnsureCursor(ctx context.Context, channelID string, meta domain.ChannelMeta) (domain.ChannelCursor, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	cursor, err := scanCursor(p.pool.QueryRow(ctx, `
INSERT INTO channel_cursors (channel_id, channel_name, group_id, group_name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (channel_id) DO UPDATE
    SET channel_name = COALESCE(NULLIF(EXCLUDED.channel_name, ''), channel_cursors.channel_name),
        group_id = COALESCE(NULLIF(EXCLUDED.group_id, ''), channel_cursors.group_id),
        group_name = COALESCE(NULLIF(EXCLUDED.group_name, ''), channel_cursors.group_name)
RETURNING `+cursorColumns, channelID, meta.Name, meta.GroupID, meta.GroupName))
	metrics.ObserveNetworkRequest("postgres", "channel_cursors_upsert", "channel_cursors", start, err)
	return cursor, err
}

// ListCursors возвращает курсоры перечисленных каналов; пустой список — все курсоры.
func (p *Postgres) ListCursors(ctx context.Context, channelIDs []string) ([]domain.ChannelCursor, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query := `SELECT ` + cursorColumns + ` FROM channel_cursors`
	args := []any{}
	if len(channelIDs) > 0 {
		query += ` WHERE channel_id = ANY($1)`
		args = append(args, channelIDs)
	}
	query += ` ORDER BY channel_id`

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "channel_cursors_list", "channel_cursors", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChannelCursor
	for rows.Next() {
		cursor, err := scanCursor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cursor)
	}
	return out, rows.Err()
}

// CommitCycle атомарно проверяет окно дедупликации, сохраняет сводку и продвигает курсор.
func (p *Postgres) CommitCycle(ctx context.Context, commit domain.CycleCommit) (domain.SummaryRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	record := commit.Record
	record.Kind = summaryKind(record.Kind)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = nowUTC()
	}

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "summaries", start, err)
	if err != nil {
		return domain.SummaryRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO channel_cursors (channel_id) VALUES ($1) ON CONFLICT (channel_id) DO NOTHING`, record.ChannelID); err != nil {
		return domain.SummaryRecord{}, fmt.Errorf("ensure cursor: %w", err)
	}

	var current string
	start = time.Now()
	err = tx.QueryRow(ctx, `SELECT last_read_position FROM channel_cursors WHERE channel_id=$1 FOR UPDATE`, record.ChannelID).Scan(&current)
	metrics.ObserveNetworkRequest("postgres", "channel_cursors_lock", "channel_cursors", start, err)
	if err != nil {
		return domain.SummaryRecord{}, fmt.Errorf("lock cursor: %w", err)
	}

	if record.Kind == domain.SummaryPeriodic && commit.DedupWindow > 0 {
		var exists bool
		err := tx.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM summaries
    WHERE channel_id=$1 AND kind=$2 AND created_at > $3
)`, record.ChannelID, string(domain.SummaryPeriodic), record.CreatedAt.Add(-commit.DedupWindow)).Scan(&exists)
		if err != nil {
			return domain.SummaryRecord{}, fmt.Errorf("dedup check: %w", err)
		}
		if exists {
			return domain.SummaryRecord{}, domain.ErrDuplicateSummary
		}
	}

	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO summaries (channel_id, kind, created_at, message_count, text, raw_payload)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`, record.ChannelID, string(record.Kind), record.CreatedAt, record.MessageCount, record.Text, record.RawPayload).Scan(&record.ID)
	metrics.ObserveNetworkRequest("postgres", "summaries_insert", "summaries", start, err)
	if err != nil {
		return domain.SummaryRecord{}, fmt.Errorf("insert summary: %w", err)
	}

	if commit.Position != "" && domain.AdvancesPosition(current, commit.Position) {
		start = time.Now()
		_, err = tx.Exec(ctx, `UPDATE channel_cursors SET last_read_position=$2, updated_at=now() WHERE channel_id=$1`, record.ChannelID, commit.Position)
		metrics.ObserveNetworkRequest("postgres", "channel_cursors_advance", "channel_cursors", start, err)
		if err != nil {
			return domain.SummaryRecord{}, fmt.Errorf("advance cursor: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.SummaryRecord{}, fmt.Errorf("commit cycle: %w", err)
	}
	return record, nil
}

const summaryColumns = `id, channel_id, kind, created_at, message_count, text, raw_payload`

func scanSummary(row pgx.Row) (domain.SummaryRecord, error) {
	var (
		s    domain.SummaryRecord
		kind string
	)
	if err := row.Scan(&s.ID, &s.ChannelID, &kind, &s.CreatedAt, &s.MessageCount, &s.Text, &s.RawPayload); err != nil {
		return domain.SummaryRecord{}, err
	}
	s.Kind = domain.SummaryKind(kind)
	return s, nil
}

func collectSummaries(rows pgx.Rows) ([]domain.SummaryRecord, error) {
	defer rows.Close()
	var out []domain.SummaryRecord
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestSummary возвращает последнюю сводку канала указанного вида.
func (p *Postgres) LatestSummary(ctx context.Context, channelID string, kind domain.SummaryKind) (domain.SummaryRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	s, err := scanSummary(p.pool.QueryRow(ctx, `
SELECT `+summaryColumns+` FROM summaries
WHERE channel_id=$1 AND kind=$2
ORDER BY created_at DESC, id DESC
LIMIT 1`, channelID, string(summaryKind(kind))))
	metrics.ObserveNetworkRequest("postgres", "summaries_latest", "summaries", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SummaryRecord{}, domain.ErrNotFound
	}
	return s, err
}

// ListSummariesSince возвращает сводки канала, созданные после since, от старых к новым.
func (p *Postgres) ListSummariesSince(ctx context.Context, channelID string, kind domain.SummaryKind, since time.Time) ([]domain.SummaryRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+summaryColumns+` FROM summaries
WHERE channel_id=$1 AND kind=$2 AND created_at > $3
ORDER BY created_at ASC, id ASC`, channelID, string(summaryKind(kind)), since)
	metrics.ObserveNetworkRequest("postgres", "summaries_since", "summaries", start, err)
	if err != nil {
		return nil, err
	}
	return collectSummaries(rows)
}

// ListRecentSummaries возвращает страницу сводок канала, новые первыми.
func (p *Postgres) ListRecentSummaries(ctx context.Context, channelID string, limit, offset int) ([]domain.SummaryRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+summaryColumns+` FROM summaries
WHERE channel_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, channelID, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "summaries_recent", "summaries", start, err)
	if err != nil {
		return nil, err
	}
	return collectSummaries(rows)
}

// AppendSummary сохраняет сводку без проверки дедупликации.
func (p *Postgres) AppendSummary(ctx context.Context, record domain.SummaryRecord) (domain.SummaryRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	record.Kind = summaryKind(record.Kind)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = nowUTC()
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO summaries (channel_id, kind, created_at, message_count, text, raw_payload)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`, record.ChannelID, string(record.Kind), record.CreatedAt, record.MessageCount, record.Text, record.RawPayload).Scan(&record.ID)
	metrics.ObserveNetworkRequest("postgres", "summaries_insert", "summaries", start, err)
	return record, err
}

// CountSummaries возвращает общее количество сводок.
func (p *Postgres) CountSummaries(ctx context.Context) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM summaries`).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "summaries_count", "summaries", start, err)
	return count, err
}

// ListDelivered возвращает доставленные группы за календарный день.
func (p *Postgres) ListDelivered(ctx context.Context, calendarDate string) ([]domain.RollupDeliveryRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT group_name, calendar_date, delivered, delivered_at
FROM rollup_deliveries
WHERE calendar_date=$1 AND delivered
ORDER BY group_name`, calendarDate)
	metrics.ObserveNetworkRequest("postgres", "rollup_deliveries_list", "rollup_deliveries", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RollupDeliveryRecord
	for rows.Next() {
		var (
			rec         domain.RollupDeliveryRecord
			deliveredAt sql.NullTime
		)
		if err := rows.Scan(&rec.GroupName, &rec.CalendarDate, &rec.Delivered, &deliveredAt); err != nil {
			return nil, err
		}
		if deliveredAt.Valid {
			at := deliveredAt.Time
			rec.DeliveredAt = &at
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkDelivered отмечает доставку; время первой доставки не перезаписывается.
func (p *Postgres) MarkDelivered(ctx context.Context, groupName, calendarDate string, deliveredAt time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO rollup_deliveries (group_name, calendar_date, delivered, delivered_at)
VALUES ($1, $2, TRUE, $3)
ON CONFLICT (group_name, calendar_date) DO UPDATE
    SET delivered = TRUE,
        delivered_at = COALESCE(rollup_deliveries.delivered_at, EXCLUDED.delivered_at)
`, groupName, calendarDate, deliveredAt)
	metrics.ObserveNetworkRequest("postgres", "rollup_deliveries_mark", "rollup_deliveries", start, err)
	return err
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = nowUTC()
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var channelID sql.NullString
	if metric.ChannelID != "" {
		channelID = sql.NullString{String: metric.ChannelID, Valid: true}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, channel_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4)
`, metric.Event, channelID, metadataJSON(metric.Metadata), metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// EnsureSweepJob регистрирует попытку обработки задачи.
func (p *Postgres) EnsureSweepJob(ctx context.Context, jobID string) (bool, int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		done     sql.NullTime
		attempts int
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO sweep_job_statuses (job_id, attempts, updated_at)
VALUES ($1, 1, now())
ON CONFLICT (job_id) DO UPDATE
    SET attempts = sweep_job_statuses.attempts + 1,
        updated_at = now()
RETURNING done_at, attempts
`, jobID).Scan(&done, &attempts)
	metrics.ObserveNetworkRequest("postgres", "sweep_job_statuses_upsert", "sweep_job_statuses", start, err)
	if err != nil {
		return false, 0, err
	}
	return done.Valid, attempts, nil
}

// MarkSweepJobDone помечает задачу завершённой.
func (p *Postgres) MarkSweepJobDone(ctx context.Context, jobID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE sweep_job_statuses
SET done_at = COALESCE(done_at, now()),
    updated_at = now()
WHERE job_id = $1
`, jobID)
	metrics.ObserveNetworkRequest("postgres", "sweep_job_statuses_done", "sweep_job_statuses", start, err)
	return err
}
