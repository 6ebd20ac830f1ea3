package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/db"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "nested", "summaries.db"))
	if err != nil {
		t.Fatalf("не удалось открыть базу: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	store := NewSQLite(conn)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("миграция не прошла: %v", err)
	}
	return store
}

func TestSQLiteEnsureCursorKeepsMetadata(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	if _, err := store.GetCursor(ctx, "42"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	cursor, err := store.EnsureCursor(ctx, "42", domain.ChannelMeta{Name: "general", GroupID: "7", GroupName: "Gophers"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if cursor.LastReadPosition != "" || cursor.GroupName != "Gophers" {
		t.Fatalf("неожиданный курсор: %+v", cursor)
	}
	cursor, err = store.EnsureCursor(ctx, "42", domain.ChannelMeta{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if cursor.ChannelName != "general" || cursor.GroupName != "Gophers" {
		t.Fatalf("пустые метаданные не должны затирать имена: %+v", cursor)
	}

	if _, err := store.EnsureCursor(ctx, "43", domain.ChannelMeta{Name: "random"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	list, err := store.ListCursors(ctx, []string{"43"})
	if err != nil || len(list) != 1 || list[0].ChannelName != "random" {
		t.Fatalf("ожидали один курсор, получили %+v (%v)", list, err)
	}
	all, err := store.ListCursors(ctx, nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("ожидали два курсора, получили %d (%v)", len(all), err)
	}
}

func TestSQLiteCommitCycleDedupAndAdvance(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	t3 := domain.FormatPosition(base.Add(-5 * time.Minute))

	rec, err := store.CommitCycle(ctx, domain.CycleCommit{
		Record:      domain.SummaryRecord{ChannelID: "42", CreatedAt: base, MessageCount: 3, Text: "first", RawPayload: []byte(`[]`)},
		Position:    t3,
		DedupWindow: time.Hour,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if rec.ID == 0 || rec.Kind != domain.SummaryPeriodic {
		t.Fatalf("неожиданная запись: %+v", rec)
	}
	cursor, err := store.GetCursor(ctx, "42")
	if err != nil || cursor.LastReadPosition != t3 {
		t.Fatalf("ожидали курсор %s, получили %+v (%v)", t3, cursor, err)
	}

	_, err = store.CommitCycle(ctx, domain.CycleCommit{
		Record:      domain.SummaryRecord{ChannelID: "42", CreatedAt: base.Add(10 * time.Minute), MessageCount: 1, Text: "second"},
		Position:    domain.FormatPosition(base.Add(9 * time.Minute)),
		DedupWindow: time.Hour,
	})
	if !errors.Is(err, domain.ErrDuplicateSummary) {
		t.Fatalf("ожидали ErrDuplicateSummary, получили %v", err)
	}
	cursor, _ = store.GetCursor(ctx, "42")
	if cursor.LastReadPosition != t3 {
		t.Fatalf("отклонённый цикл сдвинул курсор: %s", cursor.LastReadPosition)
	}

	older := domain.FormatPosition(base.Add(-time.Hour))
	if _, err := store.CommitCycle(ctx, domain.CycleCommit{
		Record:      domain.SummaryRecord{ChannelID: "42", CreatedAt: base.Add(2 * time.Hour), MessageCount: 1, Text: "third"},
		Position:    older,
		DedupWindow: time.Hour,
	}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	cursor, _ = store.GetCursor(ctx, "42")
	if cursor.LastReadPosition != t3 {
		t.Fatalf("курсор не должен двигаться назад: %s", cursor.LastReadPosition)
	}

	latest, err := store.LatestSummary(ctx, "42", domain.SummaryPeriodic)
	if err != nil || latest.Text != "third" {
		t.Fatalf("ожидали последнюю сводку third, получили %+v (%v)", latest, err)
	}
	count, err := store.CountSummaries(ctx)
	if err != nil || count != 2 {
		t.Fatalf("ожидали 2 сводки, получили %d (%v)", count, err)
	}
}

func TestSQLiteListSummaries(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)
	base := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for i, text := range []string{"a", "b", "c"} {
		if _, err := store.AppendSummary(ctx, domain.SummaryRecord{ChannelID: "42", CreatedAt: base.Add(time.Duration(i) * time.Hour), Text: text}); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if _, err := store.AppendSummary(ctx, domain.SummaryRecord{ChannelID: "42", Kind: domain.SummaryRollup, CreatedAt: base.Add(3 * time.Hour), Text: "rollup"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	since, err := store.ListSummariesSince(ctx, "42", domain.SummaryPeriodic, base)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(since) != 2 || since[0].Text != "b" || since[1].Text != "c" {
		t.Fatalf("ожидали b, c по возрастанию, получили %+v", since)
	}

	recent, err := store.ListRecentSummaries(ctx, "42", 2, 0)
	if err != nil || len(recent) != 2 || recent[0].Text != "rollup" || recent[1].Text != "c" {
		t.Fatalf("ожидали новые первыми, получили %+v (%v)", recent, err)
	}
	page, err := store.ListRecentSummaries(ctx, "42", 2, 2)
	if err != nil || len(page) != 2 || page[1].Text != "a" {
		t.Fatalf("неожиданная вторая страница: %+v (%v)", page, err)
	}
}

func TestSQLiteRollupDeliveries(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)
	first := time.Date(2024, 3, 5, 13, 0, 0, 0, time.UTC)

	if err := store.MarkDelivered(ctx, "Gophers", "2024-03-05", first); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := store.MarkDelivered(ctx, "Gophers", "2024-03-05", first.Add(time.Hour)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	delivered, err := store.ListDelivered(ctx, "2024-03-05")
	if err != nil || len(delivered) != 1 {
		t.Fatalf("ожидали одну доставку, получили %+v (%v)", delivered, err)
	}
	if !delivered[0].Delivered || delivered[0].DeliveredAt == nil || !delivered[0].DeliveredAt.Equal(first) {
		t.Fatalf("время первой доставки должно сохраниться: %+v", delivered[0])
	}
	if other, _ := store.ListDelivered(ctx, "2024-03-06"); len(other) != 0 {
		t.Fatalf("другой день не должен содержать доставок: %+v", other)
	}
}

func TestSQLiteSweepJobStatuses(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	done, attempts, err := store.EnsureSweepJob(ctx, "job-1")
	if err != nil || done || attempts != 1 {
		t.Fatalf("первая попытка: done=%v attempts=%d err=%v", done, attempts, err)
	}
	if _, attempts, _ = store.EnsureSweepJob(ctx, "job-1"); attempts != 2 {
		t.Fatalf("ожидали вторую попытку, получили %d", attempts)
	}
	if err := store.MarkSweepJobDone(ctx, "job-1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if done, _, _ = store.EnsureSweepJob(ctx, "job-1"); !done {
		t.Fatalf("задача должна считаться завершённой")
	}
	if err := store.RecordBusinessMetric(ctx, domain.BusinessMetric{Event: domain.BusinessMetricEventSummaryCreated, ChannelID: "42", Metadata: map[string]any{"messages": 3}}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
}
