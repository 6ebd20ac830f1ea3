package rollup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"discord-digest/internal/domain"
)

type stubCursors struct {
	cursors map[string]domain.ChannelCursor
}

func (s *stubCursors) GetCursor(_ context.Context, channelID string) (domain.ChannelCursor, error) {
	c, ok := s.cursors[channelID]
	if !ok {
		return domain.ChannelCursor{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *stubCursors) EnsureCursor(_ context.Context, channelID string, _ domain.ChannelMeta) (domain.ChannelCursor, error) {
	return s.cursors[channelID], nil
}

func (s *stubCursors) ListCursors(_ context.Context, ids []string) ([]domain.ChannelCursor, error) {
	var out []domain.ChannelCursor
	for _, id := range ids {
		if c, ok := s.cursors[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type stubSummaries struct {
	records  []domain.SummaryRecord
	appended []domain.SummaryRecord
}

func (s *stubSummaries) CommitCycle(context.Context, domain.CycleCommit) (domain.SummaryRecord, error) {
	return domain.SummaryRecord{}, errors.New("не используется")
}

func (s *stubSummaries) LatestSummary(context.Context, string, domain.SummaryKind) (domain.SummaryRecord, error) {
	return domain.SummaryRecord{}, domain.ErrNotFound
}

func (s *stubSummaries) ListSummariesSince(_ context.Context, channelID string, kind domain.SummaryKind, since time.Time) ([]domain.SummaryRecord, error) {
	var out []domain.SummaryRecord
	for _, rec := range s.records {
		if rec.ChannelID == channelID && rec.Kind == kind && rec.CreatedAt.After(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *stubSummaries) ListRecentSummaries(context.Context, string, int, int) ([]domain.SummaryRecord, error) {
	return nil, nil
}

func (s *stubSummaries) AppendSummary(_ context.Context, rec domain.SummaryRecord) (domain.SummaryRecord, error) {
	s.appended = append(s.appended, rec)
	return rec, nil
}

func (s *stubSummaries) CountSummaries(context.Context) (int, error) {
	return len(s.records) + len(s.appended), nil
}

type stubDeliveries struct {
	delivered map[string][]domain.RollupDeliveryRecord
	marks     int
}

func (s *stubDeliveries) ListDelivered(_ context.Context, date string) ([]domain.RollupDeliveryRecord, error) {
	return s.delivered[date], nil
}

func (s *stubDeliveries) MarkDelivered(_ context.Context, group, date string, at time.Time) error {
	if s.delivered == nil {
		s.delivered = map[string][]domain.RollupDeliveryRecord{}
	}
	s.marks++
	s.delivered[date] = append(s.delivered[date], domain.RollupDeliveryRecord{GroupName: group, CalendarDate: date, Delivered: true, DeliveredAt: &at})
	return nil
}

type stubDispatcher struct {
	err     error
	rollups []domain.Rollup
}

func (d *stubDispatcher) Deliver(_ context.Context, r domain.Rollup) error {
	d.rollups = append(d.rollups, r)
	return d.err
}

var eastern = time.FixedZone("EST", -5*3600)

func rollupConfig() domain.PipelineConfig {
	return domain.PipelineConfig{
		Token:      "token",
		BackendURL: "http://localhost:11434",
		Channels:   []string{"a", "b", "c"},
		Rollup:     domain.RollupConfig{Location: eastern, SendHour: 8, Window: time.Hour},
	}
}

type fixture struct {
	cursors    *stubCursors
	summaries  *stubSummaries
	deliveries *stubDeliveries
	dispatcher *stubDispatcher
	svc        *Service
}

func newFixture(now time.Time) *fixture {
	f := &fixture{
		cursors: &stubCursors{cursors: map[string]domain.ChannelCursor{
			"a": {ChannelID: "a", ChannelName: "general", GroupName: "Gophers"},
			"b": {ChannelID: "b", ChannelName: "random", GroupName: "Gophers"},
		}},
		summaries: &stubSummaries{records: []domain.SummaryRecord{
			{ChannelID: "a", Kind: domain.SummaryPeriodic, CreatedAt: now.Add(-2 * time.Hour), MessageCount: 4, Text: "вторая"},
			{ChannelID: "a", Kind: domain.SummaryPeriodic, CreatedAt: now.Add(-5 * time.Hour), MessageCount: 3, Text: "первая"},
			{ChannelID: "b", Kind: domain.SummaryPeriodic, CreatedAt: now.Add(-30 * time.Hour), MessageCount: 9, Text: "старая"},
			{ChannelID: "c", Kind: domain.SummaryPeriodic, CreatedAt: now.Add(-time.Hour), MessageCount: 1, Text: "без сервера"},
		}},
		deliveries: &stubDeliveries{},
		dispatcher: &stubDispatcher{},
	}
	f.svc = NewService(f.cursors, f.summaries, f.deliveries, f.dispatcher, nil, zerolog.Nop())
	return f
}

func TestRunDeliversGroupedRollupOnce(t *testing.T) {
	now := time.Date(2024, 3, 5, 8, 10, 0, 0, eastern)
	f := newFixture(now)

	result, err := f.svc.Run(context.Background(), rollupConfig(), now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Decision.Status != domain.RollupDelivered || result.Decision.CalendarDate != "2024-03-05" {
		t.Fatalf("неожиданное решение: %+v", result.Decision)
	}
	if len(f.dispatcher.rollups) != 1 {
		t.Fatalf("ожидали одну отправку, получили %d", len(f.dispatcher.rollups))
	}
	groups := f.dispatcher.rollups[0].Groups
	if len(groups) != 2 || groups[0].Name != "Gophers" || groups[1].Name != domain.UngroupedLabel {
		t.Fatalf("неожиданные группы: %+v", groups)
	}
	if len(groups[0].Channels) != 1 || groups[0].Channels[0].ChannelID != "a" {
		t.Fatalf("канал без свежих сводок должен быть опущен: %+v", groups[0].Channels)
	}
	a := groups[0].Channels[0]
	if len(a.Summaries) != 2 || a.Summaries[0].Text != "первая" || a.MessageCount() != 7 {
		t.Fatalf("сводки канала должны идти по возрастанию времени: %+v", a.Summaries)
	}
	if f.deliveries.marks != 2 || len(f.summaries.appended) != 2 {
		t.Fatalf("ожидали 2 отметки доставки и 2 итоговые сводки, получили %d и %d", f.deliveries.marks, len(f.summaries.appended))
	}
	if f.summaries.appended[0].Kind != domain.SummaryRollup || f.summaries.appended[0].MessageCount != 7 {
		t.Fatalf("неожиданная итоговая сводка: %+v", f.summaries.appended[0])
	}

	again, err := f.svc.Run(context.Background(), rollupConfig(), now.Add(30*time.Minute))
	if err != nil || again.Decision.Status != domain.RollupAlreadyDelivered {
		t.Fatalf("повторный запуск в окне должен пропускаться, получили %+v (%v)", again.Decision, err)
	}
	if len(f.dispatcher.rollups) != 1 || f.deliveries.marks != 2 {
		t.Fatalf("повторный запуск не должен отправлять и писать")
	}
}

func TestRunOutsideWindowDoesNothing(t *testing.T) {
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, eastern)
	f := newFixture(now)

	result, err := f.svc.Run(context.Background(), rollupConfig(), now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Decision.Status != domain.RollupOutsideWindow || result.Decision.InWindow {
		t.Fatalf("ожидали outside-window, получили %+v", result.Decision)
	}
	if len(f.dispatcher.rollups) != 0 || f.deliveries.marks != 0 || len(f.summaries.appended) != 0 {
		t.Fatalf("вне окна ничего не отправляется и не пишется")
	}
}

func TestRunNoActivity(t *testing.T) {
	now := time.Date(2024, 3, 5, 8, 0, 0, 0, eastern)
	f := newFixture(now)
	f.summaries.records = nil

	result, err := f.svc.Run(context.Background(), rollupConfig(), now)
	if err != nil || result.Decision.Status != domain.RollupNoActivity {
		t.Fatalf("ожидали no-activity, получили %+v (%v)", result.Decision, err)
	}
	if len(f.dispatcher.rollups) != 0 || f.deliveries.marks != 0 {
		t.Fatalf("пустая сводка не отправляется")
	}
}

func TestRunDispatchFailureLeavesStateUntouched(t *testing.T) {
	now := time.Date(2024, 3, 5, 7, 30, 0, 0, eastern)
	f := newFixture(now)
	f.dispatcher.err = errors.New("telegram недоступен")

	result, err := f.svc.Run(context.Background(), rollupConfig(), now)
	if err != nil {
		t.Fatalf("сбой отправки не должен возвращаться как ошибка: %v", err)
	}
	if result.Decision.Status != domain.RollupDispatchFailed || result.Error == nil {
		t.Fatalf("ожидали dispatch-failed, получили %+v", result)
	}
	if f.deliveries.marks != 0 || len(f.summaries.appended) != 0 {
		t.Fatalf("после сбоя отправки ничего не пишется")
	}

	f.dispatcher.err = nil
	retry, err := f.svc.Run(context.Background(), rollupConfig(), now.Add(time.Hour))
	if err != nil || retry.Decision.Status != domain.RollupDelivered {
		t.Fatalf("следующий запуск в окне должен доставить сводку, получили %+v (%v)", retry.Decision, err)
	}
}

func TestEvaluateUsesDateOfNearestSlot(t *testing.T) {
	f := newFixture(time.Now())
	cfg := rollupConfig()
	cfg.Rollup.SendHour = 0

	now := time.Date(2024, 3, 4, 23, 30, 0, 0, eastern)
	decision, err := f.svc.Evaluate(context.Background(), cfg, now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !decision.Dispatch() || decision.CalendarDate != "2024-03-05" {
		t.Fatalf("слот в полночь относится к следующему дню, получили %+v", decision)
	}
}

func TestFormatRollup(t *testing.T) {
	at := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	text := FormatRollup(domain.Rollup{
		CalendarDate: "2024-03-05",
		Groups: []domain.RollupGroup{
			{Name: "Gophers", Channels: []domain.RollupChannel{{
				ChannelID:   "a",
				ChannelName: "general",
				Summaries: []domain.SummaryRecord{
					{CreatedAt: at, MessageCount: 2, Text: "обсудили релиз"},
					{CreatedAt: at.Add(time.Hour), MessageCount: 1, Text: "  "},
				},
			}}},
			{Name: "empty"},
		},
	})
	want := "Daily digest for 2024-03-05\n\n== Gophers ==\n\n#general (3 messages)\n[12:00] обсудили релиз"
	if text != want {
		t.Fatalf("неожиданный текст:\n%s", text)
	}
	if strings.Contains(text, "empty") {
		t.Fatalf("пустая группа не должна попадать в текст")
	}
}
