package domain

import (
	"strconv"
	"testing"
	"time"
)

func TestToSnowflakeDeterministic(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	first := ToSnowflake(ts)
	second := ToSnowflake(ts)
	if first != second {
		t.Fatalf("ожидали одинаковый результат, получили %s и %s", first, second)
	}
	want := strconv.FormatInt((ts.UnixMilli()-DiscordEpoch)<<22, 10)
	if first != want {
		t.Fatalf("ToSnowflake = %s, want %s", first, want)
	}
}

func TestToSnowflakeMonotonic(t *testing.T) {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	prev, _ := strconv.ParseInt(ToSnowflake(base), 10, 64)
	for _, step := range []time.Duration{time.Millisecond, time.Second, time.Hour, 24 * time.Hour} {
		next, _ := strconv.ParseInt(ToSnowflake(base.Add(step)), 10, 64)
		if next <= prev {
			t.Fatalf("ожидали рост снежинки на шаге %v: %d <= %d", step, next, prev)
		}
	}
}

func TestToSnowflakeEpoch(t *testing.T) {
	if got := ToSnowflake(time.UnixMilli(DiscordEpoch)); got != "0" {
		t.Fatalf("на эпохе ожидали 0, получили %s", got)
	}
}

func TestSnowflakeRoundTrip(t *testing.T) {
	ts := time.Date(2025, 2, 3, 4, 5, 6, 7_000_000, time.UTC)
	back, err := SnowflakeTime(ToSnowflake(ts))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !back.Equal(ts) {
		t.Fatalf("ожидали %v, получили %v", ts, back)
	}
}

func TestParsePosition(t *testing.T) {
	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		input string
		want  time.Time
		err   bool
	}{
		{name: "rfc3339", input: "2024-06-01T10:00:00Z", want: ts},
		{name: "discord offset", input: "2024-06-01T10:00:00.000000+00:00", want: ts},
		{name: "snowflake", input: ToSnowflake(ts), want: ts},
		{name: "empty", input: "", err: true},
		{name: "garbage", input: "yesterday", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePosition(tc.input)
			if tc.err {
				if err == nil {
					t.Fatalf("ожидали ошибку для %q", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("ParsePosition(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestPipelineConfigValidate(t *testing.T) {
	cfg := PipelineConfig{Token: "t", BackendURL: "http://ollama", Channels: []string{"1"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	cfg.Token = ""
	if err := cfg.Validate(); ClassifyError(err) != ErrorKindConfiguration {
		t.Fatalf("ожидали ошибку конфигурации, получили %v", err)
	}
}

func TestAdvancesPosition(t *testing.T) {
	t1 := FormatPosition(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	t2 := FormatPosition(time.Date(2024, 3, 5, 11, 0, 0, 0, time.UTC))
	cases := []struct {
		current, next string
		want          bool
	}{
		{"", t1, true},
		{t1, t2, true},
		{t2, t1, false},
		{t1, t1, false},
		{t1, "garbage", false},
		{"garbage", t1, true},
		{ToSnowflake(time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)), t2, true},
		{t2, ToSnowflake(time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)), false},
	}
	for _, c := range cases {
		if got := AdvancesPosition(c.current, c.next); got != c.want {
			t.Fatalf("AdvancesPosition(%q, %q) = %v, want %v", c.current, c.next, got, c.want)
		}
	}
}

func TestLaterPosition(t *testing.T) {
	t1 := FormatPosition(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	t2 := FormatPosition(time.Date(2024, 3, 5, 11, 0, 0, 0, time.UTC))
	if got := LaterPosition(t1, t2); got != t2 {
		t.Fatalf("ожидали %s, получили %s", t2, got)
	}
	if got := LaterPosition(t2, t1); got != t2 {
		t.Fatalf("ожидали %s, получили %s", t2, got)
	}
	if got := LaterPosition("", ""); got != "" {
		t.Fatalf("ожидали пустую позицию, получили %q", got)
	}
	if got := LaterPosition(t1, ""); got != t1 {
		t.Fatalf("ожидали %s, получили %s", t1, got)
	}
}
