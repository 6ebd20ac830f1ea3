package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"discord-digest/internal/domain"
)

var (
	// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
	ErrInvalidTimezone = errors.New("invalid timezone")
	// ErrInvalidClock возвращается для времени не в формате HH:MM.
	ErrInvalidClock = errors.New("invalid time of day")
)

// Slot — ближайшее к now время отправки.
type Slot struct {
	LocalNow time.Time
	SendAt   time.Time
	Distance time.Duration
	InWindow bool
}

// CalendarDate возвращает дату слота в часовом поясе отправки.
func (s Slot) CalendarDate() string {
	return s.SendAt.Format("2006-01-02")
}

// NearestSlot находит время отправки (вчера, сегодня или завтра), ближайшее к now,
// и проверяет, что now попадает в допуск окна.
func NearestSlot(now time.Time, cfg domain.RollupConfig) Slot {
	loc := cfg.Zone()
	local := now.In(loc)
	window := cfg.SendWindow()

	best := Slot{LocalNow: local, Distance: -1}
	for _, offset := range []int{-1, 0, 1} {
		day := local.AddDate(0, 0, offset)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), cfg.SendHour, cfg.SendMin, 0, 0, loc)
		distance := local.Sub(candidate)
		if distance < 0 {
			distance = -distance
		}
		if best.Distance < 0 || distance < best.Distance {
			best.SendAt = candidate
			best.Distance = distance
		}
	}
	best.InWindow = best.Distance <= window
	return best
}

// ParseClock разбирает время суток в формате HH:MM (допускается H:MM и HH).
func ParseClock(raw string) (hour, minute int, err error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, 0, ErrInvalidClock
	}
	parts := strings.SplitN(value, ":", 2)
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, raw)
	}
	if len(parts) == 2 {
		minute, err = strconv.Atoi(parts[1])
		if err != nil || minute < 0 || minute > 59 {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, raw)
		}
	}
	return hour, minute, nil
}

// NormalizeTimezone приводит ввод пользователя к имени из базы часовых поясов.
func NormalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		// короткие префиксы вроде US/UTC/GMT пишутся заглавными
		if len(part) <= 3 && i == 0 {
			parts[i] = strings.ToUpper(part)
			continue
		}
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
