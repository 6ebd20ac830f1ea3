package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// DiscordEpoch — начало эпохи снежинок Discord в миллисекундах.
const DiscordEpoch int64 = 1420070400000

const snowflakeTimestampShift = 22

// ErrInvalidPosition возвращается, если позицию курсора не удалось разобрать.
var ErrInvalidPosition = errors.New("invalid cursor position")

// ToSnowflake переводит момент времени в нижнюю границу идентификатора сообщения.
// Для моментов до эпохи результат отрицательный и не соответствует ни одному сообщению.
func ToSnowflake(t time.Time) string {
	return strconv.FormatInt((t.UnixMilli()-DiscordEpoch)<<snowflakeTimestampShift, 10)
}

// SnowflakeTime возвращает момент создания идентификатора.
func SnowflakeTime(id string) (time.Time, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return time.Time{}, ErrInvalidPosition
	}
	return time.UnixMilli((n >> snowflakeTimestampShift) + DiscordEpoch).UTC(), nil
}

// IsSnowflake сообщает, что строка уже является идентификатором платформы.
func IsSnowflake(position string) bool {
	position = strings.TrimSpace(position)
	if position == "" {
		return false
	}
	for _, r := range position {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParsePosition переводит позицию курсора (ISO-время или снежинку) в момент времени.
func ParsePosition(position string) (time.Time, error) {
	position = strings.TrimSpace(position)
	if position == "" {
		return time.Time{}, ErrInvalidPosition
	}
	if IsSnowflake(position) {
		return SnowflakeTime(position)
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07:00"} {
		if t, err := time.Parse(layout, position); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidPosition
}

// FormatPosition сериализует момент времени в позицию курсора.
func FormatPosition(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// AdvancesPosition сообщает, что next позже current и курсор можно сдвинуть.
// Неразбираемый next никогда не сдвигает курсор, неразбираемый current всегда уступает.
func AdvancesPosition(current, next string) bool {
	nextAt, err := ParsePosition(next)
	if err != nil {
		return false
	}
	currentAt, err := ParsePosition(current)
	if err != nil {
		return true
	}
	return nextAt.After(currentAt)
}

// LaterPosition возвращает более позднюю из двух позиций; пустые и неразбираемые игнорируются.
func LaterPosition(a, b string) string {
	if AdvancesPosition(a, b) {
		return b
	}
	if _, err := ParsePosition(a); err != nil {
		return ""
	}
	return a
}
