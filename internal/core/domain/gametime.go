package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// MinutesPerDay is the length of one in-game day.
const MinutesPerDay = 24 * 60

// GameTime is a position on the in-game clock. Day counts from 1.
type GameTime struct {
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// AbsoluteMinutes returns day*1440 + hour*60 + minute.
func (t GameTime) AbsoluteMinutes() int {
	return t.Day*MinutesPerDay + t.Hour*60 + t.Minute
}

// GameTimeFromMinutes is the inverse of AbsoluteMinutes.
func GameTimeFromMinutes(abs int) GameTime {
	day := FloorDiv(abs, MinutesPerDay)
	rem := abs - day*MinutesPerDay
	return GameTime{Day: day, Hour: rem / 60, Minute: rem % 60}
}

// Add returns t advanced by minutes. Negative values move backwards.
func (t GameTime) Add(minutes int) GameTime {
	return GameTimeFromMinutes(t.AbsoluteMinutes() + minutes)
}

// Valid reports whether hour and minute are within a day.
func (t GameTime) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

func (t GameTime) String() string {
	return fmt.Sprintf("day %d %02d:%02d", t.Day, t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM" into minutes since midnight.
func ParseTimeOfDay(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, ErrInvalidArgument.WithDetailsf("time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, ErrInvalidArgument.WithDetailsf("time of day %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, ErrInvalidArgument.WithDetailsf("time of day %q: bad minute", s)
	}
	return h*60 + m, nil
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
