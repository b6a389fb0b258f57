package domain

import (
	"fmt"
	"time"
)

// MonthKey identifies one calendar month of a ledger, formatted "YYYY-MM".
type MonthKey string

// NewMonthKey builds a key from a year and a 1-based month.
func NewMonthKey(year int, month time.Month) MonthKey {
	return MonthKey(fmt.Sprintf("%04d-%02d", year, int(month)))
}

// MonthKeyFor returns the key of the month containing t.
func MonthKeyFor(t time.Time) MonthKey {
	return NewMonthKey(t.Year(), t.Month())
}

// ParseMonthKey validates and parses a "YYYY-MM" string.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return "", fmt.Errorf("invalid month key %q: %w", s, err)
	}
	return MonthKeyFor(t), nil
}

// Time returns the first instant of the month in UTC.
func (k MonthKey) Time() time.Time {
	t, err := time.Parse("2006-01", string(k))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Valid reports whether the key parses as "YYYY-MM".
func (k MonthKey) Valid() bool {
	_, err := time.Parse("2006-01", string(k))
	return err == nil
}

// Prev returns the key of the preceding calendar month.
func (k MonthKey) Prev() MonthKey {
	return MonthKeyFor(k.Time().AddDate(0, -1, 0))
}

// Next returns the key of the following calendar month.
func (k MonthKey) Next() MonthKey {
	return MonthKeyFor(k.Time().AddDate(0, 1, 0))
}

// Window returns n consecutive month keys ending at k, oldest first.
// Stepping is by calendar month, not by key sort order, so windows span
// year boundaries correctly (2024-01 is preceded by 2023-12).
func (k MonthKey) Window(n int) []MonthKey {
	if n <= 0 {
		return nil
	}
	keys := make([]MonthKey, n)
	cur := k
	for i := n - 1; i >= 0; i-- {
		keys[i] = cur
		cur = cur.Prev()
	}
	return keys
}

// Days returns the number of days in the month.
func (k MonthKey) Days() int {
	t := k.Time()
	if t.IsZero() {
		return 0
	}
	return t.AddDate(0, 1, -1).Day()
}

func (k MonthKey) String() string {
	return string(k)
}
