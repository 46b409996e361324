package core

import (
	"time"
)

const monthKeyLayout = "2006-01"

// MonthKey identifies a billing period as "YYYY-MM".
type MonthKey string

// MonthKeyOf returns the key of the month t falls in.
func MonthKeyOf(t time.Time) MonthKey {
	return MonthKey(t.Format(monthKeyLayout))
}

func ParseMonthKey(s string) (MonthKey, error) {
	k := MonthKey(s)
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

func (k MonthKey) Validate() error {
	t, err := time.Parse(monthKeyLayout, string(k))
	if err != nil || t.Format(monthKeyLayout) != string(k) {
		return &ValidationError{Field: "month_key", Err: ErrInvalidMonthKey}
	}
	return nil
}

// Start returns midnight UTC of the first day of the month.
func (k MonthKey) Start() time.Time {
	t, err := time.Parse(monthKeyLayout, string(k))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (k MonthKey) Next() MonthKey {
	return MonthKeyOf(k.Start().AddDate(0, 1, 0))
}

func (k MonthKey) Prev() MonthKey {
	return MonthKeyOf(k.Start().AddDate(0, -1, 0))
}

// Before reports whether k is an earlier month than other. Valid keys sort
// lexically.
func (k MonthKey) Before(other MonthKey) bool {
	return k < other
}

// DaysIn returns the number of days in the month.
func (k MonthKey) DaysIn() int {
	return k.Start().AddDate(0, 1, -1).Day()
}

// Date returns the given day of the month at midnight UTC, clamping day to
// the month's last day.
func (k MonthKey) Date(day int) time.Time {
	if last := k.DaysIn(); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	s := k.Start()
	return time.Date(s.Year(), s.Month(), day, 0, 0, 0, 0, time.UTC)
}

func (k MonthKey) String() string {
	return string(k)
}
