package schedule

import (
	"fmt"
	"time"
)

// Window is a half-open [Start, End) interval in UTC.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// PreviousHourWindow returns the last full clock hour before now.
func PreviousHourWindow(now time.Time) Window {
	end := now.UTC().Truncate(time.Hour)
	return Window{Start: end.Add(-time.Hour), End: end}
}

// PreviousDayWindow returns the last full UTC calendar day before now.
func PreviousDayWindow(now time.Time) Window {
	u := now.UTC()
	end := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: end.Add(-24 * time.Hour), End: end}
}

// RetentionSettings are the age horizons for each sample tier.
type RetentionSettings struct {
	MinuteRetentionDays int `json:"minute_retention_days" db:"minute_retention_days"`
	HourRetentionMonths int `json:"hour_retention_months" db:"hour_retention_months"`
	DayRetentionYears   int `json:"day_retention_years" db:"day_retention_years"`
}

// DefaultRetention returns the horizons used when none are stored.
func DefaultRetention() RetentionSettings {
	return RetentionSettings{
		MinuteRetentionDays: 7,
		HourRetentionMonths: 3,
		DayRetentionYears:   2,
	}
}

// Validate requires every horizon to be positive.
func (s RetentionSettings) Validate() error {
	if s.MinuteRetentionDays <= 0 {
		return fmt.Errorf("minute_retention_days must be positive")
	}
	if s.HourRetentionMonths <= 0 {
		return fmt.Errorf("hour_retention_months must be positive")
	}
	if s.DayRetentionYears <= 0 {
		return fmt.Errorf("day_retention_years must be positive")
	}
	return nil
}

// Thresholds are the cutoffs below which samples of each tier are expired.
type Thresholds struct {
	MinuteBefore time.Time `json:"minute_before"`
	HourBefore   time.Time `json:"hour_before"`
	DayBefore    time.Time `json:"day_before"`
}

// RetentionThresholds derives the per-tier cutoffs. Months count as 30 days
// and years as 365.
func RetentionThresholds(now time.Time, s RetentionSettings) Thresholds {
	const day = 24 * time.Hour
	u := now.UTC()
	return Thresholds{
		MinuteBefore: u.Add(-time.Duration(s.MinuteRetentionDays) * day),
		HourBefore:   u.Add(-time.Duration(s.HourRetentionMonths) * 30 * day),
		DayBefore:    u.Add(-time.Duration(s.DayRetentionYears) * 365 * day),
	}
}
