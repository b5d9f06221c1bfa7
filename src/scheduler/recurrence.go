package scheduler

import (
	"errors"
	"fmt"
	"time"

	"reportserver/src/models"
)

var ErrInvalidRecurrence = errors.New("scheduler: invalid recurrence")

// TimeOfDay is a wall-clock delivery time with minute resolution, always
// interpreted in UTC.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: delivery time %q must be HH:MM", ErrInvalidRecurrence, s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// on returns the instant at this time of day on the date of d (UTC).
func (t TimeOfDay) on(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, time.UTC)
}

// Recurrence is the cadence of a report job. DayOfWeek (0 = Sunday) is only
// read for weekly jobs and DayOfMonth only for monthly ones.
type Recurrence struct {
	Frequency    models.Frequency
	DeliveryTime TimeOfDay
	DayOfWeek    *int
	DayOfMonth   *int
}

// RecurrenceOf builds the recurrence of a stored job.
func RecurrenceOf(job *models.ScheduledReportJob) (Recurrence, error) {
	tod, err := ParseTimeOfDay(job.DeliveryTime)
	if err != nil {
		return Recurrence{}, err
	}
	r := Recurrence{
		Frequency:    job.Frequency,
		DeliveryTime: tod,
		DayOfWeek:    job.DayOfWeek,
		DayOfMonth:   job.DayOfMonth,
	}
	return r, r.Validate()
}

func (r Recurrence) Validate() error {
	if r.DeliveryTime.Hour < 0 || r.DeliveryTime.Hour > 23 || r.DeliveryTime.Minute < 0 || r.DeliveryTime.Minute > 59 {
		return fmt.Errorf("%w: delivery time %s out of range", ErrInvalidRecurrence, r.DeliveryTime)
	}
	if !r.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRecurrence, r.Frequency)
	}
	switch r.Frequency {
	case models.FrequencyWeekly:
		if r.DayOfWeek == nil {
			return fmt.Errorf("%w: weekly recurrence requires day_of_week", ErrInvalidRecurrence)
		}
		if *r.DayOfWeek < 0 || *r.DayOfWeek > 6 {
			return fmt.Errorf("%w: day_of_week %d must be between 0 and 6", ErrInvalidRecurrence, *r.DayOfWeek)
		}
	case models.FrequencyMonthly:
		if r.DayOfMonth == nil {
			return fmt.Errorf("%w: monthly recurrence requires day_of_month", ErrInvalidRecurrence)
		}
		if *r.DayOfMonth < 1 || *r.DayOfMonth > 31 {
			return fmt.Errorf("%w: day_of_month %d must be between 1 and 31", ErrInvalidRecurrence, *r.DayOfMonth)
		}
	}
	return nil
}

// ComputeNextRun returns the first occurrence of r strictly after now. It is
// pure: the same (r, now) always yields the same instant.
func ComputeNextRun(r Recurrence, now time.Time) (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}
	now = now.UTC()

	switch r.Frequency {
	case models.FrequencyWeekly:
		return nextWeekly(r, now), nil
	case models.FrequencyMonthly:
		return nextMonthly(r, now), nil
	default:
		return nextDaily(r, now), nil
	}
}

func nextDaily(r Recurrence, now time.Time) time.Time {
	candidate := r.DeliveryTime.on(now)
	if candidate.After(now) {
		return candidate
	}
	return candidate.AddDate(0, 0, 1)
}

func nextWeekly(r Recurrence, now time.Time) time.Time {
	offset := (*r.DayOfWeek - int(now.Weekday()) + 7) % 7
	candidate := r.DeliveryTime.on(now.AddDate(0, 0, offset))
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

func nextMonthly(r Recurrence, now time.Time) time.Time {
	year, month := now.Year(), now.Month()
	candidate := monthlyOccurrence(r, year, month)
	if candidate.After(now) {
		return candidate
	}
	if month == time.December {
		year, month = year+1, time.January
	} else {
		month++
	}
	return monthlyOccurrence(r, year, month)
}

func monthlyOccurrence(r Recurrence, year int, month time.Month) time.Time {
	day := min(*r.DayOfMonth, DaysInMonth(year, month))
	return time.Date(year, month, day, r.DeliveryTime.Hour, r.DeliveryTime.Minute, 0, 0, time.UTC)
}

// DaysInMonth returns the number of days in month of year.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
