package services

import (
	"fmt"
	"strings"
	"time"

	"planhub/internal/models"

	"github.com/robfig/cron/v3"
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// NextExecution computes the first firing time strictly after `from`
// for a schedule spec. Custom cron expressions go through the standard
// five-field parser.
func NextExecution(spec *models.ScheduleSpec, from time.Time, defaultTZ string) (time.Time, error) {
	if spec == nil {
		return time.Time{}, fmt.Errorf("schedule spec required")
	}
	loc, err := loadLocation(spec.Timezone, defaultTZ)
	if err != nil {
		return time.Time{}, err
	}
	from = from.In(loc)

	switch spec.Frequency {
	case "daily":
		hour, minute, err := parseTimeOfDay(spec.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		candidate := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, loc)
		if !candidate.After(from) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, nil

	case "weekly":
		hour, minute, err := parseTimeOfDay(spec.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		days, err := parseWeekdays(spec.Days)
		if err != nil {
			return time.Time{}, err
		}
		for i := 0; i <= 7; i++ {
			day := from.AddDate(0, 0, i)
			if !days[day.Weekday()] {
				continue
			}
			candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
			if candidate.After(from) {
				return candidate, nil
			}
		}
		return time.Time{}, fmt.Errorf("no weekday matched within a week")

	case "monthly":
		hour, minute, err := parseTimeOfDay(spec.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		day := spec.DayOfMonth
		if day < 1 {
			day = 1
		}
		if day > 28 {
			day = 28 // keep every month valid
		}
		candidate := time.Date(from.Year(), from.Month(), day, hour, minute, 0, 0, loc)
		if !candidate.After(from) {
			candidate = candidate.AddDate(0, 1, 0)
		}
		return candidate, nil

	case "cron":
		sched, err := cron.ParseStandard(spec.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron %q: %w", spec.Cron, err)
		}
		return sched.Next(from), nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule frequency: %s", spec.Frequency)
	}
}

func loadLocation(tz, fallback string) (*time.Location, error) {
	if tz == "" {
		tz = fallback
	}
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	if s == "" {
		return 9, 0, nil
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time_of_day %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time_of_day %q", s)
	}
	return hour, minute, nil
}

func parseWeekdays(days []string) (map[time.Weekday]bool, error) {
	if len(days) == 0 {
		return nil, fmt.Errorf("weekly schedule requires days")
	}
	out := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		name := strings.ToLower(strings.TrimSpace(d))
		if len(name) > 3 {
			name = name[:3] // accept "monday" as well as "mon"
		}
		wd, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", d)
		}
		out[wd] = true
	}
	return out, nil
}
