package services

import (
	"testing"
	"time"

	"planhub/internal/models"
)

func TestNextExecution_Daily(t *testing.T) {
	spec := &models.ScheduleSpec{Frequency: "daily", TimeOfDay: "09:00"}

	// before today's slot
	from := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	next, err := NextExecution(spec, from, "UTC")
	if err != nil {
		t.Fatalf("NextExecution failed: %v", err)
	}
	want := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}

	// past today's slot rolls to tomorrow
	from = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	next, err = NextExecution(spec, from, "UTC")
	if err != nil {
		t.Fatalf("NextExecution failed: %v", err)
	}
	want = time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestNextExecution_Weekly(t *testing.T) {
	spec := &models.ScheduleSpec{Frequency: "weekly", TimeOfDay: "10:30", Days: []string{"mon", "friday"}}

	// 2024-03-01 is a Friday; 10:00 < 10:30 so same day fires
	from := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	next, err := NextExecution(spec, from, "UTC")
	if err != nil {
		t.Fatalf("NextExecution failed: %v", err)
	}
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}

	// past Friday's slot, next matching day is Monday 03-04
	from = time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	next, err = NextExecution(spec, from, "UTC")
	if err != nil {
		t.Fatalf("NextExecution failed: %v", err)
	}
	want = time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestNextExecution_WeeklyRequiresDays(t *testing.T) {
	spec := &models.ScheduleSpec{Frequency: "weekly", TimeOfDay: "09:00"}
	if _, err := NextExecution(spec, time.Now(), "UTC"); err == nil {
		t.Error("weekly schedule without days should fail")
	}
}

func TestNextExecution_MonthlyClampsDay(t *testing.T) {
	spec := &models.ScheduleSpec{Frequency: "monthly", TimeOfDay: "08:00", DayOfMonth: 31}

	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	next, err := NextExecution(spec, from, "UTC")
	if err != nil {
		t.Fatalf("NextExecution failed: %v", err)
	}
	// day 31 clamps to 28 so February stays valid
	want := time.Date(2024, 2, 28, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestNextExecution_Cron(t *testing.T) {
	spec := &models.ScheduleSpec{Frequency: "cron", Cron: "*/15 * * * *"}

	from := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	next, err := NextExecution(spec, from, "UTC")
	if err != nil {
		t.Fatalf("NextExecution failed: %v", err)
	}
	want := time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}

	spec.Cron = "not a cron"
	if _, err := NextExecution(spec, from, "UTC"); err == nil {
		t.Error("invalid cron expression should fail")
	}
}

func TestNextExecution_Timezone(t *testing.T) {
	spec := &models.ScheduleSpec{Frequency: "daily", TimeOfDay: "09:00", Timezone: "Asia/Shanghai"}

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) // 08:00 in Shanghai
	next, err := NextExecution(spec, from, "UTC")
	if err != nil {
		t.Fatalf("NextExecution failed: %v", err)
	}
	if next.UTC().Hour() != 1 { // 09:00 CST == 01:00 UTC
		t.Errorf("expected 01:00 UTC, got %v", next.UTC())
	}

	spec.Timezone = "Not/AZone"
	if _, err := NextExecution(spec, from, "UTC"); err == nil {
		t.Error("invalid timezone should fail")
	}
}

func TestNextExecution_Validation(t *testing.T) {
	if _, err := NextExecution(nil, time.Now(), "UTC"); err == nil {
		t.Error("nil spec should fail")
	}
	if _, err := NextExecution(&models.ScheduleSpec{Frequency: "hourly"}, time.Now(), "UTC"); err == nil {
		t.Error("unknown frequency should fail")
	}
	if _, err := NextExecution(&models.ScheduleSpec{Frequency: "daily", TimeOfDay: "25:00"}, time.Now(), "UTC"); err == nil {
		t.Error("invalid time_of_day should fail")
	}
}
