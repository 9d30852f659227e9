package scheduler

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/fleetdock/fleetdock/internal/models"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestToCronExpressionDaily(t *testing.T) {
	expr, err := toCronExpression(models.Schedule{Frequency: models.FrequencyDaily, Time: "03:30"})
	if err != nil {
		t.Fatalf("toCronExpression: %v", err)
	}
	if expr != "30 3 * * *" {
		t.Errorf("expr = %q, want %q", expr, "30 3 * * *")
	}
}

func TestToCronExpressionWeekly(t *testing.T) {
	expr, err := toCronExpression(models.Schedule{Frequency: models.FrequencyWeekly, Time: "00:00", DayOfWeek: 0})
	if err != nil {
		t.Fatalf("toCronExpression: %v", err)
	}
	if expr != "0 0 * * 0" {
		t.Errorf("expr = %q, want %q", expr, "0 0 * * 0")
	}
}

func TestToCronExpressionRejectsManual(t *testing.T) {
	if _, err := toCronExpression(models.Schedule{Frequency: models.FrequencyManual}); err == nil {
		t.Fatal("expected error for manual frequency")
	}
}

type fakeEnqueuer struct {
	calls []string
}

func (f *fakeEnqueuer) Enqueue(kind models.JobKind, target string) (string, error) {
	f.calls = append(f.calls, target)
	return "job-1", nil
}

func TestSetManualRegistersNoTrigger(t *testing.T) {
	fe := &fakeEnqueuer{}
	s := New(fe, func(string) models.JobKind { return models.JobBackupContainer }, testLogger())
	if err := s.Set(models.Schedule{Target: "nginx-1", Frequency: models.FrequencyManual}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(s.entries) != 0 {
		t.Errorf("expected no cron entries for manual schedule, got %d", len(s.entries))
	}
}

func TestSetDailyRegistersTrigger(t *testing.T) {
	fe := &fakeEnqueuer{}
	s := New(fe, func(string) models.JobKind { return models.JobBackupContainer }, testLogger())
	if err := s.Set(models.Schedule{Target: "nginx-1", Frequency: models.FrequencyDaily, Time: "04:00"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(s.entries) != 1 {
		t.Errorf("expected 1 cron entry, got %d", len(s.entries))
	}
	s.Remove("nginx-1")
	if len(s.entries) != 0 {
		t.Errorf("expected entry removed, got %d", len(s.entries))
	}
}
