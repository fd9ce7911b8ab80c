package jobs_test

import (
	"testing"

	"github.com/costwise/pricingjobs/internal/jobs"
)

func TestParseStatus_ValidValues(t *testing.T) {
	valid := []string{"pending", "processing", "completed", "failed", "cancelled"}
	for _, s := range valid {
		got, err := jobs.ParseStatus(s)
		if err != nil {
			t.Errorf("ParseStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseStatus_InvalidValue(t *testing.T) {
	for _, s := range []string{"PENDING", "done", ""} {
		if _, err := jobs.ParseStatus(s); err == nil {
			t.Errorf("ParseStatus(%q) expected error, got nil", s)
		}
	}
}

func TestCanTransition_ValidForward(t *testing.T) {
	cases := []struct {
		from jobs.Status
		to   jobs.Status
	}{
		{jobs.StatusPending, jobs.StatusProcessing},
		{jobs.StatusProcessing, jobs.StatusCompleted},
		{jobs.StatusProcessing, jobs.StatusFailed},
	}
	for _, c := range cases {
		if !jobs.CanTransition(c.from, c.to) {
			t.Errorf("CanTransition(%s → %s) should be true", c.from, c.to)
		}
	}
}

func TestCanTransition_TerminalStatesAreImmutable(t *testing.T) {
	terminals := []jobs.Status{jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled}
	targets := []jobs.Status{
		jobs.StatusPending, jobs.StatusProcessing,
		jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled,
	}
	for _, from := range terminals {
		for _, to := range targets {
			if jobs.CanTransition(from, to) {
				t.Errorf("CanTransition(%s → %s) should be false", from, to)
			}
		}
	}
}

func TestCanTransition_NoShortcuts(t *testing.T) {
	cases := []struct {
		from jobs.Status
		to   jobs.Status
	}{
		{jobs.StatusPending, jobs.StatusCompleted},
		{jobs.StatusPending, jobs.StatusFailed},
		{jobs.StatusPending, jobs.StatusCancelled},
		{jobs.StatusProcessing, jobs.StatusPending},
		{jobs.StatusProcessing, jobs.StatusCancelled},
	}
	for _, c := range cases {
		if jobs.CanTransition(c.from, c.to) {
			t.Errorf("CanTransition(%s → %s) should be false", c.from, c.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []jobs.Status{jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%s) should be true", s)
		}
	}
	for _, s := range []jobs.Status{jobs.StatusPending, jobs.StatusProcessing} {
		if s.IsTerminal() {
			t.Errorf("IsTerminal(%s) should be false", s)
		}
	}
}

func TestIsActive(t *testing.T) {
	for _, s := range []jobs.Status{jobs.StatusPending, jobs.StatusProcessing} {
		if !s.IsActive() {
			t.Errorf("IsActive(%s) should be true", s)
		}
	}
	for _, s := range []jobs.Status{jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled} {
		if s.IsActive() {
			t.Errorf("IsActive(%s) should be false", s)
		}
	}
}
