package model

import (
	"testing"
	"time"
)

func TestRemainingSeconds(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	deadline := start.Add(10 * time.Minute)
	a := &Attempt{StartedAt: start, DeadlineAt: &deadline}

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"at start", start, 600},
		{"midway", start.Add(4*time.Minute + 500*time.Millisecond), 359},
		{"at deadline", deadline, 0},
		{"past deadline clamps", deadline.Add(time.Hour), 0},
		{"clock skew caps at duration", start.Add(-time.Hour), 600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.RemainingSeconds(tt.now, 10*time.Minute)
			if got == nil || *got != tt.want {
				t.Fatalf("RemainingSeconds = %v, want %d", got, tt.want)
			}
		})
	}

	untimed := &Attempt{StartedAt: start}
	if got := untimed.RemainingSeconds(start, 0); got != nil {
		t.Errorf("untimed attempt remaining = %d, want nil", *got)
	}
}

func TestIsAvailableAt(t *testing.T) {
	from := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	until := from.Add(2 * time.Hour)

	tests := []struct {
		name string
		exam ExamDefinition
		at   time.Time
		want bool
	}{
		{"published without window", ExamDefinition{Status: ExamStatusPublished}, from, true},
		{"draft", ExamDefinition{Status: ExamStatusDraft}, from, false},
		{"before window", ExamDefinition{Status: ExamStatusPublished, AvailableFrom: &from}, from.Add(-time.Second), false},
		{"window opens inclusive", ExamDefinition{Status: ExamStatusPublished, AvailableFrom: &from}, from, true},
		{"window closes exclusive", ExamDefinition{Status: ExamStatusPublished, AvailableUntil: &until}, until, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.exam.IsAvailableAt(tt.at); got != tt.want {
				t.Errorf("IsAvailableAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEffectiveMaxAttempts(t *testing.T) {
	if got := (&ExamDefinition{AllowRetake: false, MaxAttempts: 5}).EffectiveMaxAttempts(); got != 1 {
		t.Errorf("no retake: got %d, want 1", got)
	}
	if got := (&ExamDefinition{AllowRetake: true, MaxAttempts: 3}).EffectiveMaxAttempts(); got != 3 {
		t.Errorf("retake: got %d, want 3", got)
	}
}

func TestTriggerTargetStatus(t *testing.T) {
	cases := map[FinalizeTrigger]AttemptStatus{
		TriggerStudentSubmit:  AttemptStatusSubmitted,
		TriggerDeadlineExpiry: AttemptStatusExpired,
		TriggerAdminAbandon:   AttemptStatusAbandoned,
	}
	for trig, want := range cases {
		if got := trig.TargetStatus(); got != want {
			t.Errorf("%s -> %s, want %s", trig, got, want)
		}
	}
}
