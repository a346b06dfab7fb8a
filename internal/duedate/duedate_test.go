package duedate

import (
	"errors"
	"testing"
	"time"

	"github.com/pitabwire/ruzuku/model"
)

func day(offset int) time.Time {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, offset)
}

func TestDistribute_even_split(t *testing.T) {
	dates, warnings, err := Distribute(day(0), day(9), 3)
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	want := []time.Time{day(3), day(6), day(9)}
	for i, d := range dates {
		if !d.Equal(want[i]) {
			t.Errorf("dates[%d] = %v, want %v", i, d, want[i])
		}
	}
}

func TestDistribute_remainder_goes_to_earlier_seats(t *testing.T) {
	dates, _, err := Distribute(day(0), day(10), 3)
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	// 10 days over 3 seats: spans of 4, 3, 3.
	want := []time.Time{day(4), day(7), day(10)}
	for i, d := range dates {
		if !d.Equal(want[i]) {
			t.Errorf("dates[%d] = %v, want %v", i, d, want[i])
		}
	}
}

func TestDistribute_last_seat_lands_on_due_date(t *testing.T) {
	for n := 1; n <= 7; n++ {
		dates, _, err := Distribute(day(0), day(13), n)
		if err != nil {
			t.Fatalf("Distribute(n=%d) error = %v", n, err)
		}
		if last := dates[len(dates)-1]; !last.Equal(day(13)) {
			t.Errorf("n=%d: last due date = %v, want %v", n, last, day(13))
		}
	}
}

func TestDistribute_tight_deadline_warns(t *testing.T) {
	dates, warnings, err := Distribute(day(0), day(2), 5)
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	if len(dates) != 5 {
		t.Fatalf("len(dates) = %d, want 5", len(dates))
	}
	if len(warnings) != 1 || warnings[0] != WarningDeadlineTight {
		t.Errorf("warnings = %v, want [%s]", warnings, WarningDeadlineTight)
	}
	prev := day(0)
	for i, d := range dates {
		if d.Before(prev) {
			t.Errorf("dates[%d] = %v precedes %v", i, d, prev)
		}
		prev = d
	}
	if !dates[4].Equal(day(2)) {
		t.Errorf("last due date = %v, want %v", dates[4], day(2))
	}
}

func TestDistribute_due_today(t *testing.T) {
	dates, warnings, err := Distribute(day(0), day(0), 2)
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	for i, d := range dates {
		if !d.Equal(day(0)) {
			t.Errorf("dates[%d] = %v, want today", i, d)
		}
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want deadline_tight", warnings)
	}
}

func TestDistribute_zero_approvers(t *testing.T) {
	_, _, err := Distribute(day(0), day(9), 0)
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrBadRequest {
		t.Fatalf("Distribute(n=0) error = %v, want BAD_REQUEST", err)
	}
}

func TestDistribute_due_in_past(t *testing.T) {
	_, _, err := Distribute(day(5), day(2), 3)
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrInvalidDueDateWindow {
		t.Fatalf("Distribute(past due) error = %v, want INVALID_DUE_DATE_WINDOW", err)
	}
}

func TestDistribute_ignores_time_of_day(t *testing.T) {
	late := time.Date(2026, 3, 2, 23, 45, 0, 0, time.UTC)
	dates, _, err := Distribute(late, day(9), 3)
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	if !dates[0].Equal(day(3)) {
		t.Errorf("dates[0] = %v, want %v", dates[0], day(3))
	}
}

func TestValidateManual_accepts_ordered_window(t *testing.T) {
	err := ValidateManual(day(0), day(9), []time.Time{day(2), day(5), day(9)})
	if err != nil {
		t.Fatalf("ValidateManual() error = %v", err)
	}
}

func TestValidateManual_accepts_shared_dates(t *testing.T) {
	err := ValidateManual(day(0), day(3), []time.Time{day(1), day(1), day(3)})
	if err != nil {
		t.Fatalf("ValidateManual() error = %v", err)
	}
}

func TestValidateManual_rejects_out_of_order(t *testing.T) {
	err := ValidateManual(day(0), day(9), []time.Time{day(5), day(2), day(9)})
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrInvalidDueDateWindow {
		t.Fatalf("error = %v, want INVALID_DUE_DATE_WINDOW", err)
	}
	if len(envelope.Details) != 1 || envelope.Details[0].Code != "OUT_OF_ORDER" {
		t.Errorf("details = %v, want one OUT_OF_ORDER entry", envelope.Details)
	}
}

func TestValidateManual_rejects_date_past_workflow_due(t *testing.T) {
	err := ValidateManual(day(0), day(9), []time.Time{day(2), day(12)})
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrInvalidDueDateWindow {
		t.Fatalf("error = %v, want INVALID_DUE_DATE_WINDOW", err)
	}
	if envelope.Details[0].Field != "approvers[1].due_date" {
		t.Errorf("field = %q, want approvers[1].due_date", envelope.Details[0].Field)
	}
}

func TestValidateManual_rejects_date_before_today(t *testing.T) {
	err := ValidateManual(day(3), day(9), []time.Time{day(1), day(9)})
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrInvalidDueDateWindow {
		t.Fatalf("error = %v, want INVALID_DUE_DATE_WINDOW", err)
	}
}

func TestValidateManual_empty(t *testing.T) {
	err := ValidateManual(day(0), day(9), nil)
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrBadRequest {
		t.Fatalf("error = %v, want BAD_REQUEST", err)
	}
}
