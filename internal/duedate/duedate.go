// Package duedate computes per-seat due dates for an approval chain.
//
// Given the workflow due date and the number of seats, the total number of
// days until the due date is split into near-equal contiguous spans, one per
// seat in chain order. Earlier seats absorb the remainder days so that the
// last seat's due date always lands exactly on the workflow due date.
package duedate

import (
	"fmt"
	"time"

	"github.com/pitabwire/ruzuku/model"
)

// WarningDeadlineTight is attached to a workflow whose chain has more seats
// than there are days before the due date. Such chains are allowed; several
// seats simply share a due date.
const WarningDeadlineTight = "deadline_tight"

// midnight truncates t to the start of its day in t's location.
func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Distribute returns one due date per seat, in chain order, along with any
// warnings. today is normalized to midnight before computing. It returns an
// error when n < 1 or the due date is before today.
func Distribute(today, due time.Time, n int) ([]time.Time, []string, error) {
	if n < 1 {
		return nil, nil, model.NewBadRequestError("at least one approver is required")
	}
	start := midnight(today)
	end := midnight(due)
	if end.Before(start) {
		return nil, nil, model.NewInvalidDueDateWindowError([]model.FieldError{{
			Field:   "due_date",
			Code:    "IN_PAST",
			Message: "workflow due date must not be before today",
		}})
	}

	total := int(end.Sub(start).Hours() / 24)
	span := total / n
	rem := total % n

	dates := make([]time.Time, n)
	offset := 0
	for i := 0; i < n; i++ {
		offset += span
		if i < rem {
			offset++
		}
		dates[i] = start.AddDate(0, 0, offset)
	}

	var warnings []string
	if total < n {
		warnings = append(warnings, WarningDeadlineTight)
	}
	return dates, warnings, nil
}

// ValidateManual checks explicitly supplied seat due dates: each date must
// fall between today and the workflow due date, and the sequence must be
// non-decreasing in chain order. The last date need not equal the workflow
// due date, only not exceed it.
func ValidateManual(today, due time.Time, dates []time.Time) error {
	if len(dates) == 0 {
		return model.NewBadRequestError("at least one approver is required")
	}
	start := midnight(today)
	end := midnight(due)

	var details []model.FieldError
	prev := start
	for i, d := range dates {
		d = midnight(d)
		field := fmt.Sprintf("approvers[%d].due_date", i)
		switch {
		case d.Before(start):
			details = append(details, model.FieldError{
				Field: field, Code: "IN_PAST",
				Message: "seat due date must not be before today",
			})
		case d.After(end):
			details = append(details, model.FieldError{
				Field: field, Code: "AFTER_WORKFLOW_DUE",
				Message: "seat due date must not exceed the workflow due date",
			})
		case d.Before(prev):
			details = append(details, model.FieldError{
				Field: field, Code: "OUT_OF_ORDER",
				Message: "seat due date must not precede the previous seat's",
			})
		}
		if d.After(prev) {
			prev = d
		}
	}
	if len(details) > 0 {
		return model.NewInvalidDueDateWindowError(details)
	}
	return nil
}
