package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/pitabwire/ruzuku/internal/identity"
	"github.com/pitabwire/ruzuku/internal/notify"
	"github.com/pitabwire/ruzuku/model"
)

// --- Test helpers ---

var testBase = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func requesterRctx() *model.RequestContext {
	return &model.RequestContext{
		SubjectID: "requester-1",
		TenantID:  "tenant-1",
		Email:     "requester@uni.edu",
	}
}

func approverRctx(id string) *model.RequestContext {
	return &model.RequestContext{
		SubjectID: id,
		TenantID:  "tenant-1",
	}
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *MemoryStore, *testClock) {
	t.Helper()
	store := NewMemoryStore()
	dir := identity.NewMemoryDirectory(
		identity.Person{ID: "requester-1", DisplayName: "Req", Email: "requester@uni.edu"},
		identity.Person{ID: "approver-1", DisplayName: "One", Email: "one@uni.edu"},
		identity.Person{ID: "approver-2", DisplayName: "Two", Email: "two@uni.edu"},
		identity.Person{ID: "approver-3", DisplayName: "Three", Email: "three@uni.edu"},
		identity.Person{ID: "approver-4", DisplayName: "Four", Email: "four@uni.edu"},
	)
	clock := &testClock{now: testBase}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewEngine(store, dir, opts...), store, clock
}

func mustCreate(t *testing.T, e *Engine, approvers ...string) *model.DetailedWorkflow {
	t.Helper()
	specs := make([]ApproverSpec, len(approvers))
	for i, a := range approvers {
		specs[i] = ApproverSpec{Identity: a}
	}
	d, err := e.Create(context.Background(), requesterRctx(), CreateRequest{
		Title:     "Disbursement request",
		DueDate:   testBase.AddDate(0, 0, 9),
		Approvers: specs,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return d
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	envelope, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error = %v, want envelope with code %s", err, code)
	}
	if envelope.Code != code {
		t.Fatalf("code = %s, want %s", envelope.Code, code)
	}
}

// --- Create ---

func TestCreate_distributes_due_dates(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2", "approver-3")

	if d.Workflow.Status != model.WorkflowStatusPending {
		t.Errorf("workflow status = %s, want pending", d.Workflow.Status)
	}
	if len(d.Seats) != 3 {
		t.Fatalf("seats = %d, want 3", len(d.Seats))
	}

	wantDates := []time.Time{
		testBase.AddDate(0, 0, 3),
		testBase.AddDate(0, 0, 6),
		testBase.AddDate(0, 0, 9),
	}
	for i, sd := range d.Seats {
		if !sd.Seat.DueDate.Equal(wantDates[i]) {
			t.Errorf("seat %d due date = %v, want %v", i, sd.Seat.DueDate, wantDates[i])
		}
		if sd.Seat.Order != i+1 {
			t.Errorf("seat %d order = %d, want %d", i, sd.Seat.Order, i+1)
		}
		if sd.Response.Decision != model.DecisionPending {
			t.Errorf("seat %d decision = %s, want pending", i, sd.Response.Decision)
		}
	}
	if d.Seats[0].Seat.Status != model.SeatStatusCurrent {
		t.Errorf("first seat status = %s, want current", d.Seats[0].Seat.Status)
	}
	for i := 1; i < 3; i++ {
		if d.Seats[i].Seat.Status != model.SeatStatusPending {
			t.Errorf("seat %d status = %s, want pending", i, d.Seats[i].Seat.Status)
		}
	}
	if len(d.Logs) != 0 {
		t.Errorf("log entries after create = %d, want 0", len(d.Logs))
	}
}

func TestCreate_unknown_identity(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Create(context.Background(), requesterRctx(), CreateRequest{
		Title:     "Disbursement request",
		DueDate:   testBase.AddDate(0, 0, 9),
		Approvers: []ApproverSpec{{Identity: "ghost"}},
	})
	assertCode(t, err, model.ErrIdentityNotFound)
}

func TestCreate_requires_title(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Create(context.Background(), requesterRctx(), CreateRequest{
		DueDate:   testBase.AddDate(0, 0, 9),
		Approvers: []ApproverSpec{{Identity: "approver-1"}},
	})
	assertCode(t, err, model.ErrValidationError)
}

func TestCreate_requires_approvers(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Create(context.Background(), requesterRctx(), CreateRequest{
		Title:   "Disbursement request",
		DueDate: testBase.AddDate(0, 0, 9),
	})
	assertCode(t, err, model.ErrValidationError)
}

func TestCreate_idempotency_key_replays(t *testing.T) {
	e, store, _ := newTestEngine(t)

	req := CreateRequest{
		Title:          "Disbursement request",
		DueDate:        testBase.AddDate(0, 0, 9),
		Approvers:      []ApproverSpec{{Identity: "approver-1"}},
		IdempotencyKey: "key-1",
	}
	first, err := e.Create(context.Background(), requesterRctx(), req)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := e.Create(context.Background(), requesterRctx(), req)
	if err != nil {
		t.Fatalf("replay Create() error = %v", err)
	}
	if first.Workflow.ID != second.Workflow.ID {
		t.Errorf("replay returned workflow %q, want %q", second.Workflow.ID, first.Workflow.ID)
	}
	if store.Len() != 1 {
		t.Errorf("stored workflows = %d, want 1", store.Len())
	}
}

func TestCreate_manual_due_dates(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d1 := testBase.AddDate(0, 0, 2)
	d2 := testBase.AddDate(0, 0, 8)

	d, err := e.Create(context.Background(), requesterRctx(), CreateRequest{
		Title:   "Disbursement request",
		DueDate: testBase.AddDate(0, 0, 9),
		Approvers: []ApproverSpec{
			{Identity: "approver-1", DueDate: &d1},
			{Identity: "approver-2", DueDate: &d2},
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !d.Seats[0].Seat.DueDate.Equal(d1) || !d.Seats[1].Seat.DueDate.Equal(d2) {
		t.Errorf("seat due dates = %v, %v; want %v, %v",
			d.Seats[0].Seat.DueDate, d.Seats[1].Seat.DueDate, d1, d2)
	}
}

func TestCreate_manual_due_dates_out_of_order(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d1 := testBase.AddDate(0, 0, 8)
	d2 := testBase.AddDate(0, 0, 2)

	_, err := e.Create(context.Background(), requesterRctx(), CreateRequest{
		Title:   "Disbursement request",
		DueDate: testBase.AddDate(0, 0, 9),
		Approvers: []ApproverSpec{
			{Identity: "approver-1", DueDate: &d1},
			{Identity: "approver-2", DueDate: &d2},
		},
	})
	assertCode(t, err, model.ErrInvalidDueDateWindow)
}

func TestCreate_tight_deadline_warns(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d, err := e.Create(context.Background(), requesterRctx(), CreateRequest{
		Title:   "Disbursement request",
		DueDate: testBase.AddDate(0, 0, 1),
		Approvers: []ApproverSpec{
			{Identity: "approver-1"},
			{Identity: "approver-2"},
			{Identity: "approver-3"},
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(d.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one deadline warning", d.Warnings)
	}
}

// --- Decide ---

func TestDecide_approve_advances_chain(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")
	seat1 := d.Seats[0].Seat

	d, err := e.Decide(context.Background(), approverRctx("approver-1"), seat1.ID, model.DecisionApproved, "looks good")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.Workflow.Status != model.WorkflowStatusInProgress {
		t.Errorf("workflow status = %s, want in_progress", d.Workflow.Status)
	}
	if d.Seats[0].Seat.Status != model.SeatStatusCompleted {
		t.Errorf("seat 1 status = %s, want completed", d.Seats[0].Seat.Status)
	}
	if d.Seats[0].Response.Decision != model.DecisionApproved {
		t.Errorf("seat 1 decision = %s, want approved", d.Seats[0].Response.Decision)
	}
	if d.Seats[1].Seat.Status != model.SeatStatusCurrent {
		t.Errorf("seat 2 status = %s, want current", d.Seats[1].Seat.Status)
	}
	if len(d.Logs) != 1 {
		t.Errorf("log entries = %d, want 1", len(d.Logs))
	}
}

func TestDecide_final_approval_completes_workflow(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	d, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionApproved, "")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.Workflow.Status != model.WorkflowStatusCompleted {
		t.Errorf("workflow status = %s, want completed", d.Workflow.Status)
	}
	if d.Workflow.CompletedAt == nil {
		t.Error("CompletedAt = nil, want set")
	}
}

func TestDecide_reject_fails_workflow(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")

	d, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionRejected, "budget exceeded")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.Workflow.Status != model.WorkflowStatusFailed {
		t.Errorf("workflow status = %s, want failed", d.Workflow.Status)
	}
	// The remaining seat never gets the turn.
	if d.Seats[1].Seat.Status != model.SeatStatusPending {
		t.Errorf("seat 2 status = %s, want pending", d.Seats[1].Seat.Status)
	}
}

func TestDecide_out_of_turn(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")

	_, err := e.Decide(context.Background(), approverRctx("approver-2"), d.Seats[1].Seat.ID, model.DecisionApproved, "")
	assertCode(t, err, model.ErrNotCurrentApprover)
}

func TestDecide_wrong_identity(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")

	_, err := e.Decide(context.Background(), approverRctx("approver-2"), d.Seats[0].Seat.ID, model.DecisionApproved, "")
	assertCode(t, err, model.ErrNotCurrentApprover)
}

func TestDecide_already_decided(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")
	seatID := d.Seats[0].Seat.ID

	if _, err := e.Decide(context.Background(), approverRctx("approver-1"), seatID, model.DecisionApproved, ""); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	_, err := e.Decide(context.Background(), approverRctx("approver-1"), seatID, model.DecisionRejected, "")
	assertCode(t, err, model.ErrAlreadyDecided)
}

func TestDecide_invalid_decision(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	_, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.Decision("maybe"), "")
	assertCode(t, err, model.ErrInvalidResponse)
}

func TestDecide_return_requires_reason(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	_, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionReturned, "")
	assertCode(t, err, model.ErrMissingReason)
}

func TestDecide_return_blocks_chain(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")

	d, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionReturned, "missing transcript")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.Seats[0].Seat.Status != model.SeatStatusReturned {
		t.Errorf("seat 1 status = %s, want returned", d.Seats[0].Seat.Status)
	}
	if len(d.Seats[0].Feedback) != 1 {
		t.Fatalf("feedback entries = %d, want 1", len(d.Seats[0].Feedback))
	}
	if !d.Seats[0].Feedback[0].Feedback.RequesterTakeAction {
		t.Error("feedback RequesterTakeAction = false, want true")
	}
	// The next seat stays pending while the return is open.
	if d.Seats[1].Seat.Status != model.SeatStatusPending {
		t.Errorf("seat 2 status = %s, want pending", d.Seats[1].Seat.Status)
	}
	// The returning approver cannot decide again until the requester responds.
	_, err = e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionApproved, "")
	assertCode(t, err, model.ErrConflict)
}

func TestDecide_terminal_workflow(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")

	if _, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionRejected, "no"); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	// A seat that never acted sees the closed workflow.
	_, err := e.Decide(context.Background(), approverRctx("approver-2"), d.Seats[1].Seat.ID, model.DecisionApproved, "")
	assertCode(t, err, model.ErrWorkflowNotEditable)
}

func TestDecide_replay_after_reject(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")

	if _, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionRejected, "no"); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	// Re-submitting the decision that failed the workflow reports the seat
	// as already decided, not the workflow as closed.
	_, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionRejected, "no")
	assertCode(t, err, model.ErrAlreadyDecided)
}

func TestDecide_replay_after_final_approve(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	d, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionApproved, "")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.Workflow.Status != model.WorkflowStatusCompleted {
		t.Fatalf("workflow status = %s, want completed", d.Workflow.Status)
	}
	_, err = e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionApproved, "")
	assertCode(t, err, model.ErrAlreadyDecided)
}

// --- RespondToReturn ---

func TestRespondToReturn_rearms_seat(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")

	d, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionReturned, "missing transcript")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	fbID := d.Seats[0].Feedback[0].Feedback.ID

	d, err = e.RespondToReturn(context.Background(), requesterRctx(), fbID, "transcript attached", "doc://transcript")
	if err != nil {
		t.Fatalf("RespondToReturn() error = %v", err)
	}
	if d.Seats[0].Seat.Status != model.SeatStatusCurrent {
		t.Errorf("seat 1 status = %s, want current", d.Seats[0].Seat.Status)
	}
	if d.Seats[0].Feedback[0].Feedback.RequesterTakeAction {
		t.Error("feedback still awaiting action after response")
	}
	if len(d.Seats[0].Feedback[0].Responses) != 1 {
		t.Fatalf("requester responses = %d, want 1", len(d.Seats[0].Feedback[0].Responses))
	}

	// The same seat can now decide again; the response row is overwritten.
	d, err = e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionApproved, "all set")
	if err != nil {
		t.Fatalf("re-decide error = %v", err)
	}
	if d.Seats[0].Response.Decision != model.DecisionApproved {
		t.Errorf("decision = %s, want approved", d.Seats[0].Response.Decision)
	}
	if d.Seats[1].Seat.Status != model.SeatStatusCurrent {
		t.Errorf("seat 2 status = %s, want current", d.Seats[1].Seat.Status)
	}
}

func TestRespondToReturn_only_requester(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	d, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionReturned, "more detail")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	fbID := d.Seats[0].Feedback[0].Feedback.ID

	_, err = e.RespondToReturn(context.Background(), approverRctx("approver-1"), fbID, "answer", "")
	assertCode(t, err, model.ErrForbidden)
}

func TestRespondToReturn_no_action_pending(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	d, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionReturned, "more detail")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	fbID := d.Seats[0].Feedback[0].Feedback.ID

	if _, err := e.RespondToReturn(context.Background(), requesterRctx(), fbID, "answer", ""); err != nil {
		t.Fatalf("RespondToReturn() error = %v", err)
	}
	_, err = e.RespondToReturn(context.Background(), requesterRctx(), fbID, "again", "")
	assertCode(t, err, model.ErrNoActionPending)
}

func TestRespondToReturn_requires_message(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.RespondToReturn(context.Background(), requesterRctx(), "fb-x", "", "")
	assertCode(t, err, model.ErrMissingReason)
}

// --- Reassign ---

func TestReassign_pending_seat(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")
	oldSeat := d.Seats[1].Seat

	d, err := e.Reassign(context.Background(), requesterRctx(), oldSeat.ID, "approver-3", "on leave")
	if err != nil {
		t.Fatalf("Reassign() error = %v", err)
	}

	if len(d.Seats) != 3 {
		t.Fatalf("seats = %d, want 3 (replaced seat kept)", len(d.Seats))
	}
	replaced := findSeatDetail(t, d, oldSeat.ID)
	if replaced.Seat.Status != model.SeatStatusReplaced {
		t.Errorf("old seat status = %s, want replaced", replaced.Seat.Status)
	}
	replacement := findSeatByIdentity(t, d, "approver-3")
	if replacement.Seat.Status != model.SeatStatusPending {
		t.Errorf("replacement status = %s, want pending", replacement.Seat.Status)
	}
	if replacement.Seat.Order != oldSeat.Order {
		t.Errorf("replacement order = %d, want %d", replacement.Seat.Order, oldSeat.Order)
	}
	if !replacement.Seat.DueDate.Equal(oldSeat.DueDate) {
		t.Errorf("replacement due date = %v, want %v", replacement.Seat.DueDate, oldSeat.DueDate)
	}
	if !replacement.Seat.IsReassigned {
		t.Error("replacement IsReassigned = false, want true")
	}
}

func TestReassign_current_seat_receives_turn(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")

	d, err := e.Reassign(context.Background(), requesterRctx(), d.Seats[0].Seat.ID, "approver-3", "on leave")
	if err != nil {
		t.Fatalf("Reassign() error = %v", err)
	}
	replacement := findSeatByIdentity(t, d, "approver-3")
	if replacement.Seat.Status != model.SeatStatusCurrent {
		t.Errorf("replacement status = %s, want current", replacement.Seat.Status)
	}

	// The replacement can decide immediately.
	if _, err := e.Decide(context.Background(), approverRctx("approver-3"), replacement.Seat.ID, model.DecisionApproved, ""); err != nil {
		t.Fatalf("replacement Decide() error = %v", err)
	}
}

func TestReassign_returned_seat_repoints_feedback(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	d, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionReturned, "needs receipts")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	fbID := d.Seats[0].Feedback[0].Feedback.ID

	d, err = e.Reassign(context.Background(), requesterRctx(), d.Seats[0].Seat.ID, "approver-2", "original approver left")
	if err != nil {
		t.Fatalf("Reassign() error = %v", err)
	}
	replacement := findSeatByIdentity(t, d, "approver-2")
	if replacement.Seat.Status != model.SeatStatusReturned {
		t.Errorf("replacement status = %s, want returned", replacement.Seat.Status)
	}
	if len(replacement.Feedback) != 1 || replacement.Feedback[0].Feedback.ID != fbID {
		t.Fatalf("feedback did not follow the replacement seat")
	}

	// Responding re-arms the replacement, and it can decide.
	d, err = e.RespondToReturn(context.Background(), requesterRctx(), fbID, "receipts attached", "")
	if err != nil {
		t.Fatalf("RespondToReturn() error = %v", err)
	}
	replacement = findSeatByIdentity(t, d, "approver-2")
	if replacement.Seat.Status != model.SeatStatusCurrent {
		t.Errorf("replacement status = %s, want current", replacement.Seat.Status)
	}
}

func TestReassign_completed_seat(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")
	seatID := d.Seats[0].Seat.ID

	if _, err := e.Decide(context.Background(), approverRctx("approver-1"), seatID, model.DecisionApproved, ""); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	_, err := e.Reassign(context.Background(), requesterRctx(), seatID, "approver-3", "too late")
	assertCode(t, err, model.ErrSeatNotReassignable)
}

func TestReassign_requires_reason(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	_, err := e.Reassign(context.Background(), requesterRctx(), d.Seats[0].Seat.ID, "approver-2", "")
	assertCode(t, err, model.ErrMissingReason)
}

func TestReassign_only_requester(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	_, err := e.Reassign(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, "approver-2", "reason")
	assertCode(t, err, model.ErrForbidden)
}

func TestReassign_unknown_identity(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	_, err := e.Reassign(context.Background(), requesterRctx(), d.Seats[0].Seat.ID, "ghost", "reason")
	assertCode(t, err, model.ErrIdentityNotFound)
}

// --- Edit / Cancel ---

func TestEdit_before_first_decision(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	title := "Revised request"
	d, err := e.Edit(context.Background(), requesterRctx(), d.Workflow.ID, EditRequest{Title: &title})
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if d.Workflow.Title != title {
		t.Errorf("title = %q, want %q", d.Workflow.Title, title)
	}
	if len(d.Logs) != 1 {
		t.Errorf("log entries = %d, want 1", len(d.Logs))
	}
}

func TestEdit_replaces_approver_chain(t *testing.T) {
	n := notify.NewMemoryNotifier()
	e, store, _ := newTestEngine(t, WithNotifier(n))
	d := mustCreate(t, e, "approver-1", "approver-2")

	d, err := e.Edit(context.Background(), requesterRctx(), d.Workflow.ID, EditRequest{
		Approvers: []ApproverSpec{
			{Identity: "approver-3"},
			{Identity: "approver-4"},
			{Identity: "approver-2"},
		},
	})
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if len(d.Seats) != 3 {
		t.Fatalf("seats = %d, want 3", len(d.Seats))
	}
	wantIdentities := []string{"approver-3", "approver-4", "approver-2"}
	for i, sd := range d.Seats {
		if sd.Seat.Identity != wantIdentities[i] {
			t.Errorf("seat %d identity = %s, want %s", i, sd.Seat.Identity, wantIdentities[i])
		}
		if sd.Response.Decision != model.DecisionPending {
			t.Errorf("seat %d decision = %s, want pending", i, sd.Response.Decision)
		}
	}
	if d.Seats[0].Seat.Status != model.SeatStatusCurrent {
		t.Errorf("first seat status = %s, want current", d.Seats[0].Seat.Status)
	}
	last := d.Seats[len(d.Seats)-1].Seat
	if !last.DueDate.Equal(d.Workflow.DueDate) {
		t.Errorf("last seat due date = %v, want %v", last.DueDate, d.Workflow.DueDate)
	}

	// The displaced approver must no longer see the workflow in their inbox.
	pending, err := e.PendingApprovals(context.Background(), approverRctx("approver-1"))
	if err != nil {
		t.Fatalf("PendingApprovals() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending for approver-1 = %d, want 0", len(pending))
	}
	if store.Len() != 1 {
		t.Errorf("workflows = %d, want 1", store.Len())
	}

	events := n.Events()
	lastEvent := events[len(events)-1]
	if lastEvent.Type != notify.EventDecisionRequired || lastEvent.Recipient != "approver-3" {
		t.Errorf("last event = %s to %s, want decision_required to approver-3", lastEvent.Type, lastEvent.Recipient)
	}
}

func TestEdit_due_date_redistributes(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")

	newDue := testBase.AddDate(0, 0, 20)
	d, err := e.Edit(context.Background(), requesterRctx(), d.Workflow.ID, EditRequest{DueDate: &newDue})
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if !d.Workflow.DueDate.Equal(newDue) {
		t.Errorf("workflow due date = %v, want %v", d.Workflow.DueDate, newDue)
	}
	if len(d.Seats) != 2 {
		t.Fatalf("seats = %d, want 2", len(d.Seats))
	}
	// The chain keeps its approvers but the dates move with the window.
	if d.Seats[0].Seat.Identity != "approver-1" || d.Seats[1].Seat.Identity != "approver-2" {
		t.Errorf("identities = %s, %s, want approver-1, approver-2", d.Seats[0].Seat.Identity, d.Seats[1].Seat.Identity)
	}
	if !d.Seats[1].Seat.DueDate.Equal(newDue) {
		t.Errorf("last seat due date = %v, want %v", d.Seats[1].Seat.DueDate, newDue)
	}
	if d.Seats[0].Seat.Status != model.SeatStatusCurrent {
		t.Errorf("first seat status = %s, want current", d.Seats[0].Seat.Status)
	}
}

func TestEdit_empty_approver_list(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	_, err := e.Edit(context.Background(), requesterRctx(), d.Workflow.ID, EditRequest{
		Approvers: []ApproverSpec{},
	})
	assertCode(t, err, model.ErrValidationError)
}

func TestEdit_unknown_approver(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")

	_, err := e.Edit(context.Background(), requesterRctx(), d.Workflow.ID, EditRequest{
		Approvers: []ApproverSpec{{Identity: "ghost"}},
	})
	assertCode(t, err, model.ErrIdentityNotFound)
}

func TestEdit_after_decision(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")

	if _, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionApproved, ""); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	title := "Too late"
	_, err := e.Edit(context.Background(), requesterRctx(), d.Workflow.ID, EditRequest{Title: &title})
	assertCode(t, err, model.ErrWorkflowNotEditable)
}

func TestCancel(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")

	d, err := e.Cancel(context.Background(), requesterRctx(), d.Workflow.ID, "no longer needed")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if d.Workflow.Status != model.WorkflowStatusCanceled {
		t.Errorf("workflow status = %s, want canceled", d.Workflow.Status)
	}
	for i, sd := range d.Seats {
		if sd.Seat.Status != model.SeatStatusCanceled {
			t.Errorf("seat %d status = %s, want canceled", i, sd.Seat.Status)
		}
	}
	// No further decisions are possible.
	_, err = e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionApproved, "")
	assertCode(t, err, model.ErrWorkflowNotEditable)
}

// --- Inbox / sweep ---

func TestPendingApprovals(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustCreate(t, e, "approver-1", "approver-2")
	mustCreate(t, e, "approver-1")

	pending, err := e.PendingApprovals(context.Background(), approverRctx("approver-1"))
	if err != nil {
		t.Fatalf("PendingApprovals() error = %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}

	pending, err = e.PendingApprovals(context.Background(), approverRctx("approver-2"))
	if err != nil {
		t.Fatalf("PendingApprovals() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending for waiting approver = %d, want 0", len(pending))
	}
}

func TestMarkMissed_fail_policy(t *testing.T) {
	e, _, clock := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2")

	clock.Advance(4 * 24 * time.Hour) // past seat 1's due date (+3d)
	if err := e.MarkMissed(context.Background()); err != nil {
		t.Fatalf("MarkMissed() error = %v", err)
	}

	d, err := e.Get(context.Background(), requesterRctx(), d.Workflow.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Seats[0].Seat.Status != model.SeatStatusMissed {
		t.Errorf("seat 1 status = %s, want missed", d.Seats[0].Seat.Status)
	}
	if d.Workflow.Status != model.WorkflowStatusFailed {
		t.Errorf("workflow status = %s, want failed", d.Workflow.Status)
	}
	last := d.Logs[len(d.Logs)-1]
	if last.ActorType != model.ActorTypeSystem {
		t.Errorf("log actor type = %s, want system", last.ActorType)
	}
}

func TestMarkMissed_skip_policy(t *testing.T) {
	e, _, clock := newTestEngine(t, WithMissedPolicy(MissedPolicySkip))
	d := mustCreate(t, e, "approver-1", "approver-2")

	clock.Advance(4 * 24 * time.Hour)
	if err := e.MarkMissed(context.Background()); err != nil {
		t.Fatalf("MarkMissed() error = %v", err)
	}

	d, err := e.Get(context.Background(), requesterRctx(), d.Workflow.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Seats[0].Seat.Status != model.SeatStatusMissed {
		t.Errorf("seat 1 status = %s, want missed", d.Seats[0].Seat.Status)
	}
	if d.Seats[1].Seat.Status != model.SeatStatusCurrent {
		t.Errorf("seat 2 status = %s, want current", d.Seats[1].Seat.Status)
	}
	if d.Workflow.Status != model.WorkflowStatusInProgress {
		t.Errorf("workflow status = %s, want in_progress", d.Workflow.Status)
	}
}

func TestMarkMissed_skip_policy_closes_open_return(t *testing.T) {
	e, _, clock := newTestEngine(t, WithMissedPolicy(MissedPolicySkip))
	d := mustCreate(t, e, "approver-1", "approver-2")

	d, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionReturned, "missing transcript")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	fbID := d.Seats[0].Feedback[0].Feedback.ID

	// The requester sits on the feedback until the seat's due date passes.
	clock.Advance(4 * 24 * time.Hour)
	if err := e.MarkMissed(context.Background()); err != nil {
		t.Fatalf("MarkMissed() error = %v", err)
	}

	d, err = e.Get(context.Background(), requesterRctx(), d.Workflow.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Seats[0].Seat.Status != model.SeatStatusMissed {
		t.Errorf("seat 1 status = %s, want missed", d.Seats[0].Seat.Status)
	}
	if d.Seats[1].Seat.Status != model.SeatStatusCurrent {
		t.Errorf("seat 2 status = %s, want current", d.Seats[1].Seat.Status)
	}
	if d.Seats[0].Feedback[0].Feedback.RequesterTakeAction {
		t.Error("feedback still open after the seat was missed")
	}

	// A late requester response cannot revive the missed seat.
	_, err = e.RespondToReturn(context.Background(), requesterRctx(), fbID, "transcript attached", "")
	assertCode(t, err, model.ErrNoActionPending)

	d, err = e.Get(context.Background(), requesterRctx(), d.Workflow.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Seats[0].Seat.Status != model.SeatStatusMissed {
		t.Errorf("seat 1 status after late response = %s, want missed", d.Seats[0].Seat.Status)
	}
	current := 0
	for _, sd := range d.Seats {
		if sd.Seat.Status == model.SeatStatusCurrent {
			current++
		}
	}
	if current != 1 {
		t.Errorf("current seats = %d, want 1", current)
	}

	// Only the live seat shows up in an inbox.
	pending, err := e.PendingApprovals(context.Background(), approverRctx("approver-1"))
	if err != nil {
		t.Fatalf("PendingApprovals() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending for missed approver = %d, want 0", len(pending))
	}
}

// --- List ---

func TestList_filters_by_status(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1")
	mustCreate(t, e, "approver-2")

	if _, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionApproved, ""); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	completed, err := e.List(context.Background(), requesterRctx(), model.WorkflowFilters{Status: model.WorkflowStatusCompleted})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(completed) != 1 {
		t.Errorf("completed workflows = %d, want 1", len(completed))
	}
}

// --- Full lifecycle ---

// A three-approver chain: the first approves, the second returns and the
// requester responds, the second then approves, and the third rejects. The
// workflow ends failed with exactly five audit entries.
func TestFullLifecycle_return_then_reject(t *testing.T) {
	e, _, _ := newTestEngine(t)
	d := mustCreate(t, e, "approver-1", "approver-2", "approver-3")

	d, err := e.Decide(context.Background(), approverRctx("approver-1"), d.Seats[0].Seat.ID, model.DecisionApproved, "ok")
	if err != nil {
		t.Fatalf("approve 1: %v", err)
	}

	d, err = e.Decide(context.Background(), approverRctx("approver-2"), d.Seats[1].Seat.ID, model.DecisionReturned, "need budget breakdown")
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	fbID := d.Seats[1].Feedback[0].Feedback.ID

	d, err = e.RespondToReturn(context.Background(), requesterRctx(), fbID, "breakdown attached", "doc://budget")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	d, err = e.Decide(context.Background(), approverRctx("approver-2"), d.Seats[1].Seat.ID, model.DecisionApproved, "thanks")
	if err != nil {
		t.Fatalf("approve 2: %v", err)
	}

	d, err = e.Decide(context.Background(), approverRctx("approver-3"), d.Seats[2].Seat.ID, model.DecisionRejected, "out of budget")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}

	if d.Workflow.Status != model.WorkflowStatusFailed {
		t.Errorf("workflow status = %s, want failed", d.Workflow.Status)
	}
	if len(d.Logs) != 5 {
		t.Fatalf("log entries = %d, want 5", len(d.Logs))
	}

	wantActions := []string{actionDecided, actionDecided, actionRequesterResponded, actionDecided, actionDecided}
	for i, entry := range d.Logs {
		if entry.Action != wantActions[i] {
			t.Errorf("log %d action = %s, want %s", i, entry.Action, wantActions[i])
		}
	}
	// Seat 2's response reflects only its final decision.
	if d.Seats[1].Response.Decision != model.DecisionApproved {
		t.Errorf("seat 2 decision = %s, want approved", d.Seats[1].Response.Decision)
	}
}

// --- helpers ---

func findSeatDetail(t *testing.T, d *model.DetailedWorkflow, seatID string) model.SeatDetail {
	t.Helper()
	for _, sd := range d.Seats {
		if sd.Seat.ID == seatID {
			return sd
		}
	}
	t.Fatalf("seat %q not in detail view", seatID)
	return model.SeatDetail{}
}

func findSeatByIdentity(t *testing.T, d *model.DetailedWorkflow, identityID string) model.SeatDetail {
	t.Helper()
	for _, sd := range d.Seats {
		if sd.Seat.Identity == identityID && sd.Seat.Status != model.SeatStatusReplaced {
			return sd
		}
	}
	t.Fatalf("no active seat for identity %q", identityID)
	return model.SeatDetail{}
}
