package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/ruzuku/internal/duedate"
	"github.com/pitabwire/ruzuku/internal/identity"
	"github.com/pitabwire/ruzuku/internal/notify"
	"github.com/pitabwire/ruzuku/internal/observability"
	"github.com/pitabwire/ruzuku/model"
)

// Missed seat policies.
const (
	// MissedPolicyFail halts the workflow when a seat misses its due date,
	// the same way a rejection does.
	MissedPolicyFail = "fail"
	// MissedPolicySkip marks the seat missed and hands the turn to the next
	// seat in the chain.
	MissedPolicySkip = "skip"
)

// Log actions recorded in the audit trail.
const (
	actionDecided            = "decided"
	actionReassigned         = "reassigned"
	actionRequesterResponded = "requester_responded"
	actionEdited             = "edited"
	actionCanceled           = "canceled"
	actionMissed             = "missed"
)

// Engine drives approval workflows through their seats: creation, decisions,
// reassignment, return feedback and the overdue sweep.
type Engine struct {
	store        Store
	directory    identity.Directory
	notifier     notify.Notifier
	logger       *zap.Logger
	metrics      *observability.Metrics
	clock        func() time.Time
	missedPolicy string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithNotifier sets the outbound notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source. For testing.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithMissedPolicy sets what happens to a workflow when a seat misses its
// due date.
func WithMissedPolicy(policy string) Option {
	return func(e *Engine) { e.missedPolicy = policy }
}

// NewEngine creates a new approval engine.
func NewEngine(store Store, directory identity.Directory, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		directory:    directory,
		notifier:     notify.NewMemoryNotifier(),
		logger:       zap.NewNop(),
		clock:        func() time.Time { return time.Now().UTC() },
		missedPolicy: MissedPolicyFail,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApproverSpec names one seat in a new workflow's chain, in request order.
// DueDate is optional; when any seat carries one, all must.
type ApproverSpec struct {
	Identity string
	DueDate  *time.Time
}

// CreateRequest is the input for Create.
type CreateRequest struct {
	Title          string
	Description    string
	DocumentRef    string
	DueDate        time.Time
	Context        model.ContextTags
	Approvers      []ApproverSpec
	IdempotencyKey string
}

// Create starts a new approval workflow with an ordered approver chain.
// Seat due dates are distributed across the window unless the request names
// them explicitly. The first seat immediately holds the turn.
func (e *Engine) Create(
	ctx context.Context,
	rctx *model.RequestContext,
	req CreateRequest,
) (*model.DetailedWorkflow, error) {
	// 1. Validate the request shape.
	var details []model.FieldError
	if req.Title == "" {
		details = append(details, model.FieldError{
			Field: "title", Code: "REQUIRED", Message: "Title is required",
		})
	}
	if len(req.Approvers) == 0 {
		details = append(details, model.FieldError{
			Field: "approvers", Code: "REQUIRED", Message: "At least one approver is required",
		})
	}
	if len(details) > 0 {
		return nil, model.NewValidationError(details)
	}

	// 2. Replay a previous creation with the same idempotency key.
	if req.IdempotencyKey != "" {
		existing, err := e.store.FindByIdempotencyKey(ctx, rctx.TenantID, rctx.SubjectID, req.IdempotencyKey)
		if err == nil {
			return e.detail(ctx, rctx, existing, nil)
		}
		if envelope, ok := err.(*model.ErrorEnvelope); !ok || envelope.Code != model.ErrNotFound {
			return nil, err
		}
	}

	// 3. Resolve every approver identity against the directory.
	for _, spec := range req.Approvers {
		if _, err := e.directory.Lookup(ctx, spec.Identity); err != nil {
			return nil, err
		}
	}

	// 4. Compute per-seat due dates.
	now := e.clock()
	dates, warnings, err := e.seatDueDates(now, req)
	if err != nil {
		return nil, err
	}

	// 5. Build the graph. The first seat holds the turn from the start.
	wf := model.Workflow{
		ID:             uuid.New().String(),
		TenantID:       rctx.TenantID,
		RequesterID:    rctx.SubjectID,
		Title:          req.Title,
		Description:    req.Description,
		DocumentRef:    req.DocumentRef,
		DueDate:        req.DueDate,
		Context:        req.Context,
		Status:         model.WorkflowStatusPending,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}

	g := &Graph{Workflow: wf}
	for i, spec := range req.Approvers {
		status := model.SeatStatusPending
		if i == 0 {
			status = model.SeatStatusCurrent
		}
		seat := model.Seat{
			ID:         uuid.New().String(),
			WorkflowID: wf.ID,
			Identity:   spec.Identity,
			Order:      i + 1,
			Status:     status,
			DueDate:    dates[i],
			AssignedAt: now,
		}
		g.Seats = append(g.Seats, seat)
		g.Responses = append(g.Responses, model.Response{
			ID:        uuid.New().String(),
			SeatID:    seat.ID,
			Decision:  model.DecisionPending,
			UpdatedAt: now,
		})
	}

	// 6. Persist.
	if err := e.store.CreateGraph(ctx, g); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordWorkflowCreation()
	}
	e.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("requester_id", wf.RequesterID),
		zap.Int("seats", len(g.Seats)),
	)

	e.send(ctx, notify.Event{
		Type:       notify.EventDecisionRequired,
		TenantID:   wf.TenantID,
		WorkflowID: wf.ID,
		Title:      wf.Title,
		Recipient:  g.Seats[0].Identity,
		Actor:      wf.RequesterID,
		OccurredAt: now,
	})

	return e.detail(ctx, rctx, g, warnings)
}

// Decide records the current approver's decision on their seat and advances
// the chain.
func (e *Engine) Decide(
	ctx context.Context,
	rctx *model.RequestContext,
	seatID string,
	decision model.Decision,
	comment string,
) (*model.DetailedWorkflow, error) {
	if !decision.Valid() {
		return nil, model.NewInvalidResponseError(string(decision))
	}
	if decision == model.DecisionReturned && comment == "" {
		return nil, model.NewMissingReasonError()
	}

	g, err := e.store.GetGraphBySeat(ctx, rctx.TenantID, seatID)
	if err != nil {
		return nil, err
	}

	seat := g.SeatByID(seatID)
	if seat == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("seat %q not found", seatID))
	}
	// A completed seat answers the same way whether or not its decision
	// ended the workflow, so this guard runs before the terminal gate.
	if seat.Status == model.SeatStatusCompleted {
		if !e.isCaller(rctx, seat.Identity) {
			return nil, model.NewNotCurrentApproverError(rctx.SubjectID)
		}
		return nil, model.NewAlreadyDecidedError(seatID)
	}
	if g.Workflow.Status.Terminal() {
		return nil, model.NewWorkflowNotEditableError(g.Workflow.ID, g.Workflow.Status)
	}
	if !e.isCaller(rctx, seat.Identity) {
		return nil, model.NewNotCurrentApproverError(rctx.SubjectID)
	}
	if seat.Status == model.SeatStatusReturned {
		return nil, model.NewConflictError(
			fmt.Sprintf("seat %q is awaiting a requester response", seatID),
		)
	}
	cur := CurrentSeat(g)
	if cur == nil || cur.ID != seatID {
		return nil, model.NewNotCurrentApproverError(rctx.SubjectID)
	}

	now := e.clock()
	oldWfStatus := g.Workflow.Status
	oldSeatStatus := seat.Status

	resp := g.ResponseForSeat(seatID)
	if resp == nil {
		resp = &model.Response{ID: uuid.New().String(), SeatID: seatID}
	}
	resp.Decision = decision
	resp.Comment = comment
	resp.RespondedAt = &now
	resp.UpdatedAt = now

	m := Mutation{
		UpsertResponses: []model.Response{*resp},
	}

	var events []notify.Event
	switch decision {
	case model.DecisionApproved:
		seat.Status = model.SeatStatusCompleted
		m.UpsertSeats = append(m.UpsertSeats, *seat)

		if next := CurrentSeat(g); next != nil {
			g.Workflow.Status = model.WorkflowStatusInProgress
			events = append(events, notify.Event{
				Type:       notify.EventDecisionRequired,
				TenantID:   g.Workflow.TenantID,
				WorkflowID: g.Workflow.ID,
				Title:      g.Workflow.Title,
				Recipient:  next.Identity,
				Actor:      seat.Identity,
				OccurredAt: now,
			})
			if next.Status == model.SeatStatusPending {
				next.Status = model.SeatStatusCurrent
				m.UpsertSeats = append(m.UpsertSeats, *next)
			}
		} else {
			g.Workflow.Status = model.WorkflowStatusCompleted
			g.Workflow.CompletedAt = &now
			events = append(events, notify.Event{
				Type:       notify.EventWorkflowCompleted,
				TenantID:   g.Workflow.TenantID,
				WorkflowID: g.Workflow.ID,
				Title:      g.Workflow.Title,
				Recipient:  g.Workflow.RequesterID,
				Actor:      seat.Identity,
				OccurredAt: now,
			})
		}

	case model.DecisionRejected:
		seat.Status = model.SeatStatusCompleted
		m.UpsertSeats = append(m.UpsertSeats, *seat)
		g.Workflow.Status = model.WorkflowStatusFailed
		g.Workflow.CompletedAt = &now
		events = append(events, notify.Event{
			Type:       notify.EventWorkflowCompleted,
			TenantID:   g.Workflow.TenantID,
			WorkflowID: g.Workflow.ID,
			Title:      g.Workflow.Title,
			Recipient:  g.Workflow.RequesterID,
			Actor:      seat.Identity,
			Comment:    comment,
			OccurredAt: now,
		})

	case model.DecisionReturned:
		seat.Status = model.SeatStatusReturned
		m.UpsertSeats = append(m.UpsertSeats, *seat)
		g.Workflow.Status = model.WorkflowStatusInProgress
		m.InsertFeedback = append(m.InsertFeedback, model.ReturnFeedback{
			ID:                  uuid.New().String(),
			WorkflowID:          g.Workflow.ID,
			SeatID:              seat.ID,
			Reason:              comment,
			CreatedBy:           seat.Identity,
			RequesterTakeAction: true,
			CreatedAt:           now,
		})
		events = append(events, notify.Event{
			Type:       notify.EventReturned,
			TenantID:   g.Workflow.TenantID,
			WorkflowID: g.Workflow.ID,
			Title:      g.Workflow.Title,
			Recipient:  g.Workflow.RequesterID,
			Actor:      seat.Identity,
			Comment:    comment,
			OccurredAt: now,
		})
	}

	m.Workflow = g.Workflow
	m.AppendLogs = []model.WorkflowLog{{
		ID:            uuid.New().String(),
		WorkflowID:    g.Workflow.ID,
		SeatID:        seat.ID,
		ActorID:       rctx.SubjectID,
		ActorType:     model.ActorTypeApprover,
		Action:        actionDecided,
		OldStatus:     oldWfStatus,
		NewStatus:     g.Workflow.Status,
		OldSeatStatus: oldSeatStatus,
		NewSeatStatus: seat.Status,
		Comment:       comment,
		CreatedAt:     now,
	}}

	if err := e.store.Apply(ctx, m); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordDecision(string(decision))
		if decision == model.DecisionReturned {
			e.metrics.RecordFeedbackOpened()
		}
		if g.Workflow.Status.Terminal() {
			e.metrics.RecordWorkflowCompletion(string(g.Workflow.Status))
		}
	}
	e.logger.Info("decision recorded",
		zap.String("workflow_id", g.Workflow.ID),
		zap.String("seat_id", seat.ID),
		zap.String("decision", string(decision)),
	)
	for _, evt := range events {
		e.send(ctx, evt)
	}

	return e.Get(ctx, rctx, g.Workflow.ID)
}

// Reassign hands a seat to a different identity. Only the requester may
// reassign, and only while the seat can still act. The old seat is kept for
// audit with status replaced.
func (e *Engine) Reassign(
	ctx context.Context,
	rctx *model.RequestContext,
	seatID, newIdentity, reason string,
) (*model.DetailedWorkflow, error) {
	if reason == "" {
		return nil, model.NewMissingReasonError()
	}

	g, err := e.store.GetGraphBySeat(ctx, rctx.TenantID, seatID)
	if err != nil {
		return nil, err
	}
	if g.Workflow.RequesterID != rctx.SubjectID {
		return nil, model.NewForbiddenError("only the requester may reassign a seat")
	}
	if g.Workflow.Status.Terminal() {
		return nil, model.NewWorkflowNotEditableError(g.Workflow.ID, g.Workflow.Status)
	}

	seat := g.SeatByID(seatID)
	if seat == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("seat %q not found", seatID))
	}
	if seat.Status.Terminal() {
		return nil, model.NewSeatNotReassignableError(seatID, seat.Status)
	}
	if _, err := e.directory.Lookup(ctx, newIdentity); err != nil {
		return nil, err
	}

	now := e.clock()
	oldStatus := seat.Status

	replacement := model.Seat{
		ID:           uuid.New().String(),
		WorkflowID:   g.Workflow.ID,
		Identity:     newIdentity,
		Order:        seat.Order,
		Status:       seat.Status,
		DueDate:      seat.DueDate,
		AssignedAt:   now,
		IsReassigned: true,
	}
	seat.Status = model.SeatStatusReplaced

	m := Mutation{
		Workflow:    g.Workflow,
		UpsertSeats: []model.Seat{*seat, replacement},
		UpsertResponses: []model.Response{{
			ID:        uuid.New().String(),
			SeatID:    replacement.ID,
			Decision:  model.DecisionPending,
			UpdatedAt: now,
		}},
	}

	// An open return follows the seat so the requester's eventual response
	// re-arms the replacement, not the replaced seat.
	if fb := g.OpenFeedbackForSeat(seatID); fb != nil {
		fb.SeatID = replacement.ID
		m.UpdateFeedback = append(m.UpdateFeedback, *fb)
	}

	m.AppendLogs = []model.WorkflowLog{{
		ID:            uuid.New().String(),
		WorkflowID:    g.Workflow.ID,
		SeatID:        replacement.ID,
		ActorID:       rctx.SubjectID,
		ActorType:     model.ActorTypeRequester,
		Action:        actionReassigned,
		OldStatus:     g.Workflow.Status,
		NewStatus:     g.Workflow.Status,
		OldSeatStatus: oldStatus,
		NewSeatStatus: replacement.Status,
		Comment:       reason,
		CreatedAt:     now,
	}}

	if err := e.store.Apply(ctx, m); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordReassignment()
	}
	e.logger.Info("seat reassigned",
		zap.String("workflow_id", g.Workflow.ID),
		zap.String("seat_id", seatID),
		zap.String("replacement_seat_id", replacement.ID),
	)

	if replacement.Status == model.SeatStatusCurrent {
		e.send(ctx, notify.Event{
			Type:       notify.EventDecisionRequired,
			TenantID:   g.Workflow.TenantID,
			WorkflowID: g.Workflow.ID,
			Title:      g.Workflow.Title,
			Recipient:  newIdentity,
			Actor:      rctx.SubjectID,
			OccurredAt: now,
		})
	} else {
		e.send(ctx, notify.Event{
			Type:       notify.EventReassigned,
			TenantID:   g.Workflow.TenantID,
			WorkflowID: g.Workflow.ID,
			Title:      g.Workflow.Title,
			Recipient:  newIdentity,
			Actor:      rctx.SubjectID,
			Comment:    reason,
			OccurredAt: now,
		})
	}

	return e.Get(ctx, rctx, g.Workflow.ID)
}

// RespondToReturn records the requester's answer to return feedback and
// re-arms the seat that raised it.
func (e *Engine) RespondToReturn(
	ctx context.Context,
	rctx *model.RequestContext,
	feedbackID, message, fileRef string,
) (*model.DetailedWorkflow, error) {
	if message == "" {
		return nil, model.NewMissingReasonError()
	}

	g, err := e.store.GetGraphByFeedback(ctx, rctx.TenantID, feedbackID)
	if err != nil {
		return nil, err
	}
	if g.Workflow.RequesterID != rctx.SubjectID {
		return nil, model.NewForbiddenError("only the requester may respond to return feedback")
	}
	if g.Workflow.Status.Terminal() {
		return nil, model.NewWorkflowNotEditableError(g.Workflow.ID, g.Workflow.Status)
	}

	fb := g.FeedbackByID(feedbackID)
	if fb == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("feedback %q not found", feedbackID))
	}
	if !fb.RequesterTakeAction {
		return nil, model.NewNoActionPendingError(feedbackID)
	}

	seat := g.SeatByID(fb.SeatID)
	if seat == nil {
		return nil, model.NewInternalError()
	}
	// Only a seat still waiting on the requester can be re-armed. The sweep
	// may have marked it missed while the feedback sat open.
	if seat.Status != model.SeatStatusReturned {
		return nil, model.NewConflictError(
			fmt.Sprintf("seat %q is no longer awaiting a requester response", fb.SeatID),
		)
	}

	now := e.clock()
	oldSeatStatus := seat.Status
	seat.Status = model.SeatStatusCurrent
	fb.RequesterTakeAction = false

	m := Mutation{
		Workflow:       g.Workflow,
		UpsertSeats:    []model.Seat{*seat},
		UpdateFeedback: []model.ReturnFeedback{*fb},
		InsertRequesterResponses: []model.RequesterResponse{{
			ID:          uuid.New().String(),
			FeedbackID:  fb.ID,
			Message:     message,
			FileRef:     fileRef,
			ResponderID: rctx.SubjectID,
			CreatedAt:   now,
		}},
		AppendLogs: []model.WorkflowLog{{
			ID:            uuid.New().String(),
			WorkflowID:    g.Workflow.ID,
			SeatID:        seat.ID,
			ActorID:       rctx.SubjectID,
			ActorType:     model.ActorTypeRequester,
			Action:        actionRequesterResponded,
			OldStatus:     g.Workflow.Status,
			NewStatus:     g.Workflow.Status,
			OldSeatStatus: oldSeatStatus,
			NewSeatStatus: seat.Status,
			Comment:       message,
			CreatedAt:     now,
		}},
	}

	if err := e.store.Apply(ctx, m); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordRequesterResponse()
	}
	e.logger.Info("requester responded to return",
		zap.String("workflow_id", g.Workflow.ID),
		zap.String("feedback_id", fb.ID),
		zap.String("seat_id", seat.ID),
	)
	e.send(ctx, notify.Event{
		Type:       notify.EventRequesterResponded,
		TenantID:   g.Workflow.TenantID,
		WorkflowID: g.Workflow.ID,
		Title:      g.Workflow.Title,
		Recipient:  seat.Identity,
		Actor:      rctx.SubjectID,
		Comment:    message,
		OccurredAt: now,
	})

	return e.Get(ctx, rctx, g.Workflow.ID)
}

// EditRequest carries the fields a requester may change. Nil fields are left
// untouched. Setting Approvers or DueDate replaces the whole seat chain and
// re-runs the due date distribution.
type EditRequest struct {
	Title       *string
	Description *string
	DocumentRef *string
	DueDate     *time.Time
	Approvers   []ApproverSpec
}

// Edit updates a workflow. Allowed only while no approver has acted yet.
// Descriptive fields are patched in place; a changed approver list or due
// date rebuilds the seat chain from scratch.
func (e *Engine) Edit(
	ctx context.Context,
	rctx *model.RequestContext,
	workflowID string,
	req EditRequest,
) (*model.DetailedWorkflow, error) {
	g, err := e.store.GetGraph(ctx, rctx.TenantID, workflowID)
	if err != nil {
		return nil, err
	}
	if g.Workflow.RequesterID != rctx.SubjectID {
		return nil, model.NewForbiddenError("only the requester may edit a workflow")
	}
	if g.Workflow.Status != model.WorkflowStatusPending {
		return nil, model.NewWorkflowNotEditableError(workflowID, g.Workflow.Status)
	}

	if req.Title != nil {
		if *req.Title == "" {
			return nil, model.NewValidationError([]model.FieldError{{
				Field: "title", Code: "REQUIRED", Message: "Title is required",
			}})
		}
		g.Workflow.Title = *req.Title
	}
	if req.Description != nil {
		g.Workflow.Description = *req.Description
	}
	if req.DocumentRef != nil {
		g.Workflow.DocumentRef = *req.DocumentRef
	}

	now := e.clock()
	m := Mutation{
		Workflow: g.Workflow,
		AppendLogs: []model.WorkflowLog{{
			ID:         uuid.New().String(),
			WorkflowID: g.Workflow.ID,
			ActorID:    rctx.SubjectID,
			ActorType:  model.ActorTypeRequester,
			Action:     actionEdited,
			OldStatus:  g.Workflow.Status,
			NewStatus:  g.Workflow.Status,
			CreatedAt:  now,
		}},
	}

	var warnings []string
	rebuild := req.Approvers != nil || req.DueDate != nil
	if rebuild {
		approvers := req.Approvers
		if approvers == nil {
			// Due date moved but the chain stays. Re-distribute over the
			// current approvers.
			for _, seat := range g.Seats {
				if seat.Status != model.SeatStatusReplaced {
					approvers = append(approvers, ApproverSpec{Identity: seat.Identity})
				}
			}
		}
		if len(approvers) == 0 {
			return nil, model.NewValidationError([]model.FieldError{{
				Field: "approvers", Code: "REQUIRED", Message: "At least one approver is required",
			}})
		}
		for _, spec := range approvers {
			if _, err := e.directory.Lookup(ctx, spec.Identity); err != nil {
				return nil, err
			}
		}
		if req.DueDate != nil {
			g.Workflow.DueDate = *req.DueDate
		}
		m.Workflow = g.Workflow

		var dates []time.Time
		dates, warnings, err = e.seatDueDates(now, CreateRequest{
			DueDate:   g.Workflow.DueDate,
			Approvers: approvers,
		})
		if err != nil {
			return nil, err
		}

		for _, seat := range g.Seats {
			m.DeleteSeatIDs = append(m.DeleteSeatIDs, seat.ID)
		}
		for i, spec := range approvers {
			status := model.SeatStatusPending
			if i == 0 {
				status = model.SeatStatusCurrent
			}
			seat := model.Seat{
				ID:         uuid.New().String(),
				WorkflowID: g.Workflow.ID,
				Identity:   spec.Identity,
				Order:      i + 1,
				Status:     status,
				DueDate:    dates[i],
				AssignedAt: now,
			}
			m.UpsertSeats = append(m.UpsertSeats, seat)
			m.UpsertResponses = append(m.UpsertResponses, model.Response{
				ID:        uuid.New().String(),
				SeatID:    seat.ID,
				Decision:  model.DecisionPending,
				UpdatedAt: now,
			})
		}
	}

	if err := e.store.Apply(ctx, m); err != nil {
		return nil, err
	}

	if rebuild {
		e.logger.Info("workflow chain rebuilt",
			zap.String("workflow_id", workflowID),
			zap.Int("seats", len(m.UpsertSeats)),
		)
		e.send(ctx, notify.Event{
			Type:       notify.EventDecisionRequired,
			TenantID:   g.Workflow.TenantID,
			WorkflowID: g.Workflow.ID,
			Title:      g.Workflow.Title,
			Recipient:  m.UpsertSeats[0].Identity,
			Actor:      rctx.SubjectID,
			OccurredAt: now,
		})
	}

	updated, err := e.store.GetGraph(ctx, rctx.TenantID, workflowID)
	if err != nil {
		return nil, err
	}
	return e.detail(ctx, rctx, updated, warnings)
}

// Cancel withdraws a workflow. Every seat that can still act is canceled
// with it.
func (e *Engine) Cancel(
	ctx context.Context,
	rctx *model.RequestContext,
	workflowID, reason string,
) (*model.DetailedWorkflow, error) {
	if reason == "" {
		return nil, model.NewMissingReasonError()
	}

	g, err := e.store.GetGraph(ctx, rctx.TenantID, workflowID)
	if err != nil {
		return nil, err
	}
	if g.Workflow.RequesterID != rctx.SubjectID {
		return nil, model.NewForbiddenError("only the requester may cancel a workflow")
	}
	if g.Workflow.Status.Terminal() {
		return nil, model.NewWorkflowNotEditableError(workflowID, g.Workflow.Status)
	}

	now := e.clock()
	oldStatus := g.Workflow.Status
	g.Workflow.Status = model.WorkflowStatusCanceled
	g.Workflow.CompletedAt = &now

	m := Mutation{Workflow: g.Workflow}
	for i := range g.Seats {
		if !g.Seats[i].Status.Terminal() {
			g.Seats[i].Status = model.SeatStatusCanceled
			m.UpsertSeats = append(m.UpsertSeats, g.Seats[i])
		}
	}
	m.AppendLogs = []model.WorkflowLog{{
		ID:         uuid.New().String(),
		WorkflowID: g.Workflow.ID,
		ActorID:    rctx.SubjectID,
		ActorType:  model.ActorTypeRequester,
		Action:     actionCanceled,
		OldStatus:  oldStatus,
		NewStatus:  g.Workflow.Status,
		Comment:    reason,
		CreatedAt:  now,
	}}

	if err := e.store.Apply(ctx, m); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordWorkflowCompletion(string(model.WorkflowStatusCanceled))
	}
	e.logger.Info("workflow canceled",
		zap.String("workflow_id", workflowID),
	)
	return e.Get(ctx, rctx, workflowID)
}

// Get returns the full detail view of a workflow, audit trail included.
func (e *Engine) Get(
	ctx context.Context,
	rctx *model.RequestContext,
	workflowID string,
) (*model.DetailedWorkflow, error) {
	g, err := e.store.GetGraph(ctx, rctx.TenantID, workflowID)
	if err != nil {
		return nil, err
	}
	return e.detail(ctx, rctx, g, nil)
}

// List returns workflow summaries for the caller's tenant.
func (e *Engine) List(
	ctx context.Context,
	rctx *model.RequestContext,
	filters model.WorkflowFilters,
) ([]model.WorkflowSummary, error) {
	if filters.PageSize <= 0 {
		filters.PageSize = 20
	}
	return e.store.List(ctx, rctx.TenantID, filters)
}

// PendingApprovals returns the caller's approval inbox: every seat currently
// awaiting their decision, soonest due first.
func (e *Engine) PendingApprovals(
	ctx context.Context,
	rctx *model.RequestContext,
) ([]model.PendingApproval, error) {
	pending, err := e.store.PendingForIdentity(ctx, rctx.TenantID, rctx.SubjectID)
	if err != nil {
		return nil, err
	}
	if rctx.Email != "" && rctx.Email != rctx.SubjectID {
		byEmail, err := e.store.PendingForIdentity(ctx, rctx.TenantID, rctx.Email)
		if err != nil {
			return nil, err
		}
		pending = append(pending, byEmail...)
	}
	return pending, nil
}

// MarkMissed sweeps for seats past their due date and applies the configured
// missed policy. Intended to run periodically.
func (e *Engine) MarkMissed(ctx context.Context) error {
	start := e.clock()
	overdue, err := e.store.FindOverdue(ctx, start)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordSweep("error", time.Since(start))
		}
		return fmt.Errorf("find overdue workflows: %w", err)
	}

	for _, g := range overdue {
		if err := e.missSeat(ctx, g); err != nil {
			// Log and keep sweeping; next run retries this workflow.
			e.logger.Warn("overdue sweep failed for workflow",
				zap.String("workflow_id", g.Workflow.ID),
				zap.Error(err),
			)
		}
	}

	if e.metrics != nil {
		e.metrics.RecordSweep("ok", time.Since(start))
	}
	return nil
}

// missSeat marks one workflow's overdue awaiting seat missed.
func (e *Engine) missSeat(ctx context.Context, g *Graph) error {
	now := e.clock()

	var seat *model.Seat
	for i := range g.Seats {
		s := &g.Seats[i]
		awaiting := s.Status == model.SeatStatusCurrent || s.Status == model.SeatStatusReturned
		if awaiting && s.DueDate.Before(now) {
			seat = s
			break
		}
	}
	if seat == nil {
		return nil
	}

	oldWfStatus := g.Workflow.Status
	oldSeatStatus := seat.Status
	seat.Status = model.SeatStatusMissed

	m := Mutation{UpsertSeats: []model.Seat{*seat}}

	// A returned seat can carry open feedback; close it so a late requester
	// response cannot revive the missed seat.
	if fb := g.OpenFeedbackForSeat(seat.ID); fb != nil {
		fb.RequesterTakeAction = false
		m.UpdateFeedback = append(m.UpdateFeedback, *fb)
	}

	if e.missedPolicy == MissedPolicySkip {
		if next := CurrentSeat(g); next != nil {
			g.Workflow.Status = model.WorkflowStatusInProgress
			if next.Status == model.SeatStatusPending {
				next.Status = model.SeatStatusCurrent
				m.UpsertSeats = append(m.UpsertSeats, *next)
			}
		} else {
			g.Workflow.Status = model.WorkflowStatusCompleted
			g.Workflow.CompletedAt = &now
		}
	} else {
		g.Workflow.Status = model.WorkflowStatusFailed
		g.Workflow.CompletedAt = &now
	}

	m.Workflow = g.Workflow
	m.AppendLogs = []model.WorkflowLog{{
		ID:            uuid.New().String(),
		WorkflowID:    g.Workflow.ID,
		SeatID:        seat.ID,
		ActorID:       "system",
		ActorType:     model.ActorTypeSystem,
		Action:        actionMissed,
		OldStatus:     oldWfStatus,
		NewStatus:     g.Workflow.Status,
		OldSeatStatus: oldSeatStatus,
		NewSeatStatus: seat.Status,
		Comment:       "seat due date passed",
		CreatedAt:     now,
	}}

	if err := e.store.Apply(ctx, m); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.RecordMissedSeat()
		if g.Workflow.Status.Terminal() {
			e.metrics.RecordWorkflowCompletion(string(g.Workflow.Status))
		}
	}
	e.send(ctx, notify.Event{
		Type:       notify.EventSeatMissed,
		TenantID:   g.Workflow.TenantID,
		WorkflowID: g.Workflow.ID,
		Title:      g.Workflow.Title,
		Recipient:  g.Workflow.RequesterID,
		Actor:      seat.Identity,
		OccurredAt: now,
	})
	return nil
}

// seatDueDates resolves per-seat due dates: explicit dates when any approver
// names one, an even distribution otherwise.
func (e *Engine) seatDueDates(now time.Time, req CreateRequest) ([]time.Time, []string, error) {
	manual := false
	for _, spec := range req.Approvers {
		if spec.DueDate != nil {
			manual = true
			break
		}
	}
	if !manual {
		return duedate.Distribute(now, req.DueDate, len(req.Approvers))
	}

	dates := make([]time.Time, len(req.Approvers))
	for i, spec := range req.Approvers {
		if spec.DueDate == nil {
			return nil, nil, model.NewValidationError([]model.FieldError{{
				Field:   fmt.Sprintf("approvers[%d].due_date", i),
				Code:    "REQUIRED",
				Message: "All seat due dates must be set when any is",
			}})
		}
		dates[i] = *spec.DueDate
	}
	if err := duedate.ValidateManual(now, req.DueDate, dates); err != nil {
		return nil, nil, err
	}
	return dates, nil, nil
}

// detail assembles the read model for a graph, loading the audit trail.
func (e *Engine) detail(
	ctx context.Context,
	rctx *model.RequestContext,
	g *Graph,
	warnings []string,
) (*model.DetailedWorkflow, error) {
	logs, err := e.store.GetLogs(ctx, rctx.TenantID, g.Workflow.ID)
	if err != nil {
		return nil, err
	}

	d := &model.DetailedWorkflow{
		Workflow: g.Workflow,
		Logs:     logs,
		Warnings: warnings,
	}
	for _, seat := range g.Seats {
		sd := model.SeatDetail{Seat: seat}
		if resp := g.ResponseForSeat(seat.ID); resp != nil {
			sd.Response = *resp
		}
		for _, fb := range g.Feedback {
			if fb.SeatID != seat.ID {
				continue
			}
			fd := model.FeedbackDetail{Feedback: fb}
			for _, rr := range g.RequesterResponses {
				if rr.FeedbackID == fb.ID {
					fd.Responses = append(fd.Responses, rr)
				}
			}
			sd.Feedback = append(sd.Feedback, fd)
		}
		d.Seats = append(d.Seats, sd)
	}
	return d, nil
}

// send delivers a notification without blocking the request. Failures are
// logged and dropped.
func (e *Engine) send(ctx context.Context, evt notify.Event) {
	if e.notifier == nil {
		return
	}
	go func(ctx context.Context) {
		if err := e.notifier.Notify(ctx, evt); err != nil {
			e.logger.Warn("notification delivery failed",
				zap.String("type", evt.Type),
				zap.String("workflow_id", evt.WorkflowID),
				zap.Error(err),
			)
		}
	}(context.WithoutCancel(ctx))
}

// isCaller reports whether the authenticated caller holds the given seat
// identity, matching by subject ID or email.
func (e *Engine) isCaller(rctx *model.RequestContext, seatIdentity string) bool {
	if seatIdentity == rctx.SubjectID {
		return true
	}
	return rctx.Email != "" && seatIdentity == rctx.Email
}
