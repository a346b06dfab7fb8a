package workflow

import (
	"context"
	"sort"
	"time"

	"github.com/pitabwire/ruzuku/model"
)

// Store persists approval workflows, their seats, responses, return feedback
// and the audit log.
type Store interface {
	// CreateGraph persists a new workflow with its seats and blank responses
	// in one atomic operation. Returns CONFLICT if the workflow ID exists.
	CreateGraph(ctx context.Context, g *Graph) error

	// GetGraph loads a workflow and everything hanging off it, scoped to a
	// tenant. Returns NOT_FOUND if the workflow doesn't exist or belongs to
	// a different tenant.
	GetGraph(ctx context.Context, tenantID, workflowID string) (*Graph, error)

	// GetGraphBySeat loads the graph owning the given seat.
	GetGraphBySeat(ctx context.Context, tenantID, seatID string) (*Graph, error)

	// GetGraphByFeedback loads the graph owning the given return feedback.
	GetGraphByFeedback(ctx context.Context, tenantID, feedbackID string) (*Graph, error)

	// FindByIdempotencyKey returns the workflow previously created by the
	// same requester with the same idempotency key, or NOT_FOUND.
	FindByIdempotencyKey(ctx context.Context, tenantID, requesterID, key string) (*Graph, error)

	// Apply commits a mutation atomically with optimistic locking on the
	// workflow row. Mutation.Workflow.Version must match the stored version;
	// Apply increments it. Returns CONFLICT on a version mismatch.
	Apply(ctx context.Context, m Mutation) error

	// GetLogs retrieves the audit trail for a workflow, oldest first.
	GetLogs(ctx context.Context, tenantID, workflowID string) ([]model.WorkflowLog, error)

	// List returns workflow summaries for a tenant, newest first.
	List(ctx context.Context, tenantID string, filters model.WorkflowFilters) ([]model.WorkflowSummary, error)

	// FindOverdue returns graphs of non-terminal workflows that have a seat
	// awaiting action whose due date is before the cutoff.
	FindOverdue(ctx context.Context, cutoff time.Time) ([]*Graph, error)

	// PendingForIdentity returns the approval inbox for an identity across
	// a tenant's workflows.
	PendingForIdentity(ctx context.Context, tenantID, identity string) ([]model.PendingApproval, error)
}

// Graph is a workflow with all of its dependent rows loaded. Seats are
// ordered by chain position.
type Graph struct {
	Workflow           model.Workflow
	Seats              []model.Seat
	Responses          []model.Response
	Feedback           []model.ReturnFeedback
	RequesterResponses []model.RequesterResponse
}

// SortSeats orders the graph's seats by chain position.
func (g *Graph) SortSeats() {
	sort.Slice(g.Seats, func(i, j int) bool {
		return g.Seats[i].Order < g.Seats[j].Order
	})
}

// SeatByID returns the seat with the given ID, or nil.
func (g *Graph) SeatByID(seatID string) *model.Seat {
	for i := range g.Seats {
		if g.Seats[i].ID == seatID {
			return &g.Seats[i]
		}
	}
	return nil
}

// ResponseForSeat returns the response row for the given seat, or nil.
func (g *Graph) ResponseForSeat(seatID string) *model.Response {
	for i := range g.Responses {
		if g.Responses[i].SeatID == seatID {
			return &g.Responses[i]
		}
	}
	return nil
}

// FeedbackByID returns the return feedback with the given ID, or nil.
func (g *Graph) FeedbackByID(feedbackID string) *model.ReturnFeedback {
	for i := range g.Feedback {
		if g.Feedback[i].ID == feedbackID {
			return &g.Feedback[i]
		}
	}
	return nil
}

// OpenFeedbackForSeat returns the seat's feedback still awaiting a requester
// response, or nil. At most one exists per seat.
func (g *Graph) OpenFeedbackForSeat(seatID string) *model.ReturnFeedback {
	for i := range g.Feedback {
		if g.Feedback[i].SeatID == seatID && g.Feedback[i].RequesterTakeAction {
			return &g.Feedback[i]
		}
	}
	return nil
}

// Mutation is the unit of change applied atomically to one workflow. The
// embedded Workflow carries the expected version for the optimistic lock;
// all slices may be empty.
type Mutation struct {
	Workflow                 model.Workflow
	DeleteSeatIDs            []string
	UpsertSeats              []model.Seat
	UpsertResponses          []model.Response
	InsertFeedback           []model.ReturnFeedback
	UpdateFeedback           []model.ReturnFeedback
	InsertRequesterResponses []model.RequesterResponse
	AppendLogs               []model.WorkflowLog
}
