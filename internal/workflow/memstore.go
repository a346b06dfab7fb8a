package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/ruzuku/model"
)

// MemoryStore is an in-memory Store for testing and single-node deployments.
type MemoryStore struct {
	mu                 sync.RWMutex
	workflows          map[string]model.Workflow            // key: workflow ID
	seats              map[string][]model.Seat              // key: workflow ID
	responses          map[string]model.Response            // key: seat ID
	feedback           map[string][]model.ReturnFeedback    // key: workflow ID
	requesterResponses map[string][]model.RequesterResponse // key: feedback ID
	logs               map[string][]model.WorkflowLog       // key: workflow ID
}

// NewMemoryStore creates a new in-memory workflow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:          make(map[string]model.Workflow),
		seats:              make(map[string][]model.Seat),
		responses:          make(map[string]model.Response),
		feedback:           make(map[string][]model.ReturnFeedback),
		requesterResponses: make(map[string][]model.RequesterResponse),
		logs:               make(map[string][]model.WorkflowLog),
	}
}

// CreateGraph persists a new workflow with its seats and responses.
func (s *MemoryStore) CreateGraph(_ context.Context, g *Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[g.Workflow.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("workflow %q already exists", g.Workflow.ID),
		)
	}

	s.workflows[g.Workflow.ID] = g.Workflow
	seats := make([]model.Seat, len(g.Seats))
	copy(seats, g.Seats)
	s.seats[g.Workflow.ID] = seats
	for _, r := range g.Responses {
		s.responses[r.SeatID] = r
	}
	return nil
}

// GetGraph loads a workflow and all dependent rows, scoped to tenant.
func (s *MemoryStore) GetGraph(_ context.Context, tenantID, workflowID string) (*Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buildGraph(tenantID, workflowID)
}

// GetGraphBySeat loads the graph owning the given seat.
func (s *MemoryStore) GetGraphBySeat(_ context.Context, tenantID, seatID string) (*Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for workflowID, seats := range s.seats {
		for _, seat := range seats {
			if seat.ID == seatID {
				return s.buildGraph(tenantID, workflowID)
			}
		}
	}
	return nil, model.NewNotFoundError(fmt.Sprintf("seat %q not found", seatID))
}

// GetGraphByFeedback loads the graph owning the given return feedback.
func (s *MemoryStore) GetGraphByFeedback(_ context.Context, tenantID, feedbackID string) (*Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for workflowID, items := range s.feedback {
		for _, fb := range items {
			if fb.ID == feedbackID {
				return s.buildGraph(tenantID, workflowID)
			}
		}
	}
	return nil, model.NewNotFoundError(fmt.Sprintf("feedback %q not found", feedbackID))
}

// FindByIdempotencyKey returns the workflow previously created with the key.
func (s *MemoryStore) FindByIdempotencyKey(_ context.Context, tenantID, requesterID, key string) (*Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, wf := range s.workflows {
		if wf.TenantID == tenantID && wf.RequesterID == requesterID && wf.IdempotencyKey == key {
			return s.buildGraph(tenantID, wf.ID)
		}
	}
	return nil, model.NewNotFoundError(
		fmt.Sprintf("no workflow for idempotency key %q", key),
	)
}

// Apply commits a mutation with optimistic locking on the workflow row.
func (s *MemoryStore) Apply(_ context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.workflows[m.Workflow.ID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", m.Workflow.ID),
		)
	}

	// Optimistic lock check.
	if existing.Version != m.Workflow.Version {
		return model.NewConflictError(
			fmt.Sprintf("workflow %q version conflict (expected %d, got %d)", m.Workflow.ID, m.Workflow.Version, existing.Version),
		)
	}

	wf := m.Workflow
	wf.Version++
	wf.UpdatedAt = time.Now().UTC()
	s.workflows[wf.ID] = wf

	for _, id := range m.DeleteSeatIDs {
		seats := s.seats[wf.ID]
		for i := range seats {
			if seats[i].ID == id {
				seats = append(seats[:i], seats[i+1:]...)
				break
			}
		}
		s.seats[wf.ID] = seats
		delete(s.responses, id)
	}
	for _, upd := range m.UpsertSeats {
		seats := s.seats[wf.ID]
		replaced := false
		for i := range seats {
			if seats[i].ID == upd.ID {
				seats[i] = upd
				replaced = true
				break
			}
		}
		if !replaced {
			seats = append(seats, upd)
		}
		s.seats[wf.ID] = seats
	}
	for _, r := range m.UpsertResponses {
		s.responses[r.SeatID] = r
	}
	for _, fb := range m.InsertFeedback {
		s.feedback[wf.ID] = append(s.feedback[wf.ID], fb)
	}
	for _, upd := range m.UpdateFeedback {
		items := s.feedback[wf.ID]
		for i := range items {
			if items[i].ID == upd.ID {
				items[i] = upd
			}
		}
	}
	for _, rr := range m.InsertRequesterResponses {
		s.requesterResponses[rr.FeedbackID] = append(s.requesterResponses[rr.FeedbackID], rr)
	}
	for _, entry := range m.AppendLogs {
		s.logs[wf.ID] = append(s.logs[wf.ID], entry)
	}
	return nil
}

// GetLogs retrieves the audit trail for a workflow, oldest first.
func (s *MemoryStore) GetLogs(_ context.Context, tenantID, workflowID string) ([]model.WorkflowLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, exists := s.workflows[workflowID]
	if !exists || wf.TenantID != tenantID {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", workflowID),
		)
	}

	entries := s.logs[workflowID]
	result := make([]model.WorkflowLog, len(entries))
	copy(result, entries)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// List returns workflow summaries for a tenant, newest first.
func (s *MemoryStore) List(_ context.Context, tenantID string, filters model.WorkflowFilters) ([]model.WorkflowSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowSummary
	for _, wf := range s.workflows {
		if wf.TenantID != tenantID {
			continue
		}
		if filters.Status != "" && wf.Status != filters.Status {
			continue
		}
		if filters.RequesterID != "" && wf.RequesterID != filters.RequesterID {
			continue
		}
		result = append(result, model.WorkflowSummary{
			ID:          wf.ID,
			RequesterID: wf.RequesterID,
			Title:       wf.Title,
			Status:      wf.Status,
			DueDate:     wf.DueDate,
			Context:     wf.Context,
			CreatedAt:   wf.CreatedAt,
			UpdatedAt:   wf.UpdatedAt,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	// Apply pagination.
	if filters.PageSize > 0 {
		page := filters.Page
		if page < 1 {
			page = 1
		}
		offset := (page - 1) * filters.PageSize
		if offset >= len(result) {
			return []model.WorkflowSummary{}, nil
		}
		result = result[offset:]
		if filters.PageSize < len(result) {
			result = result[:filters.PageSize]
		}
	}

	return result, nil
}

// FindOverdue returns graphs whose awaiting seat is past the cutoff.
func (s *MemoryStore) FindOverdue(_ context.Context, cutoff time.Time) ([]*Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Graph
	for id, wf := range s.workflows {
		if wf.Status.Terminal() {
			continue
		}
		for _, seat := range s.seats[id] {
			awaiting := seat.Status == model.SeatStatusCurrent || seat.Status == model.SeatStatusReturned
			if awaiting && seat.DueDate.Before(cutoff) {
				g, err := s.buildGraph(wf.TenantID, id)
				if err != nil {
					return nil, err
				}
				result = append(result, g)
				break
			}
		}
	}
	return result, nil
}

// PendingForIdentity returns the approval inbox for an identity.
func (s *MemoryStore) PendingForIdentity(_ context.Context, tenantID, identity string) ([]model.PendingApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PendingApproval
	for id, wf := range s.workflows {
		if wf.TenantID != tenantID || wf.Status.Terminal() {
			continue
		}
		for _, seat := range s.seats[id] {
			if seat.Identity == identity && seat.Status == model.SeatStatusCurrent {
				result = append(result, model.PendingApproval{
					WorkflowID:    wf.ID,
					WorkflowTitle: wf.Title,
					RequesterID:   wf.RequesterID,
					SeatID:        seat.ID,
					Order:         seat.Order,
					DueDate:       seat.DueDate,
				})
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DueDate.Before(result[j].DueDate)
	})
	return result, nil
}

// HealthCheck reports store health. The in-memory store is always healthy.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// Len returns the total number of workflows. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workflows)
}

// buildGraph assembles a graph snapshot. Caller must hold at least a read
// lock.
func (s *MemoryStore) buildGraph(tenantID, workflowID string) (*Graph, error) {
	wf, exists := s.workflows[workflowID]
	if !exists || wf.TenantID != tenantID {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", workflowID),
		)
	}

	g := &Graph{Workflow: wf}
	g.Seats = make([]model.Seat, len(s.seats[workflowID]))
	copy(g.Seats, s.seats[workflowID])
	g.SortSeats()

	for _, seat := range g.Seats {
		if r, ok := s.responses[seat.ID]; ok {
			g.Responses = append(g.Responses, r)
		}
	}
	g.Feedback = append(g.Feedback, s.feedback[workflowID]...)
	for _, fb := range g.Feedback {
		g.RequesterResponses = append(g.RequesterResponses, s.requesterResponses[fb.ID]...)
	}
	return g, nil
}
