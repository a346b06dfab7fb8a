package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/ruzuku/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. All writes for one
// workflow go through a transaction guarded by the workflow row's version.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL workflow store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const workflowColumns = `id, tenant_id, requester_id, title, description, document_ref,
       due_date, school_year, semester, scholar_level, status, idempotency_key,
       created_at, updated_at, completed_at, version`

// CreateGraph inserts a workflow with its seats and blank responses.
func (s *PgStore) CreateGraph(ctx context.Context, g *Graph) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	wf := g.Workflow
	_, err = tx.Exec(ctx, `
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		wf.ID, wf.TenantID, wf.RequesterID, wf.Title, wf.Description, wf.DocumentRef,
		wf.DueDate, wf.Context.SchoolYear, wf.Context.Semester, wf.Context.ScholarLevel,
		wf.Status, wf.IdempotencyKey, wf.CreatedAt, wf.UpdatedAt, wf.CompletedAt, wf.Version,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	for _, seat := range g.Seats {
		if err := upsertSeat(ctx, tx, seat); err != nil {
			return err
		}
	}
	for _, r := range g.Responses {
		if err := upsertResponse(ctx, tx, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

// GetGraph loads a workflow and all dependent rows, scoped to tenant.
func (s *PgStore) GetGraph(ctx context.Context, tenantID, workflowID string) (*Graph, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE id = $1 AND tenant_id = $2`,
		workflowID, tenantID,
	)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", workflowID),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query workflow: %w", err)
	}
	return s.loadDependents(ctx, wf)
}

// GetGraphBySeat loads the graph owning the given seat.
func (s *PgStore) GetGraphBySeat(ctx context.Context, tenantID, seatID string) (*Graph, error) {
	var workflowID string
	err := s.pool.QueryRow(ctx, `
		SELECT w.id
		FROM seats a JOIN workflows w ON w.id = a.workflow_id
		WHERE a.id = $1 AND w.tenant_id = $2`,
		seatID, tenantID,
	).Scan(&workflowID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewNotFoundError(fmt.Sprintf("seat %q not found", seatID))
	}
	if err != nil {
		return nil, fmt.Errorf("query seat owner: %w", err)
	}
	return s.GetGraph(ctx, tenantID, workflowID)
}

// GetGraphByFeedback loads the graph owning the given return feedback.
func (s *PgStore) GetGraphByFeedback(ctx context.Context, tenantID, feedbackID string) (*Graph, error) {
	var workflowID string
	err := s.pool.QueryRow(ctx, `
		SELECT w.id
		FROM return_feedback f JOIN workflows w ON w.id = f.workflow_id
		WHERE f.id = $1 AND w.tenant_id = $2`,
		feedbackID, tenantID,
	).Scan(&workflowID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewNotFoundError(fmt.Sprintf("feedback %q not found", feedbackID))
	}
	if err != nil {
		return nil, fmt.Errorf("query feedback owner: %w", err)
	}
	return s.GetGraph(ctx, tenantID, workflowID)
}

// FindByIdempotencyKey returns the workflow previously created with the key.
func (s *PgStore) FindByIdempotencyKey(ctx context.Context, tenantID, requesterID, key string) (*Graph, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE tenant_id = $1 AND requester_id = $2 AND idempotency_key = $3`,
		tenantID, requesterID, key,
	)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("no workflow for idempotency key %q", key),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query workflow by idempotency key: %w", err)
	}
	return s.loadDependents(ctx, wf)
}

// Apply commits a mutation in one transaction with optimistic locking.
func (s *PgStore) Apply(ctx context.Context, m Mutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback(ctx)

	wf := m.Workflow
	tag, err := tx.Exec(ctx, `
		UPDATE workflows SET
			title = $1, description = $2, document_ref = $3, due_date = $4,
			school_year = $5, semester = $6, scholar_level = $7,
			status = $8, updated_at = $9, completed_at = $10, version = $11
		WHERE id = $12 AND version = $13`,
		wf.Title, wf.Description, wf.DocumentRef, wf.DueDate,
		wf.Context.SchoolYear, wf.Context.Semester, wf.Context.ScholarLevel,
		wf.Status, time.Now().UTC(), wf.CompletedAt, wf.Version+1,
		wf.ID, wf.Version,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("workflow %q version conflict (expected %d)", wf.ID, wf.Version),
		)
	}

	if len(m.DeleteSeatIDs) > 0 {
		// Responses hang off seats, so they go first.
		if _, err := tx.Exec(ctx, `
			DELETE FROM responses WHERE seat_id = ANY($1)`,
			m.DeleteSeatIDs,
		); err != nil {
			return fmt.Errorf("delete responses: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM seats WHERE id = ANY($1)`,
			m.DeleteSeatIDs,
		); err != nil {
			return fmt.Errorf("delete seats: %w", err)
		}
	}
	for _, seat := range m.UpsertSeats {
		if err := upsertSeat(ctx, tx, seat); err != nil {
			return err
		}
	}
	for _, r := range m.UpsertResponses {
		if err := upsertResponse(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, fb := range m.InsertFeedback {
		_, err := tx.Exec(ctx, `
			INSERT INTO return_feedback (
				id, workflow_id, seat_id, reason, created_by, requester_take_action, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			fb.ID, fb.WorkflowID, fb.SeatID, fb.Reason, fb.CreatedBy, fb.RequesterTakeAction, fb.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert feedback: %w", err)
		}
	}
	for _, fb := range m.UpdateFeedback {
		_, err := tx.Exec(ctx, `
			UPDATE return_feedback SET seat_id = $1, requester_take_action = $2
			WHERE id = $3`,
			fb.SeatID, fb.RequesterTakeAction, fb.ID,
		)
		if err != nil {
			return fmt.Errorf("update feedback: %w", err)
		}
	}
	for _, rr := range m.InsertRequesterResponses {
		_, err := tx.Exec(ctx, `
			INSERT INTO requester_responses (
				id, feedback_id, message, file_ref, responder_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6)`,
			rr.ID, rr.FeedbackID, rr.Message, rr.FileRef, rr.ResponderID, rr.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert requester response: %w", err)
		}
	}
	for _, entry := range m.AppendLogs {
		_, err := tx.Exec(ctx, `
			INSERT INTO workflow_logs (
				id, workflow_id, seat_id, actor_id, actor_type, action,
				old_status, new_status, old_seat_status, new_seat_status, comment, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			entry.ID, entry.WorkflowID, entry.SeatID, entry.ActorID, entry.ActorType, entry.Action,
			entry.OldStatus, entry.NewStatus, entry.OldSeatStatus, entry.NewSeatStatus, entry.Comment, entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert workflow log: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

// GetLogs retrieves the audit trail for a workflow, oldest first.
func (s *PgStore) GetLogs(ctx context.Context, tenantID, workflowID string) ([]model.WorkflowLog, error) {
	// Verify tenant access.
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT true FROM workflows WHERE id = $1 AND tenant_id = $2`,
		workflowID, tenantID,
	).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", workflowID),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query workflow: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, seat_id, actor_id, actor_type, action,
		       old_status, new_status, old_seat_status, new_seat_status, comment, created_at
		FROM workflow_logs
		WHERE workflow_id = $1
		ORDER BY created_at ASC`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow logs: %w", err)
	}
	defer rows.Close()

	var entries []model.WorkflowLog
	for rows.Next() {
		var entry model.WorkflowLog
		if err := rows.Scan(
			&entry.ID, &entry.WorkflowID, &entry.SeatID, &entry.ActorID, &entry.ActorType, &entry.Action,
			&entry.OldStatus, &entry.NewStatus, &entry.OldSeatStatus, &entry.NewSeatStatus, &entry.Comment, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow log: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// List returns workflow summaries for a tenant, newest first.
func (s *PgStore) List(ctx context.Context, tenantID string, filters model.WorkflowFilters) ([]model.WorkflowSummary, error) {
	query := `SELECT id, requester_id, title, status, due_date,
	                 school_year, semester, scholar_level, created_at, updated_at
	          FROM workflows
	          WHERE tenant_id = $1`
	args := []any{tenantID}
	argIdx := 2

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}
	if filters.RequesterID != "" {
		query += fmt.Sprintf(" AND requester_id = $%d", argIdx)
		args = append(args, filters.RequesterID)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filters.PageSize > 0 {
		page := filters.Page
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
		args = append(args, filters.PageSize, (page-1)*filters.PageSize)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var result []model.WorkflowSummary
	for rows.Next() {
		var sum model.WorkflowSummary
		if err := rows.Scan(
			&sum.ID, &sum.RequesterID, &sum.Title, &sum.Status, &sum.DueDate,
			&sum.Context.SchoolYear, &sum.Context.Semester, &sum.Context.ScholarLevel,
			&sum.CreatedAt, &sum.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow summary: %w", err)
		}
		result = append(result, sum)
	}
	return result, rows.Err()
}

// FindOverdue returns graphs whose awaiting seat is past the cutoff.
func (s *PgStore) FindOverdue(ctx context.Context, cutoff time.Time) ([]*Graph, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT w.tenant_id, w.id
		FROM workflows w JOIN seats a ON a.workflow_id = w.id
		WHERE w.status IN ('pending', 'in_progress')
		  AND a.status IN ('current', 'returned')
		  AND a.due_date < $1`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query overdue workflows: %w", err)
	}
	defer rows.Close()

	type key struct{ tenantID, workflowID string }
	var keys []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.tenantID, &k.workflowID); err != nil {
			return nil, fmt.Errorf("scan overdue workflow: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var result []*Graph
	for _, k := range keys {
		g, err := s.GetGraph(ctx, k.tenantID, k.workflowID)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, nil
}

// PendingForIdentity returns the approval inbox for an identity.
func (s *PgStore) PendingForIdentity(ctx context.Context, tenantID, identity string) ([]model.PendingApproval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.id, w.title, w.requester_id, a.id, a.seat_order, a.due_date
		FROM seats a JOIN workflows w ON w.id = a.workflow_id
		WHERE w.tenant_id = $1
		  AND a.identity = $2
		  AND a.status = 'current'
		  AND w.status IN ('pending', 'in_progress')
		ORDER BY a.due_date ASC`,
		tenantID, identity,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending approvals: %w", err)
	}
	defer rows.Close()

	var result []model.PendingApproval
	for rows.Next() {
		var p model.PendingApproval
		if err := rows.Scan(
			&p.WorkflowID, &p.WorkflowTitle, &p.RequesterID, &p.SeatID, &p.Order, &p.DueDate,
		); err != nil {
			return nil, fmt.Errorf("scan pending approval: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// loadDependents fills in seats, responses, feedback and requester responses
// for an already loaded workflow row.
func (s *PgStore) loadDependents(ctx context.Context, wf model.Workflow) (*Graph, error) {
	g := &Graph{Workflow: wf}

	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, identity, seat_order, status, due_date, assigned_at, is_reassigned
		FROM seats
		WHERE workflow_id = $1
		ORDER BY seat_order ASC`,
		wf.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query seats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var seat model.Seat
		if err := rows.Scan(
			&seat.ID, &seat.WorkflowID, &seat.Identity, &seat.Order,
			&seat.Status, &seat.DueDate, &seat.AssignedAt, &seat.IsReassigned,
		); err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		g.Seats = append(g.Seats, seat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	respRows, err := s.pool.Query(ctx, `
		SELECT r.id, r.seat_id, r.decision, r.comment, r.responded_at, r.updated_at
		FROM responses r JOIN seats a ON a.id = r.seat_id
		WHERE a.workflow_id = $1`,
		wf.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer respRows.Close()
	for respRows.Next() {
		var r model.Response
		if err := respRows.Scan(
			&r.ID, &r.SeatID, &r.Decision, &r.Comment, &r.RespondedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		g.Responses = append(g.Responses, r)
	}
	if err := respRows.Err(); err != nil {
		return nil, err
	}

	fbRows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, seat_id, reason, created_by, requester_take_action, created_at
		FROM return_feedback
		WHERE workflow_id = $1
		ORDER BY created_at ASC`,
		wf.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer fbRows.Close()
	for fbRows.Next() {
		var fb model.ReturnFeedback
		if err := fbRows.Scan(
			&fb.ID, &fb.WorkflowID, &fb.SeatID, &fb.Reason, &fb.CreatedBy, &fb.RequesterTakeAction, &fb.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		g.Feedback = append(g.Feedback, fb)
	}
	if err := fbRows.Err(); err != nil {
		return nil, err
	}

	rrRows, err := s.pool.Query(ctx, `
		SELECT rr.id, rr.feedback_id, rr.message, rr.file_ref, rr.responder_id, rr.created_at
		FROM requester_responses rr JOIN return_feedback f ON f.id = rr.feedback_id
		WHERE f.workflow_id = $1
		ORDER BY rr.created_at ASC`,
		wf.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query requester responses: %w", err)
	}
	defer rrRows.Close()
	for rrRows.Next() {
		var rr model.RequesterResponse
		if err := rrRows.Scan(
			&rr.ID, &rr.FeedbackID, &rr.Message, &rr.FileRef, &rr.ResponderID, &rr.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan requester response: %w", err)
		}
		g.RequesterResponses = append(g.RequesterResponses, rr)
	}
	return g, rrRows.Err()
}

func scanWorkflow(row pgx.Row) (model.Workflow, error) {
	var wf model.Workflow
	err := row.Scan(
		&wf.ID, &wf.TenantID, &wf.RequesterID, &wf.Title, &wf.Description, &wf.DocumentRef,
		&wf.DueDate, &wf.Context.SchoolYear, &wf.Context.Semester, &wf.Context.ScholarLevel,
		&wf.Status, &wf.IdempotencyKey, &wf.CreatedAt, &wf.UpdatedAt, &wf.CompletedAt, &wf.Version,
	)
	return wf, err
}

func upsertSeat(ctx context.Context, tx pgx.Tx, seat model.Seat) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO seats (
			id, workflow_id, identity, seat_order, status, due_date, assigned_at, is_reassigned
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			identity = EXCLUDED.identity,
			status = EXCLUDED.status,
			due_date = EXCLUDED.due_date,
			is_reassigned = EXCLUDED.is_reassigned`,
		seat.ID, seat.WorkflowID, seat.Identity, seat.Order,
		seat.Status, seat.DueDate, seat.AssignedAt, seat.IsReassigned,
	)
	if err != nil {
		return fmt.Errorf("upsert seat: %w", err)
	}
	return nil
}

func upsertResponse(ctx context.Context, tx pgx.Tx, r model.Response) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO responses (
			id, seat_id, decision, comment, responded_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (seat_id) DO UPDATE SET
			decision = EXCLUDED.decision,
			comment = EXCLUDED.comment,
			responded_at = EXCLUDED.responded_at,
			updated_at = EXCLUDED.updated_at`,
		r.ID, r.SeatID, r.Decision, r.Comment, r.RespondedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert response: %w", err)
	}
	return nil
}
