package model

import "time"

// WorkflowStatus is the lifecycle status of an approval workflow.
type WorkflowStatus string

// Workflow status values.
const (
	WorkflowStatusPending    WorkflowStatus = "pending"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
	WorkflowStatusCanceled   WorkflowStatus = "canceled"
)

// Terminal reports whether no further approver-driven transition can occur.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed || s == WorkflowStatusCanceled
}

// SeatStatus is the status of one ordered seat in a workflow's approver chain.
type SeatStatus string

// Seat status values. Replaced seats are retained forever for audit; they are
// never considered by the current-approver resolver.
const (
	SeatStatusPending   SeatStatus = "pending"
	SeatStatusCurrent   SeatStatus = "current"
	SeatStatusReturned  SeatStatus = "returned"
	SeatStatusCompleted SeatStatus = "completed"
	SeatStatusMissed    SeatStatus = "missed"
	SeatStatusReplaced  SeatStatus = "replaced"
	SeatStatusCanceled  SeatStatus = "canceled"
)

// Terminal reports whether the seat can no longer act. Returned is explicitly
// non-terminal: the seat re-arms once the requester responds.
func (s SeatStatus) Terminal() bool {
	return s == SeatStatusCompleted || s == SeatStatusMissed ||
		s == SeatStatusReplaced || s == SeatStatusCanceled
}

// Decision is an approver's recorded response value.
type Decision string

// Decision values.
const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionReturned Decision = "returned"
)

// Valid reports whether d is a decision an approver may submit.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected || d == DecisionReturned
}

// ContextTags carry school-year/semester/scholar-level context. The engine
// passes them through without interpreting them.
type ContextTags struct {
	SchoolYear   string `json:"school_year,omitempty"`
	Semester     string `json:"semester,omitempty"`
	ScholarLevel string `json:"scholar_level,omitempty"`
}

// Workflow is one request routed through an ordered approver chain.
type Workflow struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	RequesterID    string         `json:"requester_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	DocumentRef    string         `json:"document_ref,omitempty"`
	DueDate        time.Time      `json:"due_date"`
	Context        ContextTags    `json:"context"`
	Status         WorkflowStatus `json:"status"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Version        int            `json:"version"`
}

// Seat is one ordered position in a workflow's approver chain. Order is
// 1-based and unique per workflow; gaps may appear after reassignment.
type Seat struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	Identity     string     `json:"identity"`
	Order        int        `json:"order"`
	Status       SeatStatus `json:"status"`
	DueDate      time.Time  `json:"due_date"`
	AssignedAt   time.Time  `json:"assigned_at"`
	IsReassigned bool       `json:"is_reassigned"`
}

// Response is a seat's decision record. There is exactly one Response per
// seat; re-decision after a return overwrites it in place.
type Response struct {
	ID          string     `json:"id"`
	SeatID      string     `json:"seat_id"`
	Decision    Decision   `json:"decision"`
	Comment     string     `json:"comment,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ReturnFeedback is opened when an approver returns a request. It blocks
// forward progress until the requester responds. At most one open feedback
// (RequesterTakeAction = true) exists per seat at a time.
type ReturnFeedback struct {
	ID                  string    `json:"id"`
	WorkflowID          string    `json:"workflow_id"`
	SeatID              string    `json:"seat_id"`
	Reason              string    `json:"reason"`
	CreatedBy           string    `json:"created_by"`
	RequesterTakeAction bool      `json:"requester_take_action"`
	CreatedAt           time.Time `json:"created_at"`
}

// RequesterResponse is the requester's reply to a ReturnFeedback. Appending
// one flips the parent feedback's RequesterTakeAction to false and re-arms
// the same seat.
type RequesterResponse struct {
	ID          string    `json:"id"`
	FeedbackID  string    `json:"feedback_id"`
	Message     string    `json:"message"`
	FileRef     string    `json:"file_ref,omitempty"`
	ResponderID string    `json:"responder_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Actor types recorded in the workflow log.
const (
	ActorTypeRequester = "requester"
	ActorTypeApprover  = "approver"
	ActorTypeSystem    = "system"
)

// WorkflowLog is one entry in a workflow's append-only audit trail. Entries
// are never updated or deleted.
type WorkflowLog struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflow_id"`
	SeatID        string         `json:"seat_id,omitempty"`
	ActorID       string         `json:"actor_id"`
	ActorType     string         `json:"actor_type"`
	Action        string         `json:"action"`
	OldStatus     WorkflowStatus `json:"old_status"`
	NewStatus     WorkflowStatus `json:"new_status"`
	OldSeatStatus SeatStatus     `json:"old_seat_status,omitempty"`
	NewSeatStatus SeatStatus     `json:"new_seat_status,omitempty"`
	Comment       string         `json:"comment,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// SeatDetail pairs a seat with its response and any return feedback raised
// from it, for the detailed workflow view.
type SeatDetail struct {
	Seat     Seat             `json:"seat"`
	Response Response         `json:"response"`
	Feedback []FeedbackDetail `json:"feedback,omitempty"`
}

// FeedbackDetail pairs a return feedback with the requester responses it
// received.
type FeedbackDetail struct {
	Feedback  ReturnFeedback      `json:"feedback"`
	Responses []RequesterResponse `json:"responses,omitempty"`
}

// DetailedWorkflow is the full read model: workflow, ordered seats with
// responses and feedback history, and the audit log.
type DetailedWorkflow struct {
	Workflow Workflow      `json:"workflow"`
	Seats    []SeatDetail  `json:"seats"`
	Logs     []WorkflowLog `json:"logs"`
	Warnings []string      `json:"warnings,omitempty"`
}

// WorkflowSummary is a lightweight representation used in list views.
type WorkflowSummary struct {
	ID          string         `json:"id"`
	RequesterID string         `json:"requester_id"`
	Title       string         `json:"title"`
	Status      WorkflowStatus `json:"status"`
	DueDate     time.Time      `json:"due_date"`
	Context     ContextTags    `json:"context"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PendingApproval is one item in an approver's inbox: a seat currently
// awaiting the caller's decision.
type PendingApproval struct {
	WorkflowID    string    `json:"workflow_id"`
	WorkflowTitle string    `json:"workflow_title"`
	RequesterID   string    `json:"requester_id"`
	SeatID        string    `json:"seat_id"`
	Order         int       `json:"order"`
	DueDate       time.Time `json:"due_date"`
}

// WorkflowFilters are optional filters for listing workflows.
type WorkflowFilters struct {
	Status      WorkflowStatus
	RequesterID string
	Page        int
	PageSize    int
}
