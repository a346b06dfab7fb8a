package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrRateLimited     = "RATE_LIMITED"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Approval-specific error codes. These are stable API contract values.
const (
	ErrNotCurrentApprover   = "NOT_CURRENT_APPROVER"
	ErrAlreadyDecided       = "ALREADY_DECIDED"
	ErrSeatNotReassignable  = "SEAT_NOT_REASSIGNABLE"
	ErrNoActionPending      = "NO_ACTION_PENDING"
	ErrInvalidDueDateWindow = "INVALID_DUE_DATE_WINDOW"
	ErrIdentityNotFound     = "IDENTITY_NOT_FOUND"
	ErrMissingReason        = "MISSING_REASON"
	ErrInvalidResponse      = "INVALID_RESPONSE"
	ErrWorkflowNotEditable  = "WORKFLOW_NOT_EDITABLE"
)

// ErrorEnvelope is the standard error response envelope returned by the
// service. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewRateLimitedError returns a RATE_LIMITED error.
func NewRateLimitedError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRateLimited,
		Message: "Rate limit exceeded. Please try again later.",
	}
}

// NewNotCurrentApproverError returns a NOT_CURRENT_APPROVER error for a
// caller who holds a seat that is not the chain's current one.
func NewNotCurrentApproverError(identity string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNotCurrentApprover,
		Message: fmt.Sprintf("identity %q is not the current approver", identity),
	}
}

// NewAlreadyDecidedError returns an ALREADY_DECIDED error.
func NewAlreadyDecidedError(seatID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrAlreadyDecided,
		Message: fmt.Sprintf("seat %s has already recorded a final decision", seatID),
	}
}

// NewSeatNotReassignableError returns a SEAT_NOT_REASSIGNABLE error.
func NewSeatNotReassignableError(seatID string, status SeatStatus) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSeatNotReassignable,
		Message: fmt.Sprintf("seat %s in status %q cannot be reassigned", seatID, status),
	}
}

// NewNoActionPendingError returns a NO_ACTION_PENDING error for a requester
// response aimed at feedback that is not awaiting one.
func NewNoActionPendingError(feedbackID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNoActionPending,
		Message: fmt.Sprintf("feedback %s is not awaiting a requester response", feedbackID),
	}
}

// NewInvalidDueDateWindowError returns an INVALID_DUE_DATE_WINDOW error with
// field-level details.
func NewInvalidDueDateWindowError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidDueDateWindow,
		Message: "Seat due dates must be ordered and fall between today and the workflow due date",
		Details: details,
	}
}

// NewIdentityNotFoundError returns an IDENTITY_NOT_FOUND error.
func NewIdentityNotFoundError(identity string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrIdentityNotFound,
		Message: fmt.Sprintf("identity %q is not known to the directory", identity),
	}
}

// NewMissingReasonError returns a MISSING_REASON error.
func NewMissingReasonError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrMissingReason,
		Message: "A reason is required for this action",
	}
}

// NewInvalidResponseError returns an INVALID_RESPONSE error.
func NewInvalidResponseError(value string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidResponse,
		Message: fmt.Sprintf("%q is not a valid decision", value),
	}
}

// NewWorkflowNotEditableError returns a WORKFLOW_NOT_EDITABLE error.
func NewWorkflowNotEditableError(id string, status WorkflowStatus) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWorkflowNotEditable,
		Message: fmt.Sprintf("workflow %s in status %q cannot be modified", id, status),
	}
}
