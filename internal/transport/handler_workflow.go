package transport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/ruzuku/internal/workflow"
	"github.com/pitabwire/ruzuku/model"
)

type approverBody struct {
	Identity string     `json:"identity"`
	DueDate  *time.Time `json:"due_date,omitempty"`
}

type createWorkflowBody struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	DocumentRef string            `json:"document_ref"`
	DueDate     time.Time         `json:"due_date"`
	Context     model.ContextTags `json:"context"`
	Approvers   []approverBody    `json:"approvers"`
}

func handleWorkflowCreate(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body createWorkflowBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		req := workflow.CreateRequest{
			Title:          body.Title,
			Description:    body.Description,
			DocumentRef:    body.DocumentRef,
			DueDate:        body.DueDate,
			Context:        body.Context,
			IdempotencyKey: r.Header.Get("X-Idempotency-Key"),
		}
		for _, a := range body.Approvers {
			req.Approvers = append(req.Approvers, workflow.ApproverSpec{
				Identity: a.Identity,
				DueDate:  a.DueDate,
			})
		}

		detail, err := engine.Create(r.Context(), rctx, req)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, detail)
	}
}

func handleWorkflowGet(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		workflowID := chi.URLParam(r, "workflowId")

		detail, err := engine.Get(r.Context(), rctx, workflowID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, detail)
	}
}

func handleWorkflowEdit(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		workflowID := chi.URLParam(r, "workflowId")

		var body struct {
			Title       *string        `json:"title"`
			Description *string        `json:"description"`
			DocumentRef *string        `json:"document_ref"`
			DueDate     *time.Time     `json:"due_date"`
			Approvers   []approverBody `json:"approvers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		req := workflow.EditRequest{
			Title:       body.Title,
			Description: body.Description,
			DocumentRef: body.DocumentRef,
			DueDate:     body.DueDate,
		}
		for _, a := range body.Approvers {
			req.Approvers = append(req.Approvers, workflow.ApproverSpec{
				Identity: a.Identity,
				DueDate:  a.DueDate,
			})
		}

		detail, err := engine.Edit(r.Context(), rctx, workflowID, req)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, detail)
	}
}

func handleWorkflowCancel(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		workflowID := chi.URLParam(r, "workflowId")

		var body struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		detail, err := engine.Cancel(r.Context(), rctx, workflowID, body.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, detail)
	}
}

func handleWorkflowList(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		filters := model.WorkflowFilters{
			Status:      model.WorkflowStatus(r.URL.Query().Get("status")),
			RequesterID: r.URL.Query().Get("requester_id"),
			Page:        queryInt(r, "page", 1),
			PageSize:    queryInt(r, "page_size", 20),
		}

		summaries, err := engine.List(r.Context(), rctx, filters)
		if err != nil {
			WriteError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"data":      summaries,
			"page":      filters.Page,
			"page_size": filters.PageSize,
		})
	}
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
