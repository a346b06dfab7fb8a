package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/ruzuku/internal/workflow"
	"github.com/pitabwire/ruzuku/model"
)

func handleReturnResponse(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		feedbackID := chi.URLParam(r, "returnId")

		var body struct {
			Message string `json:"message"`
			FileRef string `json:"file_ref"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		detail, err := engine.RespondToReturn(r.Context(), rctx, feedbackID, body.Message, body.FileRef)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, detail)
	}
}

func handlePendingApprovals(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		pending, err := engine.PendingApprovals(r.Context(), rctx)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": pending})
	}
}
