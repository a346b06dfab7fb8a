package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/ruzuku/internal/config"
	"github.com/pitabwire/ruzuku/internal/observability"
	"github.com/pitabwire/ruzuku/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Authenticate func(http.Handler) http.Handler
	Engine       *workflow.Engine
	Metrics      *observability.Metrics
	Readiness    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		WriteNotFound(w, "no such route")
	})

	// Global middleware: applied to all routes including health.
	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}

	// Public routes bypass authentication.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	// Authenticated routes get the full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(deps.Config.Identity.ClaimPaths))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Post("/api/workflows", handleWorkflowCreate(deps.Engine))
		r.Get("/api/workflows", handleWorkflowList(deps.Engine))
		r.Get("/api/workflows/{workflowId}", handleWorkflowGet(deps.Engine))
		r.Patch("/api/workflows/{workflowId}", handleWorkflowEdit(deps.Engine))
		r.Post("/api/workflows/{workflowId}/cancel", handleWorkflowCancel(deps.Engine))
		r.Post("/api/workflows/{workflowId}/seats/{seatId}/decision", handleDecision(deps.Engine))
		r.Post("/api/workflows/{workflowId}/seats/{seatId}/reassign", handleReassign(deps.Engine))
		r.Post("/api/returns/{returnId}/response", handleReturnResponse(deps.Engine))
		r.Get("/api/approvals/pending", handlePendingApprovals(deps.Engine))
	})

	return r
}
