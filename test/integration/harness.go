// Package integration provides a reusable test harness for end-to-end
// integration testing of the Ruzuku approval server. It starts a full HTTP
// server with an in-memory store, an in-memory identity directory, and a
// test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pitabwire/ruzuku/internal/config"
	"github.com/pitabwire/ruzuku/internal/identity"
	"github.com/pitabwire/ruzuku/internal/notify"
	"github.com/pitabwire/ruzuku/internal/observability"
	"github.com/pitabwire/ruzuku/internal/transport"
	"github.com/pitabwire/ruzuku/internal/workflow"
)

// TestHarness encapsulates a fully wired approval server instance for
// integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Store     *workflow.MemoryStore
	Directory *identity.MemoryDirectory
	Notifier  *notify.MemoryNotifier
	Engine    *workflow.Engine

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	missedPolicy   string
	clock          func() time.Time
	people         []identity.Person
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithMissedPolicy sets the engine's missed seat policy.
func WithMissedPolicy(policy string) HarnessOption {
	return func(c *harnessConfig) {
		c.missedPolicy = policy
	}
}

// WithClock overrides the engine's time source.
func WithClock(clock func() time.Time) HarnessOption {
	return func(c *harnessConfig) {
		c.clock = clock
	}
}

// WithPeople replaces the default directory population.
func WithPeople(people ...identity.Person) HarnessOption {
	return func(c *harnessConfig) {
		c.people = people
	}
}

// defaultPeople is the directory population used when WithPeople is not given.
func defaultPeople() []identity.Person {
	return []identity.Person{
		{ID: "requester-1", DisplayName: "Asha Mwangi", Email: "asha@example.com", Role: "finance_officer"},
		{ID: "approver-1", DisplayName: "Biko Otieno", Email: "biko@example.com", Role: "dean"},
		{ID: "approver-2", DisplayName: "Chao Nyambura", Email: "chao@example.com", Role: "bursar"},
		{ID: "approver-3", DisplayName: "Dada Wekesa", Email: "dada@example.com", Role: "registrar"},
	}
}

// NewTestHarness creates and starts a full approval server test instance.
// The server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		missedPolicy:   workflow.MissedPolicyFail,
		people:         defaultPeople(),
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// Step 1: Build in-memory components.
	h.Store = workflow.NewMemoryStore()
	h.Directory = identity.NewMemoryDirectory(hc.people...)
	h.Notifier = notify.NewMemoryNotifier()

	// Step 2: Build the engine.
	engineOpts := []workflow.Option{
		workflow.WithNotifier(h.Notifier),
		workflow.WithMissedPolicy(hc.missedPolicy),
	}
	if hc.clock != nil {
		engineOpts = append(engineOpts, workflow.WithClock(hc.clock))
	}
	h.Engine = workflow.NewEngine(h.Store, h.Directory, engineOpts...)

	// Step 3: Create the JWT issuer.
	h.issuer = newTokenIssuer(t)

	// Step 4: Build config.
	h.cfg = &config.Config{
		Server: config.ServerConfig{
			Port:           0, // unused, httptest picks a port
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			HandlerTimeout: hc.handlerTimeout,
			CORS: config.CORSConfig{
				AllowedOrigins: []string{"http://localhost:3000"},
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: config.IdentityConfig{
			Issuer:     h.issuer.Issuer(),
			Audience:   h.issuer.Audience(),
			JWKSURL:    h.issuer.JWKSURL(),
			Algorithms: []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"email":      "email",
				"roles":      "roles",
			},
		},
	}

	// Step 5: Build the router with the full middleware chain.
	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Engine:       h.Engine,
		Readiness: observability.ReadinessChecks{
			DirectoryLoaded: func() bool { return true },
			WorkflowStore:   h.Store,
		},
	})

	// Step 6: Start the test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

// PATCH performs an authenticated PATCH request with a JSON body.
func (h *TestHarness) PATCH(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PATCH", path, body, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// RequesterClaims returns TestClaims for the default requester.
func RequesterClaims() TestClaims {
	return TestClaims{
		SubjectID: "requester-1",
		TenantID:  "tenant-1",
		Email:     "asha@example.com",
		Roles:     []string{"finance_officer"},
	}
}

// ApproverClaims returns TestClaims for one of the default approvers.
func ApproverClaims(id string) TestClaims {
	return TestClaims{
		SubjectID: id,
		TenantID:  "tenant-1",
		Roles:     []string{"approver"},
	}
}

// --- Request fixtures ---

// CreateWorkflowFixture returns a create request body with a due date two
// weeks out and the given approver chain.
func CreateWorkflowFixture(approvers ...string) map[string]any {
	specs := make([]map[string]any, len(approvers))
	for i, a := range approvers {
		specs[i] = map[string]any{"identity": a}
	}
	return map[string]any{
		"title":        "Scholarship disbursement Q3",
		"description":  "Disbursement for the fall cohort",
		"document_ref": "doc://disbursements/q3",
		"due_date":     time.Now().UTC().Add(14 * 24 * time.Hour).Format(time.RFC3339),
		"context": map[string]string{
			"school_year": "2026",
			"semester":    "fall",
		},
		"approvers": specs,
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
