// Package api serves cost queries, the dashboard summary, logins and import
// triggers over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lvonguyen/cloudspend/internal/aggregator"
	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
	"github.com/lvonguyen/cloudspend/internal/ingest"
)

// CostService answers grouped cost and summary queries.
// *aggregator.Engine satisfies it.
type CostService interface {
	GroupCosts(ctx context.Context, req aggregator.Request) ([]aggregator.GroupResult, error)
	Summary(ctx context.Context, tenantID uuid.UUID) (aggregator.Summary, error)
}

// Authenticator checks login credentials
type Authenticator interface {
	Login(ctx context.Context, username, password string) error
}

// ImportRunner runs one import pass. *ingest.Dispatcher satisfies it.
type ImportRunner interface {
	Run(ctx context.Context) (*ingest.Report, error)
}

// LoginRequest is the body of POST /api/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Handler holds the HTTP handlers
type Handler struct {
	costs   CostService
	auth    Authenticator
	imports ImportRunner
	logger  *zap.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	running bool
	last    *ingest.Report
	done    chan struct{}
}

// NewHandler creates a new Handler. imports may be nil, in which case the
// import routes answer 503.
func NewHandler(costs CostService, auth Authenticator, imports ImportRunner, logger *zap.Logger, tracer trace.Tracer) *Handler {
	return &Handler{
		costs:   costs,
		auth:    auth,
		imports: imports,
		logger:  logger,
		tracer:  tracer,
	}
}

// HandleCosts serves POST /api/costs
func (h *Handler) HandleCosts(w http.ResponseWriter, r *http.Request) {
	var req aggregator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "api.costs")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", req.TenantID),
		attribute.String("group_by", req.GroupBy),
	)

	results, err := h.costs.GroupCosts(ctx, req)
	if err != nil {
		span.RecordError(err)
		h.writeError(w, err)
		return
	}
	if results == nil {
		results = []aggregator.GroupResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// HandleSummary serves GET /api/dashboard/summary?tenant_id=
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("tenant_id")
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, ferrors.Input("tenant_id must be a UUID"))
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "api.summary")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", raw))

	summary, err := h.costs.Summary(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleLogin serves POST /api/login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.auth.Login(r.Context(), req.Username, req.Password); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Login successful"})
}

// HandleRunImport serves POST /api/imports/run. At most one run is in
// flight; a second trigger while one is running gets 409.
func (h *Handler) HandleRunImport(w http.ResponseWriter, r *http.Request) {
	if h.imports == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "imports are not configured"})
		return
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "import already running"})
		return
	}
	h.running = true
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()

	// the run outlives the request
	ctx := context.WithoutCancel(r.Context())
	go func() {
		defer close(done)
		report, err := h.imports.Run(ctx)
		if err != nil {
			h.logger.Error("Import run failed", zap.Error(err))
		}

		h.mu.Lock()
		h.running = false
		if report != nil {
			h.last = report
		}
		h.mu.Unlock()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleLastImport serves GET /api/imports/last
func (h *Handler) HandleLastImport(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()

	if last == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no import has completed"})
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// Wait blocks until the in-flight import run, if any, finishes
func (h *Handler) Wait() {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch ferrors.TypeOf(err) {
	case ferrors.TypeInput, ferrors.TypeInvalidGroupBy:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case ferrors.TypeAuthenticationRejected:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
	default:
		h.logger.Error("Request failed", zap.Error(err), zap.String("error_type", string(ferrors.TypeOf(err))))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
