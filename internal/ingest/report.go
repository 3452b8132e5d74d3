package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/lvonguyen/cloudspend/internal/integration"
)

// IntegrationResult is the outcome of importing one integration
type IntegrationResult struct {
	IntegrationID uuid.UUID            `json:"integration_id"`
	TenantID      uuid.UUID            `json:"tenant_id"`
	Provider      integration.Provider `json:"provider"`
	Type          integration.Type     `json:"type"`
	Adapter       string               `json:"adapter,omitempty"`
	Written       int                  `json:"written"`
	Dropped       int                  `json:"dropped"`
	Attempts      int                  `json:"attempts"`
	Skipped       bool                 `json:"skipped,omitempty"`
	Err           error                `json:"-"`
	Error         string               `json:"error,omitempty"`
}

// Report summarizes one dispatcher run
type Report struct {
	RunID    uuid.UUID           `json:"run_id"`
	Started  time.Time           `json:"started"`
	Finished time.Time           `json:"finished"`
	Results  []IntegrationResult `json:"results"`
}

// Failed returns the results that ended in an error
func (r *Report) Failed() []IntegrationResult {
	var failed []IntegrationResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Skipped returns the results with no registered adapter
func (r *Report) Skipped() []IntegrationResult {
	var skipped []IntegrationResult
	for _, res := range r.Results {
		if res.Skipped {
			skipped = append(skipped, res)
		}
	}
	return skipped
}

// Totals returns the rows written and dropped across all integrations
func (r *Report) Totals() (written, dropped int) {
	for _, res := range r.Results {
		written += res.Written
		dropped += res.Dropped
	}
	return written, dropped
}
