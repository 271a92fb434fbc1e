// Package report accumulates the outcome of one import run.
package report

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase names the cascade step a row failed in.
type Phase string

const (
	PhaseCustomer Phase = "customer"
	PhaseContact  Phase = "contact"
	PhaseFlags    Phase = "flags"
	// PhaseCommit is used in atomic mode when the row transaction fails to commit.
	PhaseCommit Phase = "commit"
)

// RowFailure describes one row that reached the failed state.
type RowFailure struct {
	Line  int                    `json:"line"`
	Phase Phase                  `json:"phase"`
	Error string                 `json:"error"`
	Raw   map[string]interface{} `json:"-"`
}

// Report holds the counters of one run. It is safe for concurrent use.
type Report struct {
	mu sync.Mutex

	RunID      uuid.UUID `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Rows is the number of data rows read from the sheet.
	Rows int `json:"rows"`
	// Succeeded and Failed count rows that reached a terminal state.
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Skipped counts rows without customer or contact name.
	Skipped int `json:"skipped"`
	// Filtered counts rows excluded by the configured filter expression.
	Filtered int `json:"filtered"`
	// Valid counts rows that passed normalization; used by dry runs.
	Valid int `json:"valid"`

	Failures []RowFailure `json:"failures,omitempty"`
}

// New starts a report for a sheet with the given number of data rows.
func New(rows int) *Report {
	return &Report{
		RunID:     uuid.New(),
		StartedAt: time.Now(),
		Rows:      rows,
	}
}

// RecordSuccess counts a row whose three phases all succeeded.
func (r *Report) RecordSuccess() {
	r.mu.Lock()
	r.Succeeded++
	r.mu.Unlock()
}

// RecordFailure counts a failed row and keeps its details.
func (r *Report) RecordFailure(f RowFailure) {
	r.mu.Lock()
	r.Failed++
	r.Failures = append(r.Failures, f)
	r.mu.Unlock()
}

// RecordSkip counts a row without identity. It affects neither Succeeded nor Failed.
func (r *Report) RecordSkip() {
	r.mu.Lock()
	r.Skipped++
	r.mu.Unlock()
}

// RecordFiltered counts a row removed by the filter expression.
func (r *Report) RecordFiltered() {
	r.mu.Lock()
	r.Filtered++
	r.mu.Unlock()
}

// RecordValid counts a row that passed normalization.
func (r *Report) RecordValid() {
	r.mu.Lock()
	r.Valid++
	r.mu.Unlock()
}

// Finish stamps the end time.
func (r *Report) Finish() {
	r.mu.Lock()
	r.FinishedAt = time.Now()
	r.mu.Unlock()
}

// Counts returns a consistent snapshot of the two terminal counters.
func (r *Report) Counts() (succeeded, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Succeeded, r.Failed
}

// FailedLines returns the sheet lines of all failed rows in recording order.
func (r *Report) FailedLines() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]int, len(r.Failures))
	for i, f := range r.Failures {
		lines[i] = f.Line
	}
	return lines
}

// Summary is the one-line text shown to the operator.
func (r *Report) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := fmt.Sprintf("Import %s: %d rows, %d succeeded, %d failed", shortID(r.RunID), r.Rows, r.Succeeded, r.Failed)
	if r.Skipped > 0 {
		s += fmt.Sprintf(", %d skipped", r.Skipped)
	}
	if r.Filtered > 0 {
		s += fmt.Sprintf(", %d filtered", r.Filtered)
	}
	return s
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
