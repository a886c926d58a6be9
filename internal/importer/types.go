// Package importer implements the customer import pipeline: column
// normalization, row validation, duplicate detection against persisted
// customers, and batched persistence with sequential customer numbers.
//
// The pipeline is threaded through an ImportSession: a file is read and
// validated asynchronously, the session parks in the review phase for the
// user to inspect counts and exclude rows, and a separate commit call
// persists the accepted candidates. This package has no HTTP dependencies.
package importer

import (
	"time"

	"kundimport/internal/schema"
)

// Phase is the current stage of an import session.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseReading    Phase = "reading"
	PhaseValidating Phase = "validating"
	PhaseReview     Phase = "review"
	PhasePersisting Phase = "persisting"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Candidate is the per-row accumulator produced by the validator.
// A candidate with errors is excluded from the importable set; one with
// only warnings stays importable but is surfaced during review.
type Candidate struct {
	RowNumber int                     `json:"rowNumber"`
	Fields    map[schema.Field]string `json:"fields"`
	Warnings  []string                `json:"warnings,omitempty"`
	Errors    []string                `json:"errors,omitempty"`
}

// Importable reports whether the candidate may be persisted.
func (c Candidate) Importable() bool {
	return len(c.Errors) == 0
}

// DuplicateFlag marks a candidate that matches an already-persisted
// customer. Advisory only: the user decides whether to exclude the row.
type DuplicateFlag struct {
	RowNumber           int    `json:"rowNumber"`
	CandidateName       string `json:"candidateName"`
	MatchedExistingName string `json:"matchedExistingName"`
}

// ExistingCustomer is the slice of a persisted customer the duplicate
// detector compares candidates against.
type ExistingCustomer struct {
	Name  string
	Email string
	OrgNr string
}

// NewCustomer carries one accepted candidate into the store.
type NewCustomer struct {
	CustomerNumber string
	Name           string
	Email          string
	Phone          string
	Address        string
	ZipCode        string
	City           string
	OrgNr          string
	Personnummer   string
	RotCustomer    string // "Ja" or "Nej"
	RutCustomer    string // "Ja" or "Nej"
	ImportedFrom   string
}

// Progress is a snapshot of a running session, pushed to subscribers.
// Percent is monotone: row processing accounts for 90 points and batch
// commits for the remaining 10.
type Progress struct {
	SessionID      string `json:"sessionId"`
	OrganizationID string `json:"organizationId"`
	Phase          Phase  `json:"phase"`
	FileName       string `json:"fileName"`
	TotalRows      int    `json:"totalRows"`
	ProcessedRows  int    `json:"processedRows"`
	TotalBatches   int    `json:"totalBatches"`
	DoneBatches    int    `json:"doneBatches"`
	Error          string `json:"error,omitempty"`
}

// Percent returns overall progress as 0-100.
func (p Progress) Percent() int {
	pct := 0
	if p.TotalRows > 0 {
		pct = p.ProcessedRows * 90 / p.TotalRows
	}
	if p.TotalBatches > 0 {
		pct += p.DoneBatches * 10 / p.TotalBatches
	}
	switch p.Phase {
	case PhaseComplete:
		return 100
	case PhaseReview:
		return 90
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Summary is what the mandatory review step shows: counts plus capped
// line-by-line error and warning lists.
type Summary struct {
	Ready        int             `json:"ready"`
	Duplicates   int             `json:"duplicates"`
	Warnings     int             `json:"warnings"`
	Errors       int             `json:"errors"`
	ErrorLines   []string        `json:"errorLines,omitempty"`
	WarningLines []string        `json:"warningLines,omitempty"`
	Flags        []DuplicateFlag `json:"flags,omitempty"`
}

// Result is the outcome of a committed (or failed) import run.
type Result struct {
	SessionID      string        `json:"sessionId"`
	OrganizationID string        `json:"organizationId"`
	FileName       string        `json:"fileName"`
	TotalRows      int           `json:"totalRows"`
	Imported       int           `json:"imported"`
	Skipped        int           `json:"skipped"`
	FirstNumber    string        `json:"firstNumber,omitempty"`
	LastNumber     string        `json:"lastNumber,omitempty"`
	Duration       time.Duration `json:"-"`
	Error          string        `json:"error,omitempty"`
}
