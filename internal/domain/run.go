package domain

import "time"

const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Run is one pass of the compositor over an input folder.
type Run struct {
	ID        string
	Status    string
	InputDir  string
	OutputDir string
	Processed int
	Skipped   int
	Failed    int
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunSummary is what a finished run reports back to the ledger.
type RunSummary struct {
	Processed int
	Skipped   int
	Failed    int
	Error     string
}
