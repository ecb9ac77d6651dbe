package models

import (
	"fmt"
	"strings"
	"time"
)

// WorkSummary records the outcome of attempts to push a pipeline
// forward: when we started, when we finished, and what went wrong.
// Transient errors never land here; they are absorbed by the retry
// loops in the network clients. Errors recorded here are the ones
// that made (or will make) the pipeline fail.
type WorkSummary struct {
	// This is set to true when the process that produces
	// this result starts.
	Attempted bool

	// AttemptNumber is the number of attempts to process this
	// pipeline. This starts at one.
	AttemptNumber int

	// This will be set to true if an error is fatal. In that
	// case, the coordinator will not try to reprocess the item.
	ErrorIsFatal bool

	// Errors is a list of strings describing errors that occurred
	// while monitoring the transfer or running the copy.
	Errors []string

	// StartedAt describes when the most recent attempt started.
	StartedAt time.Time

	// FinishedAt describes when the most recent attempt completed.
	// The attempt may have completed without succeeding. Check the
	// Succeeded() method to see whether it actually worked.
	FinishedAt time.Time
}

func NewWorkSummary() *WorkSummary {
	return &WorkSummary{
		Errors: make([]string, 0),
	}
}

func (summary *WorkSummary) Start() {
	summary.Attempted = true
	summary.AttemptNumber += 1
	summary.StartedAt = time.Now().UTC()
}

func (summary *WorkSummary) Started() bool {
	return !summary.StartedAt.IsZero()
}

func (summary *WorkSummary) Finish() {
	summary.FinishedAt = time.Now().UTC()
}

func (summary *WorkSummary) Finished() bool {
	return !summary.FinishedAt.IsZero()
}

func (summary *WorkSummary) Succeeded() bool {
	return summary.Finished() && len(summary.Errors) == 0
}

func (summary *WorkSummary) AddError(format string, a ...interface{}) {
	summary.Errors = append(summary.Errors, fmt.Sprintf(format, a...))
}

func (summary *WorkSummary) ClearErrors() {
	summary.ErrorIsFatal = false
	summary.Errors = make([]string, 0)
}

func (summary *WorkSummary) HasErrors() bool {
	return len(summary.Errors) > 0
}

func (summary *WorkSummary) FirstError() string {
	if len(summary.Errors) > 0 {
		return summary.Errors[0]
	}
	return ""
}

func (summary *WorkSummary) AllErrorsAsString() string {
	return strings.Join(summary.Errors, "\n")
}
