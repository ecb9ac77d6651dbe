package workers

import (
	"fmt"
	"time"

	"github.com/APTrust/relay/constants"
	"github.com/APTrust/relay/models"
	"github.com/APTrust/relay/util/storage"
	"github.com/op/go-logging"
)

// recordTransition commits a state change to the persistent store.
// This is the only place pipeline state changes, and the write
// happens before any component acts on the new state: it's always
// "decide, record, act", never "act, then record". A crash between
// the write and the action leaves a record the next run can resume
// from.
func recordTransition(store *storage.Store, messageLog *logging.Logger, p *models.Pipeline, newState string) error {
	if !p.CanTransitionTo(newState) {
		return fmt.Errorf("Illegal transition for pipeline %s: %s -> %s",
			p.Id, p.State, newState)
	}
	oldState := p.State
	p.State = newState
	p.UpdatedAt = time.Now().UTC()
	err := store.SavePipeline(p)
	if err != nil {
		// Roll back the in-memory copy; the store is authoritative.
		p.State = oldState
		return fmt.Errorf("Cannot record transition %s -> %s for pipeline %s: %v",
			oldState, newState, p.Id, err)
	}
	messageLog.Info("Pipeline %s: %s -> %s", p.Id, oldState, newState)
	return nil
}

// recordFailure records a terminal failure: the error kind, a
// human-readable reason in the work summary, and the transition to
// Failed, all in one durable write.
func recordFailure(store *storage.Store, messageLog *logging.Logger, p *models.Pipeline, errorKind, format string, a ...interface{}) error {
	p.ErrorKind = errorKind
	p.WorkSummary.AddError(format, a...)
	p.WorkSummary.ErrorIsFatal = true
	p.WorkSummary.Finish()
	err := recordTransition(store, messageLog, p, constants.StateFailed)
	if err != nil {
		return err
	}
	messageLog.Error("Pipeline %s failed (%s): %s", p.Id, errorKind, p.WorkSummary.FirstError())
	return nil
}

// cancelIfRequested honors the operator's advisory cancellation
// flag. Returns true if the pipeline was cancelled, in which case
// the caller must not proceed with its next transition. A copy
// already submitted to the storage provider is not recalled; the
// flag only stops the next step from starting.
func cancelIfRequested(store *storage.Store, messageLog *logging.Logger, p *models.Pipeline) (bool, error) {
	if !p.CancelRequested {
		return false, nil
	}
	err := recordFailure(store, messageLog, p, constants.ErrCancelled,
		"Cancelled by operator request")
	return true, err
}
