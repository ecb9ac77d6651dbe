package workers

import (
	"sync"
	"time"

	"github.com/APTrust/relay/constants"
	"github.com/APTrust/relay/context"
	"github.com/APTrust/relay/models"
	"github.com/APTrust/relay/network"
	"github.com/APTrust/relay/util/storage"
	"github.com/op/go-logging"
)

// TaskChecker is the slice of the transfer client the monitor needs:
// one status query per tracked task.
type TaskChecker interface {
	CheckTask(taskId string) *network.TaskStatus
}

// TransferMonitor polls the transfer service for the status of every
// pipeline in AwaitingTransfer. All of a cycle's status queries are
// fanned out over a bounded pool of goroutines and awaited as a
// batch, so one slow query never blocks the rest. Transitions are
// then committed sequentially, one durable write per pipeline.
type TransferMonitor struct {
	Store       *storage.Store
	MessageLog  *logging.Logger
	Checker     TaskChecker
	Credentials *CredentialManager
	// NetworkConnections is the size of the query pool.
	NetworkConnections int
	// UnknownLimit is how many consecutive "task not found" replies
	// we tolerate before declaring the transfer failed.
	UnknownLimit int
}

func NewTransferMonitor(_context *context.Context, credentials *CredentialManager) *TransferMonitor {
	connections := _context.Config.MonitorWorker.NetworkConnections
	if connections <= 0 {
		connections = 4
	}
	return &TransferMonitor{
		Store:              _context.Store,
		MessageLog:         _context.MessageLog,
		Checker:            _context.TransferClient,
		Credentials:        credentials,
		NetworkConnections: connections,
		UnknownLimit:       _context.Config.UnknownLimit(),
	}
}

type taskResult struct {
	pipeline *models.Pipeline
	status   *network.TaskStatus
}

// PollCycle runs one polling cycle: query the status of every
// pipeline awaiting its transfer, then advance each one according to
// what the service said. Pipelines in any other state, terminal ones
// included, are never touched. Returns the number of pipelines whose
// state changed.
func (monitor *TransferMonitor) PollCycle() int {
	pipelines, err := monitor.Store.PipelinesInState(constants.StateAwaitingTransfer)
	if err != nil {
		monitor.MessageLog.Error("Cannot load pipelines awaiting transfer: %v", err)
		return 0
	}
	if len(pipelines) == 0 {
		return 0
	}

	// One valid credential covers the whole cycle. If auth is gone,
	// the pipelines stay where they are and we try again next cycle
	// once the operator has re-authenticated.
	_, err = monitor.Credentials.Acquire(constants.ScopeTransfer)
	if err != nil {
		if IsAuthExpired(err) {
			monitor.MessageLog.Warning("Transfer credential expired; skipping poll cycle: %v", err)
		} else {
			monitor.MessageLog.Error("Cannot acquire transfer credential: %v", err)
		}
		return 0
	}

	results := monitor.checkAll(pipelines)

	transitioned := 0
	for _, result := range results {
		changed, err := monitor.advance(result.pipeline, result.status)
		if err != nil {
			monitor.MessageLog.Error("Pipeline %s: %v", result.pipeline.Id, err)
		}
		if changed {
			transitioned++
		}
	}
	return transitioned
}

// checkAll issues the cycle's status queries over a bounded pool and
// collects all answers before anything transitions. Queries for
// different pipelines are independent; a hung query delays only its
// own pipeline's transition, not anyone else's query.
func (monitor *TransferMonitor) checkAll(pipelines []*models.Pipeline) []*taskResult {
	jobs := make(chan *models.Pipeline, len(pipelines))
	out := make(chan *taskResult, len(pipelines))
	var wg sync.WaitGroup
	for i := 0; i < monitor.NetworkConnections; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				out <- &taskResult{
					pipeline: p,
					status:   monitor.Checker.CheckTask(p.TransferTaskId),
				}
			}
		}()
	}
	for _, p := range pipelines {
		jobs <- p
	}
	close(jobs)
	wg.Wait()
	close(out)

	results := make([]*taskResult, 0, len(pipelines))
	for result := range out {
		results = append(results, result)
	}
	return results
}

// advance commits the transition (if any) that one status answer
// calls for. Returns true if the pipeline's state changed.
func (monitor *TransferMonitor) advance(p *models.Pipeline, status *network.TaskStatus) (bool, error) {
	// Cancellation first: the operator's request must not wait for
	// the transfer service to become reachable.
	cancelled, err := cancelIfRequested(monitor.Store, monitor.MessageLog, p)
	if cancelled || err != nil {
		return cancelled, err
	}

	if status.Err != nil {
		// Transient and auth errors are absorbed here: the pipeline
		// stays in AwaitingTransfer and the next cycle retries.
		monitor.MessageLog.Warning("Status query for task %s did not complete (%s): %v",
			status.TaskId, status.ErrorKind, status.Err)
		return false, nil
	}

	switch status.Status {
	case constants.StatusSucceeded:
		p.TransferCompletedAt = status.Completed
		if p.TransferCompletedAt.IsZero() {
			p.TransferCompletedAt = time.Now().UTC()
		}
		p.UnknownCount = 0
		err = recordTransition(monitor.Store, monitor.MessageLog, p, constants.StateAwaitingCopy)
		return err == nil, err
	case constants.StatusFailed:
		err = recordFailure(monitor.Store, monitor.MessageLog, p,
			constants.ErrTransferFailed, "Transfer service reported failure: %s", status.Detail)
		return err == nil, err
	case constants.StatusUnknown:
		p.UnknownCount++
		if p.UnknownCount >= monitor.UnknownLimit {
			err = recordFailure(monitor.Store, monitor.MessageLog, p,
				constants.ErrTransferFailed,
				"Transfer service does not recognize task %s (%d consecutive checks)",
				p.TransferTaskId, p.UnknownCount)
			return err == nil, err
		}
		// Persist the strike count so restarts don't reset it.
		monitor.MessageLog.Warning("Task %s unknown to transfer service (%d of %d strikes)",
			p.TransferTaskId, p.UnknownCount, monitor.UnknownLimit)
		return false, monitor.Store.SavePipeline(p)
	default: // active
		if p.UnknownCount != 0 {
			p.UnknownCount = 0
			return false, monitor.Store.SavePipeline(p)
		}
		return false, nil
	}
}
