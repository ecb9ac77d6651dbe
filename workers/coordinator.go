package workers

import (
	"fmt"
	"time"

	"github.com/APTrust/relay/constants"
	"github.com/APTrust/relay/context"
	"github.com/APTrust/relay/models"
	"github.com/APTrust/relay/util/storage"
	"github.com/op/go-logging"
)

// Coordinator owns the pipeline state machine. It is the only
// component that creates pipelines, and it runs the two worker loops
// (transfer monitor, copy orchestrator) that advance them. Each loop
// is a single goroutine talking to one external service; within a
// cycle, queries for many pipelines are multiplexed over that loop's
// connection pool.
//
// Restart behavior: the coordinator never replays side effects. It
// reloads whatever states the store recorded and lets each worker's
// own reconciliation pick things up: AwaitingTransfer pipelines get
// polled again, Copying pipelines get reconciled against the
// destination bucket, and terminal pipelines are left alone.
type Coordinator struct {
	Store        *storage.Store
	MessageLog   *logging.Logger
	Credentials  *CredentialManager
	Monitor      *TransferMonitor
	Orchestrator *CopyOrchestrator

	monitorInterval time.Duration
	copyInterval    time.Duration
	stopChan        chan struct{}
}

func NewCoordinator(_context *context.Context) *Coordinator {
	credentials := NewCredentialManager(_context.Store, _context.TransferClient, _context.MessageLog)
	return &Coordinator{
		Store:           _context.Store,
		MessageLog:      _context.MessageLog,
		Credentials:     credentials,
		Monitor:         NewTransferMonitor(_context, credentials),
		Orchestrator:    NewCopyOrchestrator(_context, credentials),
		monitorInterval: _context.Config.MonitorWorker.Interval(),
		copyInterval:    _context.Config.CopyWorker.Interval(),
		stopChan:        make(chan struct{}),
	}
}

// Register creates a new pipeline for the given transfer task. The
// collection and both buckets must already be recorded in the store;
// registering against unknown references is an error, because a typo
// here would otherwise surface hours later as a copy failure. The
// pipeline is created in Registered and immediately advanced to
// AwaitingTransfer, both recorded durably, so the monitor picks it
// up on its next cycle.
func (coordinator *Coordinator) Register(collectionId, stagingBucket, destinationBucket, transferTaskId string) (*models.Pipeline, error) {
	if transferTaskId == "" {
		return nil, fmt.Errorf("Cannot register pipeline: transfer task id is required")
	}
	collection, err := coordinator.Store.GetCollection(collectionId)
	if err != nil {
		return nil, err
	}
	if collection == nil {
		return nil, fmt.Errorf("Cannot register pipeline: no collection with id %s", collectionId)
	}
	for _, name := range []string{stagingBucket, destinationBucket} {
		bucket, err := coordinator.Store.GetBucket(name)
		if err != nil {
			return nil, err
		}
		if bucket == nil {
			return nil, fmt.Errorf("Cannot register pipeline: no bucket named %s", name)
		}
	}

	p := models.NewPipeline(collectionId, stagingBucket, destinationBucket, transferTaskId)
	err = coordinator.Store.SavePipeline(p)
	if err != nil {
		return nil, err
	}
	err = recordTransition(coordinator.Store, coordinator.MessageLog, p, constants.StateAwaitingTransfer)
	if err != nil {
		return nil, err
	}
	coordinator.MessageLog.Info("Registered %s", p)
	return p, nil
}

// Status returns the current pipeline record, or nil and no error if
// there is no pipeline with the given id.
func (coordinator *Coordinator) Status(pipelineId string) (*models.Pipeline, error) {
	return coordinator.Store.GetPipeline(pipelineId)
}

// Cancel sets the advisory cancellation flag on a non-terminal
// pipeline. The monitor or orchestrator will honor it before
// committing the pipeline's next transition; a copy already
// submitted to the storage provider is not recalled.
func (coordinator *Coordinator) Cancel(pipelineId string) error {
	p, err := coordinator.Store.GetPipeline(pipelineId)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("No pipeline with id %s", pipelineId)
	}
	if p.IsTerminal() {
		return fmt.Errorf("Pipeline %s is already in terminal state %s", pipelineId, p.State)
	}
	p.CancelRequested = true
	p.UpdatedAt = time.Now().UTC()
	err = coordinator.Store.SavePipeline(p)
	if err != nil {
		return err
	}
	coordinator.MessageLog.Info("Pipeline %s marked for cancellation", pipelineId)
	return nil
}

// ResumePipelines runs once at startup. It advances pipelines that
// crashed between creation and their first transition, and reports
// what work the store says is outstanding. Everything else resumes
// through the workers' normal cycles.
func (coordinator *Coordinator) ResumePipelines() error {
	pipelines, err := coordinator.Store.NonTerminalPipelines()
	if err != nil {
		return err
	}
	for _, p := range pipelines {
		if p.State == constants.StateRegistered {
			err = recordTransition(coordinator.Store, coordinator.MessageLog, p, constants.StateAwaitingTransfer)
			if err != nil {
				return err
			}
		}
	}
	coordinator.MessageLog.Info("Resuming %d non-terminal pipeline(s)", len(pipelines))
	return nil
}

// Run starts the two polling loops and blocks until Stop is called.
// A single pipeline's failure never stops the loops; errors are
// recorded on the pipeline and the cycle moves on.
func (coordinator *Coordinator) Run() error {
	err := coordinator.ResumePipelines()
	if err != nil {
		return err
	}
	go coordinator.runLoop("transfer monitor", coordinator.monitorInterval, coordinator.Monitor.PollCycle)
	go coordinator.runLoop("copy orchestrator", coordinator.copyInterval, coordinator.Orchestrator.PollCycle)
	<-coordinator.stopChan
	return nil
}

// Stop shuts down the polling loops. In-flight cycles finish their
// current durable writes; nothing is interrupted mid-transition.
func (coordinator *Coordinator) Stop() {
	close(coordinator.stopChan)
}

func (coordinator *Coordinator) runLoop(name string, interval time.Duration, cycle func() int) {
	coordinator.MessageLog.Info("Starting %s loop (every %s)", name, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-coordinator.stopChan:
			coordinator.MessageLog.Info("Stopping %s loop", name)
			return
		case <-ticker.C:
			transitioned := cycle()
			if transitioned > 0 {
				coordinator.MessageLog.Info("%s: %d pipeline(s) advanced", name, transitioned)
			}
		}
	}
}
