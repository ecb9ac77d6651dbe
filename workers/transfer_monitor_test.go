package workers_test

import (
	"testing"
	"time"

	"github.com/APTrust/relay/constants"
	"github.com/APTrust/relay/models"
	"github.com/APTrust/relay/network"
	"github.com/APTrust/relay/util/storage"
	"github.com/APTrust/relay/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T, store *storage.Store, checker *fakeChecker) *workers.TransferMonitor {
	seedCredential(t, store, constants.ScopeTransfer)
	return &workers.TransferMonitor{
		Store:              store,
		MessageLog:         testLogger(),
		Checker:            checker,
		Credentials:        workers.NewCredentialManager(store, &fakeRefresher{}, testLogger()),
		NetworkConnections: 2,
		UnknownLimit:       3,
	}
}

func reload(t *testing.T, store *storage.Store, id string) *models.Pipeline {
	p, err := store.GetPipeline(id)
	require.Nil(t, err)
	require.NotNil(t, p)
	return p
}

func TestPollCycleTransferSucceeded(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	p := savePipeline(t, store, constants.StateAwaitingTransfer)
	completed := time.Date(2020, 1, 15, 10, 30, 0, 0, time.UTC)
	checker := &fakeChecker{statuses: map[string]*network.TaskStatus{
		p.TransferTaskId: {
			TaskId:    p.TransferTaskId,
			Status:    constants.StatusSucceeded,
			Completed: completed,
		},
	}}
	monitor := newTestMonitor(t, store, checker)

	assert.Equal(t, 1, monitor.PollCycle())
	stored := reload(t, store, p.Id)
	assert.Equal(t, constants.StateAwaitingCopy, stored.State)
	assert.Equal(t, completed, stored.TransferCompletedAt)
}

func TestPollCycleTransferFailed(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	p := savePipeline(t, store, constants.StateAwaitingTransfer)
	checker := &fakeChecker{statuses: map[string]*network.TaskStatus{
		p.TransferTaskId: {
			TaskId: p.TransferTaskId,
			Status: constants.StatusFailed,
			Detail: "No write access to staging endpoint",
		},
	}}
	monitor := newTestMonitor(t, store, checker)

	assert.Equal(t, 1, monitor.PollCycle())
	stored := reload(t, store, p.Id)
	assert.Equal(t, constants.StateFailed, stored.State)
	assert.Equal(t, constants.ErrTransferFailed, stored.ErrorKind)
	assert.Contains(t, stored.WorkSummary.FirstError(), "No write access")
	assert.True(t, stored.WorkSummary.ErrorIsFatal)
}

func TestPollCycleUnknownStatusStrikes(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	p := savePipeline(t, store, constants.StateAwaitingTransfer)
	checker := &fakeChecker{statuses: map[string]*network.TaskStatus{
		p.TransferTaskId: {TaskId: p.TransferTaskId, Status: constants.StatusUnknown},
	}}
	monitor := newTestMonitor(t, store, checker)

	// Two strikes: still waiting, count persisted.
	assert.Equal(t, 0, monitor.PollCycle())
	assert.Equal(t, 0, monitor.PollCycle())
	stored := reload(t, store, p.Id)
	assert.Equal(t, constants.StateAwaitingTransfer, stored.State)
	assert.Equal(t, 2, stored.UnknownCount)

	// Third consecutive strike fails the pipeline.
	assert.Equal(t, 1, monitor.PollCycle())
	stored = reload(t, store, p.Id)
	assert.Equal(t, constants.StateFailed, stored.State)
	assert.Equal(t, constants.ErrTransferFailed, stored.ErrorKind)
	assert.Equal(t, 3, stored.UnknownCount)
}

func TestPollCycleActiveResetsUnknownCount(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	p := savePipeline(t, store, constants.StateAwaitingTransfer)
	p.UnknownCount = 2
	require.Nil(t, store.SavePipeline(p))
	checker := &fakeChecker{statuses: map[string]*network.TaskStatus{
		p.TransferTaskId: {TaskId: p.TransferTaskId, Status: constants.StatusActive},
	}}
	monitor := newTestMonitor(t, store, checker)

	assert.Equal(t, 0, monitor.PollCycle())
	stored := reload(t, store, p.Id)
	assert.Equal(t, constants.StateAwaitingTransfer, stored.State)
	assert.Equal(t, 0, stored.UnknownCount)
}

func TestPollCycleAbsorbsQueryErrors(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	p := savePipeline(t, store, constants.StateAwaitingTransfer)
	checker := &fakeChecker{statuses: map[string]*network.TaskStatus{
		p.TransferTaskId: {
			TaskId:    p.TransferTaskId,
			ErrorKind: constants.ErrTransient,
			Err:       assert.AnError,
		},
	}}
	monitor := newTestMonitor(t, store, checker)

	// A failed query is not a failed transfer. Nothing moves.
	assert.Equal(t, 0, monitor.PollCycle())
	stored := reload(t, store, p.Id)
	assert.Equal(t, constants.StateAwaitingTransfer, stored.State)
	assert.False(t, stored.WorkSummary.HasErrors())
}

func TestPollCycleHonorsCancellation(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	p := savePipeline(t, store, constants.StateAwaitingTransfer)
	p.CancelRequested = true
	require.Nil(t, store.SavePipeline(p))
	checker := &fakeChecker{statuses: map[string]*network.TaskStatus{
		p.TransferTaskId: {TaskId: p.TransferTaskId, Status: constants.StatusSucceeded},
	}}
	monitor := newTestMonitor(t, store, checker)

	assert.Equal(t, 1, monitor.PollCycle())
	stored := reload(t, store, p.Id)
	assert.Equal(t, constants.StateFailed, stored.State)
	assert.Equal(t, constants.ErrCancelled, stored.ErrorKind)
}

// Cancellation must not wait for the transfer service to come back:
// even when every status query errors, the flag is honored within
// one cycle.
func TestPollCycleHonorsCancellationWhenServiceIsDown(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	p := savePipeline(t, store, constants.StateAwaitingTransfer)
	p.CancelRequested = true
	require.Nil(t, store.SavePipeline(p))
	checker := &fakeChecker{statuses: map[string]*network.TaskStatus{
		p.TransferTaskId: {
			TaskId:    p.TransferTaskId,
			ErrorKind: constants.ErrTransient,
			Err:       assert.AnError,
		},
	}}
	monitor := newTestMonitor(t, store, checker)

	assert.Equal(t, 1, monitor.PollCycle())
	stored := reload(t, store, p.Id)
	assert.Equal(t, constants.StateFailed, stored.State)
	assert.Equal(t, constants.ErrCancelled, stored.ErrorKind)
}

func TestPollCycleSkipsWithoutCredential(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	p := savePipeline(t, store, constants.StateAwaitingTransfer)
	checker := &fakeChecker{}
	// No credential seeded.
	monitor := &workers.TransferMonitor{
		Store:              store,
		MessageLog:         testLogger(),
		Checker:            checker,
		Credentials:        workers.NewCredentialManager(store, &fakeRefresher{}, testLogger()),
		NetworkConnections: 2,
		UnknownLimit:       3,
	}

	assert.Equal(t, 0, monitor.PollCycle())
	assert.Equal(t, 0, checker.calls)
	stored := reload(t, store, p.Id)
	assert.Equal(t, constants.StateAwaitingTransfer, stored.State)
}

func TestPollCycleLeavesOtherStatesAlone(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	copying := savePipeline(t, store, constants.StateCopying)
	completed := savePipeline(t, store, constants.StateCompleted)
	checker := &fakeChecker{}
	monitor := newTestMonitor(t, store, checker)

	assert.Equal(t, 0, monitor.PollCycle())
	assert.Equal(t, 0, checker.calls)
	assert.Equal(t, constants.StateCopying, reload(t, store, copying.Id).State)
	assert.Equal(t, constants.StateCompleted, reload(t, store, completed.Id).State)
}

func TestPollCycleManyPipelines(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	statuses := make(map[string]*network.TaskStatus)
	for i := 0; i < 10; i++ {
		p := savePipeline(t, store, constants.StateAwaitingTransfer)
		status := constants.StatusActive
		if i%2 == 0 {
			status = constants.StatusSucceeded
		}
		statuses[p.TransferTaskId] = &network.TaskStatus{
			TaskId: p.TransferTaskId,
			Status: status,
		}
	}
	checker := &fakeChecker{statuses: statuses}
	monitor := newTestMonitor(t, store, checker)

	assert.Equal(t, 5, monitor.PollCycle())
	assert.Equal(t, 10, checker.calls)
	awaiting, err := store.PipelinesInState(constants.StateAwaitingCopy)
	require.Nil(t, err)
	assert.Equal(t, 5, len(awaiting))
}
