package models

import (
	"fmt"
	"time"

	"github.com/APTrust/relay/constants"
	"github.com/satori/go.uuid"
)

// ObjectCopy tracks one object in the staging bucket through the
// server-side copy to the destination bucket. The orchestrator
// records the full object set before submitting any copy, so a
// restart can tell which objects were part of the submission.
type ObjectCopy struct {
	// Key is the object key, identical in staging and destination.
	Key string `json:"key"`
	// Size is the object's size in bytes, as listed in staging.
	Size int64 `json:"size"`
	// ETag is the object's etag in the staging bucket.
	ETag string `json:"etag"`
	// Copied is true once the object is confirmed present in the
	// destination bucket.
	Copied bool `json:"copied"`
	// ErrorMessage holds the provider's error for this object, if
	// the copy failed.
	ErrorMessage string `json:"error_message,omitempty"`
}

// Pipeline is the central entity: one request to move one transfer's
// payload from a collection through the staging bucket into the
// destination bucket. All mutations go through state transitions that
// the coordinator records in the persistent store before any
// component acts on them.
type Pipeline struct {
	// Id is the pipeline's unique identifier (a UUID).
	Id string `json:"id"`
	// TransferTaskId is the transfer service's id for the job that
	// moves data from the collection into the staging bucket.
	TransferTaskId string `json:"transfer_task_id"`
	// CollectionId is the UUID of the source collection.
	CollectionId string `json:"collection_id"`
	// StagingBucket is the name of the operator-owned bucket the
	// transfer service writes into.
	StagingBucket string `json:"staging_bucket"`
	// DestinationBucket is the name of the true target bucket,
	// possibly owned by another account.
	DestinationBucket string `json:"destination_bucket"`
	// Prefix limits the copy to staging objects under this key
	// prefix. Empty means the whole bucket.
	Prefix string `json:"prefix,omitempty"`
	// State is the pipeline's current state. See
	// constants.PipelineStates.
	State string `json:"state"`
	// ErrorKind classifies a failure. Empty unless State is Failed.
	// See the Err* constants.
	ErrorKind string `json:"error_kind,omitempty"`
	// CancelRequested is the operator's advisory cancellation flag.
	// The monitor and orchestrator check it before committing the
	// next transition.
	CancelRequested bool `json:"cancel_requested"`
	// UnknownCount is the number of consecutive polls for which the
	// transfer service did not recognize our task id. The task is
	// declared failed only after this passes a configured limit,
	// because a single "unknown" is often a transient service error.
	UnknownCount int `json:"unknown_count"`
	// Objects is the recorded object set for the copy phase. Empty
	// until the orchestrator lists the staging bucket.
	Objects []*ObjectCopy `json:"objects,omitempty"`
	// WorkSummary accumulates attempt history and error detail.
	WorkSummary *WorkSummary `json:"work_summary"`
	// CreatedAt is when the pipeline was registered.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the last state transition was recorded.
	UpdatedAt time.Time `json:"updated_at"`
	// TransferCompletedAt is when the monitor observed the transfer
	// service report success.
	TransferCompletedAt time.Time `json:"transfer_completed_at,omitempty"`
}

func NewPipeline(collectionId, stagingBucket, destinationBucket, transferTaskId string) *Pipeline {
	now := time.Now().UTC()
	return &Pipeline{
		Id:                uuid.NewV4().String(),
		TransferTaskId:    transferTaskId,
		CollectionId:      collectionId,
		StagingBucket:     stagingBucket,
		DestinationBucket: destinationBucket,
		State:             constants.StateRegistered,
		WorkSummary:       NewWorkSummary(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// stateRank gives each state its position in the one-way sequence.
var stateRank = map[string]int{
	constants.StateRegistered:       0,
	constants.StateAwaitingTransfer: 1,
	constants.StateAwaitingCopy:     2,
	constants.StateCopying:          3,
	constants.StateCompleted:        4,
	constants.StateFailed:           4,
}

// CanTransitionTo reports whether moving to newState is legal from
// the pipeline's current state. Legal moves are one step forward in
// the sequence, or a jump to Failed from any non-terminal state.
// Terminal states allow no moves at all.
func (p *Pipeline) CanTransitionTo(newState string) bool {
	if p.IsTerminal() {
		return false
	}
	currentRank, ok := stateRank[p.State]
	if !ok {
		return false
	}
	newRank, ok := stateRank[newState]
	if !ok {
		return false
	}
	if newState == constants.StateFailed {
		return true
	}
	if newState == constants.StateCompleted {
		return p.State == constants.StateCopying
	}
	return newRank == currentRank+1
}

// IsTerminal returns true once the pipeline has reached Completed or
// Failed. Terminal pipelines are retained for audit and never mutated.
func (p *Pipeline) IsTerminal() bool {
	return constants.IsTerminalState(p.State)
}

// FindObject returns the recorded ObjectCopy for the given key, or
// nil if the key is not part of the recorded object set.
func (p *Pipeline) FindObject(key string) *ObjectCopy {
	for _, obj := range p.Objects {
		if obj.Key == key {
			return obj
		}
	}
	return nil
}

// FailedObjects returns the keys of objects that did not make it to
// the destination bucket. Populated copy results are required; before
// the copy phase this returns an empty list.
func (p *Pipeline) FailedObjects() []string {
	keys := make([]string, 0)
	for _, obj := range p.Objects {
		if !obj.Copied {
			keys = append(keys, obj.Key)
		}
	}
	return keys
}

// AllObjectsCopied returns true if the recorded object set is
// non-empty and every object is confirmed at the destination.
func (p *Pipeline) AllObjectsCopied() bool {
	if len(p.Objects) == 0 {
		return false
	}
	return len(p.FailedObjects()) == 0
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("Pipeline %s (task=%s, %s -> %s, state=%s)",
		p.Id, p.TransferTaskId, p.StagingBucket, p.DestinationBucket, p.State)
}
