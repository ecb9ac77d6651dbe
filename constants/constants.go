// Common vars and constants, shared by many parts of the relay library.
package constants

// Pipeline state enumerations. A pipeline moves through these states
// strictly in order, with no skips and no revisits. StateCompleted and
// StateFailed are the only terminal states.
const (
	StateRegistered       = "Registered"
	StateAwaitingTransfer = "AwaitingTransfer"
	StateAwaitingCopy     = "AwaitingCopy"
	StateCopying          = "Copying"
	StateCompleted        = "Completed"
	StateFailed           = "Failed"
)

var PipelineStates []string = []string{
	StateRegistered,
	StateAwaitingTransfer,
	StateAwaitingCopy,
	StateCopying,
	StateCompleted,
	StateFailed,
}

// Transfer task status values reported by the transfer service.
// StatusUnknown means the service says it has no record of the task,
// which we treat as failed only after several consecutive confirmations.
const (
	StatusActive    = "active"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusUnknown   = "unknown"
)

var TransferStatuses []string = []string{
	StatusActive,
	StatusSucceeded,
	StatusFailed,
	StatusUnknown,
}

// Error kinds recorded on failed pipelines and returned by the
// credential manager and network clients.
const (
	ErrAuthExpired    = "AuthExpired"
	ErrTransient      = "TransientServiceError"
	ErrTransferFailed = "TransferFailed"
	ErrCopyFailed     = "CopyFailed"
	ErrCancelled      = "Cancelled"
)

// Credential scopes. ScopeTransfer covers the transfer service's API,
// ScopeStorage covers the storage provider (S3).
const (
	ScopeTransfer = "transfer"
	ScopeStorage  = "storage"
)

var CredentialScopes []string = []string{
	ScopeTransfer,
	ScopeStorage,
}

// Entity kinds in the persistent store. Each kind maps to its own
// bolt bucket.
const (
	KindPipeline   = "pipelines"
	KindCredential = "credentials"
	KindCollection = "collections"
	KindBucket     = "buckets"
)

var EntityKinds []string = []string{
	KindPipeline,
	KindCredential,
	KindCollection,
	KindBucket,
}

// SchemaVersion is the current persistent store schema version.
// The store records this in its meta bucket so future versions can
// apply additive migrations without losing data.
const SchemaVersion = 1

const (
	AWSVirginia = "us-east-1"
	AWSOregon   = "us-west-2"
)

// IsTerminalState returns true if the given pipeline state is one
// from which no further transitions are allowed.
func IsTerminalState(state string) bool {
	return state == StateCompleted || state == StateFailed
}
