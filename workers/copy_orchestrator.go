package workers

import (
	"sync"

	"github.com/APTrust/relay/constants"
	"github.com/APTrust/relay/context"
	"github.com/APTrust/relay/models"
	"github.com/APTrust/relay/network"
	"github.com/APTrust/relay/util/storage"
	"github.com/op/go-logging"
)

// StorageProvider is the slice of the storage provider's API the
// orchestrator needs: list staging objects, copy one object
// server-side, and check for an object at the destination.
type StorageProvider interface {
	ListObjects(region, bucket, prefix string) ([]*models.ObjectCopy, error)
	CopyObject(region, sourceBucket, destinationBucket, key string) error
	ObjectExists(region, bucket, key string) (bool, error)
}

// CopyOrchestrator runs the second phase of each pipeline: once the
// transfer service has landed the payload in the staging bucket, it
// issues server-side copies into the destination bucket and records
// the terminal result.
//
// The "at most one copy submission" guarantee works like this: the
// object set and the Copying state are committed to the store BEFORE
// the first copy request goes out. A pipeline found in Copying on
// restart is therefore ambiguous - some or all requests may have
// been sent - so it is reconciled by asking the destination bucket
// what actually arrived, never by resubmitting.
type CopyOrchestrator struct {
	Store      *storage.Store
	MessageLog *logging.Logger
	// NewProvider builds the cycle's storage provider from the
	// credential the manager hands out, so a key rotated in the store
	// reaches the S3 clients on the very next cycle. Tests substitute
	// a factory returning a fake.
	NewProvider func(principal, secret string) StorageProvider
	Credentials *CredentialManager
	// NetworkConnections is the size of the per-object copy pool.
	NetworkConnections int
	// DefaultRegion is used for buckets that have no stored record
	// naming their region.
	DefaultRegion string
}

func NewCopyOrchestrator(_context *context.Context, credentials *CredentialManager) *CopyOrchestrator {
	connections := _context.Config.CopyWorker.NetworkConnections
	if connections <= 0 {
		connections = 4
	}
	region := _context.Config.AWSRegion
	if region == "" {
		region = constants.AWSVirginia
	}
	return &CopyOrchestrator{
		Store:      _context.Store,
		MessageLog: _context.MessageLog,
		NewProvider: func(principal, secret string) StorageProvider {
			return network.NewS3Service(principal, secret)
		},
		Credentials:        credentials,
		NetworkConnections: connections,
		DefaultRegion:      region,
	}
}

// PollCycle runs one orchestration cycle. Pipelines stranded in
// Copying by a crash are reconciled first, then pipelines newly
// arrived in AwaitingCopy get their copies submitted. Returns the
// number of pipelines that reached a terminal state.
func (orchestrator *CopyOrchestrator) PollCycle() int {
	finished := 0

	// One valid storage credential covers the whole cycle, and the
	// cycle's S3 clients are built from it. Storage keys are
	// typically long-lived, but temporary keys do expire and we'd
	// rather sit out a cycle than submit copies that will all be
	// rejected.
	cred, err := orchestrator.Credentials.Acquire(constants.ScopeStorage)
	if err != nil {
		if IsAuthExpired(err) {
			orchestrator.MessageLog.Warning("Storage credential expired; skipping copy cycle: %v", err)
		} else {
			orchestrator.MessageLog.Error("Cannot acquire storage credential: %v", err)
		}
		return 0
	}
	provider := orchestrator.NewProvider(cred.Principal, cred.Secret)

	copying, err := orchestrator.Store.PipelinesInState(constants.StateCopying)
	if err != nil {
		orchestrator.MessageLog.Error("Cannot load pipelines in Copying state: %v", err)
		return 0
	}
	for _, p := range copying {
		done, err := orchestrator.reconcile(provider, p)
		if err != nil {
			orchestrator.MessageLog.Error("Pipeline %s: %v", p.Id, err)
		}
		if done {
			finished++
		}
	}

	awaiting, err := orchestrator.Store.PipelinesInState(constants.StateAwaitingCopy)
	if err != nil {
		orchestrator.MessageLog.Error("Cannot load pipelines awaiting copy: %v", err)
		return finished
	}
	for _, p := range awaiting {
		done, err := orchestrator.runCopy(provider, p)
		if err != nil {
			orchestrator.MessageLog.Error("Pipeline %s: %v", p.Id, err)
		}
		if done {
			finished++
		}
	}
	return finished
}

// runCopy takes one pipeline from AwaitingCopy to a terminal state:
// record the object set, commit Copying, submit the copies, commit
// the outcome. Returns true if the pipeline reached a terminal state.
func (orchestrator *CopyOrchestrator) runCopy(provider StorageProvider, p *models.Pipeline) (bool, error) {
	cancelled, err := cancelIfRequested(orchestrator.Store, orchestrator.MessageLog, p)
	if cancelled || err != nil {
		return cancelled, err
	}

	p.WorkSummary.Start()
	region := orchestrator.regionFor(p.StagingBucket)

	objects, err := provider.ListObjects(region, p.StagingBucket, p.Prefix)
	if err != nil {
		// Listing is read-only and retryable next cycle. The pipeline
		// stays in AwaitingCopy.
		orchestrator.MessageLog.Warning(
			"Cannot list staging bucket %s for pipeline %s; will retry: %v",
			p.StagingBucket, p.Id, err)
		return false, nil
	}
	if len(objects) == 0 {
		return true, recordFailure(orchestrator.Store, orchestrator.MessageLog, p,
			constants.ErrCopyFailed,
			"Transfer reported success but staging bucket %s has no objects under prefix %q",
			p.StagingBucket, p.Prefix)
	}

	// Decide and record before acting: once Copying is durable, a
	// crash can no longer cause a second submission.
	p.Objects = objects
	err = recordTransition(orchestrator.Store, orchestrator.MessageLog, p, constants.StateCopying)
	if err != nil {
		return false, err
	}

	orchestrator.copyObjects(provider, p)
	return true, orchestrator.finish(p)
}

// copyObjects fans the pipeline's objects out over the copy pool and
// waits for all of them. Each object's outcome lands in its own
// ObjectCopy record; one object's failure never stops the others.
func (orchestrator *CopyOrchestrator) copyObjects(provider StorageProvider, p *models.Pipeline) {
	region := orchestrator.regionFor(p.StagingBucket)
	jobs := make(chan *models.ObjectCopy, len(p.Objects))
	var wg sync.WaitGroup
	for i := 0; i < orchestrator.NetworkConnections; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for obj := range jobs {
				err := provider.CopyObject(
					region, p.StagingBucket, p.DestinationBucket, obj.Key)
				if err != nil {
					obj.ErrorMessage = err.Error()
				} else {
					obj.Copied = true
				}
			}
		}()
	}
	for _, obj := range p.Objects {
		jobs <- obj
	}
	close(jobs)
	wg.Wait()
}

// reconcile handles a pipeline found in Copying at startup. We don't
// know which copy requests made it out before the crash, so we ask
// the destination bucket which objects are actually there and record
// the terminal result from that. Nothing is resubmitted.
func (orchestrator *CopyOrchestrator) reconcile(provider StorageProvider, p *models.Pipeline) (bool, error) {
	orchestrator.MessageLog.Info(
		"Reconciling pipeline %s found in Copying state (%d objects recorded)",
		p.Id, len(p.Objects))
	region := orchestrator.regionFor(p.DestinationBucket)
	for _, obj := range p.Objects {
		if obj.Copied {
			continue
		}
		exists, err := provider.ObjectExists(region, p.DestinationBucket, obj.Key)
		if err != nil {
			// Can't tell. Leave the pipeline in Copying and let the
			// next cycle finish the reconciliation.
			orchestrator.MessageLog.Warning(
				"Cannot verify %s/%s for pipeline %s; will retry: %v",
				p.DestinationBucket, obj.Key, p.Id, err)
			return false, nil
		}
		if exists {
			obj.Copied = true
			obj.ErrorMessage = ""
		} else if obj.ErrorMessage == "" {
			obj.ErrorMessage = "Object not found in destination bucket after restart"
		}
	}
	return true, orchestrator.finish(p)
}

// finish records the terminal state for a pipeline whose per-object
// results are fully known.
func (orchestrator *CopyOrchestrator) finish(p *models.Pipeline) error {
	if p.AllObjectsCopied() {
		p.WorkSummary.Finish()
		return recordTransition(orchestrator.Store, orchestrator.MessageLog, p, constants.StateCompleted)
	}
	failed := p.FailedObjects()
	return recordFailure(orchestrator.Store, orchestrator.MessageLog, p,
		constants.ErrCopyFailed, "%d of %d objects were not copied to %s",
		len(failed), len(p.Objects), p.DestinationBucket)
}

// regionFor returns the recorded region for a bucket, or the default
// region if we have no record for it.
func (orchestrator *CopyOrchestrator) regionFor(bucketName string) string {
	bucket, err := orchestrator.Store.GetBucket(bucketName)
	if err != nil || bucket == nil || bucket.Region == "" {
		return orchestrator.DefaultRegion
	}
	return bucket.Region
}
