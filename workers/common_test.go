package workers_test

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/APTrust/relay/constants"
	"github.com/APTrust/relay/models"
	"github.com/APTrust/relay/network"
	"github.com/APTrust/relay/util/logger"
	"github.com/APTrust/relay/util/storage"
	"github.com/op/go-logging"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*storage.Store, func()) {
	dir, err := ioutil.TempDir("", "relay_workers_test")
	require.Nil(t, err)
	store, err := storage.NewStore(filepath.Join(dir, "relay.db"))
	require.Nil(t, err)
	return store, func() {
		store.Close()
		os.RemoveAll(dir)
	}
}

func testLogger() *logging.Logger {
	return logger.DiscardLogger("workers_test")
}

// seedCredential stores a non-expiring credential for the given scope.
func seedCredential(t *testing.T, store *storage.Store, scope string) {
	cred := models.NewCredential(scope, "principal", "sekrit")
	require.Nil(t, store.SaveCredential(cred))
}

// savePipeline creates a pipeline in the given state and persists it.
func savePipeline(t *testing.T, store *storage.Store, state string) *models.Pipeline {
	p := models.NewPipeline("coll-1", "staging", "destination", fmt.Sprintf("task-%s", nextId()))
	p.State = state
	require.Nil(t, store.SavePipeline(p))
	return p
}

var idCounter int
var idMutex sync.Mutex

func nextId() string {
	idMutex.Lock()
	defer idMutex.Unlock()
	idCounter++
	return fmt.Sprintf("%04d", idCounter)
}

// fakeRefresher satisfies TokenRefresher.
type fakeRefresher struct {
	grant          *network.TokenGrant
	errKind        string
	err            error
	refreshCalls   int
	installedToken string
}

func (f *fakeRefresher) RefreshAccessToken(refreshToken string) (*network.TokenGrant, string, error) {
	f.refreshCalls++
	return f.grant, f.errKind, f.err
}

func (f *fakeRefresher) SetAccessToken(token string) {
	f.installedToken = token
}

// fakeChecker satisfies TaskChecker, answering from a fixed map.
type fakeChecker struct {
	statuses map[string]*network.TaskStatus
	calls    int
	mutex    sync.Mutex
}

func (f *fakeChecker) CheckTask(taskId string) *network.TaskStatus {
	f.mutex.Lock()
	f.calls++
	f.mutex.Unlock()
	if status, ok := f.statuses[taskId]; ok {
		return status
	}
	return &network.TaskStatus{TaskId: taskId, Status: constants.StatusActive}
}

// fakeProvider satisfies StorageProvider. Keys listed in failCopies
// fail their copy; keys in missing are absent from the destination.
type fakeProvider struct {
	objects    []*models.ObjectCopy
	listErr    error
	failCopies map[string]bool
	missing    map[string]bool
	existsErr  error
	copyCalls  []string
	mutex      sync.Mutex
}

func (f *fakeProvider) ListObjects(region, bucket, prefix string) ([]*models.ObjectCopy, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	// Callers mutate the returned records, so hand out copies.
	objects := make([]*models.ObjectCopy, len(f.objects))
	for i, obj := range f.objects {
		dup := *obj
		objects[i] = &dup
	}
	return objects, nil
}

func (f *fakeProvider) CopyObject(region, sourceBucket, destinationBucket, key string) error {
	f.mutex.Lock()
	f.copyCalls = append(f.copyCalls, key)
	f.mutex.Unlock()
	if f.failCopies[key] {
		return fmt.Errorf("access denied copying %s", key)
	}
	return nil
}

func (f *fakeProvider) ObjectExists(region, bucket, key string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return !f.missing[key], nil
}
