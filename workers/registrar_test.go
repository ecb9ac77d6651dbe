package workers_test

import (
	"fmt"
	"testing"

	"github.com/APTrust/relay/network"
	"github.com/APTrust/relay/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollectionLookup struct {
	endpoint *network.TransferEndpoint
	err      error
}

func (f *fakeCollectionLookup) CheckEndpoint(endpointId string) (*network.TransferEndpoint, error) {
	return f.endpoint, f.err
}

type fakeBucketChecker struct {
	exists bool
	err    error
}

func (f *fakeBucketChecker) BucketExists(bucketName string) (bool, error) {
	return f.exists, f.err
}

func TestAddCollection(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	lookup := &fakeCollectionLookup{
		endpoint: &network.TransferEndpoint{
			Id:          "uuid-1",
			DisplayName: "Research Data",
			Server:      "data.example.edu",
		},
	}
	registrar := workers.NewRegistrar(store, testLogger(), lookup, &fakeBucketChecker{exists: true})

	collection, err := registrar.AddCollection("uuid-1")
	require.Nil(t, err)
	assert.Equal(t, "Research Data", collection.Name)

	stored, err := store.GetCollection("uuid-1")
	require.Nil(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "data.example.edu", stored.Server)
}

func TestAddCollectionUnknownId(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	lookup := &fakeCollectionLookup{err: fmt.Errorf("no endpoint with id uuid-1")}
	registrar := workers.NewRegistrar(store, testLogger(), lookup, &fakeBucketChecker{})

	_, err := registrar.AddCollection("uuid-1")
	assert.NotNil(t, err)
	stored, err := store.GetCollection("uuid-1")
	assert.Nil(t, err)
	assert.Nil(t, stored)
}

func TestAddBucket(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	registrar := workers.NewRegistrar(store, testLogger(),
		&fakeCollectionLookup{}, &fakeBucketChecker{exists: true})

	bucket, err := registrar.AddBucket("staging", "us-east-1", "ops")
	require.Nil(t, err)
	assert.Equal(t, "staging", bucket.Name)

	stored, err := store.GetBucket("staging")
	require.Nil(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "us-east-1", stored.Region)
	assert.Equal(t, "ops", stored.OwnerHint)
}

func TestAddBucketMissing(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	registrar := workers.NewRegistrar(store, testLogger(),
		&fakeCollectionLookup{}, &fakeBucketChecker{exists: false})

	_, err := registrar.AddBucket("no-such-bucket", "us-east-1", "")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "no bucket named no-such-bucket")

	stored, err := store.GetBucket("no-such-bucket")
	assert.Nil(t, err)
	assert.Nil(t, stored)
}

func TestAddBucketCheckFails(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	registrar := workers.NewRegistrar(store, testLogger(),
		&fakeCollectionLookup{}, &fakeBucketChecker{err: fmt.Errorf("connection refused")})

	_, err := registrar.AddBucket("staging", "us-east-1", "")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "Cannot verify bucket")
}
