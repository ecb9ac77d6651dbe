package workers

import (
	"fmt"

	"github.com/APTrust/relay/models"
	"github.com/APTrust/relay/network"
	"github.com/APTrust/relay/util/storage"
	"github.com/op/go-logging"
)

// CollectionLookup is the slice of the transfer client the registrar
// needs: validate a collection UUID and fetch its display metadata.
type CollectionLookup interface {
	CheckEndpoint(endpointId string) (*network.TransferEndpoint, error)
}

// BucketChecker verifies that a bucket actually exists at the
// storage provider. *minio.Client satisfies this directly.
type BucketChecker interface {
	BucketExists(bucketName string) (bool, error)
}

// Registrar ingests the entities the external collaborator describes
// to us - collections and buckets - validating each against the
// service that owns it before recording it. Pipelines can only be
// registered against recorded entities, so a bad UUID or a
// misspelled bucket name fails loudly here instead of hours later in
// a poll cycle.
type Registrar struct {
	Store       *storage.Store
	MessageLog  *logging.Logger
	Collections CollectionLookup
	Buckets     BucketChecker
}

func NewRegistrar(store *storage.Store, messageLog *logging.Logger, collections CollectionLookup, buckets BucketChecker) *Registrar {
	return &Registrar{
		Store:       store,
		MessageLog:  messageLog,
		Collections: collections,
		Buckets:     buckets,
	}
}

// AddCollection validates the collection id with the transfer
// service and records it. Re-adding a known collection refreshes its
// display metadata, which is the only mutation collections allow.
func (registrar *Registrar) AddCollection(collectionId string) (*models.Collection, error) {
	endpoint, err := registrar.Collections.CheckEndpoint(collectionId)
	if err != nil {
		return nil, err
	}
	collection := models.NewCollection(endpoint.Id, endpoint.DisplayName, endpoint.Server)
	err = registrar.Store.SaveCollection(collection)
	if err != nil {
		return nil, err
	}
	registrar.MessageLog.Info("Recorded collection %s (%s)", collection.Id, collection.Name)
	return collection, nil
}

// AddBucket verifies the bucket exists at the storage provider and
// records it. The ownership hint is informational; the provider
// enforces actual ownership when the copy runs.
func (registrar *Registrar) AddBucket(name, region, ownerHint string) (*models.Bucket, error) {
	exists, err := registrar.Buckets.BucketExists(name)
	if err != nil {
		return nil, fmt.Errorf("Cannot verify bucket %s: %v", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("Storage provider has no bucket named %s", name)
	}
	bucket := models.NewBucket(name, region, ownerHint)
	err = registrar.Store.SaveBucket(bucket)
	if err != nil {
		return nil, err
	}
	registrar.MessageLog.Info("Recorded bucket %s (region %s)", bucket.Name, bucket.Region)
	return bucket, nil
}
