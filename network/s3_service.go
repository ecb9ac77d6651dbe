package network

import (
	"fmt"

	"github.com/APTrust/relay/models"
)

// S3Service bundles the per-operation S3 clients behind the three
// calls the copy orchestrator actually makes: list the staging
// bucket, copy one object, and check whether an object exists at the
// destination. The orchestrator talks to this instead of to the raw
// clients so its tests can substitute a fake storage provider.
type S3Service struct {
	accessKeyId     string
	secretAccessKey string
}

func NewS3Service(accessKeyId, secretAccessKey string) *S3Service {
	return &S3Service{
		accessKeyId:     accessKeyId,
		secretAccessKey: secretAccessKey,
	}
}

// ListObjects returns one ObjectCopy record per object under prefix
// in the given bucket, paging through the listing until S3 says it's
// complete.
func (svc *S3Service) ListObjects(region, bucket, prefix string) ([]*models.ObjectCopy, error) {
	lister := NewS3ObjectList(svc.accessKeyId, svc.secretAccessKey,
		region, bucket, prefix, 1000)
	objects := make([]*models.ObjectCopy, 0)
	for {
		lister.GetList()
		if lister.ErrorMessage != "" {
			return nil, fmt.Errorf("Error listing bucket %s: %s", bucket, lister.ErrorMessage)
		}
		for _, item := range lister.Response.Contents {
			obj := &models.ObjectCopy{Key: *item.Key}
			if item.Size != nil {
				obj.Size = *item.Size
			}
			if item.ETag != nil {
				obj.ETag = *item.ETag
			}
			objects = append(objects, obj)
		}
		if lister.Response.IsTruncated == nil || !*lister.Response.IsTruncated {
			break
		}
	}
	return objects, nil
}

// CopyObject performs the server-side copy of a single key from the
// staging bucket to the destination bucket and confirms the object
// exists at the destination before returning.
func (svc *S3Service) CopyObject(region, sourceBucket, destinationBucket, key string) error {
	copyClient := NewS3Copy(svc.accessKeyId, svc.secretAccessKey,
		region, sourceBucket, key, destinationBucket, key)
	copyClient.Copy()
	if copyClient.ErrorMessage != "" {
		return fmt.Errorf("%s", copyClient.ErrorMessage)
	}
	return nil
}

// ObjectExists reports whether the given key is present in the
// bucket. Used to reconcile pipelines that crashed mid-copy.
func (svc *S3Service) ObjectExists(region, bucket, key string) (bool, error) {
	headClient := NewS3Head(svc.accessKeyId, svc.secretAccessKey, region, bucket)
	headClient.Head(key)
	if headClient.ErrorMessage != "" {
		return false, fmt.Errorf("HEAD %s/%s: %s", bucket, key, headClient.ErrorMessage)
	}
	return headClient.Exists(), nil
}
