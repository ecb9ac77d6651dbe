package network

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3ObjectList lists the contents of the staging bucket so the copy
// orchestrator can record the exact object set it is about to copy.
type S3ObjectList struct {
	AWSRegion    string
	ErrorMessage string

	ListObjectsInput *s3.ListObjectsInput
	Response         *s3.ListObjectsOutput

	accessKeyId     string
	secretAccessKey string
	session         *session.Session
}

// NewS3ObjectList sets up a new object listing. Param prefix may be
// empty to list the whole bucket. Param maxKeys caps the page size,
// not the total: keep calling GetList until IsTruncated is false.
func NewS3ObjectList(accessKeyId, secretAccessKey, region, bucket, prefix string, maxKeys int64) *S3ObjectList {
	listObjectsInput := &s3.ListObjectsInput{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int64(maxKeys),
	}
	if prefix != "" {
		listObjectsInput.Prefix = aws.String(prefix)
	}
	return &S3ObjectList{
		AWSRegion:        region,
		ListObjectsInput: listObjectsInput,
		accessKeyId:      accessKeyId,
		secretAccessKey:  secretAccessKey,
	}
}

// GetSession returns an S3 session for this object list.
func (client *S3ObjectList) GetSession() *session.Session {
	if client.session == nil {
		var err error
		client.session, err = GetS3Session(client.AWSRegion,
			client.accessKeyId, client.secretAccessKey)
		if err != nil {
			client.ErrorMessage = err.Error()
		}
	}
	return client.session
}

// GetList returns a list of objects from this S3 bucket. Check
// *client.Response.IsTruncated to see if you got the complete list.
// If not, keep calling GetList until IsTruncated == false.
func (client *S3ObjectList) GetList() {
	client.ErrorMessage = ""
	_session := client.GetSession()
	if _session == nil {
		return
	}
	service := s3.New(_session)

	if client.Response != nil && client.Response.IsTruncated != nil && *client.Response.IsTruncated {
		client.ListObjectsInput.Marker = client.Response.NextMarker
	}

	var err error
	client.Response, err = service.ListObjects(client.ListObjectsInput)
	if err != nil {
		client.ErrorMessage = err.Error()
	}
}
