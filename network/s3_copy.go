package network

import (
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Copy performs a server-side copy of a single object from the
// staging bucket to the destination bucket. No payload bytes pass
// through this process; S3 moves them internally, which is the whole
// point of the two-phase workaround.
type S3Copy struct {
	AWSRegion         string
	SourceBucket      string
	SourceKey         string
	DestinationBucket string
	DestinationKey    string
	ErrorMessage      string
	Response          *s3.CopyObjectOutput
	accessKeyId       string
	secretAccessKey   string
	session           *session.Session
}

// NewS3Copy sets up a new S3Copy object. Params:
//
// accessKeyId     - The AWS Access Key Id used to authenticate with AWS.
//                   Must be a principal the destination bucket's policy
//                   allows to write.
// secretAccessKey - The AWS secret access key.
// region          - The name of the AWS region where the source bucket
//                   lives. E.g. constants.AWSVirginia, constants.AWSOregon.
// sourceBucket    - The name of the staging bucket to copy from.
// sourceKey       - The key of the S3 object to be copied.
// destinationBucket - The name of the bucket to copy to.
// destinationKey    - The key of the S3 object in the destination bucket.
func NewS3Copy(accessKeyId, secretAccessKey, region, sourceBucket, sourceKey, destinationBucket, destinationKey string) *S3Copy {
	return &S3Copy{
		AWSRegion:         region,
		SourceBucket:      sourceBucket,
		SourceKey:         sourceKey,
		DestinationBucket: destinationBucket,
		DestinationKey:    destinationKey,
		accessKeyId:       accessKeyId,
		secretAccessKey:   secretAccessKey,
	}
}

// CopySource returns the copy source string. AWS docs say CopySource
// must be URL encoded.
func (client *S3Copy) CopySource() string {
	return fmt.Sprintf("%s/%s", url.PathEscape(client.SourceBucket), url.PathEscape(client.SourceKey))
}

// GetSession returns an S3 session for this copy operation.
func (client *S3Copy) GetSession() *session.Session {
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

// Copy submits the server-side copy request and then waits until S3
// reports the object exists at the destination. After this returns,
// check client.ErrorMessage: an empty string means the object is
// confirmed present in the destination bucket.
func (client *S3Copy) Copy() {
	client.Response = nil
	client.ErrorMessage = ""
	_session := client.GetSession()
	if _session == nil {
		return
	}
	service := s3.New(_session)
	if service == nil {
		return
	}
	copyObjectInput := &s3.CopyObjectInput{
		CopySource: aws.String(client.CopySource()),
		Bucket:     aws.String(client.DestinationBucket),
		Key:        aws.String(client.DestinationKey),
	}
	var err error
	client.Response, err = service.CopyObject(copyObjectInput)
	if err != nil {
		client.ErrorMessage = err.Error()
		return
	}
	headObjectInput := &s3.HeadObjectInput{
		Bucket: aws.String(client.DestinationBucket),
		Key:    aws.String(client.DestinationKey),
	}
	err = service.WaitUntilObjectExists(headObjectInput)
	if err != nil {
		client.ErrorMessage = err.Error()
	}
}
