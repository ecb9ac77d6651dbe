package network

import (
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Head issues HEAD requests against one bucket. The copy
// orchestrator uses it to reconcile a pipeline that crashed in the
// Copying state: instead of resubmitting the copy, it asks the
// destination bucket which objects actually arrived.
type S3Head struct {
	AWSRegion       string
	BucketName      string
	ErrorMessage    string
	Response        *s3.HeadObjectOutput
	session         *session.Session
	accessKeyId     string
	secretAccessKey string
}

// NewS3Head sets up a new S3 head request. Params:
//
// accessKeyId     - The AWS Access Key Id used to authenticate with AWS.
// secretAccessKey - The AWS secret access key.
// region          - The name of the AWS region the bucket lives in.
// bucket          - The name of the bucket to query.
func NewS3Head(accessKeyId, secretAccessKey, region, bucket string) *S3Head {
	return &S3Head{
		AWSRegion:       region,
		BucketName:      bucket,
		accessKeyId:     accessKeyId,
		secretAccessKey: secretAccessKey,
	}
}

// GetSession returns an S3 session for this head request.
func (client *S3Head) GetSession() *session.Session {
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

// Head sends a HEAD request to S3 for the specified key. After
// calling this, check client.ErrorMessage and client.Response.
// A missing key leaves Response nil with an empty ErrorMessage; see
// Exists for the common case.
func (client *S3Head) Head(key string) {
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
	params := &s3.HeadObjectInput{
		Bucket: aws.String(client.BucketName),
		Key:    aws.String(key),
	}
	response, err := service.HeadObject(params)
	if err != nil {
		if isNotFound(err) {
			return
		}
		client.ErrorMessage = err.Error()
		return
	}
	client.Response = response
}

// Exists returns true if the most recent Head call found the object.
// Check ErrorMessage first: a request error means we don't know.
func (client *S3Head) Exists() bool {
	return client.Response != nil
}

// ETag returns the object's etag from the most recent Head call,
// without the quotes S3 wraps it in, or an empty string if the
// object wasn't found.
func (client *S3Head) ETag() string {
	if client.Response == nil || client.Response.ETag == nil {
		return ""
	}
	return strings.Replace(*client.Response.ETag, "\"", "", -1)
}

// S3 reports a missing key on HEAD as NotFound or a bare 404,
// depending on SDK version and endpoint.
func isNotFound(err error) bool {
	if awsErr, ok := err.(awserr.RequestFailure); ok {
		return awsErr.StatusCode() == 404
	}
	if awsErr, ok := err.(awserr.Error); ok {
		return awsErr.Code() == "NotFound" || awsErr.Code() == s3.ErrCodeNoSuchKey
	}
	return false
}
