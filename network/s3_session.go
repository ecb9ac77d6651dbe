package network

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
)

// GetS3Session returns an S3 session for the given region, using the
// explicit key pair supplied by the credential manager. We never fall
// back to the SDK's default credential chain: the keys in play must
// be the ones recorded in the store, because the destination bucket's
// policy is granted to a specific principal.
func GetS3Session(awsRegion, accessKeyId, secretAccessKey string) (*session.Session, error) {
	if accessKeyId == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("AWS access key id and/or secret access key is empty")
	}
	creds := credentials.NewStaticCredentials(accessKeyId, secretAccessKey, "")
	_session := session.New(&aws.Config{
		Region:      aws.String(awsRegion),
		Credentials: creds,
	})
	if _session == nil {
		return nil, fmt.Errorf("AWS Session returned nil")
	}
	return _session, nil
}
