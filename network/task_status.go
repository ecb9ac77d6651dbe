package network

import (
	"fmt"
	"time"

	"github.com/APTrust/relay/constants"
)

// TaskStatus is the monitor-facing summary of one status query.
// Status is always one of the constants.Status* values when Err is
// nil. When Err is non-nil, ErrorKind classifies it (ErrTransient or
// ErrAuthExpired) and Status is meaningless.
type TaskStatus struct {
	TaskId    string
	Status    string
	Detail    string
	Completed time.Time
	ErrorKind string
	Err       error
}

// CheckTask queries the transfer service for one task and flattens
// the response into a TaskStatus. This is the method the transfer
// monitor multiplexes across its worker pool.
func (client *TransferClient) CheckTask(taskId string) *TaskStatus {
	result := &TaskStatus{TaskId: taskId}
	resp := client.TaskGet(taskId)
	if resp.Error != nil {
		result.Err = resp.Error
		result.ErrorKind = resp.ErrorKind
		return result
	}
	task := resp.Task()
	result.Status = task.NormalizedStatus()
	result.Completed = task.CompletionTime
	if task.FatalErrorDetail != "" {
		result.Detail = task.FatalErrorDetail
	} else if task.FatalErrorCode != "" {
		result.Detail = task.FatalErrorCode
	} else if task.NiceStatus != "" {
		result.Detail = task.NiceStatus
	}
	return result
}

// CheckEndpoint validates a collection UUID against the transfer
// service and returns its metadata. Used at registration time.
func (client *TransferClient) CheckEndpoint(endpointId string) (*TransferEndpoint, error) {
	resp := client.EndpointGet(endpointId)
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Endpoint(), nil
}

// RefreshAccessToken trades refresh material for a new grant and
// returns it along with an error kind on failure. The credential
// manager persists the grant before installing the new token on this
// client.
func (client *TransferClient) RefreshAccessToken(refreshToken string) (*TokenGrant, string, error) {
	resp := client.TokenRefresh(refreshToken)
	if resp.Error != nil {
		return nil, resp.ErrorKind, resp.Error
	}
	grant := resp.Grant()
	if grant == nil || grant.AccessToken == "" {
		return nil, constants.ErrAuthExpired,
			fmt.Errorf("Token endpoint returned a grant with no access token")
	}
	return grant, "", nil
}
