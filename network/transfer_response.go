package network

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/APTrust/relay/constants"
)

// TransferTask is the transfer service's record of one transfer job.
// Only the fields we act on are mapped; the raw JSON is available on
// the response for forensics.
type TransferTask struct {
	TaskId           string    `json:"task_id"`
	Status           string    `json:"status"`
	NiceStatus       string    `json:"nice_status"`
	Label            string    `json:"label"`
	SourceEndpoint   string    `json:"source_endpoint_id"`
	CompletionTime   time.Time `json:"completion_time"`
	FatalErrorCode   string    `json:"fatal_error_code"`
	FatalErrorDetail string    `json:"fatal_error_detail"`
}

// NormalizedStatus maps the service's status vocabulary onto ours.
// Anything we don't recognize counts as active, so an API change on
// their side stalls pipelines instead of failing them.
func (task *TransferTask) NormalizedStatus() string {
	switch strings.ToUpper(task.Status) {
	case "SUCCEEDED":
		return constants.StatusSucceeded
	case "FAILED":
		return constants.StatusFailed
	case "UNKNOWN":
		return constants.StatusUnknown
	case "ACTIVE", "INACTIVE":
		return constants.StatusActive
	}
	return constants.StatusActive
}

// TransferEndpoint is the transfer service's record of a collection.
type TransferEndpoint struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name"`
	Server      string `json:"server"`
}

// TokenGrant is what the OAuth token endpoint returns when we
// refresh an access token.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// TransferResponse is the result of one call to the transfer
// service. Check Error before using any of the typed accessors.
// ErrorKind classifies the error using the constants.Err* values so
// callers can tell an expired token from a dead task.
type TransferResponse struct {
	Request   *http.Request
	Response  *http.Response
	Error     error
	ErrorKind string

	task     *TransferTask
	endpoint *TransferEndpoint
	grant    *TokenGrant

	hasBeenRead bool
	data        []byte
}

func NewTransferResponse() *TransferResponse {
	return &TransferResponse{}
}

// RawResponseData returns the raw body of the HTTP response as a
// byte slice. The return value may be nil.
func (resp *TransferResponse) RawResponseData() ([]byte, error) {
	if !resp.hasBeenRead {
		resp.readResponse()
	}
	return resp.data, resp.Error
}

// Reads the body of an HTTP response object, closes the stream, and
// stores the bytes. The body MUST be closed, or we wind up with a
// lot of open network connections.
func (resp *TransferResponse) readResponse() {
	if !resp.hasBeenRead && resp.Response != nil && resp.Response.Body != nil {
		resp.data, resp.Error = ioutil.ReadAll(resp.Response.Body)
		resp.Response.Body.Close()
		resp.hasBeenRead = true
	}
}

// Task returns the task record from this response, or nil if the
// response did not contain one.
func (resp *TransferResponse) Task() *TransferTask {
	return resp.task
}

// Endpoint returns the endpoint record from this response, or nil if
// the response did not contain one.
func (resp *TransferResponse) Endpoint() *TransferEndpoint {
	return resp.endpoint
}

// Grant returns the token grant from this response, or nil if the
// response did not contain one.
func (resp *TransferResponse) Grant() *TokenGrant {
	return resp.grant
}

func (resp *TransferResponse) unmarshalTask() {
	task := &TransferTask{}
	resp.Error = json.Unmarshal(resp.data, task)
	if resp.Error == nil {
		resp.task = task
	}
}

func (resp *TransferResponse) unmarshalEndpoint() {
	endpoint := &TransferEndpoint{}
	resp.Error = json.Unmarshal(resp.data, endpoint)
	if resp.Error == nil {
		resp.endpoint = endpoint
	}
}

func (resp *TransferResponse) unmarshalGrant() {
	grant := &TokenGrant{}
	resp.Error = json.Unmarshal(resp.data, grant)
	if resp.Error == nil {
		resp.grant = grant
	}
}
