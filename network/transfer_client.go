package network

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/APTrust/relay/constants"
	"github.com/op/go-logging"
)

// RetrySettings bounds the backoff loop for transient errors.
// Delay doubles after each attempt, capped at MaxDelay.
type RetrySettings struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetrySettings is used when the caller passes a zero value.
// The source materials don't prescribe retry parameters, so these
// are deliberately modest and overridable from the config file.
var DefaultRetrySettings = RetrySettings{
	MaxRetries: 5,
	BaseDelay:  500 * time.Millisecond,
	MaxDelay:   30 * time.Second,
}

// TransferClient talks to the transfer service's REST API and to its
// OAuth token endpoint. One client serves all pipelines; the access
// token is guarded so the credential manager can swap it while polls
// are in flight.
//
// Transient failures (connection errors, 429, 5xx) are retried here
// with capped exponential backoff and reported as ErrTransient only
// after retries are exhausted. They never become pipeline failures.
type TransferClient struct {
	HostUrl    string
	APIVersion string
	TokenUrl   string
	ClientId   string
	Retry      RetrySettings

	accessToken string
	tokenMutex  sync.RWMutex
	httpClient  *http.Client
	transport   *http.Transport
	logger      *logging.Logger
}

// NewTransferClient creates a new transfer service client. Params
// hostUrl, tokenUrl and clientId should come from the config file.
func NewTransferClient(hostUrl, apiVersion, tokenUrl, clientId string, retry RetrySettings, logger *logging.Logger) (*TransferClient, error) {
	if hostUrl == "" {
		return nil, fmt.Errorf("Transfer client needs a host URL")
	}
	if retry.MaxRetries <= 0 {
		retry = DefaultRetrySettings
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 8,
		DisableKeepAlives:   false,
		Dial: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).Dial,
		ResponseHeaderTimeout: 10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
	}
	httpClient := &http.Client{Transport: transport}
	// Trim trailing slashes from host url
	for strings.HasSuffix(hostUrl, "/") {
		hostUrl = hostUrl[:len(hostUrl)-1]
	}
	client := &TransferClient{
		HostUrl:    hostUrl,
		APIVersion: apiVersion,
		TokenUrl:   tokenUrl,
		ClientId:   clientId,
		Retry:      retry,
		httpClient: httpClient,
		transport:  transport,
		logger:     logger,
	}
	return client, nil
}

// SetAccessToken installs the bearer token used on subsequent
// requests. The credential manager calls this after a refresh.
func (client *TransferClient) SetAccessToken(token string) {
	client.tokenMutex.Lock()
	client.accessToken = token
	client.tokenMutex.Unlock()
}

func (client *TransferClient) getAccessToken() string {
	client.tokenMutex.RLock()
	defer client.tokenMutex.RUnlock()
	return client.accessToken
}

// BuildUrl combines the host and protocol in client.HostUrl with
// relativeUrl to create an absolute URL.
func (client *TransferClient) BuildUrl(relativeUrl string, queryParams *url.Values) string {
	fullUrl := client.HostUrl + relativeUrl
	if queryParams != nil {
		fullUrl = fmt.Sprintf("%s?%s", fullUrl, queryParams.Encode())
	}
	return fullUrl
}

// NewJsonRequest returns a new request with headers indicating JSON
// request and response formats, plus the current bearer token.
func (client *TransferClient) NewJsonRequest(method, targetUrl string) (*http.Request, error) {
	req, err := http.NewRequest(method, targetUrl, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", client.getAccessToken()))
	req.Header.Add("Connection", "Keep-Alive")
	return req, nil
}

// TaskGet returns the status of the transfer task with the given id.
// A 404 from the service does not set resp.Error: it yields a task
// whose NormalizedStatus is StatusUnknown, because "not found" is
// frequently a transient lie and the monitor only acts on it after
// several consecutive confirmations.
func (client *TransferClient) TaskGet(taskId string) *TransferResponse {
	resp := NewTransferResponse()
	relativeUrl := fmt.Sprintf("/%s/task/%s", client.APIVersion, url.PathEscape(taskId))
	absUrl := client.BuildUrl(relativeUrl, nil)

	client._doRequest(resp, "GET", absUrl)
	if resp.Error != nil {
		return resp
	}
	if resp.Response.StatusCode == http.StatusNotFound {
		resp.task = &TransferTask{TaskId: taskId, Status: "UNKNOWN"}
		return resp
	}
	resp.unmarshalTask()
	return resp
}

// EndpointGet looks up a collection by UUID. Used at registration to
// validate that the collection exists and to record its display name.
func (client *TransferClient) EndpointGet(endpointId string) *TransferResponse {
	resp := NewTransferResponse()
	relativeUrl := fmt.Sprintf("/%s/endpoint/%s", client.APIVersion, url.PathEscape(endpointId))
	absUrl := client.BuildUrl(relativeUrl, nil)

	client._doRequest(resp, "GET", absUrl)
	if resp.Error != nil {
		return resp
	}
	if resp.Response.StatusCode == http.StatusNotFound {
		resp.Error = fmt.Errorf("Transfer service has no endpoint with id %s", endpointId)
		resp.ErrorKind = constants.ErrTransferFailed
		return resp
	}
	resp.unmarshalEndpoint()
	return resp
}

// TokenRefresh trades a refresh token for a fresh access token at
// the OAuth token endpoint. The caller (the credential manager) is
// responsible for persisting the new grant before anyone uses it.
func (client *TransferClient) TokenRefresh(refreshToken string) *TransferResponse {
	resp := NewTransferResponse()
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", client.ClientId)

	client.doWithRetry(resp, func() (*http.Request, error) {
		req, err := http.NewRequest("POST", client.TokenUrl, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Add("Accept", "application/json")
		return req, nil
	})
	if resp.Error != nil {
		return resp
	}
	if resp.Response.StatusCode >= 400 {
		// The auth server refused the refresh token. Interactive
		// re-login is the only way out, and that's not our job.
		resp.Error = fmt.Errorf("Token endpoint returned status %d", resp.Response.StatusCode)
		resp.ErrorKind = constants.ErrAuthExpired
		return resp
	}
	resp.unmarshalGrant()
	return resp
}

// _doRequest issues an authorized JSON request with retries, reads
// the response, and closes the connection. If an error occurs, it
// will be recorded in resp.Error with its kind in resp.ErrorKind.
func (client *TransferClient) _doRequest(resp *TransferResponse, method, absoluteUrl string) {
	client.doWithRetry(resp, func() (*http.Request, error) {
		return client.NewJsonRequest(method, absoluteUrl)
	})
	if resp.Error != nil {
		return
	}
	code := resp.Response.StatusCode
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		resp.Error = fmt.Errorf("Transfer service returned status %d; access token is no longer valid", code)
		resp.ErrorKind = constants.ErrAuthExpired
	}
}

// doWithRetry runs buildRequest and sends the result, retrying on
// connection errors, 429 and 5xx with capped exponential backoff.
// The request is rebuilt for every attempt so retries always carry
// the current access token. On success the response body has been
// read and closed.
func (client *TransferClient) doWithRetry(resp *TransferResponse, buildRequest func() (*http.Request, error)) {
	delay := client.Retry.BaseDelay
	for attempt := 0; attempt <= client.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
			if delay > client.Retry.MaxDelay {
				delay = client.Retry.MaxDelay
			}
		}
		request, err := buildRequest()
		if err != nil {
			resp.Error = err
			return
		}
		resp.Request = request
		resp.Response, resp.Error = client.httpClient.Do(request)
		if resp.Error != nil {
			if client.logger != nil {
				client.logger.Warning("Request to %s failed (attempt %d of %d): %v",
					request.URL.Host, attempt+1, client.Retry.MaxRetries+1, resp.Error)
			}
			continue
		}
		code := resp.Response.StatusCode
		if code == http.StatusTooManyRequests || code >= 500 {
			if client.logger != nil {
				client.logger.Warning("Transfer service returned status %d (attempt %d of %d)",
					code, attempt+1, client.Retry.MaxRetries+1)
			}
			// Drain and close so the connection can be reused.
			resp.readResponse()
			resp.hasBeenRead = false
			resp.data = nil
			resp.Error = fmt.Errorf("Transfer service returned status %d", code)
			continue
		}
		// Read the response data and close the response body. That's
		// the only way to close the remote HTTP connection, which
		// will otherwise stay open indefinitely.
		resp.Error = nil
		resp.readResponse()
		return
	}
	resp.ErrorKind = constants.ErrTransient
	if resp.Error == nil {
		resp.Error = fmt.Errorf("Request failed after %d attempts", client.Retry.MaxRetries+1)
	}
}
