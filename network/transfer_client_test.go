package network_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/APTrust/relay/constants"
	"github.com/APTrust/relay/network"
	"github.com/APTrust/relay/util/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = network.RetrySettings{
	MaxRetries: 2,
	BaseDelay:  time.Millisecond,
	MaxDelay:   5 * time.Millisecond,
}

func newTestClient(t *testing.T, serverUrl string) *network.TransferClient {
	client, err := network.NewTransferClient(serverUrl, "v0.10",
		serverUrl+"/token", "client-abc", fastRetry,
		logger.DiscardLogger("transfer_client_test"))
	require.Nil(t, err)
	client.SetAccessToken("test-token")
	return client
}

func TestNewTransferClient(t *testing.T) {
	client, err := network.NewTransferClient("https://transfer.example.org//", "v0.10",
		"https://auth.example.org/token", "client-abc", network.RetrySettings{}, nil)
	require.Nil(t, err)
	assert.Equal(t, "https://transfer.example.org", client.HostUrl)
	assert.Equal(t, network.DefaultRetrySettings.MaxRetries, client.Retry.MaxRetries)

	_, err = network.NewTransferClient("", "v0.10", "", "", network.RetrySettings{}, nil)
	assert.NotNil(t, err)
}

func TestBuildUrl(t *testing.T) {
	client, err := network.NewTransferClient("https://transfer.example.org", "v0.10",
		"https://auth.example.org/token", "client-abc", network.RetrySettings{}, nil)
	require.Nil(t, err)
	assert.Equal(t, "https://transfer.example.org/v0.10/task/abc",
		client.BuildUrl("/v0.10/task/abc", nil))
}

func TestTaskGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0.10/task/task-99", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{
			"task_id": "task-99",
			"status": "SUCCEEDED",
			"label": "weekly sync",
			"completion_time": "2020-01-15T10:30:00Z"
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp := client.TaskGet("task-99")
	require.Nil(t, resp.Error)
	task := resp.Task()
	require.NotNil(t, task)
	assert.Equal(t, "task-99", task.TaskId)
	assert.Equal(t, constants.StatusSucceeded, task.NormalizedStatus())
	assert.Equal(t, 2020, task.CompletionTime.Year())
}

func TestTaskGetNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code": "TaskNotFound"}`, http.StatusNotFound)
	}))
	defer server.Close()

	// 404 is not an error; it yields an unknown-status task that the
	// monitor counts as a strike.
	client := newTestClient(t, server.URL)
	resp := client.TaskGet("task-99")
	require.Nil(t, resp.Error)
	task := resp.Task()
	require.NotNil(t, task)
	assert.Equal(t, "task-99", task.TaskId)
	assert.Equal(t, constants.StatusUnknown, task.NormalizedStatus())
}

func TestTaskGetAuthExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code": "AuthenticationFailed"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp := client.TaskGet("task-99")
	require.NotNil(t, resp.Error)
	assert.Equal(t, constants.ErrAuthExpired, resp.ErrorKind)
}

func TestTaskGetRetriesTransientErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"task_id": "task-99", "status": "ACTIVE"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp := client.TaskGet("task-99")
	require.Nil(t, resp.Error)
	assert.Equal(t, 2, calls)
	assert.Equal(t, constants.StatusActive, resp.Task().NormalizedStatus())
}

func TestTaskGetExhaustsRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp := client.TaskGet("task-99")
	require.NotNil(t, resp.Error)
	assert.Equal(t, constants.ErrTransient, resp.ErrorKind)
	assert.Equal(t, fastRetry.MaxRetries+1, calls)
}

func TestEndpointGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0.10/endpoint/uuid-1", r.URL.Path)
		fmt.Fprint(w, `{
			"id": "uuid-1",
			"display_name": "Research Data",
			"server": "data.example.edu"
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp := client.EndpointGet("uuid-1")
	require.Nil(t, resp.Error)
	endpoint := resp.Endpoint()
	require.NotNil(t, endpoint)
	assert.Equal(t, "Research Data", endpoint.DisplayName)
	assert.Equal(t, "data.example.edu", endpoint.Server)
}

func TestEndpointGetNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code": "EndpointNotFound"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp := client.EndpointGet("uuid-1")
	require.NotNil(t, resp.Error)
	assert.Equal(t, constants.ErrTransferFailed, resp.ErrorKind)
}

func TestTokenRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Nil(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-material", r.Form.Get("refresh_token"))
		assert.Equal(t, "client-abc", r.Form.Get("client_id"))
		fmt.Fprint(w, `{
			"access_token": "fresh-token",
			"refresh_token": "fresh-refresh",
			"expires_in": 3600,
			"token_type": "Bearer"
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp := client.TokenRefresh("refresh-material")
	require.Nil(t, resp.Error)
	grant := resp.Grant()
	require.NotNil(t, grant)
	assert.Equal(t, "fresh-token", grant.AccessToken)
	assert.Equal(t, 3600, grant.ExpiresIn)
}

func TestTokenRefreshRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp := client.TokenRefresh("stale-refresh")
	require.NotNil(t, resp.Error)
	assert.Equal(t, constants.ErrAuthExpired, resp.ErrorKind)
}

func TestNormalizedStatus(t *testing.T) {
	task := &network.TransferTask{}
	for status, expected := range map[string]string{
		"SUCCEEDED":  constants.StatusSucceeded,
		"FAILED":     constants.StatusFailed,
		"ACTIVE":     constants.StatusActive,
		"INACTIVE":   constants.StatusActive,
		"UNKNOWN":    constants.StatusUnknown,
		"active":     constants.StatusActive,
		"NewHotness": constants.StatusActive,
	} {
		task.Status = status
		assert.Equal(t, expected, task.NormalizedStatus(), "status %s", status)
	}
}

func TestCheckTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"task_id": "task-99",
			"status": "FAILED",
			"nice_status": "PERMISSION_DENIED",
			"fatal_error_code": "EndpointPermissionDenied",
			"fatal_error_detail": "No write access to staging endpoint"
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	status := client.CheckTask("task-99")
	require.Nil(t, status.Err)
	assert.Equal(t, constants.StatusFailed, status.Status)
	assert.Equal(t, "No write access to staging endpoint", status.Detail)
}

func TestRefreshAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token": "fresh-token", "expires_in": 600}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	grant, errKind, err := client.RefreshAccessToken("refresh-material")
	require.Nil(t, err)
	assert.Empty(t, errKind)
	assert.Equal(t, "fresh-token", grant.AccessToken)
}

func TestRefreshAccessTokenEmptyGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	grant, errKind, err := client.RefreshAccessToken("refresh-material")
	assert.Nil(t, grant)
	assert.Equal(t, constants.ErrAuthExpired, errKind)
	assert.NotNil(t, err)
}
