package workers

import (
	"sync"
	"time"

	"github.com/APTrust/relay/constants"
	"github.com/APTrust/relay/models"
	"github.com/APTrust/relay/network"
	"github.com/APTrust/relay/util/storage"
	"github.com/op/go-logging"
)

// Refresh a transfer token this long before it actually expires, so
// a poll cycle never starts with a token about to die mid-cycle.
const REFRESH_WINDOW = 5 * time.Minute

// TokenRefresher is the slice of the transfer client the credential
// manager needs: trade a refresh token for a new grant, and install
// the resulting access token for subsequent API calls.
type TokenRefresher interface {
	RefreshAccessToken(refreshToken string) (*network.TokenGrant, string, error)
	SetAccessToken(token string)
}

// CredentialManager hands out valid credentials to the monitor and
// orchestrator, refreshing expiring transfer tokens through the
// OAuth token endpoint. There is no global credential cache: one
// manager instance is created per process and injected into the
// workers that need it. The only locking is around the refresh path,
// so two callers can't refresh the same credential independently.
//
// Obtaining brand-new credentials (the interactive login ceremony)
// is not handled here. When a credential is missing or unrefreshable
// this returns an AuthExpired error and the caller leaves the
// pipeline where it is; it will be retried once the operator has
// logged in again.
type CredentialManager struct {
	Store      *storage.Store
	Refresher  TokenRefresher
	MessageLog *logging.Logger
	mutex      sync.Mutex
}

func NewCredentialManager(store *storage.Store, refresher TokenRefresher, messageLog *logging.Logger) *CredentialManager {
	return &CredentialManager{
		Store:      store,
		Refresher:  refresher,
		MessageLog: messageLog,
	}
}

// StoreCredential persists a newly obtained credential. For the
// transfer scope, the access token is also installed on the transfer
// client, but only after the store write succeeds: a credential no
// one can recover after a crash is worse than no credential.
func (manager *CredentialManager) StoreCredential(cred *models.Credential) error {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	cred.UpdatedAt = time.Now().UTC()
	err := manager.Store.SaveCredential(cred)
	if err != nil {
		return err
	}
	if cred.Scope == constants.ScopeTransfer && manager.Refresher != nil {
		manager.Refresher.SetAccessToken(cred.Secret)
	}
	return nil
}

// Acquire returns a valid (not expired) credential for the given
// scope, transparently refreshing one that is expired or about to
// expire. Returns a ServiceError of kind AuthExpired when no valid
// credential exists and no refresh path is available, or of kind
// TransientServiceError when the token endpoint is unreachable.
func (manager *CredentialManager) Acquire(scope string) (*models.Credential, error) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	cred, err := manager.Store.GetCredential(scope)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, NewServiceError(constants.ErrAuthExpired,
			"No credential stored for scope %s; interactive login required", scope)
	}
	if !cred.IsExpired() && !cred.ExpiresWithin(REFRESH_WINDOW) {
		// Install the token even though no refresh happened. A fresh
		// process holds a client with no token at all; the stored
		// credential is the only copy that survives a restart.
		if cred.Scope == constants.ScopeTransfer && manager.Refresher != nil {
			manager.Refresher.SetAccessToken(cred.Secret)
		}
		return cred, nil
	}
	if !cred.CanRefresh() || manager.Refresher == nil {
		return nil, NewServiceError(constants.ErrAuthExpired,
			"Credential for scope %s is expired and has no refresh material; "+
				"interactive login required", scope)
	}

	manager.MessageLog.Info("Refreshing credential for scope %s (expires %s)",
		scope, cred.ExpiresAt.Format(time.RFC3339))
	grant, errKind, err := manager.Refresher.RefreshAccessToken(cred.RefreshToken)
	if err != nil {
		if errKind == "" {
			errKind = constants.ErrAuthExpired
		}
		return nil, NewServiceError(errKind, "Cannot refresh credential for scope %s: %v", scope, err)
	}

	cred.Secret = grant.AccessToken
	if grant.RefreshToken != "" {
		cred.RefreshToken = grant.RefreshToken
	}
	if grant.ExpiresIn > 0 {
		cred.ExpiresAt = time.Now().UTC().Add(time.Duration(grant.ExpiresIn) * time.Second)
	}
	cred.UpdatedAt = time.Now().UTC()

	// Commit before returning, so no other caller ever sees (and
	// tries to refresh) the stale secret.
	err = manager.Store.SaveCredential(cred)
	if err != nil {
		return nil, err
	}
	manager.Refresher.SetAccessToken(cred.Secret)
	return cred, nil
}
