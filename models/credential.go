package models

import (
	"fmt"
	"time"
)

// Credential holds secret material authorizing us to talk to either
// the transfer service or the storage provider. Credentials are
// persisted in the local store and re-validated for expiry every time
// a component asks for one. The Secret and RefreshToken fields must
// never appear in logs; use String() when logging.
type Credential struct {
	// Scope says which service this credential authorizes.
	// See constants.CredentialScopes.
	Scope string `json:"scope"`
	// Principal identifies the owner of the secret: an OAuth client id
	// for the transfer service, or an access key id for the storage
	// provider.
	Principal string `json:"principal"`
	// Secret is the opaque secret material: a bearer token for the
	// transfer service, or a secret access key for the storage provider.
	Secret string `json:"secret"`
	// RefreshToken is the material used to obtain a fresh Secret when
	// the current one expires. Empty for long-lived storage keys and
	// for transfer tokens issued without offline access.
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is when Secret stops being valid. The zero value means
	// the secret does not expire (long-lived storage keys).
	ExpiresAt time.Time `json:"expires_at"`
	// UpdatedAt is when this record was last written, including writes
	// caused by a token refresh.
	UpdatedAt time.Time `json:"updated_at"`
}

func NewCredential(scope, principal, secret string) *Credential {
	return &Credential{
		Scope:     scope,
		Principal: principal,
		Secret:    secret,
		UpdatedAt: time.Now().UTC(),
	}
}

// IsExpired returns true if the secret is past its expiry.
// Credentials with a zero expiry never expire.
func (cred *Credential) IsExpired() bool {
	if cred.ExpiresAt.IsZero() {
		return false
	}
	return !cred.ExpiresAt.After(time.Now().UTC())
}

// ExpiresWithin returns true if the secret expires within the given
// duration. The monitor refreshes tokens a little early so a poll
// cycle never starts with a token about to die mid-cycle.
func (cred *Credential) ExpiresWithin(d time.Duration) bool {
	if cred.ExpiresAt.IsZero() {
		return false
	}
	return !cred.ExpiresAt.After(time.Now().UTC().Add(d))
}

// CanRefresh returns true if we hold refresh material for this
// credential. When this is false and the secret is expired, the only
// way forward is an interactive re-login, which is outside this
// system's scope.
func (cred *Credential) CanRefresh() bool {
	return cred.RefreshToken != ""
}

// String describes the credential without exposing secret material.
func (cred *Credential) String() string {
	return fmt.Sprintf("Credential(scope=%s, principal=%s, expires=%s)",
		cred.Scope, cred.Principal, cred.ExpiresAt.Format(time.RFC3339))
}
