package models

import (
	"time"
)

// Bucket describes a storage-provider container. The staging bucket
// belongs to the operator and is the transfer service's landing zone.
// The destination bucket may belong to a different account, reachable
// only through the provider's server-side copy API.
type Bucket struct {
	// Name is the bucket name, which is also its identifier in the
	// persistent store.
	Name string `json:"name"`
	// Region is the provider region hosting the bucket, e.g.
	// constants.AWSVirginia.
	Region string `json:"region"`
	// OwnerHint is a free-form note about which account owns the
	// bucket. Informational only; the provider enforces ownership.
	OwnerHint string `json:"owner_hint"`
	// UpdatedAt is when this record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

func NewBucket(name, region, ownerHint string) *Bucket {
	return &Bucket{
		Name:      name,
		Region:    region,
		OwnerHint: ownerHint,
		UpdatedAt: time.Now().UTC(),
	}
}
