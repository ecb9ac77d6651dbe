package models

import (
	"time"
)

// Collection is a named endpoint in the transfer service's namespace.
// Collections are the sources of the transfers we track, and the
// staging bucket is exposed to the transfer service as one. Records
// are immutable once stored, except that display name and server may
// be refreshed from the service.
type Collection struct {
	// Id is the collection's UUID in the transfer service.
	Id string `json:"id"`
	// Name is the collection's display name.
	Name string `json:"name"`
	// Server is the hostname of the collection's endpoint server.
	Server string `json:"server"`
	// UpdatedAt is when the metadata was last refreshed.
	UpdatedAt time.Time `json:"updated_at"`
}

func NewCollection(id, name, server string) *Collection {
	return &Collection{
		Id:        id,
		Name:      name,
		Server:    server,
		UpdatedAt: time.Now().UTC(),
	}
}
