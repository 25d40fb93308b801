package store

import (
	"errors"

	"github.com/xqus/otpcard/pkg/models"
)

// ErrNotExist is thrown when a card (requested by namespace / ID)
// does not exist.
var ErrNotExist = errors.New("the card does not exist")

// ErrConflict is thrown by Swap() when the stored card was modified
// by another writer after it was read.
var ErrConflict = errors.New("the card was modified concurrently")

// Store represents a storage backend where card data is stored.
// Get and Put are individually atomic but nothing more; callers doing a
// read-modify-write cycle must commit it through Swap() and retry the
// whole cycle on ErrConflict.
type Store interface {
	// Get retrieves the card saved against an ID along with an opaque
	// revision token identifying the version that was read.
	Get(namespace, id string) (models.Card, string, error)

	// Put writes a card against an ID, overwriting any existing record.
	Put(namespace, id string, card models.Card) error

	// Swap writes a card against an ID only if the stored record is
	// still at the revision rev obtained from Get(). Returns
	// ErrConflict if a concurrent write got there first.
	Swap(namespace, id, rev string, card models.Card) error

	// Ping checks if store is reachable.
	Ping() error
}
