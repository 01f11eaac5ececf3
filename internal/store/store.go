package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Lamp state
	SaveLevel(level int) error
	Level() (int, error)

	// Peer table, keyed by MAC string.
	SavePeer(p *Peer) error
	GetPeer(mac string) (*Peer, error)
	DeletePeer(mac string) error
	ListPeers() ([]*Peer, error)

	// Close the store
	Close() error
}
