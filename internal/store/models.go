package store

import "time"

// Peer is the last bind or unbind observed from a remote node.
type Peer struct {
	MAC                string    `json:"mac"`
	InitiatorAttribute uint16    `json:"initiator_attribute"`
	Bound              bool      `json:"bound"`
	Binds              int       `json:"binds"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// levelRecord is the on-disk form of the saved brightness.
type levelRecord struct {
	Level   int       `json:"level"`
	SavedAt time.Time `json:"saved_at"`
}
