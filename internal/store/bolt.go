package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketState = []byte("state")
	bucketPeers = []byte("peers")
	keyLevel    = []byte("level")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketState, bucketPeers} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveLevel(level int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketState)
		}
		data, err := json.Marshal(levelRecord{Level: level, SavedAt: time.Now()})
		if err != nil {
			return err
		}
		return b.Put(keyLevel, data)
	})
}

func (s *BoltStore) Level() (int, error) {
	var rec levelRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketState)
		}
		data := b.Get(keyLevel)
		if data == nil {
			return fmt.Errorf("level: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return 0, err
	}
	return rec.Level, nil
}

// SavePeer writes p. Binds is maintained by the store: every save with
// Bound set counts one bind, whatever the caller put there.
func (s *BoltStore) SavePeer(p *Peer) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPeers)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketPeers)
		}
		rec := *p
		rec.Binds = 0
		if old := b.Get([]byte(p.MAC)); old != nil {
			var prev Peer
			if err := json.Unmarshal(old, &prev); err != nil {
				return fmt.Errorf("peer %s: %w", p.MAC, err)
			}
			rec.Binds = prev.Binds
		}
		if rec.Bound {
			rec.Binds++
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = time.Now()
		}
		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.MAC), data)
	})
}

func (s *BoltStore) GetPeer(mac string) (*Peer, error) {
	var p Peer
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPeers)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketPeers)
		}
		data := b.Get([]byte(mac))
		if data == nil {
			return fmt.Errorf("peer %s: %w", mac, ErrNotFound)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) DeletePeer(mac string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPeers)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketPeers)
		}
		return b.Delete([]byte(mac))
	})
}

// ListPeers returns all peers ordered by MAC.
func (s *BoltStore) ListPeers() ([]*Peer, error) {
	var peers []*Peer
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPeers)
		if b == nil {
			return nil
		}
		peers = make([]*Peer, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var p Peer
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			peers = append(peers, &p)
			return nil
		})
	})
	sort.Slice(peers, func(i, j int) bool { return peers[i].MAC < peers[j].MAC })
	return peers, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
