// Package seedstate remembers which files a seed run already ingested, so
// repeated runs skip unchanged files.
package seedstate

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketSeeded = []byte("seeded")

// State is a bbolt-backed map of file path to the (modtime, size) pair seen
// at ingest time.
type State struct {
	db *bbolt.DB
}

type entry struct {
	ModTime int64 `json:"mod_time"`
	Size    int64 `json:"size"`
	DocID   int64 `json:"doc_id"`
}

func Open(path string) (*State, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed state: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSeeded)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create seed bucket: %w", err)
	}
	return &State{db: db}, nil
}

// Seen reports whether path was already ingested with the same modtime and
// size.
func (s *State) Seen(path string, modTime, size int64) (bool, error) {
	var seen bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSeeded).Get([]byte(path))
		if data == nil {
			return nil
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil
		}
		seen = e.ModTime == modTime && e.Size == size
		return nil
	})
	return seen, err
}

// Mark records that path was ingested as document docID.
func (s *State) Mark(path string, modTime, size, docID int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(entry{ModTime: modTime, Size: size, DocID: docID})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSeeded).Put([]byte(path), data)
	})
}

// Forget drops the record for path.
func (s *State) Forget(path string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSeeded).Delete([]byte(path))
	})
}

func (s *State) Close() error { return s.db.Close() }
