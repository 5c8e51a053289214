// Package journal records which trace files the serve worker has
// already imported. The journal is bookkeeping for operators, not a
// deduplication layer: re-delivering the same content under a new file
// name is imported again by design.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const bucketName = "imports"

// Entry describes one completed trace file import.
type Entry struct {
	File       string    `json:"file"`
	Rows       int64     `json:"rows"`
	ImportedAt time.Time `json:"imported_at"`
}

// Journal is a BoltDB-backed import journal.
type Journal struct {
	db *bbolt.DB
}

// Open opens the journal database at path, creating it if needed.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A lock timeout usually means a previous serve process was
		// killed without a graceful shutdown and still holds the file.
		return nil, fmt.Errorf("failed to open journal (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal bucket: %w", err)
	}

	log.Debug().Str("path", path).Msg("Import journal opened")
	return &Journal{db: db}, nil
}

// Record stores the import entry for a file, overwriting any previous
// entry under the same name.
func (j *Journal) Record(file string, rows int64) error {
	entry := Entry{File: file, Rows: rows, ImportedAt: time.Now().UTC()}
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}

	err = j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(file), val)
	})
	if err != nil {
		return fmt.Errorf("failed to record import: %w", err)
	}

	log.Debug().
		Str("file", file).
		Int64("rows", rows).
		Msg("Import recorded in journal")
	return nil
}

// Get returns the recorded entry for a file, if any.
func (j *Journal) Get(file string) (Entry, bool, error) {
	var entry Entry
	var found bool

	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		val := b.Get([]byte(file))
		if val == nil {
			return nil
		}
		found = true
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read journal: %w", err)
	}
	return entry, found, nil
}

// List returns all recorded imports.
func (j *Journal) List() ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list journal: %w", err)
	}
	return entries, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
