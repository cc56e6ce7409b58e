// Package storage persists a prediction audit log using BoltDB. Every served
// prediction (and every per-request failure) is stored keyed by model
// version and timestamp, so holdout drift and error rates can be inspected
// after the fact with efficient time-range queries.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const predictionsBucket = "predictions"

// Entry is one audit record. Failed requests carry Error and no prediction
// fields.
type Entry struct {
	Ts           time.Time `json:"ts"`
	ModelVersion string    `json:"model_version"`
	Backend      string    `json:"backend"`
	Task         string    `json:"task"`
	RequestID    string    `json:"request_id,omitempty"`
	ClassLabel   *int      `json:"class_label,omitempty"`
	Value        *float64  `json:"value,omitempty"`
	Confidence   *float64  `json:"confidence,omitempty"`
	LatencyMs    float64   `json:"latency_ms"`
	Error        string    `json:"error,omitempty"`
}

// Store is the BoltDB-backed audit log. Safe for concurrent use.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the audit database under dataPath.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "nova-audit.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Append writes one audit entry. The key format "version_timestamp" keeps
// entries for one model version contiguous and time-ordered.
func (s *Store) Append(e Entry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}

		key := fmt.Sprintf("%s_%d", e.ModelVersion, e.Ts.UnixNano())
		if existing := b.Get([]byte(key)); existing != nil {
			key = fmt.Sprintf("%s_%d", e.ModelVersion, e.Ts.Add(time.Nanosecond).UnixNano())
		}
		return b.Put([]byte(key), data)
	})
}

// Range returns entries for one model version within [start, end],
// timestamp-ordered.
func (s *Store) Range(modelVersion string, start, end time.Time) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))
		c := b.Cursor()

		prefix := []byte(modelVersion + "_")
		startKey := []byte(fmt.Sprintf("%s_%d", modelVersion, start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%s_%d", modelVersion, end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue // skip malformed records
			}
			entries = append(entries, e)
		}
		return nil
	})

	return entries, err
}

// Count returns the total number of audit entries.
func (s *Store) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(predictionsBucket)).Stats().KeyN
		return nil
	})
	return count, err
}
