package verify

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	historyBucketName  = "history"
	settingsBucketName = "settings"

	baseURLKey = "base_url"
)

// HistoryStore persists successful verifications. Appends are fire-and-forget
// from the orchestrator's perspective; a failed append never alters a
// verification result already shown to the user.
type HistoryStore interface {
	// Append saves a record, assigning ID and CreatedAt when unset.
	Append(record *Record) error

	// List returns all records, newest first.
	List() ([]*Record, error)

	// Clear removes all records.
	Clear() error
}

// SettingsStore holds the user-adjustable endpoint configuration.
type SettingsStore interface {
	// BaseURL returns the configured verification endpoint base URL.
	BaseURL() (string, error)

	// SetBaseURL replaces the configured base URL.
	SetBaseURL(url string) error
}

// BoltStore implements HistoryStore and SettingsStore on a single BoltDB
// file.
type BoltStore struct {
	db             *bbolt.DB
	defaultBaseURL string
	idGenerator    IDGenerator
	timeSource     TimeSource
}

// IDGenerator generates unique IDs for history records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates zero-padded UnixNano IDs so bucket order is
// chronological.
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%020d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// NewBoltStore opens (creating if needed) the database at path.
// defaultBaseURL is returned by BaseURL until the user sets one.
func NewBoltStore(path, defaultBaseURL string) (*BoltStore, error) {
	return NewBoltStoreWithDeps(path, defaultBaseURL, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewBoltStoreWithDeps opens the store with custom dependencies for testing.
func NewBoltStoreWithDeps(path, defaultBaseURL string, idGen IDGenerator, timeSrc TimeSource) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(historyBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(settingsBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{
		db:             db,
		defaultBaseURL: defaultBaseURL,
		idGenerator:    idGen,
		timeSource:     timeSrc,
	}, nil
}

// Append saves a verification record.
func (b *BoltStore) Append(record *Record) error {
	if record.ID == "" {
		record.ID = b.idGenerator.Generate()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = b.timeSource.Now()
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// List returns all records, newest first. IDs are chronological, so a reverse
// cursor walk gives the order directly.
func (b *BoltStore) List() ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(historyBucketName)).Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Clear removes all history records.
func (b *BoltStore) Clear() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(historyBucketName)); err != nil {
			return fmt.Errorf("deleting bucket: %w", err)
		}
		_, err := tx.CreateBucket([]byte(historyBucketName))
		return err
	})
}

// BaseURL returns the configured base URL, falling back to the default.
func (b *BoltStore) BaseURL() (string, error) {
	var url string
	err := b.db.View(func(tx *bbolt.Tx) error {
		url = string(tx.Bucket([]byte(settingsBucketName)).Get([]byte(baseURLKey)))
		return nil
	})
	if err != nil {
		return "", err
	}
	if url == "" {
		return b.defaultBaseURL, nil
	}
	return url, nil
}

// SetBaseURL stores a new base URL. An empty value reverts to the default.
func (b *BoltStore) SetBaseURL(url string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(settingsBucketName))
		if url == "" {
			return bucket.Delete([]byte(baseURLKey))
		}
		return bucket.Put([]byte(baseURLKey), []byte(url))
	})
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
