package usage

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"
	bolt "go.etcd.io/bbolt"

	"wormhole/internal/domain"
	wlog "wormhole/internal/log"
)

const (
	metadataBucket = "metadata"
	versionKey     = "version"
	usageBucket    = "usage"

	schemaVersion = 0
)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("usage: store is closed")

// Store is a bbolt backed domain.UsageRecorder.
type Store struct {
	db  *bolt.DB
	log *logging.Logger
}

var _ domain.UsageRecorder = (*Store)(nil)

// Open creates or loads the usage database at path. A nil logger discards.
func Open(path string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = wlog.Discard("usage")
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("usage: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(usageBucket)); err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != schemaVersion {
				return fmt.Errorf("usage: incompatible version: %d", uint(b[0]))
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{schemaVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}

	log.Debugf("opened usage database %s", path)
	return &Store{db: db, log: log}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// RecordUsage stores rec. Records for the same mailbox and start time
// overwrite each other.
func (s *Store) RecordUsage(rec domain.UsageRecord) error {
	if s.db == nil {
		return ErrClosed
	}
	b, err := cbor.Marshal(fromDomain(rec))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(usageBucket)).Put(recordKey(rec.Started, rec.Mailbox), b)
	})
}

// Records returns every record of a mailbox started at or after since, oldest
// first. A zero since returns everything.
func (s *Store) Records(since time.Time) ([]domain.UsageRecord, error) {
	var out []domain.UsageRecord
	err := s.each(since, func(r record) error {
		out = append(out, r.toDomain())
		return nil
	})
	return out, err
}

// Summary counts records by result.
func (s *Store) Summary(since time.Time) (map[domain.Result]int, error) {
	out := make(map[domain.Result]int)
	err := s.each(since, func(r record) error {
		out[domain.Result(r.Result)]++
		return nil
	})
	return out, err
}

func (s *Store) each(since time.Time, fn func(record) error) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket([]byte(usageBucket)).Cursor()
		var k, v []byte
		if since.IsZero() {
			k, v = cur.First()
		} else {
			k, v = cur.Seek(timeKey(since))
		}
		for ; k != nil; k, v = cur.Next() {
			var r record
			if err := cbor.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("usage: corrupt record %x: %w", k, err)
			}
			if err := fn(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// Expire deletes records of mailboxes started before before and returns how
// many were removed.
func (s *Store) Expire(before time.Time) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		cur := tx.Bucket([]byte(usageBucket)).Cursor()
		limit := timeKey(before)
		for k, _ := cur.First(); k != nil && bytes.Compare(k[:8], limit) < 0; k, _ = cur.First() {
			if err := cur.Delete(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err == nil && n > 0 {
		s.log.Infof("expired %d usage records", n)
	}
	return n, err
}
