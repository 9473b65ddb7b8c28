package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketUsers   = "users"    // emby id -> msgpack(UserRecord)
	bucketTgIndex = "tg_index" // decimal tg id -> emby id
)

type bboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/guard.db.
func NewBboltStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "guard.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketUsers, bucketTgIndex} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

// record is the on-disk shape; time fields are stored as Unix seconds so the
// encoding stays stable across msgpack versions.
type record struct {
	EmbyID      string
	TelegramID  int64
	Name        string
	Level       string
	Balance     int64
	LastCheckin int64
	ExpiresAt   int64
}

func encodeRecord(rec UserRecord) ([]byte, error) {
	r := record{
		EmbyID:     rec.EmbyID,
		TelegramID: rec.TelegramID,
		Name:       rec.Name,
		Level:      string(rec.Level),
		Balance:    rec.Balance,
	}
	if !rec.LastCheckin.IsZero() {
		r.LastCheckin = rec.LastCheckin.Unix()
	}
	if !rec.ExpiresAt.IsZero() {
		r.ExpiresAt = rec.ExpiresAt.Unix()
	}
	return msgpack.Marshal(r)
}

func decodeRecord(data []byte) (*UserRecord, error) {
	var r record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	rec := &UserRecord{
		EmbyID:     r.EmbyID,
		TelegramID: r.TelegramID,
		Name:       r.Name,
		Level:      TrustLevel(r.Level),
		Balance:    r.Balance,
	}
	if r.LastCheckin != 0 {
		rec.LastCheckin = time.Unix(r.LastCheckin, 0)
	}
	if r.ExpiresAt != 0 {
		rec.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	}
	return rec, nil
}

func tgKey(tgID int64) []byte {
	return []byte(strconv.FormatInt(tgID, 10))
}

func (s *bboltStore) GetByEmbyID(embyID string) (*UserRecord, error) {
	var rec *UserRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketUsers)).Get([]byte(embyID))
		if data == nil {
			return ErrUserNotFound
		}
		var decodeErr error
		rec, decodeErr = decodeRecord(data)
		if decodeErr != nil {
			return fmt.Errorf("unmarshal UserRecord for %s: %w", embyID, decodeErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *bboltStore) GetByTelegramID(tgID int64) (*UserRecord, error) {
	var rec *UserRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		embyID := tx.Bucket([]byte(bucketTgIndex)).Get(tgKey(tgID))
		if embyID == nil {
			return ErrUserNotFound
		}
		data := tx.Bucket([]byte(bucketUsers)).Get(embyID)
		if data == nil {
			return ErrUserNotFound
		}
		var decodeErr error
		rec, decodeErr = decodeRecord(data)
		if decodeErr != nil {
			return fmt.Errorf("unmarshal UserRecord for tg %d: %w", tgID, decodeErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *bboltStore) UpsertUser(rec UserRecord) error {
	if rec.EmbyID == "" {
		return fmt.Errorf("UpsertUser: empty emby id")
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("marshal UserRecord: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketUsers)).Put([]byte(rec.EmbyID), data); err != nil {
			return err
		}
		if rec.TelegramID != 0 {
			return tx.Bucket([]byte(bucketTgIndex)).Put(tgKey(rec.TelegramID), []byte(rec.EmbyID))
		}
		return nil
	})
}

func (s *bboltStore) SetTrustLevel(embyID string, level TrustLevel) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket([]byte(bucketUsers))
		data := users.Get([]byte(embyID))
		if data == nil {
			return ErrUserNotFound
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return fmt.Errorf("unmarshal UserRecord for %s: %w", embyID, err)
		}
		rec.Level = level
		updated, err := encodeRecord(*rec)
		if err != nil {
			return fmt.Errorf("marshal UserRecord: %w", err)
		}
		return users.Put([]byte(embyID), updated)
	})
}

// ApplyCheckin re-checks the day guard inside the update transaction.
// bbolt serializes writers, so two concurrent grants for the same user cannot
// both observe a stale last-check-in date: the loser gets ErrAlreadyCheckedIn.
func (s *bboltStore) ApplyCheckin(tgID int64, reward int64, now time.Time) (*CheckinResult, error) {
	var result *CheckinResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		embyID := tx.Bucket([]byte(bucketTgIndex)).Get(tgKey(tgID))
		if embyID == nil {
			return ErrUserNotFound
		}
		users := tx.Bucket([]byte(bucketUsers))
		data := users.Get(embyID)
		if data == nil {
			return ErrUserNotFound
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return fmt.Errorf("unmarshal UserRecord for tg %d: %w", tgID, err)
		}
		if CheckinBlocked(rec.LastCheckin, now) {
			return ErrAlreadyCheckedIn
		}
		rec.Balance += reward
		rec.LastCheckin = now
		updated, err := encodeRecord(*rec)
		if err != nil {
			return fmt.Errorf("marshal UserRecord: %w", err)
		}
		if err := users.Put(embyID, updated); err != nil {
			return err
		}
		result = &CheckinResult{Reward: reward, NewBalance: rec.Balance}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrAlreadyCheckedIn) {
			return nil, err
		}
		return nil, fmt.Errorf("apply checkin for tg %d: %w", tgID, err)
	}
	return result, nil
}

func (s *bboltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
