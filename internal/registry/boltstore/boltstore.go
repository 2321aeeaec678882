// Package boltstore реализует реестр участников поверх BoltDB.
// Подходит для узлов, которым важна устойчивость к частичной записи
// без внешней СУБД.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/registry"
)

var (
	// BoltDB bucket names
	bucketParticipants = []byte("participants")
	bucketMeta         = []byte("meta")

	keyLastID = []byte("last_id")
)

// record сериализованная привязка участника.
type record struct {
	ID             uint64  `json:"id"`
	Owner          string  `json:"owner"`
	Name           string  `json:"name"`
	Responsiveness string  `json:"responsiveness"`
	Footprint      float64 `json:"footprint"`
}

// Store BoltDB-реестр участников.
type Store struct {
	db *bbolt.DB
}

// New открывает реестр по указанному пути.
func New(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open participant registry %s: %w", path, err)
	}

	store := &Store{db: db}
	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize registry buckets: %w", err)
	}
	return store, nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// initBuckets создает необходимые buckets, если они не существуют.
func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketParticipants); err != nil {
			return fmt.Errorf("create participants bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return nil
	})
}

func participantKey(owner, name string) []byte {
	return []byte(owner + "\x00" + name)
}

// AddOrRetrieve реализует registry.Store.
func (s *Store) AddOrRetrieve(_ context.Context, desc models.ParticipantDescription) (registry.Registration, bool, error) {
	var (
		reg     registry.Registration
		created bool
	)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		participants := tx.Bucket(bucketParticipants)
		meta := tx.Bucket(bucketMeta)

		k := participantKey(desc.Owner, desc.Name)
		rec := record{
			Owner:          desc.Owner,
			Name:           desc.Name,
			Responsiveness: desc.Responsiveness.String(),
			Footprint:      desc.Profile.Footprint,
		}

		if raw := participants.Get(k); raw != nil {
			var existing record
			if err := json.Unmarshal(raw, &existing); err != nil {
				return fmt.Errorf("decode registry record: %w (%w)", err, registry.ErrCorruptRegistry)
			}
			// обновляем описание, идентификатор сохраняется
			rec.ID = existing.ID
		} else {
			lastID := uint64(0)
			if raw := meta.Get(keyLastID); len(raw) == 8 {
				lastID = binary.BigEndian.Uint64(raw)
			}
			rec.ID = lastID + 1

			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, rec.ID)
			if err := meta.Put(keyLastID, buf); err != nil {
				return fmt.Errorf("store last id: %w", err)
			}
			created = true
		}

		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode registry record: %w", err)
		}
		if err := participants.Put(k, raw); err != nil {
			return fmt.Errorf("store registry record: %w", err)
		}

		reg = toRegistration(rec)
		return nil
	})
	if err != nil {
		return registry.Registration{}, false, err
	}
	return reg, created, nil
}

// All реализует registry.Store.
func (s *Store) All(_ context.Context) ([]registry.Registration, error) {
	var out []registry.Registration

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketParticipants).ForEach(func(_, raw []byte) error {
			var rec record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("decode registry record: %w (%w)", err, registry.ErrCorruptRegistry)
			}
			out = append(out, toRegistration(rec))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func toRegistration(rec record) registry.Registration {
	resp := models.ResponsiveUnknown
	switch rec.Responsiveness {
	case "responsive":
		resp = models.Responsive
	case "unresponsive":
		resp = models.Unresponsive
	}
	return registry.Registration{
		ID: models.ParticipantID(rec.ID),
		Description: models.ParticipantDescription{
			Name:           rec.Name,
			Owner:          rec.Owner,
			Responsiveness: resp,
			Profile:        models.Profile{Footprint: rec.Footprint},
		},
	}
}
