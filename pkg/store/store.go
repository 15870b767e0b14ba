// Package store persists facility records and daily occupancy observations
// in an embedded bbolt database. It is the collaborator-facing storage layer;
// the forecasting core itself never persists anything.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/medwatch/bedcast/pkg"
	"github.com/medwatch/bedcast/pkg/logx"
	"github.com/medwatch/bedcast/pkg/prepare"
)

var (
	// ErrFacilityNotFound indicates an unknown facility ID.
	ErrFacilityNotFound = errors.New("facility not found")
	// ErrNoObservations indicates a facility with no ingested history.
	ErrNoObservations = errors.New("no observations recorded")
)

var (
	bucketFacilities   = []byte("facilities")
	bucketObservations = []byte("observations")
)

const dateKeyFormat = "2006-01-02"

// Store is a bbolt-backed facility and observation store. bbolt serializes
// writes internally; reads run concurrently.
type Store struct {
	db     *bolt.DB
	prep   *prepare.Preparator
	logger *logx.Logger
}

// Open opens (creating if needed) the store at path.
func Open(path string, prep *prepare.Preparator, logger *logx.Logger) (*Store, error) {
	if prep == nil {
		prep = prepare.Default()
	}
	if logger == nil {
		logger = logx.NewLogger("info", "store")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketFacilities); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketObservations)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store buckets: %w", err)
	}

	logger.Info("Opened facility store", "path", path)
	return &Store{db: db, prep: prep, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutFacility inserts or updates a facility record.
func (s *Store) PutFacility(f pkg.Facility) error {
	if f.ID <= 0 {
		return fmt.Errorf("facility id must be positive, got %d", f.ID)
	}
	if f.Beds <= 0 {
		return fmt.Errorf("facility %d: total beds must be positive, got %d", f.ID, f.Beds)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode facility %d: %w", f.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFacilities).Put(itob(f.ID), data)
	})
}

// GetFacility retrieves a facility by ID.
func (s *Store) GetFacility(id int) (*pkg.Facility, error) {
	var f pkg.Facility
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFacilities).Get(itob(id))
		if data == nil {
			return ErrFacilityNotFound
		}
		return json.Unmarshal(data, &f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFacilities returns all facilities sorted by ID, optionally filtered by
// a case-insensitive location substring.
func (s *Store) ListFacilities(city string) ([]pkg.Facility, error) {
	needle := strings.ToLower(strings.TrimSpace(city))
	var out []pkg.Facility
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFacilities).ForEach(func(_, v []byte) error {
			var f pkg.Facility
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			if needle != "" && !strings.Contains(strings.ToLower(f.Location), needle) {
				return nil
			}
			out = append(out, f)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddObservation appends one daily record for a facility. A second record on
// the same date fails with DuplicateObservationError: ingestion rejects
// duplicates instead of silently overwriting.
func (s *Store) AddObservation(facilityID int, rec pkg.DailyRecord) error {
	if rec.OccupiedBeds < 0 {
		return fmt.Errorf("facility %d: negative occupied count %d", facilityID, rec.OccupiedBeds)
	}
	day := midnightUTC(rec.Date)
	rec.Date = day

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode observation: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketFacilities).Get(itob(facilityID)) == nil {
			return ErrFacilityNotFound
		}
		b, err := tx.Bucket(bucketObservations).CreateBucketIfNotExists(itob(facilityID))
		if err != nil {
			return err
		}
		key := []byte(day.Format(dateKeyFormat))
		if b.Get(key) != nil {
			return &pkg.DuplicateObservationError{Date: day}
		}
		return b.Put(key, data)
	})
}

// History returns a facility's daily records in ascending date order. With
// maxDays > 0 only the most recent maxDays records are returned; this is the
// historical-window cap callers impose before invoking the forecasting
// engine.
func (s *Store) History(facilityID int, maxDays int) ([]pkg.DailyRecord, error) {
	var out []pkg.DailyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketFacilities).Get(itob(facilityID)) == nil {
			return ErrFacilityNotFound
		}
		b := tx.Bucket(bucketObservations).Bucket(itob(facilityID))
		if b == nil {
			return nil
		}
		// Date keys sort lexicographically in chronological order.
		return b.ForEach(func(_, v []byte) error {
			var rec pkg.DailyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if maxDays > 0 && len(out) > maxDays {
		out = out[len(out)-maxDays:]
	}
	return out, nil
}

// Latest returns a facility's most recent daily record.
func (s *Store) Latest(facilityID int) (*pkg.DailyRecord, error) {
	var rec pkg.DailyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketFacilities).Get(itob(facilityID)) == nil {
			return ErrFacilityNotFound
		}
		b := tx.Bucket(bucketObservations).Bucket(itob(facilityID))
		if b == nil {
			return ErrNoObservations
		}
		k, v := b.Cursor().Last()
		if k == nil {
			return ErrNoObservations
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Snapshot assembles the read-only ranking input for one facility. The
// history passes through the preparator; facilities with fewer than the
// minimum observations carry a nil series so callers fall back to current
// occupancy instead of forecasting.
func (s *Store) Snapshot(facilityID, maxHistoryDays int) (*pkg.FacilitySnapshot, error) {
	f, err := s.GetFacility(facilityID)
	if err != nil {
		return nil, err
	}
	latest, err := s.Latest(facilityID)
	if err != nil {
		return nil, err
	}
	history, err := s.History(facilityID, maxHistoryDays)
	if err != nil {
		return nil, err
	}

	snap := &pkg.FacilitySnapshot{
		FacilityID:      f.ID,
		Name:            f.Name,
		Location:        f.Location,
		Capacity:        f.Beds,
		CurrentOccupied: latest.OccupiedBeds,
	}

	series, err := s.prep.Prepare(prepare.FromDailyRecords(history), f.Beds)
	if err != nil {
		var insufficient *pkg.InsufficientDataError
		if !errors.As(err, &insufficient) {
			return nil, fmt.Errorf("facility %d: %w", facilityID, err)
		}
	} else {
		snap.History = series
	}
	return snap, nil
}

// Snapshots assembles ranking inputs for every facility with at least one
// observation, optionally filtered by location.
func (s *Store) Snapshots(city string, maxHistoryDays int) ([]pkg.FacilitySnapshot, error) {
	facilities, err := s.ListFacilities(city)
	if err != nil {
		return nil, err
	}
	snapshots := make([]pkg.FacilitySnapshot, 0, len(facilities))
	for _, f := range facilities {
		snap, err := s.Snapshot(f.ID, maxHistoryDays)
		if err != nil {
			if errors.Is(err, ErrNoObservations) {
				continue
			}
			return nil, err
		}
		snapshots = append(snapshots, *snap)
	}
	return snapshots, nil
}

func itob(v int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
