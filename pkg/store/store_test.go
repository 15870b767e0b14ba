package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medwatch/bedcast/pkg"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bedcast.db"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testFacility(id int) pkg.Facility {
	return pkg.Facility{
		ID:       id,
		Name:     "City General",
		Location: "Springfield, IL",
		Beds:     200,
		ICUBeds:  20,
	}
}

func seedObservations(t *testing.T, s *Store, facilityID, days int, occupied func(i int) int) {
	t.Helper()
	for i := 0; i < days; i++ {
		err := s.AddObservation(facilityID, pkg.DailyRecord{
			Date:         time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			OccupiedBeds: occupied(i),
		})
		require.NoError(t, err)
	}
}

func TestFacilityRoundtrip(t *testing.T) {
	s := openTestStore(t)

	f := testFacility(1)
	require.NoError(t, s.PutFacility(f))

	got, err := s.GetFacility(1)
	require.NoError(t, err)
	assert.Equal(t, f, *got)
}

func TestGetFacilityNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetFacility(42)
	assert.ErrorIs(t, err, ErrFacilityNotFound)
}

func TestPutFacilityValidation(t *testing.T) {
	s := openTestStore(t)

	bad := testFacility(0)
	assert.Error(t, s.PutFacility(bad))

	noBeds := testFacility(1)
	noBeds.Beds = 0
	assert.Error(t, s.PutFacility(noBeds))
}

func TestListFacilitiesFilterAndOrder(t *testing.T) {
	s := openTestStore(t)

	a := testFacility(3)
	b := testFacility(1)
	c := testFacility(2)
	c.Location = "Shelbyville, IL"
	require.NoError(t, s.PutFacility(a))
	require.NoError(t, s.PutFacility(b))
	require.NoError(t, s.PutFacility(c))

	all, err := s.ListFacilities("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{all[0].ID, all[1].ID, all[2].ID})

	springfield, err := s.ListFacilities("springfield")
	require.NoError(t, err)
	require.Len(t, springfield, 2)
	assert.Equal(t, 1, springfield[0].ID)
	assert.Equal(t, 3, springfield[1].ID)
}

func TestAddObservationRejectsDuplicates(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutFacility(testFacility(1)))

	date := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddObservation(1, pkg.DailyRecord{Date: date, OccupiedBeds: 120}))

	// Same calendar day in another timezone is still a duplicate.
	loc := time.FixedZone("CET", 3600)
	err := s.AddObservation(1, pkg.DailyRecord{
		Date:         time.Date(2025, 7, 1, 9, 0, 0, 0, loc),
		OccupiedBeds: 130,
	})
	require.Error(t, err)

	var dup *pkg.DuplicateObservationError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, date, dup.Date)
}

func TestAddObservationUnknownFacility(t *testing.T) {
	s := openTestStore(t)
	err := s.AddObservation(9, pkg.DailyRecord{Date: time.Now(), OccupiedBeds: 10})
	assert.ErrorIs(t, err, ErrFacilityNotFound)
}

func TestAddObservationRejectsNegativeOccupancy(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutFacility(testFacility(1)))
	err := s.AddObservation(1, pkg.DailyRecord{Date: time.Now(), OccupiedBeds: -5})
	assert.Error(t, err)
}

func TestHistoryOrderAndWindow(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutFacility(testFacility(1)))
	seedObservations(t, s, 1, 20, func(i int) int { return 100 + i })

	all, err := s.History(1, 0)
	require.NoError(t, err)
	require.Len(t, all, 20)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i].Date.After(all[i-1].Date))
	}

	// Windowing keeps the most recent records.
	recent, err := s.History(1, 7)
	require.NoError(t, err)
	require.Len(t, recent, 7)
	assert.Equal(t, 113, recent[0].OccupiedBeds)
	assert.Equal(t, 119, recent[6].OccupiedBeds)
}

func TestHistoryUnknownFacility(t *testing.T) {
	s := openTestStore(t)
	_, err := s.History(1, 0)
	assert.ErrorIs(t, err, ErrFacilityNotFound)
}

func TestLatest(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutFacility(testFacility(1)))

	_, err := s.Latest(1)
	assert.ErrorIs(t, err, ErrNoObservations)

	seedObservations(t, s, 1, 3, func(i int) int { return 100 + i })
	latest, err := s.Latest(1)
	require.NoError(t, err)
	assert.Equal(t, 102, latest.OccupiedBeds)
	assert.Equal(t, time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC), latest.Date)
}

func TestSnapshotWithFullHistory(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutFacility(testFacility(1)))
	seedObservations(t, s, 1, 14, func(i int) int { return 120 })

	snap, err := s.Snapshot(1, 365)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.FacilityID)
	assert.Equal(t, 200, snap.Capacity)
	assert.Equal(t, 120, snap.CurrentOccupied)
	require.NotNil(t, snap.History)
	assert.Equal(t, 14, snap.History.Len())
	assert.Equal(t, 200, snap.History.Capacity)
}

func TestSnapshotShortHistoryHasNilSeries(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutFacility(testFacility(1)))
	seedObservations(t, s, 1, 5, func(i int) int { return 120 })

	snap, err := s.Snapshot(1, 365)
	require.NoError(t, err)
	assert.Nil(t, snap.History)
	assert.Equal(t, 120, snap.CurrentOccupied)
}

func TestSnapshotsSkipsEmptyFacilities(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutFacility(testFacility(1)))
	require.NoError(t, s.PutFacility(testFacility(2)))
	seedObservations(t, s, 1, 14, func(i int) int { return 120 })

	snaps, err := s.Snapshots("", 365)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].FacilityID)
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bedcast.db")

	s, err := Open(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.PutFacility(testFacility(1)))
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetFacility(1)
	require.NoError(t, err)
	assert.Equal(t, "City General", got.Name)
}
