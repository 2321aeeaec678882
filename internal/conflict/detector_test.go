package conflict

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/schedule"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pairSink потокобезопасно копит пары от детектора.
type pairSink struct {
	pairs []Pair
	mu    sync.Mutex
}

func (s *pairSink) sink(pairs []Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = append(s.pairs, pairs...)
}

func (s *pairSink) snapshot() []Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Pair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

func crossing(start time.Time, x0, x1 float64) models.Itinerary {
	return models.Itinerary{{
		Map: "mapA",
		Trajectory: models.Trajectory{Waypoints: []models.Waypoint{
			{Time: start, X: x0, Y: 0},
			{Time: start.Add(10 * time.Second), X: x1, Y: 0},
		}},
	}}
}

func detectorFixture(t *testing.T, responsiveness models.Responsiveness) (*schedule.Database, *pairSink, func()) {
	t.Helper()

	db := schedule.NewDatabase()
	for id := models.ParticipantID(1); id <= 2; id++ {
		_, _, err := db.AddParticipant(id, models.ParticipantDescription{
			Name:           "robot",
			Owner:          "test",
			Responsiveness: responsiveness,
			Profile:        models.Profile{Footprint: 0.5},
		})
		require.NoError(t, err)
	}

	sink := &pairSink{}
	d := NewDetector(db, ProximityOracle{}, sink.sink, testLogger())
	d.SetWakeInterval(5 * time.Millisecond)
	d.Start()
	return db, sink, d.Close
}

func TestDetector_EmitsConflictPair(t *testing.T) {
	db, sink, closeDetector := detectorFixture(t, models.Responsive)
	defer closeDetector()

	start := time.Now()
	require.NoError(t, db.Set(1, crossing(start, 0, 10), 1))
	require.NoError(t, db.Set(2, crossing(start, 10, 0), 1))

	require.Eventually(t, func() bool {
		for _, p := range sink.snapshot() {
			if (p.A == 1 && p.B == 2) || (p.A == 2 && p.B == 1) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "conflicting responsive participants must be reported")
}

func TestDetector_SuppressesUnresponsivePair(t *testing.T) {
	db, sink, closeDetector := detectorFixture(t, models.Unresponsive)
	defer closeDetector()

	start := time.Now()
	require.NoError(t, db.Set(1, crossing(start, 0, 10), 1))
	require.NoError(t, db.Set(2, crossing(start, 10, 0), 1))

	// даем детектору время прогнать изменения
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, sink.snapshot(), "two unresponsive participants never raise a conflict")
}

func TestDetector_IgnoresDifferentMaps(t *testing.T) {
	db, sink, closeDetector := detectorFixture(t, models.Responsive)
	defer closeDetector()

	start := time.Now()
	require.NoError(t, db.Set(1, crossing(start, 0, 10), 1))

	other := crossing(start, 10, 0)
	other[0].Map = "mapB"
	require.NoError(t, db.Set(2, other, 1))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, sink.snapshot(), "routes on different maps cannot conflict")
}

func TestDetector_IgnoresNonOverlappingParticipants(t *testing.T) {
	db, sink, closeDetector := detectorFixture(t, models.Responsive)
	defer closeDetector()

	start := time.Now()
	require.NoError(t, db.Set(1, crossing(start, 0, 10), 1))
	require.NoError(t, db.Set(2, crossing(start.Add(time.Hour), 10, 0), 1))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, sink.snapshot())
}
