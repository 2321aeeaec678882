package schedule

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fleetsched/internal/models"
)

func testRoute(mapName string, start time.Time) models.Route {
	return models.Route{
		Map: mapName,
		Trajectory: models.Trajectory{Waypoints: []models.Waypoint{
			{Time: start, X: 0, Y: 0},
			{Time: start.Add(10 * time.Second), X: 10, Y: 0},
		}},
	}
}

func testDatabase(t *testing.T) (*Database, models.ParticipantID) {
	t.Helper()

	db := NewDatabase()
	_, _, err := db.AddParticipant(1, models.ParticipantDescription{
		Name: "robot_1", Owner: "test", Responsiveness: models.Responsive,
	})
	require.NoError(t, err)
	return db, models.ParticipantID(1)
}

func TestDatabase_SoloEdit(t *testing.T) {
	db, p := testDatabase(t)
	start := time.Now()

	require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapA", start)}, 1))

	assert.Equal(t, uint64(1), db.LatestVersion())

	ranges, last, err := db.Inconsistencies(p)
	require.NoError(t, err)
	assert.Empty(t, ranges)
	assert.Equal(t, uint64(1), last)

	routes, err := db.EffectiveRoutes(p)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "mapA", routes[0].Route.Map)
}

func TestDatabase_UnknownParticipant(t *testing.T) {
	db := NewDatabase()

	err := db.Set(99, models.Itinerary{}, 1)
	assert.ErrorIs(t, err, ErrUnknownParticipant)

	err = db.Delay(99, time.Second, 1)
	assert.ErrorIs(t, err, ErrUnknownParticipant)

	err = db.UnregisterParticipant(99)
	assert.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestDatabase_DuplicateEditIsIdempotent(t *testing.T) {
	db, p := testDatabase(t)
	start := time.Now()

	require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapA", start)}, 1))
	before := db.LatestVersion()

	// повторная правка с той же версией игнорируется
	require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapB", start)}, 1))
	assert.Equal(t, before, db.LatestVersion())

	routes, err := db.EffectiveRoutes(p)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "mapA", routes[0].Route.Map)
}

func TestDatabase_GapAndFill(t *testing.T) {
	db, p := testDatabase(t)
	start := time.Now()

	// правка с версией 3 прибывает первой
	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", start)}, 3))

	ranges, last, err := db.Inconsistencies(p)
	require.NoError(t, err)
	assert.Equal(t, []Range{{Lower: 1, Upper: 2}}, ranges)
	assert.Equal(t, uint64(3), last)

	// повторная передача закрывает пробел
	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", start)}, 1))
	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", start)}, 2))

	ranges, last, err = db.Inconsistencies(p)
	require.NoError(t, err)
	assert.Empty(t, ranges)
	assert.Equal(t, uint64(3), last)
}

func TestDatabase_GapAtLatestPlusTwo(t *testing.T) {
	db, p := testDatabase(t)
	start := time.Now()

	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", start)}, 1))
	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", start)}, 3))

	ranges, _, err := db.Inconsistencies(p)
	require.NoError(t, err)
	assert.Equal(t, []Range{{Lower: 2, Upper: 2}}, ranges)

	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", start)}, 2))
	ranges, _, err = db.Inconsistencies(p)
	require.NoError(t, err)
	assert.Empty(t, ranges)
}

func TestDatabase_ModularWrapIsContiguous(t *testing.T) {
	db := NewDatabase()
	_, _, err := db.AddParticipant(1, models.ParticipantDescription{Name: "wrap", Owner: "test"})
	require.NoError(t, err)
	p := models.ParticipantID(1)

	// подводим версию участника вплотную к переполнению: модульный
	// порядок позволяет прыгать вперед не дальше половины диапазона
	require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapA", time.Now())}, uint64(math.MaxInt64)))
	require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapA", time.Now())}, math.MaxUint64-1))
	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", time.Now())}, math.MaxUint64))

	last, err := db.ItineraryVersion(p)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), last)

	// версия 0 после максимальной считается смежной, а не дубликатом
	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", time.Now())}, 0))
	last, err = db.ItineraryVersion(p)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last)

	ranges, _, err := db.Inconsistencies(p)
	require.NoError(t, err)
	assert.Empty(t, ranges, "the wrap-around edit is contiguous, not a gap")
}

func TestDatabase_SetClearsInconsistencies(t *testing.T) {
	db, p := testDatabase(t)
	start := time.Now()

	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", start)}, 5))
	ranges, _, err := db.Inconsistencies(p)
	require.NoError(t, err)
	require.NotEmpty(t, ranges)

	// полная замена определяет все состояние: пропуски ниже закрываются
	require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapA", start)}, 6))
	ranges, _, err = db.Inconsistencies(p)
	require.NoError(t, err)
	assert.Empty(t, ranges)
}

func TestDatabase_RoundTrips(t *testing.T) {
	t.Run("set twice is a no-op", func(t *testing.T) {
		db, p := testDatabase(t)
		it := models.Itinerary{testRoute("mapA", time.Now())}

		require.NoError(t, db.Set(p, it, 1))
		v := db.LatestVersion()
		require.NoError(t, db.Set(p, it, 1))
		assert.Equal(t, v, db.LatestVersion())
	})

	t.Run("extend then erase leaves an empty itinerary", func(t *testing.T) {
		db, p := testDatabase(t)

		require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", time.Now())}, 1))
		routes, err := db.EffectiveRoutes(p)
		require.NoError(t, err)
		require.Len(t, routes, 1)

		require.NoError(t, db.Erase(p, []models.RouteID{routes[0].ID}, 2))
		routes, err = db.EffectiveRoutes(p)
		require.NoError(t, err)
		assert.Empty(t, routes)
	})

	t.Run("delay and negative delay cancel out", func(t *testing.T) {
		db, p := testDatabase(t)
		start := time.Now()

		require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapA", start)}, 1))
		require.NoError(t, db.Delay(p, 3*time.Second, 2))
		require.NoError(t, db.Delay(p, -3*time.Second, 3))

		routes, err := db.EffectiveRoutes(p)
		require.NoError(t, err)
		require.Len(t, routes, 1)
		assert.True(t, routes[0].Route.Trajectory.StartTime().Equal(start),
			"net time shift should be zero")
	})
}

func TestDatabase_DelayShiftsExistingRoutesOnly(t *testing.T) {
	db, p := testDatabase(t)
	start := time.Now()

	require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapA", start)}, 1))
	require.NoError(t, db.Delay(p, 5*time.Second, 2))

	// маршрут, добавленный после задержки, приходит со свежей базой времени
	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", start)}, 3))

	routes, err := db.EffectiveRoutes(p)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.True(t, routes[0].Route.Trajectory.StartTime().Equal(start.Add(5*time.Second)),
		"pre-delay route should be shifted")
	assert.True(t, routes[1].Route.Trajectory.StartTime().Equal(start),
		"post-delay route should not be shifted")

	// следующая задержка двигает оба маршрута
	require.NoError(t, db.Delay(p, time.Second, 4))
	routes, err = db.EffectiveRoutes(p)
	require.NoError(t, err)
	assert.True(t, routes[0].Route.Trajectory.StartTime().Equal(start.Add(6*time.Second)))
	assert.True(t, routes[1].Route.Trajectory.StartTime().Equal(start.Add(time.Second)))
}

func TestDatabase_EraseUnknownRouteIsNoOp(t *testing.T) {
	db, p := testDatabase(t)

	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", time.Now())}, 1))
	require.NoError(t, db.Erase(p, []models.RouteID{42}, 2))

	routes, err := db.EffectiveRoutes(p)
	require.NoError(t, err)
	assert.Len(t, routes, 1)
}

func TestDatabase_VersionStrictlyIncreases(t *testing.T) {
	db, p := testDatabase(t)
	start := time.Now()

	var seen []uint64
	require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapA", start)}, 1))
	seen = append(seen, db.LatestVersion())
	require.NoError(t, db.Delay(p, time.Second, 2))
	seen = append(seen, db.LatestVersion())
	require.NoError(t, db.Clear(p, 3))
	seen = append(seen, db.LatestVersion())

	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}

func TestDatabase_ChangesFiltersByParticipant(t *testing.T) {
	db, p1 := testDatabase(t)
	_, _, err := db.AddParticipant(2, models.ParticipantDescription{Name: "robot_2", Owner: "test"})
	require.NoError(t, err)
	p2 := models.ParticipantID(2)

	require.NoError(t, db.Set(p1, models.Itinerary{testRoute("mapA", time.Now())}, 1))
	require.NoError(t, db.Set(p2, models.Itinerary{testRoute("mapA", time.Now())}, 1))

	since := uint64(0)
	q := models.Query{
		Participants: models.ParticipantFilter{IDs: []models.ParticipantID{p2}},
		Maps:         models.MapFilter{All: true},
	}
	patch := db.Changes(q, &since)

	require.Len(t, patch.Changes, 1)
	assert.Equal(t, p2, patch.Changes[0].Participant)
	assert.Equal(t, db.LatestVersion(), patch.LatestVersion)
}

func TestDatabase_ChangesFiltersByMap(t *testing.T) {
	db, p := testDatabase(t)

	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", time.Now())}, 1))
	require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapB", time.Now())}, 2))

	since := uint64(0)
	q := models.Query{
		Participants: models.ParticipantFilter{All: true},
		Maps:         models.MapFilter{Names: []string{"mapB"}},
	}
	patch := db.Changes(q, &since)

	require.Len(t, patch.Changes, 1, "extend without matching routes should be dropped")
	require.Len(t, patch.Changes[0].Routes, 1)
	assert.Equal(t, "mapB", patch.Changes[0].Routes[0].Route.Map)
}

func TestDatabase_FullSnapshotCarriesCull(t *testing.T) {
	db, p := testDatabase(t)

	require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapA", time.Now())}, 1))

	patch := db.Changes(models.QueryAll(), nil)
	assert.True(t, patch.Cull)
	require.Len(t, patch.Changes, 1)
	assert.Equal(t, ChangeSet, patch.Changes[0].Kind)
}

func TestDatabase_ChangeLogCulling(t *testing.T) {
	db, p := testDatabase(t)
	db.SetChangeLogLimit(2)

	for v := uint64(1); v <= 5; v++ {
		require.NoError(t, db.Extend(p, models.Itinerary{testRoute("mapA", time.Now())}, v))
	}

	// запрошенная версия старше усеченной истории: полный снимок
	since := uint64(1)
	patch := db.Changes(models.QueryAll(), &since)
	assert.True(t, patch.Cull)

	// свежая версия обслуживается инкрементально
	since = db.LatestVersion() - 1
	patch = db.Changes(models.QueryAll(), &since)
	assert.False(t, patch.Cull)
	assert.Len(t, patch.Changes, 1)
}

func TestDatabase_UnregisterEmitsClear(t *testing.T) {
	db, p := testDatabase(t)

	require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapA", time.Now())}, 1))
	before := db.LatestVersion()

	require.NoError(t, db.UnregisterParticipant(p))
	assert.Greater(t, db.LatestVersion(), before)

	since := before
	patch := db.Changes(models.QueryAll(), &since)
	require.Len(t, patch.Changes, 1)
	assert.Equal(t, ChangeClear, patch.Changes[0].Kind)

	_, found := db.GetParticipant(p)
	assert.False(t, found)
}

func TestDatabase_DetectorSnapshot(t *testing.T) {
	db, p := testDatabase(t)

	view := db.DetectorSnapshot(0, math.MaxUint64)
	require.NotNil(t, view.Participants, "first snapshot should refresh participants")
	assert.Contains(t, view.Participants, p)

	require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapA", time.Now())}, 1))

	next := db.DetectorSnapshot(0, view.ParticipantsVersion)
	assert.Nil(t, next.Participants, "participant set did not change")
	assert.NotEmpty(t, next.Patch.Changes)
	require.Len(t, next.View, 1)
	assert.Equal(t, p, next.View[0].Participant)
}

func TestDatabase_WakeSignals(t *testing.T) {
	db, p := testDatabase(t)

	// осушаем сигнал регистрации
	select {
	case <-db.Wake():
	default:
	}

	require.NoError(t, db.Set(p, models.Itinerary{testRoute("mapA", time.Now())}, 1))

	select {
	case <-db.Wake():
	default:
		t.Fatal("expected a wake signal after an applied edit")
	}
}
