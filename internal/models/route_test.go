package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrajectory_Times(t *testing.T) {
	start := time.Unix(1000, 0)
	traj := Trajectory{Waypoints: []Waypoint{
		{Time: start, X: 0, Y: 0},
		{Time: start.Add(5 * time.Second), X: 5, Y: 0},
		{Time: start.Add(9 * time.Second), X: 9, Y: 0},
	}}

	assert.False(t, traj.Empty())
	assert.True(t, traj.StartTime().Equal(start))
	assert.True(t, traj.FinishTime().Equal(start.Add(9*time.Second)))

	var empty Trajectory
	assert.True(t, empty.Empty())
	assert.True(t, empty.StartTime().IsZero())
}

func TestItinerary_FinishTime(t *testing.T) {
	start := time.Unix(1000, 0)
	it := Itinerary{
		{Map: "a", Trajectory: Trajectory{Waypoints: []Waypoint{
			{Time: start}, {Time: start.Add(20 * time.Second)},
		}}},
		{Map: "b", Trajectory: Trajectory{Waypoints: []Waypoint{
			{Time: start}, {Time: start.Add(5 * time.Second)},
		}}},
	}

	assert.True(t, it.FinishTime().Equal(start.Add(20*time.Second)),
		"the latest route end wins")
}

func TestItinerary_CloneIsDeep(t *testing.T) {
	start := time.Unix(1000, 0)
	original := Itinerary{{Map: "a", Trajectory: Trajectory{Waypoints: []Waypoint{{Time: start, X: 1}}}}}

	clone := original.Clone()
	clone[0].Trajectory.Waypoints[0].X = 99

	assert.InDelta(t, 1.0, original[0].Trajectory.Waypoints[0].X, 1e-9)
}

func TestDescriptionConversionRoundTrip(t *testing.T) {
	desc := ParticipantDescription{
		Name:           "robot_1",
		Owner:          "fleet",
		Responsiveness: Unresponsive,
		Profile:        Profile{Footprint: 0.7},
	}

	assert.Equal(t, desc, DescriptionFromAPI(DescriptionToAPI(desc)))
}
