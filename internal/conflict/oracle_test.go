package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iudanet/fleetsched/internal/models"
)

func line(start time.Time, duration time.Duration, x0, y0, x1, y1 float64) models.Trajectory {
	return models.Trajectory{Waypoints: []models.Waypoint{
		{Time: start, X: x0, Y: y0},
		{Time: start.Add(duration), X: x1, Y: y1},
	}}
}

func TestProximityOracle_Between(t *testing.T) {
	start := time.Now()
	profile := models.Profile{Footprint: 0.5}

	tests := []struct {
		name     string
		a        models.Trajectory
		b        models.Trajectory
		expected bool
	}{
		{
			name:     "head-on crossing conflicts",
			a:        line(start, 10*time.Second, 0, 0, 10, 0),
			b:        line(start, 10*time.Second, 10, 0, 0, 0),
			expected: true,
		},
		{
			name:     "parallel lanes far apart do not conflict",
			a:        line(start, 10*time.Second, 0, 0, 10, 0),
			b:        line(start, 10*time.Second, 0, 5, 10, 5),
			expected: false,
		},
		{
			name:     "same path at disjoint times does not conflict",
			a:        line(start, 10*time.Second, 0, 0, 10, 0),
			b:        line(start.Add(time.Minute), 10*time.Second, 10, 0, 0, 0),
			expected: false,
		},
		{
			name:     "same spot at the same time conflicts",
			a:        line(start, 10*time.Second, 5, 0, 5, 0),
			b:        line(start, 10*time.Second, 5, 0.2, 5, 0.2),
			expected: true,
		},
		{
			name:     "empty trajectory never conflicts",
			a:        models.Trajectory{},
			b:        line(start, 10*time.Second, 0, 0, 10, 0),
			expected: false,
		},
	}

	oracle := ProximityOracle{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, oracle.Between(profile, tt.a, profile, tt.b))
		})
	}
}

func TestOracleFunc_Adapter(t *testing.T) {
	called := false
	oracle := OracleFunc(func(models.Profile, models.Trajectory, models.Profile, models.Trajectory) bool {
		called = true
		return true
	})

	assert.True(t, oracle.Between(models.Profile{}, models.Trajectory{}, models.Profile{}, models.Trajectory{}))
	assert.True(t, called)
}
