package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangeSet_AddAndCoalesce(t *testing.T) {
	tests := []struct {
		name     string
		add      [][2]uint64
		expected []Range
	}{
		{
			name:     "single range",
			add:      [][2]uint64{{1, 2}},
			expected: []Range{{Lower: 1, Upper: 2}},
		},
		{
			name:     "disjoint ranges stay separate",
			add:      [][2]uint64{{1, 2}, {5, 6}},
			expected: []Range{{Lower: 1, Upper: 2}, {Lower: 5, Upper: 6}},
		},
		{
			name:     "adjacent ranges merge",
			add:      [][2]uint64{{1, 2}, {3, 4}},
			expected: []Range{{Lower: 1, Upper: 4}},
		},
		{
			name:     "overlapping ranges merge",
			add:      [][2]uint64{{1, 5}, {3, 8}},
			expected: []Range{{Lower: 1, Upper: 8}},
		},
		{
			name:     "bridge between two ranges",
			add:      [][2]uint64{{1, 2}, {6, 7}, {3, 5}},
			expected: []Range{{Lower: 1, Upper: 7}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s rangeSet
			for _, r := range tt.add {
				s.add(r[0], r[1])
			}
			assert.Equal(t, tt.expected, s.snapshot())
		})
	}
}

func TestRangeSet_Fill(t *testing.T) {
	var s rangeSet
	s.add(1, 5)

	s.fill(3)
	assert.Equal(t, []Range{{Lower: 1, Upper: 2}, {Lower: 4, Upper: 5}}, s.snapshot(),
		"filling the middle should split the range")

	s.fill(1)
	s.fill(2)
	assert.Equal(t, []Range{{Lower: 4, Upper: 5}}, s.snapshot())

	s.fill(4)
	s.fill(5)
	assert.True(t, s.empty())
}

func TestRangeSet_Contains(t *testing.T) {
	var s rangeSet
	s.add(2, 4)

	assert.False(t, s.contains(1))
	assert.True(t, s.contains(2))
	assert.True(t, s.contains(3))
	assert.True(t, s.contains(4))
	assert.False(t, s.contains(5))
}
