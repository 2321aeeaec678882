package monitor

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fleetsched/internal/bus"
	"github.com/iudanet/fleetsched/internal/bus/inproc"
	"github.com/iudanet/fleetsched/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// failOverCounter считает события фейловера.
type failOverCounter struct {
	count int
	mu    sync.Mutex
}

func (c *failOverCounter) handle(any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

func (c *failOverCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func TestMonitor_AnnouncesFailOverOnce(t *testing.T) {
	b := inproc.New()
	defer b.Close()

	counter := &failOverCounter{}
	_, err := b.Subscribe(bus.FailOverTopic, counter.handle)
	require.NoError(t, err)

	m, err := New(b, 30*time.Millisecond, testLogger())
	require.NoError(t, err)
	m.Start()
	defer m.Close()

	// пока сердцебиение идет, фейловера нет
	for range 3 {
		require.NoError(t, b.Publish(bus.HeartbeatTopic, api.Heartbeat{NodeVersion: 1}))
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, counter.value())

	// сердцебиение пропало: ровно одно объявление фейловера
	require.Eventually(t, func() bool {
		return counter.value() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, counter.value(), "fail-over is announced exactly once per loss")
}

func TestMonitor_ResumesAfterReplacementNode(t *testing.T) {
	b := inproc.New()
	defer b.Close()

	counter := &failOverCounter{}
	_, err := b.Subscribe(bus.FailOverTopic, counter.handle)
	require.NoError(t, err)

	m, err := New(b, 30*time.Millisecond, testLogger())
	require.NoError(t, err)
	m.Start()
	defer m.Close()

	require.NoError(t, b.Publish(bus.HeartbeatTopic, api.Heartbeat{NodeVersion: 1}))
	require.Eventually(t, func() bool {
		return counter.value() == 1
	}, time.Second, 5*time.Millisecond)

	// резервный узел поднялся и начал сердцебиение
	require.NoError(t, b.Publish(bus.HeartbeatTopic, api.Heartbeat{NodeVersion: 2}))
	nodeVersion, seen := m.NodeVersion()
	require.True(t, seen)
	assert.Equal(t, uint64(2), nodeVersion)

	// его пропажа объявляется снова
	require.Eventually(t, func() bool {
		return counter.value() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_SilentBeforeFirstHeartbeat(t *testing.T) {
	b := inproc.New()
	defer b.Close()

	counter := &failOverCounter{}
	_, err := b.Subscribe(bus.FailOverTopic, counter.handle)
	require.NoError(t, err)

	m, err := New(b, 20*time.Millisecond, testLogger())
	require.NoError(t, err)
	m.Start()
	defer m.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, counter.value(),
		"the monitor waits for the first heartbeat before arming the lease")
}
