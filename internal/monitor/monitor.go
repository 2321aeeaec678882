// Package monitor реализует наблюдателя за сигналом живости активного
// узла расписания. Когда аренда истекает, наблюдатель публикует
// FailOverEvent: участники переоткрывают RPC клиентов, резервный узел
// принимает трафик.
package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/fleetsched/internal/bus"
	"github.com/iudanet/fleetsched/pkg/api"
)

// Monitor наблюдатель сердцебиения. Аренда равна переданному периоду
// сердцебиения активного узла без добавочного запаса: она истекает,
// когда с последнего сигнала прошло больше lease (проверка каждые lease/2).
type Monitor struct {
	bus    bus.Bus
	logger *slog.Logger
	lease  time.Duration
	id     uuid.UUID

	sub  bus.Subscription
	stop chan struct{}
	done chan struct{}

	lastBeat    time.Time
	nodeVersion uint64
	beatSeen    bool
	failed      bool
	now         func() time.Time
	mu          sync.Mutex
}

// New создает наблюдателя и подписывается на сердцебиение.
func New(b bus.Bus, lease time.Duration, logger *slog.Logger) (*Monitor, error) {
	if lease <= 0 {
		lease = time.Second
	}

	m := &Monitor{
		bus:    b,
		logger: logger,
		lease:  lease,
		id:     uuid.New(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}

	sub, err := b.Subscribe(bus.HeartbeatTopic, m.handleHeartbeat)
	if err != nil {
		return nil, fmt.Errorf("subscribe heartbeat: %w", err)
	}
	m.sub = sub
	return m, nil
}

// SetClock подменяет источник времени. Используется в тестах.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Start запускает цикл проверки аренды.
func (m *Monitor) Start() {
	m.logger.Info("Heartbeat monitor started",
		"monitor_id", m.id,
		"lease", m.lease,
	)

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.lease / 2)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.checkLease()
			}
		}
	}()
}

// Close останавливает наблюдателя.
func (m *Monitor) Close() {
	m.sub.Unsubscribe()
	close(m.stop)
	<-m.done
}

// NodeVersion возвращает версию последнего узла, чье сердцебиение
// наблюдалось.
func (m *Monitor) NodeVersion() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodeVersion, m.beatSeen
}

func (m *Monitor) handleHeartbeat(msg any) {
	hb, ok := msg.(api.Heartbeat)
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failed {
		// новый активный узел поднялся: возобновляем наблюдение
		m.logger.Info("Heartbeat resumed", "node_version", hb.NodeVersion)
		m.failed = false
	}
	m.lastBeat = m.now()
	m.nodeVersion = hb.NodeVersion
	m.beatSeen = true
}

// checkLease публикует FailOverEvent ровно один раз на каждую потерю
// сердцебиения.
func (m *Monitor) checkLease() {
	m.mu.Lock()
	expired := m.beatSeen && !m.failed && m.now().Sub(m.lastBeat) > m.lease
	if expired {
		m.failed = true
	}
	nodeVersion := m.nodeVersion
	m.mu.Unlock()

	if !expired {
		return
	}

	m.logger.Error("Schedule node heartbeat lease expired; announcing fail-over",
		"node_version", nodeVersion,
		"lease", m.lease,
	)
	if err := m.bus.Publish(bus.FailOverTopic, api.FailOverEvent{}); err != nil {
		m.logger.Error("Failed to publish fail-over event", "error", err)
	}
}
