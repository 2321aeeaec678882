package query

import (
	"log/slog"
	"time"

	"github.com/iudanet/fleetsched/internal/bus"
	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/schedule"
	"github.com/iudanet/fleetsched/pkg/api"
)

// DefaultUpdatePeriod период рассылки патчей зеркалам.
const DefaultUpdatePeriod = 10 * time.Millisecond

// Fanout периодически рассылает патчи подписчикам каждого запроса.
// Частые правки за один период склеиваются в один патч, что дает
// естественную пакетизацию.
type Fanout struct {
	db          *schedule.Database
	registry    *Registry
	bus         bus.Bus
	logger      *slog.Logger
	nodeVersion uint64
	period      time.Duration
	stop        chan struct{}
	done        chan struct{}
}

// NewFanout создает рассылку поверх базы и реестра запросов.
func NewFanout(
	db *schedule.Database,
	registry *Registry,
	b bus.Bus,
	nodeVersion uint64,
	period time.Duration,
	logger *slog.Logger,
) *Fanout {
	if period <= 0 {
		period = DefaultUpdatePeriod
	}
	return &Fanout{
		db:          db,
		registry:    registry,
		bus:         b,
		logger:      logger,
		nodeVersion: nodeVersion,
		period:      period,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start запускает цикл рассылки в отдельной горутине.
func (f *Fanout) Start() {
	go func() {
		defer close(f.done)

		ticker := time.NewTicker(f.period)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				f.Tick()
			case <-f.stop:
				return
			}
		}
	}()
}

// Close останавливает цикл рассылки и дожидается его завершения.
func (f *Fanout) Close() {
	close(f.stop)
	<-f.done
}

// Tick выполняет один проход рассылки: сначала обслуживаются отложенные
// догоняющие запросы, затем инкрементальные обновления. Пустые
// неремедиальные патчи без cull подавляются, но последняя отправленная
// версия все равно продвигается.
func (f *Fanout) Tick() {
	current := f.db.LatestVersion()

	for _, entry := range f.registry.Sweep() {
		for _, rem := range entry.Remediations {
			var since *uint64
			if !rem.Full {
				v := rem.Version
				since = &v
			}
			f.publish(entry.ID, entry.Query, since, true)
		}

		if entry.LastSent != nil && *entry.LastSent == current {
			continue
		}
		f.publish(entry.ID, entry.Query, entry.LastSent, false)
		f.registry.AdvanceLastSent(entry.ID, current)
	}
}

func (f *Fanout) publish(id models.QueryID, q models.Query, since *uint64, remedial bool) {
	patch := f.db.Changes(q, since)
	if !remedial && patch.Empty() {
		return
	}

	msg := api.MirrorUpdate{
		NodeVersion:      f.nodeVersion,
		DatabaseVersion:  patch.LatestVersion,
		Patch:            patch.ToAPI(),
		IsRemedialUpdate: remedial,
	}
	if err := f.bus.Publish(bus.QueryUpdateTopic(uint64(id)), msg); err != nil {
		f.logger.Error("Failed to publish mirror update", "query_id", id, "error", err)
		return
	}
	f.logger.Debug("Published mirror update",
		"query_id", id,
		"database_version", patch.LatestVersion,
		"changes", len(patch.Changes),
		"is_remedial", remedial,
	)
}
