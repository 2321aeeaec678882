package conflict

import (
	"log/slog"
	"math"
	"time"

	"github.com/iudanet/fleetsched/internal/mirror"
	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/schedule"
)

// DefaultWakeInterval нижняя граница интервала пробуждения детектора:
// даже без сигналов базы цикл просыпается проверить флаг остановки.
const DefaultWakeInterval = 100 * time.Millisecond

// Pair пара конфликтующих участников. Порядок не значим: (a,b) и (b,a)
// эквивалентны, дедупликацию выполняет движок переговоров.
type Pair struct {
	A models.ParticipantID
	B models.ParticipantID
}

// Sink принимает пары-кандидаты конфликтов, обнаруженные за один проход.
type Sink func(pairs []Pair)

// Detector фоновая задача, поддерживающая локальное зеркало базы и
// проверяющая новые и измененные маршруты на конфликты со всеми
// остальными участниками.
type Detector struct {
	db       *schedule.Database
	oracle   Oracle
	sink     Sink
	logger   *slog.Logger
	mirror   *mirror.Mirror
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewDetector создает детектор. Пары доставляются в sink после
// освобождения блокировки базы.
func NewDetector(db *schedule.Database, oracle Oracle, sink Sink, logger *slog.Logger) *Detector {
	return &Detector{
		db:       db,
		oracle:   oracle,
		sink:     sink,
		logger:   logger,
		mirror:   mirror.New(),
		interval: DefaultWakeInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetWakeInterval задает интервал пробуждения. Используется в тестах.
func (d *Detector) SetWakeInterval(interval time.Duration) {
	if interval > 0 {
		d.interval = interval
	}
}

// Start запускает цикл детектора в отдельной горутине.
func (d *Detector) Start() {
	go d.run()
}

// Close останавливает детектор и дожидается завершения его горутины.
func (d *Detector) Close() {
	close(d.stop)
	<-d.done
}

func (d *Detector) run() {
	defer close(d.done)

	var lastChecked uint64
	// сторожевое значение: первый же снимок обновит карту участников
	lastParticipants := uint64(math.MaxUint64)

	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-d.db.Wake():
		case <-timer.C:
		}
		timer.Reset(d.interval)

		view := d.db.DetectorSnapshot(lastChecked, lastParticipants)
		if view.Participants != nil {
			d.mirror.UpdateParticipants(view.Participants)
			lastParticipants = view.ParticipantsVersion
		}

		if view.Patch.Empty() && len(view.View) == 0 {
			// случайное пробуждение: проверили остановку и спим дальше
			continue
		}

		if err := d.mirror.Update(view.Patch); err != nil {
			d.logger.Error("Failed to update conflict mirror", "error", err)
			continue
		}
		lastChecked = view.Patch.LatestVersion

		pairs := d.collect(view.View)
		if len(pairs) > 0 {
			d.sink(pairs)
		}
	}
}

// collect сравнивает каждый измененный маршрут с итинерариями всех
// остальных участников зеркала.
func (d *Detector) collect(changes []schedule.ViewChange) []Pair {
	var pairs []Pair

	for _, participant := range d.mirror.ParticipantIDs() {
		desc, ok := d.mirror.GetParticipant(participant)
		if !ok {
			continue
		}
		routes := d.mirror.Routes(participant)

		for _, change := range changes {
			if change.Participant == participant {
				// участника с самим собой не сверяем
				continue
			}
			if desc.Responsiveness == models.Unresponsive &&
				change.Description.Responsiveness == models.Unresponsive {
				// оба не реагируют на переговоры: конфликт бессмыслен
				continue
			}

			for _, ar := range routes {
				if ar.Route.Map != change.Route.Map {
					continue
				}
				if d.oracle.Between(
					change.Description.Profile, change.Route.Trajectory,
					desc.Profile, ar.Route.Trajectory,
				) {
					pairs = append(pairs, Pair{A: participant, B: change.Participant})
					break
				}
			}
		}
	}
	return pairs
}
