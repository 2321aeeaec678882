package writer

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/iudanet/fleetsched/internal/bus"
	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/version"
	"github.com/iudanet/fleetsched/pkg/api"
)

// historyLimit сколько исходящих правок хранится для повторной
// передачи. Диапазоны старше окна закрываются полной заменой итинерария.
const historyLimit = 1024

// editKind тип исходящей правки в локальном журнале.
type editKind int

const (
	editSet editKind = iota
	editExtend
	editDelay
	editErase
	editClear
)

// loggedEdit одна исходящая правка, достаточная для повторной передачи.
type loggedEdit struct {
	version   uint64
	kind      editKind
	itinerary models.Itinerary
	routes    models.Itinerary
	delay     time.Duration
	routeIDs  []models.RouteID
}

// Participant клиентский хэндл участника. Каждая правка штампуется
// локально увеличиваемой версией итинерария и публикуется на шину;
// итог правки наблюдается через уведомления о несогласованности.
type Participant struct {
	writer      *Writer
	id          models.ParticipantID
	description models.ParticipantDescription

	version     uint64
	lastRouteID uint64
	current     models.Itinerary
	currentIDs  []models.RouteID
	history     []loggedEdit
	mu          sync.Mutex
}

// ID возвращает идентификатор участника.
func (p *Participant) ID() models.ParticipantID { return p.id }

// Description возвращает описание участника.
func (p *Participant) Description() models.ParticipantDescription { return p.description }

// ItineraryVersion возвращает версию последней опубликованной правки.
func (p *Participant) ItineraryVersion() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// LastRouteID возвращает последний выданный идентификатор маршрута.
func (p *Participant) LastRouteID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRouteID
}

// CurrentItinerary возвращает локальное представление итинерария.
func (p *Participant) CurrentItinerary() models.Itinerary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Clone()
}

// CurrentRouteIDs возвращает идентификаторы маршрутов текущего
// итинерария в порядке следования. Нумерация повторяет выдачу базы:
// обе стороны продвигают счетчик одинаково, пока правки применяются
// по порядку.
func (p *Participant) CurrentRouteIDs() []models.RouteID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.currentIDs)
}

// Set заменяет итинерарий целиком.
func (p *Participant) Set(itinerary models.Itinerary) error {
	p.mu.Lock()
	p.version++
	v := p.version
	p.current = itinerary.Clone()
	p.currentIDs = p.currentIDs[:0]
	for range itinerary {
		p.lastRouteID++
		p.currentIDs = append(p.currentIDs, models.RouteID(p.lastRouteID))
	}
	p.appendHistory(loggedEdit{version: v, kind: editSet, itinerary: itinerary.Clone()})
	p.mu.Unlock()

	return p.writer.bus.Publish(bus.ItinerarySetTopic, api.ItinerarySet{
		Participant:      uint64(p.id),
		Itinerary:        models.ItineraryToAPI(itinerary),
		ItineraryVersion: v,
	})
}

// Extend добавляет маршруты в конец итинерария. Возвращает
// идентификаторы, которые база присвоит новым маршрутам.
func (p *Participant) Extend(routes models.Itinerary) ([]models.RouteID, error) {
	p.mu.Lock()
	p.version++
	v := p.version
	assigned := make([]models.RouteID, 0, len(routes))
	for _, r := range routes {
		p.lastRouteID++
		assigned = append(assigned, models.RouteID(p.lastRouteID))
		p.current = append(p.current, r.Clone())
		p.currentIDs = append(p.currentIDs, models.RouteID(p.lastRouteID))
	}
	p.appendHistory(loggedEdit{version: v, kind: editExtend, routes: routes.Clone()})
	p.mu.Unlock()

	err := p.writer.bus.Publish(bus.ItineraryExtendTopic, api.ItineraryExtend{
		Participant:      uint64(p.id),
		Routes:           models.ItineraryToAPI(routes),
		ItineraryVersion: v,
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

// Delay сдвигает временную базу итинерария на delay.
func (p *Participant) Delay(delay time.Duration) error {
	p.mu.Lock()
	p.version++
	v := p.version
	p.appendHistory(loggedEdit{version: v, kind: editDelay, delay: delay})
	p.mu.Unlock()

	return p.writer.bus.Publish(bus.ItineraryDelayTopic, api.ItineraryDelay{
		Participant:      uint64(p.id),
		DelayNanos:       delay.Nanoseconds(),
		ItineraryVersion: v,
	})
}

// Erase удаляет перечисленные маршруты.
func (p *Participant) Erase(routeIDs []models.RouteID) error {
	p.mu.Lock()
	p.version++
	v := p.version
	for _, rid := range routeIDs {
		idx := slices.Index(p.currentIDs, rid)
		if idx < 0 {
			continue
		}
		p.currentIDs = slices.Delete(p.currentIDs, idx, idx+1)
		p.current = slices.Delete(p.current, idx, idx+1)
	}
	p.appendHistory(loggedEdit{version: v, kind: editErase, routeIDs: slices.Clone(routeIDs)})
	p.mu.Unlock()

	ids := make([]uint64, 0, len(routeIDs))
	for _, rid := range routeIDs {
		ids = append(ids, uint64(rid))
	}
	return p.writer.bus.Publish(bus.ItineraryEraseTopic, api.ItineraryErase{
		Participant:      uint64(p.id),
		Routes:           ids,
		ItineraryVersion: v,
	})
}

// Clear удаляет все маршруты.
func (p *Participant) Clear() error {
	p.mu.Lock()
	p.version++
	v := p.version
	p.current = nil
	p.currentIDs = nil
	p.appendHistory(loggedEdit{version: v, kind: editClear})
	p.mu.Unlock()

	return p.writer.bus.Publish(bus.ItineraryClearTopic, api.ItineraryClear{
		Participant:      uint64(p.id),
		ItineraryVersion: v,
	})
}

// Unregister снимает участника с узла расписания.
func (p *Participant) Unregister(ctx context.Context) error {
	return p.writer.unregisterParticipant(ctx, p.id)
}

// Close отпускает хэндл без снятия регистрации: привязка (owner, name)
// к идентификатору сохраняется узлом.
func (p *Participant) Close() {
	p.writer.forget(p.id)
}

// appendHistory добавляет правку в локальный журнал. Вызывается под p.mu.
func (p *Participant) appendHistory(e loggedEdit) {
	p.history = append(p.history, e)
	if len(p.history) > historyLimit {
		p.history = slices.Clone(p.history[len(p.history)-historyLimit:])
	}
}

// retransmit повторно передает правки, покрывающие диапазоны
// пропущенных версий. Новые версии при этом не создаются; если журнал
// больше не покрывает диапазон, публикуется полная замена итинерария
// с текущей версией. Публикация выполняется после освобождения
// блокировки участника: доставка на шине может синхронно породить
// следующее уведомление.
func (p *Participant) retransmit(ranges []api.Range, lastKnown uint64) {
	p.mu.Lock()

	if version.Less(p.version, lastKnown) {
		// узел видел версии новее наших; принимаем его счет, иначе
		// следующие правки столкнутся с базой как дубликаты
		p.writer.logger.Warn("Schedule node knows a newer itinerary version than ours; adopting it",
			"participant_id", p.id,
			"last_known_version", lastKnown,
			"local_version", p.version,
		)
		p.version = lastKnown
	}

	var (
		edits    []loggedEdit
		fallback bool
	)
collect:
	for _, r := range ranges {
		for v := r.Lower; version.LessEq(v, r.Upper); v++ {
			e, found := p.lookupLocked(v)
			if !found {
				// журнал усечен: закрываем пробел полной заменой
				p.writer.logger.Warn("Outbound log no longer covers inconsistency; resending full itinerary",
					"participant_id", p.id,
					"missing_version", v,
				)
				fallback = true
				break collect
			}
			edits = append(edits, e)
		}
	}

	var current models.Itinerary
	if fallback {
		current = p.current.Clone()
	}
	p.mu.Unlock()

	if fallback {
		// коррекция: полная замена с новой версией закрывает все
		// пропуски ниже себя на стороне базы
		if err := p.Set(current); err != nil {
			p.writer.logger.Error("Failed to resend full itinerary",
				"participant_id", p.id, "error", err)
		}
		return
	}
	for _, e := range edits {
		p.publishEdit(e)
	}
	p.writer.logger.Info("Retransmitted itinerary edits",
		"participant_id", p.id,
		"edits", len(edits),
	)
}

// lookupLocked ищет правку с данной версией в журнале.
func (p *Participant) lookupLocked(v uint64) (loggedEdit, bool) {
	for _, e := range p.history {
		if e.version == v {
			return e, true
		}
	}
	return loggedEdit{}, false
}

func (p *Participant) publishEdit(e loggedEdit) {
	var err error
	switch e.kind {
	case editSet:
		err = p.writer.bus.Publish(bus.ItinerarySetTopic, api.ItinerarySet{
			Participant:      uint64(p.id),
			Itinerary:        models.ItineraryToAPI(e.itinerary),
			ItineraryVersion: e.version,
		})
	case editExtend:
		err = p.writer.bus.Publish(bus.ItineraryExtendTopic, api.ItineraryExtend{
			Participant:      uint64(p.id),
			Routes:           models.ItineraryToAPI(e.routes),
			ItineraryVersion: e.version,
		})
	case editDelay:
		err = p.writer.bus.Publish(bus.ItineraryDelayTopic, api.ItineraryDelay{
			Participant:      uint64(p.id),
			DelayNanos:       e.delay.Nanoseconds(),
			ItineraryVersion: e.version,
		})
	case editErase:
		ids := make([]uint64, 0, len(e.routeIDs))
		for _, rid := range e.routeIDs {
			ids = append(ids, uint64(rid))
		}
		err = p.writer.bus.Publish(bus.ItineraryEraseTopic, api.ItineraryErase{
			Participant:      uint64(p.id),
			Routes:           ids,
			ItineraryVersion: e.version,
		})
	case editClear:
		err = p.writer.bus.Publish(bus.ItineraryClearTopic, api.ItineraryClear{
			Participant:      uint64(p.id),
			ItineraryVersion: e.version,
		})
	}
	if err != nil {
		p.writer.logger.Error("Failed to retransmit edit",
			"participant_id", p.id,
			"itinerary_version", e.version,
			"error", err,
		)
	}
}

// String реализует fmt.Stringer для логов.
func (p *Participant) String() string {
	return fmt.Sprintf("participant[%d %s/%s]", p.id, p.description.Owner, p.description.Name)
}
