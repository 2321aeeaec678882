// Package schedule реализует авторитетную базу расписания: итинерарии
// участников с версионированными правками, журнал изменений для зеркал
// и учет несогласованностей (пропущенных версий).
package schedule

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/version"
)

// DefaultChangeLogLimit максимальное число записей журнала изменений,
// хранимых по умолчанию. При превышении старые записи усекаются и
// отстающие зеркала получают полный снимок с флагом cull.
const DefaultChangeLogLimit = 1 << 16

// routeEntry хранит маршрут вместе с накопленной задержкой участника
// на момент добавления. Эффективный сдвиг маршрута равен разности
// текущей накопленной задержки и baseDelay; сами траектории никогда
// не переписываются.
type routeEntry struct {
	route     models.Route
	baseDelay time.Duration
}

// participantState состояние одного участника в базе.
type participantState struct {
	description     models.ParticipantDescription
	routes          map[models.RouteID]routeEntry
	order           []models.RouteID
	latestVersion   uint64
	inconsistencies rangeSet
	lastRouteID     uint64
	cumDelay        time.Duration
	lastChangedAt   uint64 // версия базы последней правки этого участника
}

// ViewChange маршрут, добавленный или измененный после некоторой версии
// базы. Потребляется детектором конфликтов.
type ViewChange struct {
	Participant models.ParticipantID
	Description models.ParticipantDescription
	RouteID     models.RouteID
	Route       models.Route // с примененной задержкой
}

// DetectorView снимок для одного прохода детектора конфликтов,
// сделанный под одной блокировкой базы.
type DetectorView struct {
	Patch               Patch
	View                []ViewChange
	Participants        map[models.ParticipantID]models.ParticipantDescription // nil, если состав не менялся
	ParticipantsVersion uint64
}

// Database авторитетная база расписания. Все операции атомарны
// относительно внутренней блокировки.
type Database struct {
	participants        map[models.ParticipantID]*participantState
	log                 []Change
	wake                chan struct{}
	participantsVersion uint64
	dbVersion           uint64
	logLimit            int
	culledThrough       uint64 // версии <= culledThrough усечены из журнала
	mu                  sync.Mutex
}

// NewDatabase создает пустую базу расписания.
func NewDatabase() *Database {
	return &Database{
		participants: make(map[models.ParticipantID]*participantState),
		logLimit:     DefaultChangeLogLimit,
		wake:         make(chan struct{}, 1),
	}
}

// SetChangeLogLimit задает максимальный размер журнала изменений.
func (d *Database) SetChangeLogLimit(limit int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limit > 0 {
		d.logLimit = limit
	}
}

// Wake возвращает канал, сигнализирующий о каждой примененной правке
// или изменении состава участников. Детектор конфликтов блокируется
// на этом канале между проходами.
func (d *Database) Wake() <-chan struct{} {
	return d.wake
}

func (d *Database) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// AddParticipant создает запись участника или обновляет описание
// существующего (повторная регистрация с тем же ключом идентичности).
// Возвращает текущие версию итинерария и последний выданный RouteID,
// чтобы участник мог продолжить нумерацию после рестарта.
func (d *Database) AddParticipant(
	id models.ParticipantID,
	desc models.ParticipantDescription,
) (itineraryVersion, lastRouteID uint64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.participants[id]
	if !ok {
		st = &participantState{
			description: desc,
			routes:      make(map[models.RouteID]routeEntry),
		}
		d.participants[id] = st
	} else {
		// Повторная регистрация обновляет описание, состояние сохраняется
		st.description = desc
	}

	d.participantsVersion++
	d.signal()
	return st.latestVersion, st.lastRouteID, nil
}

// UnregisterParticipant удаляет участника и все его маршруты.
// Зеркала получают завершающую правку clear через журнал изменений.
func (d *Database) UnregisterParticipant(id models.ParticipantID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.participants[id]
	if !ok {
		return fmt.Errorf("unregister participant [%d]: %w", id, ErrUnknownParticipant)
	}

	d.appendChange(Change{
		Participant:      id,
		Kind:             ChangeClear,
		ItineraryVersion: st.latestVersion + 1,
	})
	delete(d.participants, id)
	d.participantsVersion++
	d.signal()
	return nil
}

// Set заменяет итинерарий участника целиком. Накопленная задержка
// сбрасывается: новый итинерарий приходит со свежей временной базой.
// Полная замена определяет все состояние участника, поэтому все
// диапазоны пропущенных версий ниже нее закрываются; запоздавший set
// из пропущенного диапазона только заполняет пробел — его содержимое
// уже вытеснено более новыми правками.
func (d *Database) Set(id models.ParticipantID, itinerary models.Itinerary, v uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.participants[id]
	if !ok {
		return fmt.Errorf("set itinerary for [%d]: %w", id, ErrUnknownParticipant)
	}
	switch d.gateVersion(st, v) {
	case gateDuplicate:
		return nil
	case gateFill:
		d.signal()
		return nil
	case gateApply:
		st.inconsistencies = rangeSet{}
	}

	st.routes = make(map[models.RouteID]routeEntry, len(itinerary))
	st.order = st.order[:0]
	st.cumDelay = 0

	assigned := make([]AssignedRoute, 0, len(itinerary))
	for _, r := range itinerary {
		st.lastRouteID++
		rid := models.RouteID(st.lastRouteID)
		st.routes[rid] = routeEntry{route: r.Clone()}
		st.order = append(st.order, rid)
		assigned = append(assigned, AssignedRoute{ID: rid, Route: r.Clone()})
	}

	d.appendChange(Change{
		Participant:      id,
		Kind:             ChangeSet,
		Routes:           assigned,
		ItineraryVersion: v,
	})
	st.lastChangedAt = d.dbVersion
	d.signal()
	return nil
}

// Extend добавляет маршруты в конец итинерария, выдавая свежие RouteID.
func (d *Database) Extend(id models.ParticipantID, routes models.Itinerary, v uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.participants[id]
	if !ok {
		return fmt.Errorf("extend itinerary for [%d]: %w", id, ErrUnknownParticipant)
	}
	if d.gateVersion(st, v) == gateDuplicate {
		return nil
	}

	assigned := make([]AssignedRoute, 0, len(routes))
	for _, r := range routes {
		st.lastRouteID++
		rid := models.RouteID(st.lastRouteID)
		st.routes[rid] = routeEntry{route: r.Clone(), baseDelay: st.cumDelay}
		st.order = append(st.order, rid)
		assigned = append(assigned, AssignedRoute{ID: rid, Route: r.Clone()})
	}

	d.appendChange(Change{
		Participant:      id,
		Kind:             ChangeExtend,
		Routes:           assigned,
		ItineraryVersion: v,
	})
	st.lastChangedAt = d.dbVersion
	d.signal()
	return nil
}

// Delay сдвигает эффективную временную базу всех текущих маршрутов
// участника. Задержка накапливается и может быть отрицательной.
func (d *Database) Delay(id models.ParticipantID, delay time.Duration, v uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.participants[id]
	if !ok {
		return fmt.Errorf("delay itinerary for [%d]: %w", id, ErrUnknownParticipant)
	}
	if d.gateVersion(st, v) == gateDuplicate {
		return nil
	}

	st.cumDelay += delay

	d.appendChange(Change{
		Participant:      id,
		Kind:             ChangeDelay,
		Delay:            delay,
		ItineraryVersion: v,
	})
	st.lastChangedAt = d.dbVersion
	d.signal()
	return nil
}

// Erase удаляет перечисленные маршруты. Неизвестные RouteID игнорируются.
func (d *Database) Erase(id models.ParticipantID, routeIDs []models.RouteID, v uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.participants[id]
	if !ok {
		return fmt.Errorf("erase routes for [%d]: %w", id, ErrUnknownParticipant)
	}
	if d.gateVersion(st, v) == gateDuplicate {
		return nil
	}

	for _, rid := range routeIDs {
		if _, exists := st.routes[rid]; !exists {
			continue
		}
		delete(st.routes, rid)
		st.order = slices.DeleteFunc(st.order, func(o models.RouteID) bool {
			return o == rid
		})
	}

	d.appendChange(Change{
		Participant:      id,
		Kind:             ChangeErase,
		RouteIDs:         slices.Clone(routeIDs),
		ItineraryVersion: v,
	})
	st.lastChangedAt = d.dbVersion
	d.signal()
	return nil
}

// Clear удаляет все маршруты участника.
func (d *Database) Clear(id models.ParticipantID, v uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.participants[id]
	if !ok {
		return fmt.Errorf("clear itinerary for [%d]: %w", id, ErrUnknownParticipant)
	}
	if d.gateVersion(st, v) == gateDuplicate {
		return nil
	}

	st.routes = make(map[models.RouteID]routeEntry)
	st.order = st.order[:0]
	st.cumDelay = 0

	d.appendChange(Change{
		Participant:      id,
		Kind:             ChangeClear,
		ItineraryVersion: v,
	})
	st.lastChangedAt = d.dbVersion
	d.signal()
	return nil
}

// gateResult решение по версии входящей правки.
type gateResult int

const (
	// gateDuplicate правка уже применялась; игнорируем (идемпотентность)
	gateDuplicate gateResult = iota
	// gateApply правка новее последней; применяем
	gateApply
	// gateFill запоздавшая правка из пропущенного диапазона; пробел
	// закрыт, эффект применяется поверх текущего состояния
	gateFill
)

// gateVersion решает, применять ли правку с версией v.
// Правила: v в пропущенном диапазоне — заполняем пробел и применяем;
// v <= latest — дубликат, игнорируем; v == latest+1 — применяем;
// v > latest+1 — применяем спекулятивно и фиксируем диапазон пропуска.
func (d *Database) gateVersion(st *participantState, v uint64) gateResult {
	if version.LessEq(v, st.latestVersion) {
		if st.inconsistencies.contains(v) {
			st.inconsistencies.fill(v)
			return gateFill
		}
		return gateDuplicate
	}

	if v != st.latestVersion+1 {
		st.inconsistencies.add(st.latestVersion+1, v-1)
	}
	st.latestVersion = v
	return gateApply
}

// appendChange присваивает правке новую версию базы и добавляет ее
// в журнал, усекая старые записи при переполнении.
func (d *Database) appendChange(c Change) {
	d.dbVersion++
	c.DatabaseVersion = d.dbVersion
	d.log = append(d.log, c)

	if len(d.log) > d.logLimit {
		drop := len(d.log) - d.logLimit
		d.culledThrough = d.log[drop-1].DatabaseVersion
		d.log = slices.Clone(d.log[drop:])
	}
}

// LatestVersion возвращает текущую версию базы.
func (d *Database) LatestVersion() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dbVersion
}

// ParticipantsVersion возвращает версию состава участников.
func (d *Database) ParticipantsVersion() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.participantsVersion
}

// ParticipantIDs возвращает отсортированный список участников.
func (d *Database) ParticipantIDs() []models.ParticipantID {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]models.ParticipantID, 0, len(d.participants))
	for id := range d.participants {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// GetParticipant возвращает описание участника.
func (d *Database) GetParticipant(id models.ParticipantID) (models.ParticipantDescription, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.participants[id]
	if !ok {
		return models.ParticipantDescription{}, false
	}
	return st.description, true
}

// ItineraryVersion возвращает последнюю примененную версию итинерария.
func (d *Database) ItineraryVersion(id models.ParticipantID) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.participants[id]
	if !ok {
		return 0, fmt.Errorf("itinerary version of [%d]: %w", id, ErrUnknownParticipant)
	}
	return st.latestVersion, nil
}

// Inconsistencies возвращает текущие диапазоны пропущенных версий
// участника вместе с последней известной версией.
func (d *Database) Inconsistencies(id models.ParticipantID) ([]Range, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.participants[id]
	if !ok {
		return nil, 0, fmt.Errorf("inconsistencies of [%d]: %w", id, ErrUnknownParticipant)
	}
	return st.inconsistencies.snapshot(), st.latestVersion, nil
}

// EffectiveRoutes возвращает упорядоченные маршруты участника с
// примененной накопленной задержкой.
func (d *Database) EffectiveRoutes(id models.ParticipantID) ([]AssignedRoute, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.participants[id]
	if !ok {
		return nil, fmt.Errorf("routes of [%d]: %w", id, ErrUnknownParticipant)
	}
	return effectiveRoutes(st), nil
}

func effectiveRoutes(st *participantState) []AssignedRoute {
	out := make([]AssignedRoute, 0, len(st.order))
	for _, rid := range st.order {
		entry := st.routes[rid]
		out = append(out, AssignedRoute{
			ID:    rid,
			Route: ShiftRoute(entry.route, st.cumDelay-entry.baseDelay),
		})
	}
	return out
}

// Changes возвращает патч с изменениями после версии since,
// отфильтрованный запросом. since == nil означает полный снимок.
func (d *Database) Changes(q models.Query, since *uint64) Patch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changesLocked(q, since)
}

func (d *Database) changesLocked(q models.Query, since *uint64) Patch {
	if since == nil || version.Less(*since, d.culledThrough) {
		return d.snapshotLocked(q)
	}

	patch := Patch{LatestVersion: d.dbVersion}
	for _, c := range d.log {
		if !version.Less(*since, c.DatabaseVersion) {
			continue
		}
		if !q.MatchParticipant(c.Participant) {
			continue
		}
		filtered, ok := filterChange(c, q)
		if !ok {
			continue
		}
		patch.Changes = append(patch.Changes, filtered)
	}
	return patch
}

// snapshotLocked строит синтетический полный снимок: по одной правке
// set на участника с эффективными маршрутами.
func (d *Database) snapshotLocked(q models.Query) Patch {
	patch := Patch{Cull: true, LatestVersion: d.dbVersion}

	ids := make([]models.ParticipantID, 0, len(d.participants))
	for id := range d.participants {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		if !q.MatchParticipant(id) {
			continue
		}
		st := d.participants[id]
		routes := make([]AssignedRoute, 0, len(st.order))
		for _, ar := range effectiveRoutes(st) {
			if !q.MatchMap(ar.Route.Map) {
				continue
			}
			routes = append(routes, ar)
		}
		patch.Changes = append(patch.Changes, Change{
			DatabaseVersion:  d.dbVersion,
			Participant:      id,
			Kind:             ChangeSet,
			Routes:           routes,
			ItineraryVersion: st.latestVersion,
		})
	}
	return patch
}

// filterChange применяет фильтр карт к правкам, несущим маршруты.
// Правки set проходят всегда (пустой set очищает зеркало), extend без
// подходящих маршрутов отбрасывается.
func filterChange(c Change, q models.Query) (Change, bool) {
	switch c.Kind {
	case ChangeSet, ChangeExtend:
		routes := make([]AssignedRoute, 0, len(c.Routes))
		for _, ar := range c.Routes {
			if q.MatchMap(ar.Route.Map) {
				routes = append(routes, ar)
			}
		}
		if c.Kind == ChangeExtend && len(routes) == 0 {
			return Change{}, false
		}
		out := c
		out.Routes = routes
		return out, true
	default:
		return c, true
	}
}

// ViewChanges возвращает эффективные маршруты участников, чьи итинерарии
// менялись после версии since.
func (d *Database) ViewChanges(since uint64) []ViewChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewChangesLocked(since)
}

func (d *Database) viewChangesLocked(since uint64) []ViewChange {
	var out []ViewChange
	ids := make([]models.ParticipantID, 0, len(d.participants))
	for id := range d.participants {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		st := d.participants[id]
		if !version.Less(since, st.lastChangedAt) {
			continue
		}
		for _, ar := range effectiveRoutes(st) {
			out = append(out, ViewChange{
				Participant: id,
				Description: st.description,
				RouteID:     ar.ID,
				Route:       ar.Route,
			})
		}
	}
	return out
}

// DetectorSnapshot атомарно снимает все, что нужно детектору конфликтов
// для одного прохода: патч с последней проверенной версии, изменившиеся
// маршруты и, при смене состава, карту участников.
func (d *Database) DetectorSnapshot(lastChecked, participantsVersion uint64) DetectorView {
	d.mu.Lock()
	defer d.mu.Unlock()

	view := DetectorView{
		ParticipantsVersion: d.participantsVersion,
	}
	if participantsVersion != d.participantsVersion {
		view.Participants = make(map[models.ParticipantID]models.ParticipantDescription, len(d.participants))
		for id, st := range d.participants {
			view.Participants[id] = st.description
		}
	}

	since := lastChecked
	view.Patch = d.changesLocked(models.QueryAll(), &since)
	view.View = d.viewChangesLocked(lastChecked)
	return view
}
