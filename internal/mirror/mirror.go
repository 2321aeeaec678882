// Package mirror реализует реплику базы расписания, восстанавливаемую
// из патчей. Зеркало применяет упорядоченные изменения и воспроизводит
// эффективные итинерарии участников для локального планирования.
package mirror

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/schedule"
)

// routeEntry копия записи маршрута базы: маршрут и накопленная задержка
// участника на момент добавления.
type routeEntry struct {
	route     models.Route
	baseDelay time.Duration
}

type participantState struct {
	routes        map[models.RouteID]routeEntry
	order         []models.RouteID
	cumDelay      time.Duration
	latestVersion uint64
}

// Mirror реплика базы расписания, продвигаемая патчами.
type Mirror struct {
	participants map[models.ParticipantID]models.ParticipantDescription
	states       map[models.ParticipantID]*participantState
	latest       uint64
	primed       bool // получен хотя бы один патч
	mu           sync.RWMutex
}

// New создает пустое зеркало.
func New() *Mirror {
	return &Mirror{
		participants: make(map[models.ParticipantID]models.ParticipantDescription),
		states:       make(map[models.ParticipantID]*participantState),
	}
}

// UpdateParticipants заменяет карту участников. Состояние участников,
// которых больше нет, удаляется.
func (m *Mirror) UpdateParticipants(participants map[models.ParticipantID]models.ParticipantDescription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.participants = make(map[models.ParticipantID]models.ParticipantDescription, len(participants))
	for id, desc := range participants {
		m.participants[id] = desc
	}
	for id := range m.states {
		if _, ok := m.participants[id]; !ok {
			delete(m.states, id)
		}
	}
}

// Update применяет патч к зеркалу. Патч с флагом cull сбрасывает
// состояние итинерариев перед применением.
func (m *Mirror) Update(patch schedule.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if patch.Cull {
		m.states = make(map[models.ParticipantID]*participantState)
	}

	for _, c := range patch.Changes {
		if err := m.applyChange(c); err != nil {
			return fmt.Errorf("apply change at version %d: %w", c.DatabaseVersion, err)
		}
	}

	m.latest = patch.LatestVersion
	m.primed = true
	return nil
}

func (m *Mirror) applyChange(c schedule.Change) error {
	st, ok := m.states[c.Participant]
	if !ok {
		st = &participantState{routes: make(map[models.RouteID]routeEntry)}
		m.states[c.Participant] = st
	}

	switch c.Kind {
	case schedule.ChangeSet:
		st.routes = make(map[models.RouteID]routeEntry, len(c.Routes))
		st.order = st.order[:0]
		st.cumDelay = 0
		for _, ar := range c.Routes {
			st.routes[ar.ID] = routeEntry{route: ar.Route.Clone()}
			st.order = append(st.order, ar.ID)
		}
	case schedule.ChangeExtend:
		for _, ar := range c.Routes {
			st.routes[ar.ID] = routeEntry{route: ar.Route.Clone(), baseDelay: st.cumDelay}
			st.order = append(st.order, ar.ID)
		}
	case schedule.ChangeDelay:
		st.cumDelay += c.Delay
	case schedule.ChangeErase:
		for _, rid := range c.RouteIDs {
			if _, exists := st.routes[rid]; !exists {
				continue
			}
			delete(st.routes, rid)
			st.order = slices.DeleteFunc(st.order, func(o models.RouteID) bool {
				return o == rid
			})
		}
	case schedule.ChangeClear:
		st.routes = make(map[models.RouteID]routeEntry)
		st.order = st.order[:0]
		st.cumDelay = 0
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}

	st.latestVersion = c.ItineraryVersion
	return nil
}

// LatestVersion возвращает версию базы, до которой продвинуто зеркало,
// и false, если зеркало еще не получало патчей.
func (m *Mirror) LatestVersion() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.primed
}

// ParticipantIDs возвращает отсортированный список известных участников.
func (m *Mirror) ParticipantIDs() []models.ParticipantID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]models.ParticipantID, 0, len(m.participants))
	for id := range m.participants {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// GetParticipant возвращает описание участника.
func (m *Mirror) GetParticipant(id models.ParticipantID) (models.ParticipantDescription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	desc, ok := m.participants[id]
	return desc, ok
}

// Routes возвращает упорядоченные эффективные маршруты участника.
func (m *Mirror) Routes(id models.ParticipantID) []schedule.AssignedRoute {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[id]
	if !ok {
		return nil
	}
	out := make([]schedule.AssignedRoute, 0, len(st.order))
	for _, rid := range st.order {
		entry := st.routes[rid]
		out = append(out, schedule.AssignedRoute{
			ID:    rid,
			Route: schedule.ShiftRoute(entry.route, st.cumDelay-entry.baseDelay),
		})
	}
	return out
}

// ItineraryVersion возвращает последнюю версию итинерария участника,
// известную зеркалу.
func (m *Mirror) ItineraryVersion(id models.ParticipantID) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[id]
	if !ok {
		return 0, false
	}
	return st.latestVersion, true
}
