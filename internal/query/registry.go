// Package query реализует реестр фильтрованных представлений базы
// расписания и рассылку патчей их подписчикам.
package query

import (
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/version"
)

// Common query registry errors
var (
	// ErrUnknownQuery indicates a lookup for an unregistered query id
	ErrUnknownQuery = errors.New("unknown query")

	// ErrRegistrySaturated indicates that every query id is in use
	ErrRegistrySaturated = errors.New("no more space for additional queries")
)

// Remediation один отложенный запрос догоняющего обновления.
// Full=true означает полный снимок состояния.
type Remediation struct {
	Version uint64
	Full    bool
}

// info состояние одного зарегистрированного запроса.
type info struct {
	query              models.Query
	lastSent           *uint64
	remediations       map[Remediation]struct{}
	lastSubscriberSeen time.Time
}

// Registry реестр запросов зеркал. Потокобезопасен.
type Registry struct {
	queries     map[models.QueryID]*info
	lastQueryID uint64
	now         func() time.Time
	mu          sync.Mutex
}

// NewRegistry создает пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		queries: make(map[models.QueryID]*info),
		now:     time.Now,
	}
}

// SetClock подменяет источник времени. Используется в тестах.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register регистрирует запрос. Идентичный запрос дедуплицируется:
// возвращается существующий идентификатор и обновляется время последней
// регистрации. Новый идентификатор выбирается линейным перебором от
// lastQueryID+1 с пропуском занятых.
func (r *Registry) Register(q models.Query) (models.QueryID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, in := range r.queries {
		if in.query.Equal(q) {
			in.lastSubscriberSeen = r.now()
			return id, false, nil
		}
	}

	id := r.lastQueryID
	var attempts uint64
	for {
		id++
		attempts++
		if attempts == math.MaxUint64 {
			return 0, false, ErrRegistrySaturated
		}
		if _, used := r.queries[models.QueryID(id)]; !used {
			break
		}
	}

	r.queries[models.QueryID(id)] = &info{
		query:              q,
		remediations:       make(map[Remediation]struct{}),
		lastSubscriberSeen: r.now(),
	}
	r.lastQueryID = id
	return models.QueryID(id), true, nil
}

// Restore засевает реестр снимком запросов другого узла. Используется
// резервным узлом при фейловере; lastQueryID не восстанавливается —
// перебор свободных идентификаторов выполняется при первой регистрации.
func (r *Registry) Restore(ids []models.QueryID, queries []models.Query) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, id := range ids {
		if i >= len(queries) {
			break
		}
		r.queries[id] = &info{
			query:              queries[i],
			remediations:       make(map[Remediation]struct{}),
			lastSubscriberSeen: r.now(),
		}
	}
}

// Get возвращает запрос по идентификатору.
func (r *Registry) Get(id models.QueryID) (models.Query, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.queries[id]
	if !ok {
		return models.Query{}, ErrUnknownQuery
	}
	return in.query, nil
}

// RequestChanges ставит в очередь догоняющее обновление для запроса.
// При full=true будет отправлен полный снимок; иначе версия принимается,
// только если она отстает от последней отправленной.
func (r *Registry) RequestChanges(id models.QueryID, v uint64, full bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.queries[id]
	if !ok {
		return ErrUnknownQuery
	}

	if full {
		in.remediations[Remediation{Full: true}] = struct{}{}
		return nil
	}
	if in.lastSent != nil && version.Less(v, *in.lastSent) {
		in.remediations[Remediation{Version: v}] = struct{}{}
	}
	return nil
}

// SweepEntry снимок одного запроса для прохода рассылки.
type SweepEntry struct {
	ID           models.QueryID
	Query        models.Query
	LastSent     *uint64
	Remediations []Remediation
}

// Sweep атомарно забирает отложенные запросы догоняющих обновлений и
// возвращает снимок всех запросов для одного прохода рассылки.
func (r *Registry) Sweep() []SweepEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SweepEntry, 0, len(r.queries))
	for id, in := range r.queries {
		entry := SweepEntry{ID: id, Query: in.query}
		if in.lastSent != nil {
			v := *in.lastSent
			entry.LastSent = &v
		}
		for rem := range in.remediations {
			entry.Remediations = append(entry.Remediations, rem)
		}
		in.remediations = make(map[Remediation]struct{})
		out = append(out, entry)
	}
	return out
}

// AdvanceLastSent отмечает, что подписчикам запроса отправлено (или
// подавлено как пустое) состояние до версии v.
func (r *Registry) AdvanceLastSent(id models.QueryID, v uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if in, ok := r.queries[id]; ok {
		in.lastSent = &v
	}
}

// Cleanup удаляет запросы без подписчиков, простаивающие дольше
// грейс-периода. Возвращает удаленные идентификаторы.
func (r *Registry) Cleanup(grace time.Duration, subscribers func(models.QueryID) int) []models.QueryID {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var removed []models.QueryID
	for id, in := range r.queries {
		if subscribers(id) > 0 {
			continue
		}
		if now.Sub(in.lastSubscriberSeen) > grace {
			delete(r.queries, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Snapshot возвращает идентификаторы и запросы для широковещательного
// сообщения ScheduleQueries. Порядок стабилен.
func (r *Registry) Snapshot() ([]models.QueryID, []models.Query) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]models.QueryID, 0, len(r.queries))
	for id := range r.queries {
		ids = append(ids, id)
	}
	// стабильный порядок для воспроизводимости сообщений
	slices.Sort(ids)

	queries := make([]models.Query, 0, len(ids))
	for _, id := range ids {
		queries = append(queries, r.queries[id].query)
	}
	return ids, queries
}

// Len возвращает число зарегистрированных запросов.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}
