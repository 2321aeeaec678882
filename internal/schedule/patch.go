package schedule

import (
	"time"

	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/pkg/api"
)

// ChangeKind тип правки в журнале изменений.
type ChangeKind string

const (
	ChangeSet    ChangeKind = "set"
	ChangeExtend ChangeKind = "extend"
	ChangeDelay  ChangeKind = "delay"
	ChangeErase  ChangeKind = "erase"
	ChangeClear  ChangeKind = "clear"
)

// AssignedRoute маршрут вместе с идентификатором, выданным базой.
type AssignedRoute struct {
	ID    models.RouteID
	Route models.Route
}

// Change одна запись журнала изменений. Какие поля заполнены,
// определяется полем Kind.
type Change struct {
	DatabaseVersion  uint64
	Participant      models.ParticipantID
	Kind             ChangeKind
	Routes           []AssignedRoute // set, extend
	RouteIDs         []models.RouteID
	Delay            time.Duration
	ItineraryVersion uint64
}

// Patch упорядоченный набор изменений между двумя версиями базы,
// отфильтрованный запросом зеркала. Cull означает, что история была
// усечена и патч содержит полный снимок состояния.
type Patch struct {
	Changes       []Change
	Cull          bool
	LatestVersion uint64
}

// Empty возвращает true, если патч не содержит изменений и не несет cull.
func (p Patch) Empty() bool {
	return len(p.Changes) == 0 && !p.Cull
}

// ShiftRoute возвращает копию маршрута со сдвинутыми временами точек.
// Используется базой и зеркалами для применения накопленной задержки.
func ShiftRoute(r models.Route, shift time.Duration) models.Route {
	out := r.Clone()
	if shift == 0 {
		return out
	}
	for i := range out.Trajectory.Waypoints {
		out.Trajectory.Waypoints[i].Time = out.Trajectory.Waypoints[i].Time.Add(shift)
	}
	return out
}

// ToAPI конвертирует патч в wire-формат.
func (p Patch) ToAPI() api.Patch {
	out := api.Patch{
		Changes:       make([]api.Change, 0, len(p.Changes)),
		Cull:          p.Cull,
		LatestVersion: p.LatestVersion,
	}
	for _, c := range p.Changes {
		out.Changes = append(out.Changes, changeToAPI(c))
	}
	return out
}

func changeToAPI(c Change) api.Change {
	out := api.Change{
		DatabaseVersion:  c.DatabaseVersion,
		Participant:      uint64(c.Participant),
		Kind:             string(c.Kind),
		DelayNanos:       c.Delay.Nanoseconds(),
		ItineraryVersion: c.ItineraryVersion,
	}
	for _, r := range c.Routes {
		out.Routes = append(out.Routes, api.AssignedRoute{
			ID:    uint64(r.ID),
			Route: models.RouteToAPI(r.Route),
		})
	}
	for _, id := range c.RouteIDs {
		out.RouteIDs = append(out.RouteIDs, uint64(id))
	}
	return out
}

// PatchFromAPI конвертирует патч из wire-формата.
func PatchFromAPI(p api.Patch) Patch {
	out := Patch{
		Changes:       make([]Change, 0, len(p.Changes)),
		Cull:          p.Cull,
		LatestVersion: p.LatestVersion,
	}
	for _, c := range p.Changes {
		out.Changes = append(out.Changes, changeFromAPI(c))
	}
	return out
}

func changeFromAPI(c api.Change) Change {
	out := Change{
		DatabaseVersion:  c.DatabaseVersion,
		Participant:      models.ParticipantID(c.Participant),
		Kind:             ChangeKind(c.Kind),
		Delay:            time.Duration(c.DelayNanos),
		ItineraryVersion: c.ItineraryVersion,
	}
	for _, r := range c.Routes {
		out.Routes = append(out.Routes, AssignedRoute{
			ID:    models.RouteID(r.ID),
			Route: models.RouteFromAPI(r.Route),
		})
	}
	for _, id := range c.RouteIDs {
		out.RouteIDs = append(out.RouteIDs, models.RouteID(id))
	}
	return out
}
