package models

import "time"

// RouteID уникальный идентификатор маршрута в пределах одного участника.
type RouteID uint64

// Waypoint представляет точку траектории: положение в момент времени.
type Waypoint struct {
	Time time.Time `json:"time"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
}

// Trajectory представляет траекторию движения как упорядоченную
// последовательность точек. Ядро расписания не интерпретирует геометрию:
// пересечения в пространстве-времени решает оракул конфликтов.
type Trajectory struct {
	Waypoints []Waypoint `json:"waypoints"`
}

// Empty возвращает true, если траектория не содержит точек.
func (t Trajectory) Empty() bool {
	return len(t.Waypoints) == 0
}

// StartTime возвращает время первой точки траектории.
// Для пустой траектории возвращается нулевое время.
func (t Trajectory) StartTime() time.Time {
	if t.Empty() {
		return time.Time{}
	}
	return t.Waypoints[0].Time
}

// FinishTime возвращает время последней точки траектории.
// Для пустой траектории возвращается нулевое время.
func (t Trajectory) FinishTime() time.Time {
	if t.Empty() {
		return time.Time{}
	}
	return t.Waypoints[len(t.Waypoints)-1].Time
}

// Clone создает глубокую копию траектории.
func (t Trajectory) Clone() Trajectory {
	wps := make([]Waypoint, len(t.Waypoints))
	copy(wps, t.Waypoints)
	return Trajectory{Waypoints: wps}
}

// Route представляет пару (имя карты, траектория).
type Route struct {
	Map        string     `json:"map"`
	Trajectory Trajectory `json:"trajectory"`
}

// Clone создает глубокую копию маршрута.
func (r Route) Clone() Route {
	return Route{Map: r.Map, Trajectory: r.Trajectory.Clone()}
}

// Itinerary упорядоченная последовательность маршрутов одного участника.
type Itinerary []Route

// Clone создает глубокую копию итинерария.
func (it Itinerary) Clone() Itinerary {
	if it == nil {
		return nil
	}
	out := make(Itinerary, len(it))
	for i, r := range it {
		out[i] = r.Clone()
	}
	return out
}

// FinishTime возвращает самое позднее время завершения среди всех маршрутов.
func (it Itinerary) FinishTime() time.Time {
	var finish time.Time
	for _, r := range it {
		if f := r.Trajectory.FinishTime(); f.After(finish) {
			finish = f
		}
	}
	return finish
}
