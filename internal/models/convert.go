package models

import (
	"time"

	"github.com/iudanet/fleetsched/pkg/api"
)

// Конвертация между доменными типами и wire-типами pkg/api.

// TrajectoryToAPI конвертирует траекторию в wire-формат.
func TrajectoryToAPI(t Trajectory) api.Trajectory {
	wps := make([]api.Waypoint, 0, len(t.Waypoints))
	for _, wp := range t.Waypoints {
		wps = append(wps, api.Waypoint{
			TimeNanos: wp.Time.UnixNano(),
			X:         wp.X,
			Y:         wp.Y,
		})
	}
	return api.Trajectory{Waypoints: wps}
}

// TrajectoryFromAPI конвертирует траекторию из wire-формата.
func TrajectoryFromAPI(t api.Trajectory) Trajectory {
	wps := make([]Waypoint, 0, len(t.Waypoints))
	for _, wp := range t.Waypoints {
		wps = append(wps, Waypoint{
			Time: time.Unix(0, wp.TimeNanos),
			X:    wp.X,
			Y:    wp.Y,
		})
	}
	return Trajectory{Waypoints: wps}
}

// RouteToAPI конвертирует маршрут в wire-формат.
func RouteToAPI(r Route) api.Route {
	return api.Route{Map: r.Map, Trajectory: TrajectoryToAPI(r.Trajectory)}
}

// RouteFromAPI конвертирует маршрут из wire-формата.
func RouteFromAPI(r api.Route) Route {
	return Route{Map: r.Map, Trajectory: TrajectoryFromAPI(r.Trajectory)}
}

// ItineraryToAPI конвертирует итинерарий в wire-формат.
func ItineraryToAPI(it Itinerary) []api.Route {
	routes := make([]api.Route, 0, len(it))
	for _, r := range it {
		routes = append(routes, RouteToAPI(r))
	}
	return routes
}

// ItineraryFromAPI конвертирует итинерарий из wire-формата.
func ItineraryFromAPI(routes []api.Route) Itinerary {
	it := make(Itinerary, 0, len(routes))
	for _, r := range routes {
		it = append(it, RouteFromAPI(r))
	}
	return it
}

// DescriptionToAPI конвертирует описание участника в wire-формат.
func DescriptionToAPI(d ParticipantDescription) api.ParticipantDescription {
	return api.ParticipantDescription{
		Name:           d.Name,
		Owner:          d.Owner,
		Responsiveness: d.Responsiveness.String(),
		Footprint:      d.Profile.Footprint,
	}
}

// DescriptionFromAPI конвертирует описание участника из wire-формата.
func DescriptionFromAPI(d api.ParticipantDescription) ParticipantDescription {
	resp := ResponsiveUnknown
	switch d.Responsiveness {
	case "responsive":
		resp = Responsive
	case "unresponsive":
		resp = Unresponsive
	}
	return ParticipantDescription{
		Name:           d.Name,
		Owner:          d.Owner,
		Responsiveness: resp,
		Profile:        Profile{Footprint: d.Footprint},
	}
}

// QueryToAPI конвертирует запрос зеркала в wire-формат.
func QueryToAPI(q Query) api.Query {
	out := api.Query{
		Participants: api.ParticipantFilter{All: q.Participants.All},
		Maps:         api.MapFilter{All: q.Maps.All, Names: append([]string(nil), q.Maps.Names...)},
	}
	for _, id := range q.Participants.IDs {
		out.Participants.IDs = append(out.Participants.IDs, uint64(id))
	}
	return out
}

// QueryFromAPI конвертирует запрос зеркала из wire-формата.
func QueryFromAPI(q api.Query) Query {
	out := Query{
		Participants: ParticipantFilter{All: q.Participants.All},
		Maps:         MapFilter{All: q.Maps.All, Names: append([]string(nil), q.Maps.Names...)},
	}
	for _, id := range q.Participants.IDs {
		out.Participants.IDs = append(out.Participants.IDs, ParticipantID(id))
	}
	return out
}
