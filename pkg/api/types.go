// Package api содержит wire-типы сообщений и RPC сервиса расписания.
// Формат полей фиксирован: совместимость между узлами, зеркалами и
// участниками зависит от точных имен полей.
package api

// Waypoint точка траектории на проводе.
type Waypoint struct {
	TimeNanos int64   `json:"time_nanos"` // время точки в наносекундах Unix
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// Trajectory траектория движения.
type Trajectory struct {
	Waypoints []Waypoint `json:"waypoints"`
}

// Route пара (карта, траектория).
type Route struct {
	Map        string     `json:"map"`
	Trajectory Trajectory `json:"trajectory"`
}

// AssignedRoute маршрут вместе с идентификатором, выданным базой расписания.
type AssignedRoute struct {
	ID    uint64 `json:"id"`
	Route Route  `json:"route"`
}

// ParticipantDescription описание участника на проводе.
type ParticipantDescription struct {
	Name           string  `json:"name"`
	Owner          string  `json:"owner"`
	Responsiveness string  `json:"responsiveness"` // "responsive" | "unresponsive"
	Footprint      float64 `json:"footprint"`
}

// ParticipantFilter фильтр участников в запросе зеркала.
type ParticipantFilter struct {
	All bool     `json:"all"`
	IDs []uint64 `json:"ids,omitempty"`
}

// MapFilter фильтр карт в запросе зеркала.
type MapFilter struct {
	All   bool     `json:"all"`
	Names []string `json:"names,omitempty"`
}

// Query фильтрованное представление базы расписания.
type Query struct {
	Participants ParticipantFilter `json:"participants"`
	Maps         MapFilter         `json:"maps"`
}

// Change одна запись журнала изменений базы расписания.
// Kind определяет, какие из опциональных полей заполнены.
type Change struct {
	DatabaseVersion  uint64          `json:"database_version"`
	Participant      uint64          `json:"participant"`
	Kind             string          `json:"kind"` // "set" | "extend" | "delay" | "erase" | "clear"
	Routes           []AssignedRoute `json:"routes,omitempty"`
	RouteIDs         []uint64        `json:"route_ids,omitempty"`
	DelayNanos       int64           `json:"delay_nanos,omitempty"`
	ItineraryVersion uint64          `json:"itinerary_version"`
}

// Patch упорядоченный набор изменений между двумя версиями базы.
// Cull означает, что часть истории была усечена и зеркало должно
// восстановить состояние целиком из этого патча.
type Patch struct {
	Changes       []Change `json:"changes"`
	Cull          bool     `json:"cull"`
	LatestVersion uint64   `json:"latest_version"`
}

// TableEntry пара (участник, версия предложения) в последовательности
// стола переговоров.
type TableEntry struct {
	Participant uint64 `json:"participant"`
	Version     uint64 `json:"version"`
}

// Range непрерывный диапазон неполученных версий итинерария.
type Range struct {
	Lower uint64 `json:"lower"`
	Upper uint64 `json:"upper"`
}
