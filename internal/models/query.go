package models

import "slices"

// QueryID идентификатор зарегистрированного запроса зеркала.
type QueryID uint64

// ParticipantFilter ограничивает запрос подмножеством участников.
// Пустой список с All=false не пропускает никого.
type ParticipantFilter struct {
	All bool            `json:"all"`
	IDs []ParticipantID `json:"ids,omitempty"`
}

// MapFilter ограничивает запрос подмножеством карт.
type MapFilter struct {
	All   bool     `json:"all"`
	Names []string `json:"names,omitempty"`
}

// Query определяет фильтрованное представление базы расписания,
// на которое подписывается зеркало.
type Query struct {
	Participants ParticipantFilter `json:"participants"`
	Maps         MapFilter         `json:"maps"`
}

// QueryAll возвращает запрос, пропускающий всех участников на всех картах.
func QueryAll() Query {
	return Query{
		Participants: ParticipantFilter{All: true},
		Maps:         MapFilter{All: true},
	}
}

// MatchParticipant возвращает true, если участник проходит фильтр запроса.
func (q Query) MatchParticipant(id ParticipantID) bool {
	if q.Participants.All {
		return true
	}
	return slices.Contains(q.Participants.IDs, id)
}

// MatchMap возвращает true, если карта проходит фильтр запроса.
func (q Query) MatchMap(name string) bool {
	if q.Maps.All {
		return true
	}
	return slices.Contains(q.Maps.Names, name)
}

// normalized возвращает копию запроса с отсортированными списками фильтров,
// чтобы сравнение не зависело от порядка перечисления.
func (q Query) normalized() Query {
	out := q
	if !q.Participants.All {
		out.Participants.IDs = slices.Clone(q.Participants.IDs)
		slices.Sort(out.Participants.IDs)
	} else {
		out.Participants.IDs = nil
	}
	if !q.Maps.All {
		out.Maps.Names = slices.Clone(q.Maps.Names)
		slices.Sort(out.Maps.Names)
	} else {
		out.Maps.Names = nil
	}
	return out
}

// Equal сравнивает два запроса с точностью до порядка элементов фильтров.
// Используется реестром запросов для дедупликации регистраций.
func (q Query) Equal(other Query) bool {
	a, b := q.normalized(), other.normalized()
	if a.Participants.All != b.Participants.All || a.Maps.All != b.Maps.All {
		return false
	}
	return slices.Equal(a.Participants.IDs, b.Participants.IDs) &&
		slices.Equal(a.Maps.Names, b.Maps.Names)
}
