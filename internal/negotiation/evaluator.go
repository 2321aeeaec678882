package negotiation

import "time"

// Evaluator выбирает ветку-победителя среди готовых веток переговоров.
// Возвращает nil, если ни одна ветка не готова. Реализация внедряется
// при конструировании движка.
type Evaluator func(n *Negotiation) *Table

// QuickestFinishEvaluator возвращает оценщик "быстрейшее завершение":
// выбирается готовая ветка с наименьшим самым поздним временем
// окончания траекторий; при равенстве побеждает лексикографически
// меньшая последовательность идентификаторов участников.
func QuickestFinishEvaluator() Evaluator {
	return func(n *Negotiation) *Table {
		var (
			best       *Table
			bestFinish time.Time
		)

		for _, leaf := range n.readyLeaves() {
			finish := branchFinish(n, leaf)
			if best == nil || finish.Before(bestFinish) {
				best, bestFinish = leaf, finish
				continue
			}
			if finish.Equal(bestFinish) && sequenceLess(leaf.Sequence(), best.Sequence()) {
				best = leaf
			}
		}
		return best
	}
}

// branchFinish возвращает самое позднее время завершения среди
// предложений всех столов ветки.
func branchFinish(n *Negotiation, leaf *Table) time.Time {
	var finish time.Time
	for _, itinerary := range n.branchItineraries(leaf) {
		if f := itinerary.FinishTime(); f.After(finish) {
			finish = f
		}
	}
	return finish
}

// sequenceLess сравнивает последовательности столов лексикографически
// по идентификаторам участников.
func sequenceLess(a, b Sequence) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i].Participant != b[i].Participant {
			return a[i].Participant < b[i].Participant
		}
	}
	return len(a) < len(b)
}
