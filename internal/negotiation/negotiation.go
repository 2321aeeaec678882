// Package negotiation реализует движок переговоров между конфликтующими
// участниками: дерево столов предложений, кэш опережающих сообщений и
// учет подтверждений итогов.
package negotiation

import (
	"slices"

	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/version"
)

// Status статус стола переговоров.
type Status int

const (
	// StatusOpen стол открыт: предложение действует или ожидается
	StatusOpen Status = iota
	// StatusRejected предложение отклонено, ожидается новое
	StatusRejected
	// StatusForfeited предлагающий отказался от этой ветки
	StatusForfeited
)

// Key пара (участник, версия предложения) в последовательности стола.
type Key struct {
	Participant models.ParticipantID
	Version     uint64
}

// Sequence последовательность предложений от корня к столу.
type Sequence []Key

// Table стол переговоров: узел дерева, идентифицированный
// последовательностью уже сделанных предложений, которые обязан
// учесть текущий предлагающий.
type Table struct {
	participant  models.ParticipantID
	accommodate  Sequence // путь от корня, не включая этот стол
	itinerary    models.Itinerary
	version      *uint64
	status       Status
	children     map[models.ParticipantID]*Table
	alternatives []models.Itinerary // альтернативы последнего отклонившего
}

// Participant возвращает предлагающего за этим столом.
func (t *Table) Participant() models.ParticipantID { return t.participant }

// Itinerary возвращает текущее предложение стола (nil, если его нет).
func (t *Table) Itinerary() models.Itinerary { return t.itinerary }

// Status возвращает статус стола.
func (t *Table) Status() Status { return t.status }

// Alternatives возвращает альтернативы, предоставленные отклонившим.
func (t *Table) Alternatives() []models.Itinerary { return t.alternatives }

// Sequence возвращает полную последовательность стола, включая его
// собственное предложение. Для стола без предложения версия равна нулю.
func (t *Table) Sequence() Sequence {
	out := make(Sequence, 0, len(t.accommodate)+1)
	out = append(out, t.accommodate...)
	key := Key{Participant: t.participant}
	if t.version != nil {
		key.Version = *t.version
	}
	return append(out, key)
}

// deprecated возвращает true, если версия v отстает от текущего
// предложения стола. Устаревшие reject/forfeit отбрасываются этой
// проверкой; дубликаты с той же версией отсекают проверки версии и
// статуса в Submit, Reject и Forfeit.
func (t *Table) deprecated(v uint64) bool {
	return t.version != nil && version.Less(v, *t.version)
}

// Negotiation переговоры по одному конфликту: корневой стол на каждого
// участника, предлагающего первым.
type Negotiation struct {
	participants []models.ParticipantID // отсортированы
	roots        map[models.ParticipantID]*Table
}

// New создает переговоры для набора участников.
func New(participants []models.ParticipantID) *Negotiation {
	sorted := slices.Clone(participants)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	n := &Negotiation{
		participants: sorted,
		roots:        make(map[models.ParticipantID]*Table, len(sorted)),
	}
	for _, p := range sorted {
		n.roots[p] = &Table{participant: p}
	}
	return n
}

// Participants возвращает участников переговоров.
func (n *Negotiation) Participants() []models.ParticipantID {
	return slices.Clone(n.participants)
}

// Covers возвращает true, если оба участника входят в переговоры.
func (n *Negotiation) Covers(a, b models.ParticipantID) bool {
	return slices.Contains(n.participants, a) && slices.Contains(n.participants, b)
}

// FindTable ищет стол участника forParticipant, учитывающего
// последовательность toAccommodate. Возвращает (nil, false), если стол
// еще не существует (опережающее сообщение), и (nil, true), если
// последовательность ссылается на устаревшие предложения.
func (n *Negotiation) FindTable(forParticipant models.ParticipantID, toAccommodate Sequence) (*Table, bool) {
	if len(toAccommodate) == 0 {
		return n.roots[forParticipant], false
	}

	cur, ok := n.roots[toAccommodate[0].Participant]
	if !ok {
		return nil, false
	}

	for i, key := range toAccommodate {
		if cur.version == nil {
			// предложение еще не пришло: сообщение опередило его
			return nil, false
		}
		if version.Less(key.Version, *cur.version) {
			return nil, true
		}
		if *cur.version != key.Version {
			// ссылка на будущее предложение; ждем его в кэше
			return nil, false
		}
		if cur.status == StatusForfeited {
			return nil, true
		}

		if i == len(toAccommodate)-1 {
			break
		}
		next, exists := cur.children[toAccommodate[i+1].Participant]
		if !exists {
			return nil, false
		}
		cur = next
	}

	child, exists := cur.children[forParticipant]
	if !exists {
		return nil, false
	}
	return child, false
}

// FindSequence ищет стол по полной последовательности, последний
// элемент которой указывает сам стол. Используется для отклонений
// и отказов.
func (n *Negotiation) FindSequence(seq Sequence) (*Table, bool) {
	if len(seq) == 0 {
		return nil, false
	}
	last := seq[len(seq)-1]
	table, deprecated := n.FindTable(last.Participant, seq[:len(seq)-1])
	if table == nil || deprecated {
		return table, deprecated
	}
	if table.deprecated(last.Version) {
		return table, true
	}
	return table, false
}

// Submit фиксирует предложение за столом. Повторное предложение с
// той же или меньшей версией отбрасывается. Новое предложение
// открывает дочерние столы для оставшихся участников и аннулирует
// поддерево предыдущего предложения.
func (n *Negotiation) Submit(table *Table, itinerary models.Itinerary, proposalVersion uint64) bool {
	if table.version != nil && version.LessEq(proposalVersion, *table.version) {
		return false
	}
	if table.status == StatusForfeited {
		return false
	}

	v := proposalVersion
	table.itinerary = itinerary.Clone()
	table.version = &v
	table.status = StatusOpen
	table.alternatives = nil

	// дочерние столы перестраиваются: они учитывали прежнее предложение
	inPath := make(map[models.ParticipantID]bool, len(table.accommodate)+1)
	for _, key := range table.accommodate {
		inPath[key.Participant] = true
	}
	inPath[table.participant] = true

	table.children = make(map[models.ParticipantID]*Table)
	childSeq := table.Sequence()
	for _, p := range n.participants {
		if inPath[p] {
			continue
		}
		table.children[p] = &Table{
			participant: p,
			accommodate: childSeq,
		}
	}
	return true
}

// Reject отклоняет предложение стола с версией tableVersion.
// Отклонивший участник прикладывает альтернативные итинерарии,
// которые предлагающий может учесть при новом предложении.
func (n *Negotiation) Reject(table *Table, tableVersion uint64, alternatives []models.Itinerary) bool {
	if table.version == nil || table.deprecated(tableVersion) {
		return false
	}
	if table.status != StatusOpen {
		return false
	}

	table.status = StatusRejected
	table.children = nil
	table.alternatives = make([]models.Itinerary, 0, len(alternatives))
	for _, alt := range alternatives {
		table.alternatives = append(table.alternatives, alt.Clone())
	}
	return true
}

// Forfeit помечает ветку стола проигранной: предлагающий сдается.
func (n *Negotiation) Forfeit(table *Table, tableVersion uint64) bool {
	if table.deprecated(tableVersion) {
		return false
	}
	if table.status == StatusForfeited {
		return false
	}

	table.status = StatusForfeited
	table.children = nil
	return true
}

// leaf возвращает true, если последовательность стола покрывает всех
// участников переговоров.
func (n *Negotiation) leaf(t *Table) bool {
	return len(t.accommodate)+1 == len(n.participants)
}

// Ready возвращает true, если хотя бы одна ветка от корня до листа
// полностью покрыта действующими предложениями.
func (n *Negotiation) Ready() bool {
	for _, root := range n.roots {
		if n.readyBranch(root) {
			return true
		}
	}
	return false
}

func (n *Negotiation) readyBranch(t *Table) bool {
	if t.status != StatusOpen || t.itinerary == nil {
		return false
	}
	if n.leaf(t) {
		return true
	}
	for _, child := range t.children {
		if n.readyBranch(child) {
			return true
		}
	}
	return false
}

// Complete возвращает true, когда каждая ветка завершена: либо
// проиграна, либо доведена до листа с действующим предложением.
func (n *Negotiation) Complete() bool {
	for _, root := range n.roots {
		if !n.terminated(root) {
			return false
		}
	}
	return true
}

func (n *Negotiation) terminated(t *Table) bool {
	if t.status == StatusForfeited {
		return true
	}
	if t.status == StatusRejected || t.itinerary == nil {
		return false
	}
	if n.leaf(t) {
		return true
	}
	for _, child := range t.children {
		if !n.terminated(child) {
			return false
		}
	}
	return true
}

// readyLeaves возвращает все листовые столы готовых веток.
func (n *Negotiation) readyLeaves() []*Table {
	var leaves []*Table
	var walk func(t *Table)
	walk = func(t *Table) {
		if t.status != StatusOpen || t.itinerary == nil {
			return
		}
		if n.leaf(t) {
			leaves = append(leaves, t)
			return
		}
		for _, child := range t.children {
			walk(child)
		}
	}
	for _, root := range n.roots {
		walk(root)
	}
	return leaves
}

// branchItineraries возвращает предложения всех столов ветки листа.
func (n *Negotiation) branchItineraries(leaf *Table) []models.Itinerary {
	seq := leaf.Sequence()
	out := make([]models.Itinerary, 0, len(seq))

	cur := n.roots[seq[0].Participant]
	for i := range seq {
		out = append(out, cur.itinerary)
		if i == len(seq)-1 {
			break
		}
		cur = cur.children[seq[i+1].Participant]
	}
	return out
}
