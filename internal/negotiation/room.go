package negotiation

import (
	"log/slog"
	"slices"

	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/pkg/api"
)

// Outcome результат применения сообщения переговоров.
type Outcome int

const (
	// OutcomeApplied сообщение применено к дереву столов
	OutcomeApplied Outcome = iota
	// OutcomeDeprecated сообщение ссылается на устаревшее предложение
	OutcomeDeprecated
	// OutcomeUnknown стол еще не существует; сообщение закэшировано
	OutcomeUnknown
)

// SequenceFromAPI конвертирует последовательность стола из wire-формата.
func SequenceFromAPI(entries []api.TableEntry) Sequence {
	out := make(Sequence, 0, len(entries))
	for _, e := range entries {
		out = append(out, Key{
			Participant: models.ParticipantID(e.Participant),
			Version:     e.Version,
		})
	}
	return out
}

// SequenceToAPI конвертирует последовательность стола в wire-формат.
func SequenceToAPI(seq Sequence) []api.TableEntry {
	out := make([]api.TableEntry, 0, len(seq))
	for _, k := range seq {
		out = append(out, api.TableEntry{
			Participant: uint64(k.Participant),
			Version:     k.Version,
		})
	}
	return out
}

// Room переговоры вместе с кэшем сообщений, пришедших раньше столов,
// на которые они ссылаются. Кэш проигрывается после каждой успешной
// мутации дерева.
type Room struct {
	Negotiation *Negotiation
	logger      *slog.Logger

	cachedProposals  []api.ConflictProposal
	cachedRejections []api.ConflictRejection
	cachedForfeits   []api.ConflictForfeit
}

// NewRoom создает комнату переговоров для набора участников.
func NewRoom(participants []models.ParticipantID, logger *slog.Logger) *Room {
	return &Room{
		Negotiation: New(participants),
		logger:      logger,
	}
}

// ApplyProposal применяет предложение. Сообщения для неизвестных столов
// кэшируются до появления стола.
func (r *Room) ApplyProposal(msg api.ConflictProposal) Outcome {
	forParticipant := models.ParticipantID(msg.ForParticipant)
	table, deprecated := r.Negotiation.FindTable(forParticipant, SequenceFromAPI(msg.ToAccommodate))
	if deprecated {
		return OutcomeDeprecated
	}
	if table == nil {
		r.logger.Warn("Received proposal for unknown table; caching",
			"conflict_version", msg.ConflictVersion,
			"for_participant", msg.ForParticipant,
		)
		r.cachedProposals = append(r.cachedProposals, msg)
		return OutcomeUnknown
	}

	if !r.Negotiation.Submit(table, models.ItineraryFromAPI(msg.Itinerary), msg.ProposalVersion) {
		return OutcomeDeprecated
	}
	r.CheckCache()
	return OutcomeApplied
}

// ApplyRejection применяет отклонение предложения.
func (r *Room) ApplyRejection(msg api.ConflictRejection) Outcome {
	table, deprecated := r.Negotiation.FindSequence(SequenceFromAPI(msg.Table))
	if deprecated {
		return OutcomeDeprecated
	}
	if table == nil {
		r.logger.Warn("Received rejection for unknown table; caching",
			"conflict_version", msg.ConflictVersion,
			"rejected_by", msg.RejectedBy,
		)
		r.cachedRejections = append(r.cachedRejections, msg)
		return OutcomeUnknown
	}

	alternatives := make([]models.Itinerary, 0, len(msg.Alternatives))
	for _, alt := range msg.Alternatives {
		alternatives = append(alternatives, models.ItineraryFromAPI(alt))
	}

	seq := SequenceFromAPI(msg.Table)
	if !r.Negotiation.Reject(table, seq[len(seq)-1].Version, alternatives) {
		return OutcomeDeprecated
	}
	r.CheckCache()
	return OutcomeApplied
}

// ApplyForfeit применяет отказ от ветки.
func (r *Room) ApplyForfeit(msg api.ConflictForfeit) Outcome {
	table, deprecated := r.Negotiation.FindSequence(SequenceFromAPI(msg.Table))
	if deprecated {
		return OutcomeDeprecated
	}
	if table == nil {
		r.logger.Warn("Received forfeit for unknown table; caching",
			"conflict_version", msg.ConflictVersion,
		)
		r.cachedForfeits = append(r.cachedForfeits, msg)
		return OutcomeUnknown
	}

	seq := SequenceFromAPI(msg.Table)
	if !r.Negotiation.Forfeit(table, seq[len(seq)-1].Version) {
		return OutcomeDeprecated
	}
	r.CheckCache()
	return OutcomeApplied
}

// CheckCache проигрывает закэшированные сообщения, пока дерево
// продвигается. Примененные и устаревшие сообщения удаляются из кэша.
func (r *Room) CheckCache() {
	for {
		progressed := false

		proposals := r.cachedProposals
		r.cachedProposals = nil
		for _, msg := range proposals {
			table, deprecated := r.Negotiation.FindTable(
				models.ParticipantID(msg.ForParticipant), SequenceFromAPI(msg.ToAccommodate))
			switch {
			case deprecated:
				// отбрасываем
			case table == nil:
				r.cachedProposals = append(r.cachedProposals, msg)
			default:
				if r.Negotiation.Submit(table, models.ItineraryFromAPI(msg.Itinerary), msg.ProposalVersion) {
					progressed = true
				}
			}
		}

		rejections := r.cachedRejections
		r.cachedRejections = nil
		for _, msg := range rejections {
			seq := SequenceFromAPI(msg.Table)
			table, deprecated := r.Negotiation.FindSequence(seq)
			switch {
			case deprecated:
			case table == nil:
				r.cachedRejections = append(r.cachedRejections, msg)
			default:
				alternatives := make([]models.Itinerary, 0, len(msg.Alternatives))
				for _, alt := range msg.Alternatives {
					alternatives = append(alternatives, models.ItineraryFromAPI(alt))
				}
				if r.Negotiation.Reject(table, seq[len(seq)-1].Version, alternatives) {
					progressed = true
				}
			}
		}

		forfeits := r.cachedForfeits
		r.cachedForfeits = nil
		for _, msg := range forfeits {
			seq := SequenceFromAPI(msg.Table)
			table, deprecated := r.Negotiation.FindSequence(seq)
			switch {
			case deprecated:
			case table == nil:
				r.cachedForfeits = append(r.cachedForfeits, msg)
			default:
				if r.Negotiation.Forfeit(table, seq[len(seq)-1].Version) {
					progressed = true
				}
			}
		}

		if !progressed {
			return
		}
	}
}

// CachedCount возвращает число закэшированных сообщений.
func (r *Room) CachedCount() int {
	return len(r.cachedProposals) + len(r.cachedRejections) + len(r.cachedForfeits)
}

// sortedParticipants утилита для детерминированных сообщений.
func sortedParticipants(ids []models.ParticipantID) []models.ParticipantID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}
