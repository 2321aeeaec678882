package bus

import "fmt"

// Стандартные имена тем и сервисов расписания.
const (
	ItinerarySetTopic    = "schedule/itinerary_set"
	ItineraryExtendTopic = "schedule/itinerary_extend"
	ItineraryDelayTopic  = "schedule/itinerary_delay"
	ItineraryEraseTopic  = "schedule/itinerary_erase"
	ItineraryClearTopic  = "schedule/itinerary_clear"

	InconsistencyTopic    = "schedule/inconsistency"
	ParticipantsInfoTopic = "schedule/participants"
	QueriesInfoTopic      = "schedule/queries"

	NegotiationNoticeTopic     = "negotiation/notice"
	NegotiationProposalTopic   = "negotiation/proposal"
	NegotiationRejectionTopic  = "negotiation/rejection"
	NegotiationForfeitTopic    = "negotiation/forfeit"
	NegotiationRefusalTopic    = "negotiation/refusal"
	NegotiationConclusionTopic = "negotiation/conclusion"
	NegotiationAckTopic        = "negotiation/ack"

	HeartbeatTopic = "schedule/heartbeat"
	FailOverTopic  = "schedule/fail_over"

	RegisterParticipantService   = "schedule/register_participant"
	UnregisterParticipantService = "schedule/unregister_participant"
	RegisterQueryService         = "schedule/register_query"
	RequestChangesService        = "schedule/request_changes"
)

// queryUpdateTopicBase префикс тем обновлений зеркал; полное имя
// включает идентификатор запроса.
const queryUpdateTopicBase = "schedule/mirror_update_"

// QueryUpdateTopic возвращает имя темы обновлений для запроса.
func QueryUpdateTopic(queryID uint64) string {
	return fmt.Sprintf("%s%d", queryUpdateTopicBase, queryID)
}
