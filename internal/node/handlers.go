package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/fleetsched/internal/bus"
	"github.com/iudanet/fleetsched/internal/conflict"
	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/schedule"
	"github.com/iudanet/fleetsched/pkg/api"
)

// setup подключает узел к шине: темы итинерариев и переговоров,
// RPC сервисы регистрации и догоняющих обновлений.
func (n *Node) setup() error {
	subscriptions := []struct {
		topic   string
		handler bus.Handler
	}{
		{bus.ItinerarySetTopic, n.handleItinerarySet},
		{bus.ItineraryExtendTopic, n.handleItineraryExtend},
		{bus.ItineraryDelayTopic, n.handleItineraryDelay},
		{bus.ItineraryEraseTopic, n.handleItineraryErase},
		{bus.ItineraryClearTopic, n.handleItineraryClear},
		{bus.NegotiationProposalTopic, n.handleProposal},
		{bus.NegotiationRejectionTopic, n.handleRejection},
		{bus.NegotiationForfeitTopic, n.handleForfeit},
		{bus.NegotiationRefusalTopic, n.handleRefusal},
		{bus.NegotiationAckTopic, n.handleAck},
	}
	for _, s := range subscriptions {
		sub, err := n.bus.Subscribe(s.topic, s.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", s.topic, err)
		}
		n.subs = append(n.subs, sub)
	}

	services := []struct {
		service string
		handler bus.ServiceHandler
	}{
		{bus.RegisterParticipantService, n.registerParticipant},
		{bus.UnregisterParticipantService, n.unregisterParticipant},
		{bus.RegisterQueryService, n.registerQuery},
		{bus.RequestChangesService, n.requestChanges},
	}
	for _, s := range services {
		reg, err := n.bus.Serve(s.service, s.handler)
		if err != nil {
			return fmt.Errorf("serve %s: %w", s.service, err)
		}
		n.services = append(n.services, reg)
	}
	return nil
}

// --- правки итинерариев ---

func (n *Node) handleItinerarySet(msg any) {
	m, ok := msg.(api.ItinerarySet)
	if !ok {
		return
	}
	p := models.ParticipantID(m.Participant)
	err := n.db.Set(p, models.ItineraryFromAPI(m.Itinerary), m.ItineraryVersion)
	n.afterEdit(p, err)
}

func (n *Node) handleItineraryExtend(msg any) {
	m, ok := msg.(api.ItineraryExtend)
	if !ok {
		return
	}
	p := models.ParticipantID(m.Participant)
	err := n.db.Extend(p, models.ItineraryFromAPI(m.Routes), m.ItineraryVersion)
	n.afterEdit(p, err)
}

func (n *Node) handleItineraryDelay(msg any) {
	m, ok := msg.(api.ItineraryDelay)
	if !ok {
		return
	}
	p := models.ParticipantID(m.Participant)
	err := n.db.Delay(p, time.Duration(m.DelayNanos), m.ItineraryVersion)
	n.afterEdit(p, err)
}

func (n *Node) handleItineraryErase(msg any) {
	m, ok := msg.(api.ItineraryErase)
	if !ok {
		return
	}
	p := models.ParticipantID(m.Participant)
	routeIDs := make([]models.RouteID, 0, len(m.Routes))
	for _, id := range m.Routes {
		routeIDs = append(routeIDs, models.RouteID(id))
	}
	err := n.db.Erase(p, routeIDs, m.ItineraryVersion)
	n.afterEdit(p, err)
}

func (n *Node) handleItineraryClear(msg any) {
	m, ok := msg.(api.ItineraryClear)
	if !ok {
		return
	}
	p := models.ParticipantID(m.Participant)
	err := n.db.Clear(p, m.ItineraryVersion)
	n.afterEdit(p, err)
}

// afterEdit публикует несогласованности участника и гасит обязательства
// обновления в переговорах. Правки fire-and-forget: ошибка видна
// участнику только через уведомления о несогласованности.
func (n *Node) afterEdit(p models.ParticipantID, err error) {
	if err != nil {
		if errors.Is(err, schedule.ErrUnknownParticipant) {
			n.logger.Warn("Edit for unknown participant", "participant", p)
			return
		}
		n.logger.Error("Failed to apply itinerary edit", "participant", p, "error", err)
		return
	}

	n.publishInconsistencies(p)

	if v, err := n.db.ItineraryVersion(p); err == nil {
		n.conflicts.CheckItinerary(p, v)
	}
}

// publishInconsistencies отправляет участнику текущие диапазоны
// пропущенных версий, если они есть.
func (n *Node) publishInconsistencies(p models.ParticipantID) {
	ranges, last, err := n.db.Inconsistencies(p)
	if err != nil || len(ranges) == 0 {
		return
	}

	msg := api.ScheduleInconsistency{
		Participant:      uint64(p),
		Ranges:           schedule.RangesToAPI(ranges),
		LastKnownVersion: last,
	}
	if err := n.bus.Publish(bus.InconsistencyTopic, msg); err != nil {
		n.logger.Error("Failed to publish inconsistency", "participant", p, "error", err)
	}
}

// --- конфликты и переговоры ---

// handleConflicts принимает пары-кандидаты от детектора и открывает
// новые переговоры для пар, не покрытых существующими.
func (n *Node) handleConflicts(pairs []conflict.Pair) {
	for _, pair := range pairs {
		opened, isNew := n.conflicts.Insert(pair.A, pair.B)
		if !isNew {
			continue
		}

		msg := api.ConflictNotice{ConflictVersion: opened.Version}
		for _, p := range opened.Participants {
			msg.Participants = append(msg.Participants, uint64(p))
		}
		if err := n.bus.Publish(bus.NegotiationNoticeTopic, msg); err != nil {
			n.logger.Error("Failed to publish conflict notice",
				"conflict_version", opened.Version, "error", err)
			continue
		}
		n.logger.Info("Opened negotiation",
			"conflict_version", opened.Version,
			"participants", opened.Participants,
		)
	}
}

func (n *Node) handleProposal(msg any) {
	m, ok := msg.(api.ConflictProposal)
	if !ok {
		return
	}
	if conclusion := n.conflicts.ReceiveProposal(m, n.evaluate); conclusion != nil {
		n.publishConclusion(*conclusion)
	}
}

func (n *Node) handleRejection(msg any) {
	m, ok := msg.(api.ConflictRejection)
	if !ok {
		return
	}
	n.conflicts.ReceiveRejection(m)
}

func (n *Node) handleForfeit(msg any) {
	m, ok := msg.(api.ConflictForfeit)
	if !ok {
		return
	}
	if conclusion := n.conflicts.ReceiveForfeit(m); conclusion != nil {
		n.publishConclusion(*conclusion)
	}
}

func (n *Node) handleRefusal(msg any) {
	m, ok := msg.(api.ConflictRefusal)
	if !ok {
		return
	}
	if conclusion := n.conflicts.ReceiveRefusal(m.ConflictVersion); conclusion != nil {
		n.logger.Info("Refused negotiation", "conflict_version", m.ConflictVersion)
		n.publishConclusion(*conclusion)
	}
}

func (n *Node) handleAck(msg any) {
	m, ok := msg.(api.ConflictAck)
	if !ok {
		return
	}
	n.conflicts.ReceiveAck(m)
}

func (n *Node) publishConclusion(conclusion api.ConflictConclusion) {
	if err := n.bus.Publish(bus.NegotiationConclusionTopic, conclusion); err != nil {
		n.logger.Error("Failed to publish conclusion",
			"conflict_version", conclusion.ConflictVersion, "error", err)
		return
	}
	if conclusion.Resolved {
		n.logger.Info("Resolved negotiation",
			"conflict_version", conclusion.ConflictVersion,
			"table", conclusion.Table,
		)
	} else {
		n.logger.Info("Concluded negotiation without resolution",
			"conflict_version", conclusion.ConflictVersion,
		)
	}
}

// --- RPC сервисы ---

func (n *Node) registerParticipant(req any) any {
	r, ok := req.(api.RegisterParticipantRequest)
	if !ok {
		return api.RegisterParticipantResponse{Error: "invalid request type"}
	}

	desc := models.DescriptionFromAPI(r.Description)
	reg, created, err := n.store.AddOrRetrieve(context.Background(), desc)
	if err != nil {
		n.logger.Error("Failed to register participant",
			"name", desc.Name, "owner", desc.Owner, "error", err)
		return api.RegisterParticipantResponse{Error: err.Error()}
	}

	itineraryVersion, lastRouteID, err := n.db.AddParticipant(reg.ID, reg.Description)
	if err != nil {
		return api.RegisterParticipantResponse{Error: err.Error()}
	}

	n.logger.Info("Registered participant",
		"participant_id", reg.ID,
		"name", desc.Name,
		"owner", desc.Owner,
		"created", created,
	)
	n.broadcastParticipants()

	return api.RegisterParticipantResponse{
		ParticipantID:        uint64(reg.ID),
		LastItineraryVersion: itineraryVersion,
		LastRouteID:          lastRouteID,
	}
}

func (n *Node) unregisterParticipant(req any) any {
	r, ok := req.(api.UnregisterParticipantRequest)
	if !ok {
		return api.UnregisterParticipantResponse{Error: "invalid request type"}
	}

	p := models.ParticipantID(r.ParticipantID)
	desc, found := n.db.GetParticipant(p)
	if !found {
		errMsg := fmt.Sprintf(
			"failed to unregister participant [%d] because no participant has that ID",
			r.ParticipantID)
		n.logger.Error("Failed to unregister participant", "participant_id", r.ParticipantID)
		return api.UnregisterParticipantResponse{Error: errMsg}
	}

	if err := n.db.UnregisterParticipant(p); err != nil {
		n.logger.Error("Failed to unregister participant",
			"participant_id", r.ParticipantID, "error", err)
		return api.UnregisterParticipantResponse{Error: err.Error()}
	}

	n.logger.Info("Unregistered participant",
		"participant_id", r.ParticipantID,
		"name", desc.Name,
		"owner", desc.Owner,
	)
	n.broadcastParticipants()

	return api.UnregisterParticipantResponse{Confirmation: true}
}

func (n *Node) registerQuery(req any) any {
	r, ok := req.(api.RegisterQueryRequest)
	if !ok {
		return api.RegisterQueryResponse{Error: "invalid request type"}
	}

	id, created, err := n.queries.Register(models.QueryFromAPI(r.Query))
	if err != nil {
		n.logger.Error("Failed to register query", "error", err)
		return api.RegisterQueryResponse{
			NodeVersion: n.cfg.NodeVersion,
			Error:       err.Error(),
		}
	}

	if created {
		n.logger.Info("Registered new query", "query_id", id)
	} else {
		n.logger.Info("A new mirror is tracking an existing query", "query_id", id)
	}
	n.broadcastQueries()

	return api.RegisterQueryResponse{
		QueryID:     uint64(id),
		NodeVersion: n.cfg.NodeVersion,
	}
}

func (n *Node) requestChanges(req any) any {
	r, ok := req.(api.RequestChangesRequest)
	if !ok {
		return api.RequestChangesResponse{
			Result: api.RequestChangesUnknownQueryID,
			Error:  "invalid request type",
		}
	}

	err := n.queries.RequestChanges(models.QueryID(r.QueryID), r.Version, r.FullUpdate)
	if err != nil {
		n.logger.Error("Could not find a registered query",
			"query_id", r.QueryID, "error", err)
		return api.RequestChangesResponse{
			Result: api.RequestChangesUnknownQueryID,
			Error:  err.Error(),
		}
	}
	return api.RequestChangesResponse{Result: api.RequestChangesAccepted}
}

// --- широковещательные снимки и таймеры ---

// broadcastParticipants публикует снимок всех участников.
func (n *Node) broadcastParticipants() {
	msg := api.ParticipantsInfo{}
	for _, id := range n.db.ParticipantIDs() {
		desc, ok := n.db.GetParticipant(id)
		if !ok {
			continue
		}
		msg.Participants = append(msg.Participants, api.SingleParticipantInfo{
			ID:          uint64(id),
			Description: models.DescriptionToAPI(desc),
		})
	}
	if err := n.bus.Publish(bus.ParticipantsInfoTopic, msg); err != nil {
		n.logger.Error("Failed to broadcast participants", "error", err)
	}
}

// broadcastQueries публикует снимок реестра запросов для резервного узла.
func (n *Node) broadcastQueries() {
	ids, queries := n.queries.Snapshot()
	msg := api.ScheduleQueries{NodeVersion: n.cfg.NodeVersion}
	for i, id := range ids {
		msg.IDs = append(msg.IDs, uint64(id))
		msg.Queries = append(msg.Queries, models.QueryToAPI(queries[i]))
	}
	if err := n.bus.Publish(bus.QueriesInfoTopic, msg); err != nil {
		n.logger.Error("Failed to broadcast queries", "error", err)
	}
}

// RestoreQueries засевает реестр запросов снимком предыдущего узла.
// Вызывается при конструировании резервного узла после фейловера.
func (n *Node) RestoreQueries(msg api.ScheduleQueries) {
	ids := make([]models.QueryID, 0, len(msg.IDs))
	queries := make([]models.Query, 0, len(msg.Queries))
	for i, id := range msg.IDs {
		if i >= len(msg.Queries) {
			break
		}
		ids = append(ids, models.QueryID(id))
		queries = append(queries, models.QueryFromAPI(msg.Queries[i]))
	}
	n.queries.Restore(ids, queries)
	n.logger.Info("Restored queries from previous schedule node", "queries", len(ids))
}

func (n *Node) publishHeartbeat() {
	msg := api.Heartbeat{NodeVersion: n.cfg.NodeVersion}
	if err := n.bus.Publish(bus.HeartbeatTopic, msg); err != nil {
		n.logger.Error("Failed to publish heartbeat", "error", err)
	}
}

// cleanupQueries удаляет запросы без подписчиков, простаивающие дольше
// грейс-периода.
func (n *Node) cleanupQueries() {
	removed := n.queries.Cleanup(n.cfg.QueryGracePeriod, func(id models.QueryID) int {
		return n.bus.Subscribers(bus.QueryUpdateTopic(uint64(id)))
	})
	if len(removed) == 0 {
		return
	}

	n.logger.Info("Cleaned up idle queries", "query_ids", removed)
	n.broadcastQueries()
}
