package negotiation

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func apiItinerary(finish time.Duration) []api.Route {
	return models.ItineraryToAPI(itinerary(finish))
}

func proposal(v uint64, forParticipant uint64, accommodate []api.TableEntry, proposalVersion uint64) api.ConflictProposal {
	return api.ConflictProposal{
		ConflictVersion: v,
		ForParticipant:  forParticipant,
		ToAccommodate:   accommodate,
		Itinerary:       apiItinerary(10 * time.Second),
		ProposalVersion: proposalVersion,
	}
}

func TestRecord_InsertDeduplicates(t *testing.T) {
	r := NewRecord(testLogger())

	opened, isNew := r.Insert(2, 1)
	require.True(t, isNew)
	assert.Equal(t, uint64(1), opened.Version)
	assert.Equal(t, []models.ParticipantID{1, 2}, opened.Participants)

	// симметричная пара уже покрыта
	_, isNew = r.Insert(1, 2)
	assert.False(t, isNew)
	_, isNew = r.Insert(2, 1)
	assert.False(t, isNew)

	// другая пара открывает новые переговоры
	opened2, isNew := r.Insert(1, 3)
	require.True(t, isNew)
	assert.Equal(t, uint64(2), opened2.Version)
}

func TestRecord_FullNegotiation(t *testing.T) {
	r := NewRecord(testLogger())
	opened, _ := r.Insert(1, 2)
	v := opened.Version

	// первое предложение не делает переговоры готовыми
	conclusion := r.ReceiveProposal(proposal(v, 1, nil, 1), QuickestFinishEvaluator())
	assert.Nil(t, conclusion)

	// второй участник подстраивается: ветка готова
	conclusion = r.ReceiveProposal(
		proposal(v, 2, []api.TableEntry{{Participant: 1, Version: 1}}, 1),
		QuickestFinishEvaluator(),
	)
	require.NotNil(t, conclusion)
	assert.True(t, conclusion.Resolved)
	assert.Equal(t, []api.TableEntry{
		{Participant: 1, Version: 1},
		{Participant: 2, Version: 1},
	}, conclusion.Table)

	// итог публикуется ровно один раз
	again := r.ReceiveProposal(proposal(v, 1, nil, 2), QuickestFinishEvaluator())
	assert.Nil(t, again, "proposals after the conclusion have no effect")
	assert.Equal(t, 0, r.LiveCount())
	assert.Equal(t, 1, r.AwaitingCount())
}

func TestRecord_OutOfOrderProposalIsCachedAndReplayed(t *testing.T) {
	r := NewRecord(testLogger())
	opened, _ := r.Insert(1, 2)
	v := opened.Version

	// предложение второго участника опережает предложение первого
	conclusion := r.ReceiveProposal(
		proposal(v, 2, []api.TableEntry{{Participant: 1, Version: 1}}, 1),
		QuickestFinishEvaluator(),
	)
	assert.Nil(t, conclusion)

	room := r.Negotiation(v)
	require.NotNil(t, room)
	assert.Equal(t, 1, room.CachedCount())

	// предложение первого применяется и кэш проигрывается до готовности
	conclusion = r.ReceiveProposal(proposal(v, 1, nil, 1), QuickestFinishEvaluator())
	require.NotNil(t, conclusion)
	assert.True(t, conclusion.Resolved)
}

func TestRecord_AllForfeitedConcludesUnresolved(t *testing.T) {
	r := NewRecord(testLogger())
	opened, _ := r.Insert(1, 2)
	v := opened.Version

	conclusion := r.ReceiveForfeit(api.ConflictForfeit{
		ConflictVersion: v,
		Table:           []api.TableEntry{{Participant: 1, Version: 0}},
	})
	assert.Nil(t, conclusion, "one live branch remains")

	conclusion = r.ReceiveForfeit(api.ConflictForfeit{
		ConflictVersion: v,
		Table:           []api.TableEntry{{Participant: 2, Version: 0}},
	})
	require.NotNil(t, conclusion)
	assert.False(t, conclusion.Resolved)
	assert.Empty(t, conclusion.Table)
}

func TestRecord_RefusalShortCircuits(t *testing.T) {
	r := NewRecord(testLogger())
	opened, _ := r.Insert(1, 2)
	v := opened.Version

	conclusion := r.ReceiveRefusal(v)
	require.NotNil(t, conclusion)
	assert.False(t, conclusion.Resolved)

	// после отказа переговоры уничтожены полностью
	assert.Nil(t, r.ReceiveRefusal(v))
	assert.Equal(t, 0, r.LiveCount())
	assert.Equal(t, 0, r.AwaitingCount())

	// пара может открыть новые переговоры
	_, isNew := r.Insert(1, 2)
	assert.True(t, isNew)
}

func TestRecord_RejectionKeepsNegotiationAlive(t *testing.T) {
	r := NewRecord(testLogger())
	opened, _ := r.Insert(1, 2)
	v := opened.Version

	require.Nil(t, r.ReceiveProposal(proposal(v, 1, nil, 1), QuickestFinishEvaluator()))

	r.ReceiveRejection(api.ConflictRejection{
		ConflictVersion: v,
		Table:           []api.TableEntry{{Participant: 1, Version: 1}},
		RejectedBy:      2,
		Alternatives:    [][]api.Route{apiItinerary(15 * time.Second)},
	})

	assert.Equal(t, 1, r.LiveCount())

	// предлагающий отвечает новым предложением и переговоры завершаются
	require.Nil(t, r.ReceiveProposal(proposal(v, 1, nil, 2), QuickestFinishEvaluator()))
	conclusion := r.ReceiveProposal(
		proposal(v, 2, []api.TableEntry{{Participant: 1, Version: 2}}, 1),
		QuickestFinishEvaluator(),
	)
	require.NotNil(t, conclusion)
	assert.True(t, conclusion.Resolved)
}

func TestRecord_AcknowledgementLifecycle(t *testing.T) {
	r := NewRecord(testLogger())
	opened, _ := r.Insert(1, 2)
	v := opened.Version

	require.Nil(t, r.ReceiveProposal(proposal(v, 1, nil, 1), QuickestFinishEvaluator()))
	require.NotNil(t, r.ReceiveProposal(
		proposal(v, 2, []api.TableEntry{{Participant: 1, Version: 1}}, 1),
		QuickestFinishEvaluator(),
	))
	require.Equal(t, 1, r.AwaitingCount())

	// пока подтверждения не собраны, пара остается покрытой
	_, isNew := r.Insert(1, 2)
	assert.False(t, isNew)

	// участник 1 не меняет итинерарий, участник 2 обещает обновиться с версии 5
	r.ReceiveAck(api.ConflictAck{
		ConflictVersion: v,
		Acknowledgments: []api.Acknowledgment{
			{Participant: 1, Updating: false},
			{Participant: 2, Updating: true, ItineraryVersion: 5},
		},
	})
	assert.Equal(t, 1, r.AwaitingCount(), "updating obligation still outstanding")

	// правка с меньшей версией не гасит обязательство
	r.CheckItinerary(2, 4)
	assert.Equal(t, 1, r.AwaitingCount())

	r.CheckItinerary(2, 5)
	assert.Equal(t, 0, r.AwaitingCount(), "obligation satisfied, negotiation disposed")

	// пара свободна для новых переговоров
	_, isNew = r.Insert(1, 2)
	assert.True(t, isNew)
}
