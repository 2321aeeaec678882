package negotiation

import (
	"log/slog"
	"sync"

	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/version"
	"github.com/iudanet/fleetsched/pkg/api"
)

// ackState состояние подтверждения итога одним участником.
type ackState struct {
	acked     bool
	updating  bool
	expected  uint64 // версия итинерария, с которой участник обещал обновиться
	satisfied bool
}

func (a *ackState) done() bool {
	return a.acked && (!a.updating || a.satisfied)
}

// NewNegotiation описывает только что открытые переговоры.
type NewNegotiation struct {
	Version      uint64
	Participants []models.ParticipantID
}

// Record реестр активных конфликтов: живые переговоры и переговоры,
// ожидающие подтверждений итога. Защищен собственным мьютексом,
// отдельным от блокировки базы расписания. Методы-обработчики
// возвращают сообщения для публикации, чтобы вызывающий публиковал
// их после освобождения блокировки.
type Record struct {
	logger   *slog.Logger
	versions *version.Counter
	rooms    map[uint64]*Room
	// участники переговоров; запись живет до полного подтверждения итога
	participants map[uint64][]models.ParticipantID
	awaiting     map[uint64]map[models.ParticipantID]*ackState
	mu           sync.Mutex
}

// NewRecord создает пустой реестр конфликтов.
func NewRecord(logger *slog.Logger) *Record {
	return &Record{
		logger:       logger,
		versions:     version.NewCounter(0),
		rooms:        make(map[uint64]*Room),
		participants: make(map[uint64][]models.ParticipantID),
		awaiting:     make(map[uint64]map[models.ParticipantID]*ackState),
	}
}

// Insert регистрирует пару-кандидат конфликта. Если пара уже покрыта
// живыми или ожидающими подтверждений переговорами, новые переговоры
// не открываются.
func (r *Record) Insert(a, b models.ParticipantID) (NewNegotiation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, participants := range r.participants {
		if containsBoth(participants, a, b) {
			return NewNegotiation{}, false
		}
	}

	v := r.versions.Next()
	participants := sortedParticipants([]models.ParticipantID{a, b})
	r.rooms[v] = NewRoom(participants, r.logger)
	r.participants[v] = participants

	return NewNegotiation{Version: v, Participants: participants}, true
}

func containsBoth(participants []models.ParticipantID, a, b models.ParticipantID) bool {
	var hasA, hasB bool
	for _, p := range participants {
		if p == a {
			hasA = true
		}
		if p == b {
			hasB = true
		}
	}
	return hasA && hasB
}

// ReceiveProposal применяет предложение и, если переговоры стали
// готовы или завершены, возвращает итоговое сообщение для публикации.
func (r *Record) ReceiveProposal(msg api.ConflictProposal, evaluate Evaluator) *api.ConflictConclusion {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[msg.ConflictVersion]
	if !ok {
		return nil
	}

	if room.ApplyProposal(msg) != OutcomeApplied {
		return nil
	}
	return r.maybeConcludeLocked(msg.ConflictVersion, room, evaluate, true)
}

// ReceiveRejection применяет отклонение предложения. Отклонение
// никогда не завершает переговоры: предлагающий должен ответить
// новым предложением или отказом.
func (r *Record) ReceiveRejection(msg api.ConflictRejection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[msg.ConflictVersion]
	if !ok {
		return
	}
	room.ApplyRejection(msg)
}

// ReceiveForfeit применяет отказ от ветки. Если после него каждая
// ветка завершена, возвращает итоговое сообщение.
func (r *Record) ReceiveForfeit(msg api.ConflictForfeit) *api.ConflictConclusion {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[msg.ConflictVersion]
	if !ok {
		return nil
	}

	if room.ApplyForfeit(msg) != OutcomeApplied {
		return nil
	}
	return r.maybeConcludeLocked(msg.ConflictVersion, room, nil, false)
}

// ReceiveRefusal уничтожает переговоры по явному отказу участника.
// Любой одиночный отказ завершает переговоры целиком; подтверждения
// не ожидаются. Возвращает итоговое сообщение или nil, если переговоры
// не существуют.
func (r *Record) ReceiveRefusal(conflictVersion uint64) *api.ConflictConclusion {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[conflictVersion]; !ok {
		return nil
	}
	delete(r.rooms, conflictVersion)
	delete(r.participants, conflictVersion)

	return &api.ConflictConclusion{
		ConflictVersion: conflictVersion,
		Resolved:        false,
	}
}

// ReceiveAck регистрирует пакет подтверждений итога.
func (r *Record) ReceiveAck(msg api.ConflictAck) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ack := range msg.Acknowledgments {
		r.acknowledgeLocked(
			msg.ConflictVersion,
			models.ParticipantID(ack.Participant),
			ack.Updating,
			ack.ItineraryVersion,
		)
	}
}

// Acknowledge регистрирует одиночное подтверждение итога участником.
func (r *Record) Acknowledge(v uint64, p models.ParticipantID, updating bool, expected uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acknowledgeLocked(v, p, updating, expected)
}

func (r *Record) acknowledgeLocked(v uint64, p models.ParticipantID, updating bool, expected uint64) {
	waiting, ok := r.awaiting[v]
	if !ok {
		return
	}
	state, ok := waiting[p]
	if !ok {
		return
	}

	state.acked = true
	state.updating = updating
	state.expected = expected
	r.disposeIfDone(v)
}

// CheckItinerary гасит обязательства обновления: правка итинерария
// участника с версией >= обещанной удовлетворяет подтверждение.
// Вызывается после каждой примененной правки базы.
func (r *Record) CheckItinerary(p models.ParticipantID, itineraryVersion uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for v, waiting := range r.awaiting {
		state, ok := waiting[p]
		if !ok || !state.acked || !state.updating || state.satisfied {
			continue
		}
		if version.LessEq(state.expected, itineraryVersion) {
			state.satisfied = true
			r.disposeIfDone(v)
		}
	}
}

// maybeConcludeLocked проверяет готовность и завершенность переговоров
// и при необходимости заключает их. Вызывается под r.mu.
func (r *Record) maybeConcludeLocked(v uint64, room *Room, evaluate Evaluator, checkReady bool) *api.ConflictConclusion {
	if checkReady && evaluate != nil && room.Negotiation.Ready() {
		if choose := evaluate(room.Negotiation); choose != nil {
			r.concludeLocked(v)
			return &api.ConflictConclusion{
				ConflictVersion: v,
				Resolved:        true,
				Table:           SequenceToAPI(choose.Sequence()),
			}
		}
	}

	if room.Negotiation.Complete() {
		// все ветки проиграны: полный провал переговоров
		r.concludeLocked(v)
		return &api.ConflictConclusion{
			ConflictVersion: v,
			Resolved:        false,
		}
	}
	return nil
}

// concludeLocked переводит переговоры в состояние ожидания
// подтверждений. Вызывается под r.mu.
func (r *Record) concludeLocked(v uint64) {
	delete(r.rooms, v)

	waiting := make(map[models.ParticipantID]*ackState, len(r.participants[v]))
	for _, p := range r.participants[v] {
		waiting[p] = &ackState{}
	}
	r.awaiting[v] = waiting
}

// disposeIfDone уничтожает переговоры, когда все подтверждения
// получены и все обязательства обновления выполнены.
// Вызывается под r.mu.
func (r *Record) disposeIfDone(v uint64) {
	waiting, ok := r.awaiting[v]
	if !ok {
		return
	}
	for _, state := range waiting {
		if !state.done() {
			return
		}
	}

	delete(r.awaiting, v)
	delete(r.participants, v)
	r.logger.Info("Negotiation fully acknowledged and disposed", "conflict_version", v)
}

// Negotiation возвращает комнату живых переговоров или nil.
// Используется в тестах.
func (r *Record) Negotiation(v uint64) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[v]
}

// LiveCount возвращает число переговоров, еще не заключенных.
func (r *Record) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// AwaitingCount возвращает число переговоров, ожидающих подтверждений.
func (r *Record) AwaitingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.awaiting)
}
