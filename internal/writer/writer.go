// Package writer реализует клиентскую сторону расписания: регистрацию
// участника, публикацию версионированных правок итинерария и повторную
// передачу правок по уведомлениям о несогласованности.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/fleetsched/internal/bus"
	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/pkg/api"
)

// Common writer errors
var (
	// ErrShutdown indicates the writer was closed while an operation
	// was still waiting on the schedule node
	ErrShutdown = errors.New("writer is shutting down")
)

// registerPollInterval период опроса при ожидании ответа регистрации.
const registerPollInterval = 100 * time.Millisecond

// serviceClient RPC клиент одного сервиса. Пересоздается при фейловере.
type serviceClient struct {
	bus     bus.Bus
	service string
}

func (c *serviceClient) call(ctx context.Context, req any) (any, error) {
	return c.bus.Call(ctx, c.service, req)
}

// Writer клиентский фасад расписания. Держит таблицу живых участников
// для диспетчеризации уведомлений о несогласованности: записи
// пропадают при закрытии участника, поэтому диспетчер никогда не
// воскрешает уже отпущенные хэндлы.
type Writer struct {
	bus    bus.Bus
	logger *slog.Logger

	register   *serviceClient
	unregister *serviceClient

	stubs  map[models.ParticipantID]*Participant
	subs   []bus.Subscription
	closed chan struct{}
	mu     sync.Mutex
}

// New создает фасад и подписывается на уведомления о несогласованности
// и события фейловера.
func New(b bus.Bus, logger *slog.Logger) (*Writer, error) {
	w := &Writer{
		bus:        b,
		logger:     logger,
		register:   &serviceClient{bus: b, service: bus.RegisterParticipantService},
		unregister: &serviceClient{bus: b, service: bus.UnregisterParticipantService},
		stubs:      make(map[models.ParticipantID]*Participant),
		closed:     make(chan struct{}),
	}

	incSub, err := b.Subscribe(bus.InconsistencyTopic, w.dispatchInconsistency)
	if err != nil {
		return nil, fmt.Errorf("subscribe inconsistencies: %w", err)
	}
	w.subs = append(w.subs, incSub)

	failSub, err := b.Subscribe(bus.FailOverTopic, func(any) { w.reconnectServices() })
	if err != nil {
		incSub.Unsubscribe()
		return nil, fmt.Errorf("subscribe fail-over events: %w", err)
	}
	w.subs = append(w.subs, failSub)

	return w, nil
}

// Close снимает подписки и освобождает заблокированные регистрации
// с ошибкой ErrShutdown.
func (w *Writer) Close() {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	select {
	case <-w.closed:
	default:
		close(w.closed)
	}
}

// reconnectServices пересоздает RPC клиентов после смены активного
// узла. Версии итинерариев участников не сбрасываются.
func (w *Writer) reconnectServices() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.register = &serviceClient{bus: w.bus, service: bus.RegisterParticipantService}
	w.unregister = &serviceClient{bus: w.bus, service: bus.UnregisterParticipantService}
	w.logger.Info("Reconnected schedule services after fail-over")
}

// dispatchInconsistency доставляет уведомление живому участнику.
func (w *Writer) dispatchInconsistency(msg any) {
	m, ok := msg.(api.ScheduleInconsistency)
	if !ok || len(m.Ranges) == 0 {
		// пустые диапазоны не публикуются, но проверяем на всякий случай
		return
	}

	w.mu.Lock()
	p := w.stubs[models.ParticipantID(m.Participant)]
	w.mu.Unlock()

	if p == nil {
		// участник уже закрыт; уведомление некому доставлять
		return
	}
	p.retransmit(m.Ranges, m.LastKnownVersion)
}

// MakeParticipant регистрирует участника (или возвращает существующую
// привязку) и отдает хэндл для правок итинерария. Блокируется до ответа
// узла, отмены контекста или закрытия фасада; ожидание опрашивается
// каждые 100 мс.
func (w *Writer) MakeParticipant(ctx context.Context, desc models.ParticipantDescription) (*Participant, error) {
	req := api.RegisterParticipantRequest{Description: models.DescriptionToAPI(desc)}

	w.mu.Lock()
	client := w.register
	w.mu.Unlock()

	type callResult struct {
		resp any
		err  error
	}
	result := make(chan callResult, 1)
	callCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		resp, err := client.call(callCtx, req)
		result <- callResult{resp: resp, err: err}
	}()

	ticker := time.NewTicker(registerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-result:
			if res.err != nil {
				return nil, fmt.Errorf("register participant: %w", res.err)
			}
			return w.finishRegistration(desc, res.resp)
		case <-ticker.C:
			// периодическое пробуждение для проверки остановки
		case <-ctx.Done():
			return nil, fmt.Errorf("register participant: %w", ctx.Err())
		case <-w.closed:
			return nil, fmt.Errorf("register participant: %w", ErrShutdown)
		}
	}
}

func (w *Writer) finishRegistration(desc models.ParticipantDescription, resp any) (*Participant, error) {
	r, ok := resp.(api.RegisterParticipantResponse)
	if !ok {
		return nil, fmt.Errorf("register participant: unexpected response type %T", resp)
	}
	if r.Error != "" {
		return nil, fmt.Errorf("register participant: %s", r.Error)
	}

	p := &Participant{
		writer:      w,
		id:          models.ParticipantID(r.ParticipantID),
		description: desc,
		version:     r.LastItineraryVersion,
		lastRouteID: r.LastRouteID,
	}

	w.mu.Lock()
	// база никогда не выдает один идентификатор дважды, поэтому
	// перезапись существующей записи безопасна
	w.stubs[p.id] = p
	w.mu.Unlock()

	w.logger.Info("Participant ready",
		"participant_id", p.id,
		"name", desc.Name,
		"owner", desc.Owner,
		"last_itinerary_version", r.LastItineraryVersion,
		"last_route_id", r.LastRouteID,
	)
	return p, nil
}

// unregisterParticipant снимает участника с узла и удаляет его из
// таблицы диспетчера.
func (w *Writer) unregisterParticipant(ctx context.Context, id models.ParticipantID) error {
	w.mu.Lock()
	delete(w.stubs, id)
	client := w.unregister
	w.mu.Unlock()

	resp, err := client.call(ctx, api.UnregisterParticipantRequest{ParticipantID: uint64(id)})
	if err != nil {
		return fmt.Errorf("unregister participant [%d]: %w", id, err)
	}
	r, ok := resp.(api.UnregisterParticipantResponse)
	if !ok {
		return fmt.Errorf("unregister participant [%d]: unexpected response type %T", id, resp)
	}
	if r.Error != "" {
		return fmt.Errorf("unregister participant [%d]: %s", id, r.Error)
	}
	return nil
}

// forget удаляет участника из таблицы диспетчера без RPC.
func (w *Writer) forget(id models.ParticipantID) {
	w.mu.Lock()
	delete(w.stubs, id)
	w.mu.Unlock()
}
