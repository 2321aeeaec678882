// Package inproc реализует шину сообщений внутри одного процесса.
// Используется демонами при однопроцессном развертывании и всеми
// интеграционными тестами: подсистемы общаются через нее так же,
// как через сетевой транспорт.
package inproc

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/iudanet/fleetsched/internal/bus"
)

// Bus внутрипроцессная шина. Обработчики тем вызываются синхронно
// в горутине издателя, поэтому порядок сообщений одного издателя
// сохраняется. Издатель не должен держать свои блокировки во время
// публикации.
type Bus struct {
	subs     map[string]map[uuid.UUID]bus.Handler
	services map[string]bus.ServiceHandler
	closed   bool
	mu       sync.RWMutex
}

// New создает пустую шину.
func New() *Bus {
	return &Bus{
		subs:     make(map[string]map[uuid.UUID]bus.Handler),
		services: make(map[string]bus.ServiceHandler),
	}
}

// Close останавливает шину: дальнейшие публикации и вызовы возвращают
// ErrClosed, подписки снимаются.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subs = make(map[string]map[uuid.UUID]bus.Handler)
	b.services = make(map[string]bus.ServiceHandler)
}

// Publish доставляет сообщение всем текущим подписчикам темы.
func (b *Bus) Publish(topic string, msg any) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return bus.ErrClosed
	}
	handlers := make([]bus.Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

type subscription struct {
	bus   *Bus
	topic string
	token uuid.UUID
}

func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if handlers, ok := s.bus.subs[s.topic]; ok {
		delete(handlers, s.token)
		if len(handlers) == 0 {
			delete(s.bus.subs, s.topic)
		}
	}
}

// Subscribe регистрирует обработчик темы.
func (b *Bus) Subscribe(topic string, h bus.Handler) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, bus.ErrClosed
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uuid.UUID]bus.Handler)
	}
	token := uuid.New()
	b.subs[topic][token] = h
	return &subscription{bus: b, topic: topic, token: token}, nil
}

// Subscribers возвращает число подписчиков темы.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

type registration struct {
	bus     *Bus
	service string
}

func (r *registration) Close() {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	delete(r.bus.services, r.service)
}

// Serve регистрирует обработчик сервиса. Повторная регистрация
// заменяет предыдущий обработчик (новый активный узел перехватывает
// сервисы при фейловере).
func (b *Bus) Serve(service string, h bus.ServiceHandler) (bus.Registration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, bus.ErrClosed
	}
	b.services[service] = h
	return &registration{bus: b, service: service}, nil
}

// Call выполняет запрос к сервису. Обработчик выполняется в отдельной
// горутине, чтобы вызов уважал отмену контекста.
func (b *Bus) Call(ctx context.Context, service string, req any) (any, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, bus.ErrClosed
	}
	h, ok := b.services[service]
	b.mu.RUnlock()

	if !ok {
		return nil, bus.ErrUnknownService
	}

	done := make(chan any, 1)
	go func() {
		done <- h(req)
	}()

	select {
	case resp := <-done:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
