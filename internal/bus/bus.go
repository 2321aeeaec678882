// Package bus определяет абстракцию шины сообщений, через которую
// общаются узел расписания, участники и зеркала. Транспорт считается
// надежным с ограниченными очередями; ядро не занимается backpressure.
package bus

import (
	"context"
	"errors"
)

// Common bus errors
var (
	// ErrClosed indicates the bus has been shut down
	ErrClosed = errors.New("bus is closed")

	// ErrUnknownService indicates a call to a service nobody serves
	ErrUnknownService = errors.New("unknown service")
)

// Handler обрабатывает одно сообщение темы.
type Handler func(msg any)

// ServiceHandler обрабатывает один RPC запрос и возвращает ответ.
type ServiceHandler func(req any) any

// Subscription активная подписка на тему.
type Subscription interface {
	Unsubscribe()
}

// Registration активная регистрация обработчика сервиса.
type Registration interface {
	Close()
}

// Bus интерфейс шины: публикация/подписка для тем и запрос/ответ для
// сервисов. Порядок сообщений одного издателя в одной теме сохраняется.
type Bus interface {
	// Publish доставляет сообщение всем подписчикам темы.
	Publish(topic string, msg any) error

	// Subscribe регистрирует обработчик темы.
	Subscribe(topic string, h Handler) (Subscription, error)

	// Subscribers возвращает текущее число подписчиков темы.
	Subscribers(topic string) int

	// Call выполняет запрос к сервису и ждет ответа или отмены контекста.
	Call(ctx context.Context, service string, req any) (any, error)

	// Serve регистрирует обработчик сервиса.
	Serve(service string, h ServiceHandler) (Registration, error)
}
