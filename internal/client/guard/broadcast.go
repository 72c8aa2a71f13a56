package guard

import (
	"context"
	"sync"
)

// NoopBroadcaster — заглушка для процессов без соседей
type NoopBroadcaster struct{}

// Publish ничего не делает
func (NoopBroadcaster) Publish(ctx context.Context, ev Event) error { return nil }

// Subscribe ничего не делает
func (NoopBroadcaster) Subscribe(handler func(Event)) func() { return func() {} }

// LocalBroadcaster — in-process шина изменений флагов.
// Используется когда несколько guard-сервисов живут в одном процессе
// (и в тестах как модель межвкладочного broadcast).
type LocalBroadcaster struct {
	handlers map[int]func(Event)
	nextID   int
	mu       sync.Mutex
}

// NewLocalBroadcaster creates a new in-process broadcaster
func NewLocalBroadcaster() *LocalBroadcaster {
	return &LocalBroadcaster{
		handlers: make(map[int]func(Event)),
	}
}

// Publish доставляет событие всем подписчикам синхронно
func (b *LocalBroadcaster) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	handlers := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// Subscribe регистрирует обработчик; возвращает функцию отписки
func (b *LocalBroadcaster) Subscribe(handler func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}
