// Package queue очередь примитивов между движком Q.931 и приложением.
//
// Очередь FIFO с каналом пробуждения: производитель добавляет элементы из
// любого потока, потребитель ждет на Notify() и забирает все накопленное
// через Drain. Элемент, поставленный в очередь, будет выдан ровно один раз.
package queue

import (
	"sync"
)

// Queue потокобезопасная FIFO очередь
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	closed bool
}

// New создает пустую очередь
func New[T any]() *Queue[T] {
	return &Queue[T]{
		notify: make(chan struct{}, 1),
	}
}

// Push добавляет элемент в конец очереди и будит потребителя.
// После Close элемент отбрасывается и возвращается false.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
		// уведомление уже ожидает потребителя
	}
	return true
}

// Drain забирает все элементы в порядке добавления
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	items := q.items
	q.items = nil
	return items
}

// Notify канал, в который приходит сигнал о новых элементах.
// Один сигнал может соответствовать нескольким Push.
func (q *Queue[T]) Notify() <-chan struct{} {
	return q.notify
}

// Len текущая длина очереди
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close запрещает дальнейшие Push. Уже добавленные элементы остаются
// доступны через Drain.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
