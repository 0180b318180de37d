// Package timer реализует кооперативные таймеры протокола Q.931.
//
// Таймеры не срабатывают асинхронно: все просроченные таймеры вызываются
// синхронно из RunExpired, который рабочий цикл движка вызывает перед каждым
// ожиданием. Время берется из монотонных часов, поэтому перевод системных часов
// на таймеры не влияет.
package timer

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Clock источник монотонного времени
type Clock interface {
	// Now возвращает время, прошедшее от произвольной фиксированной точки
	Now() time.Duration
}

type monotonicClock struct {
	start time.Time
}

// NewMonotonicClock создает часы на основе монотонного показания time.Time
func NewMonotonicClock() Clock {
	return monotonicClock{start: time.Now()}
}

func (c monotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// ManualClock часы с ручным управлением для тестов и симуляций
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
}

// Now возвращает текущее значение часов
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance сдвигает часы вперед
func (c *ManualClock) Advance(d time.Duration) {
	if d < 0 {
		panic(fmt.Sprintf("timer: negative advance %v", d))
	}
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Wheel владеет набором таймеров одного рабочего потока.
// Wheel не потокобезопасен: им пользуется только рабочий поток движка.
type Wheel struct {
	clock   Clock
	pending []*Timer
	seq     uint64
}

// NewWheel создает набор таймеров поверх указанных часов
func NewWheel(clock Clock) *Wheel {
	if clock == nil {
		clock = NewMonotonicClock()
	}
	return &Wheel{clock: clock}
}

// Clock возвращает часы набора
func (w *Wheel) Clock() Clock {
	return w.clock
}

// Timer именованный таймер с callback
type Timer struct {
	name     string
	wheel    *Wheel
	callback func()

	deadline time.Duration
	seq      uint64
	pending  bool
}

// NewTimer создает остановленный таймер
func (w *Wheel) NewTimer(name string, callback func()) *Timer {
	if callback == nil {
		panic("timer: nil callback for " + name)
	}
	return &Timer{
		name:     name,
		wheel:    w,
		callback: callback,
	}
}

// Name возвращает имя таймера (T303, dlc-autorelease, ...)
func (t *Timer) Name() string {
	return t.name
}

// Start запускает таймер. Запуск уже взведенного таймера переустанавливает
// срок, второй экземпляр в очередь не попадает.
func (t *Timer) Start(d time.Duration) {
	if d < 0 {
		panic(fmt.Sprintf("timer: negative duration %v for %s", d, t.name))
	}

	w := t.wheel
	w.seq++
	t.seq = w.seq
	t.deadline = w.clock.Now() + d

	if !t.pending {
		t.pending = true
		w.pending = append(w.pending, t)
	}
}

// Restart останавливает и заново запускает таймер
func (t *Timer) Restart(d time.Duration) {
	t.Stop()
	t.Start(d)
}

// Stop останавливает таймер. Остановка остановленного таймера ничего не делает.
func (t *Timer) Stop() {
	if !t.pending {
		return
	}
	t.pending = false
	t.wheel.remove(t)
}

// Pending сообщает, взведен ли таймер
func (t *Timer) Pending() bool {
	return t.pending
}

// Remaining возвращает время до срабатывания (0 для остановленного таймера)
func (t *Timer) Remaining() time.Duration {
	if !t.pending {
		return 0
	}
	left := t.deadline - t.wheel.clock.Now()
	if left < 0 {
		return 0
	}
	return left
}

func (w *Wheel) remove(t *Timer) {
	for i, p := range w.pending {
		if p == t {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			return
		}
	}
}

// Len возвращает количество взведенных таймеров
func (w *Wheel) Len() int {
	return len(w.pending)
}

type expiredTimer struct {
	t   *Timer
	seq uint64
}

// RunExpired вызывает все таймеры, срок которых наступил, и возвращает время
// до следующего срока. ok == false означает, что взведенных таймеров нет.
//
// Таймеры с одинаковым сроком вызываются в порядке взведения. Таймер, который
// был переустановлен callback-ом другого таймера в этом же проходе, ждет
// следующего прохода.
func (w *Wheel) RunExpired() (next time.Duration, ok bool) {
	now := w.clock.Now()

	var expired []expiredTimer
	for _, t := range w.pending {
		if t.deadline <= now {
			expired = append(expired, expiredTimer{t: t, seq: t.seq})
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		a, b := expired[i], expired[j]
		if a.t.deadline != b.t.deadline {
			return a.t.deadline < b.t.deadline
		}
		return a.seq < b.seq
	})

	for _, e := range expired {
		if !e.t.pending || e.t.seq != e.seq {
			continue
		}
		e.t.pending = false
		w.remove(e.t)
		e.t.callback()
	}

	return w.Next()
}

// Next возвращает время до ближайшего срока без вызова таймеров
func (w *Wheel) Next() (time.Duration, bool) {
	if len(w.pending) == 0 {
		return 0, false
	}

	now := w.clock.Now()
	earliest := w.pending[0].deadline
	for _, t := range w.pending[1:] {
		if t.deadline < earliest {
			earliest = t.deadline
		}
	}

	if earliest <= now {
		return 0, true
	}
	return earliest - now, true
}
