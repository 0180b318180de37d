package q931

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/q931/pkg/lapd"
	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/queue"
	"github.com/arzzra/q931/pkg/q931/timer"
)

// openRetryInterval период повторного открытия звена интерфейса
const openRetryInterval = 2 * time.Second

// linkEvent событие звена данных, ожидающее обработки рабочим потоком
type linkEvent struct {
	intf *Interface
	ev   lapd.Event
}

// Engine экземпляр движка Q.931: интерфейсы, вызовы, таймеры и две очереди
// на границе с приложением.
//
// Состояние вызовов, каналов и звеньев изменяет только рабочий поток
// (Run или Poll). Приложение передает запросы через Submit и получает
// примитивы из Indications.
type Engine struct {
	mu sync.Mutex

	log        *slog.Logger
	clock      timer.Clock
	registerer prometheus.Registerer
	wheel      *timer.Wheel
	metrics    *Metrics

	interfaces map[string]*Interface
	calls      map[CallID]*Call
	nextCallID atomic.Uint64

	requests    *queue.Queue[Request]
	indications *queue.Queue[Primitive]
	events      *queue.Queue[linkEvent]

	closed bool
}

// New создает движок
func New(opts ...Option) *Engine {
	e := &Engine{
		log:         slog.Default().With(slog.String("component", "q931")),
		interfaces:  make(map[string]*Interface),
		calls:       make(map[CallID]*Call),
		requests:    queue.New[Request](),
		indications: queue.New[Primitive](),
		events:      queue.New[linkEvent](),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = timer.NewMonotonicClock()
	}
	e.wheel = timer.NewWheel(e.clock)
	e.metrics = NewMetrics(e.registerer)
	return e
}

// Metrics метрики движка
func (e *Engine) Metrics() *Metrics { return e.metrics }

// OpenInterface добавляет интерфейс и открывает его звено данных. Если звено
// не открывается, движок повторяет попытку каждые 2 секунды.
func (e *Engine) OpenInterface(cfg InterfaceConfig, open LinkOpener) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}
	if open == nil {
		return fmt.Errorf("%w: interface %q has no link opener", ErrInvalidConfig, cfg.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if _, exists := e.interfaces[cfg.Name]; exists {
		return fmt.Errorf("%w: %s", ErrInterfaceExists, cfg.Name)
	}

	i := newInterface(e, cfg, open)
	e.interfaces[cfg.Name] = i
	i.tryOpen()
	return nil
}

// CloseInterface закрывает интерфейс; вызовы освобождаются локально
func (e *Engine) CloseInterface(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.interfaces[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, name)
	}
	i.close()
	delete(e.interfaces, name)
	return nil
}

// Close закрывает все интерфейсы. Примитивы, уже стоящие в очереди,
// остаются доступны через Indications.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	for name, i := range e.interfaces {
		i.close()
		delete(e.interfaces, name)
	}
	e.requests.Close()
	e.events.Close()
	e.indications.Close()
	e.log.Info("engine closed")
	return nil
}

// ReserveCallID выделяет дескриптор для будущего вызова. Дескрипторы не
// переиспользуются, поэтому устаревший дескриптор всегда распознается.
func (e *Engine) ReserveCallID() CallID {
	return CallID(e.nextCallID.Add(1))
}

// Submit ставит запрос приложения в очередь рабочего потока
func (e *Engine) Submit(r Request) error {
	e.mu.Lock()
	closed := e.closed
	_, known := e.interfaces[r.Interface]
	e.mu.Unlock()

	if closed {
		return ErrEngineClosed
	}
	switch r.Kind {
	case SetupRequest, ResumeRequest, RestartRequest:
		if !known {
			return fmt.Errorf("%w: %s", ErrUnknownInterface, r.Interface)
		}
	}
	if (r.Kind == SetupRequest || r.Kind == ResumeRequest) && r.Call == 0 {
		r.Call = e.ReserveCallID()
	}
	if !e.requests.Push(r) {
		return ErrEngineClosed
	}
	return nil
}

// Setup запрашивает исходящий вызов и возвращает его дескриптор. Результат
// приходит примитивом SETUP-CONF или REJECT.
func (e *Engine) Setup(intf string, pvt interface{}, ies ...ie.IE) (CallID, error) {
	id := e.ReserveCallID()
	err := e.Submit(Request{Kind: SetupRequest, Interface: intf, Call: id, Pvt: pvt, IEs: ies})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Resume запрашивает возобновление приостановленного вызова (TE)
func (e *Engine) Resume(intf string, pvt interface{}, ies ...ie.IE) (CallID, error) {
	id := e.ReserveCallID()
	err := e.Submit(Request{Kind: ResumeRequest, Interface: intf, Call: id, Pvt: pvt, IEs: ies})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Restart запрашивает рестарт каналов интерфейса; пустой набор означает
// весь интерфейс
func (e *Engine) Restart(intf string, channels ie.ChannelSet) error {
	return e.Submit(Request{Kind: RestartRequest, Interface: intf, Channels: channels})
}

// Indications очередь примитивов для приложения
func (e *Engine) Indications() *queue.Queue[Primitive] {
	return e.indications
}

// CallState состояние вызова; false, если вызов уже освобожден
func (e *Engine) CallState(id CallID) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.calls[id]
	if !ok {
		return StateNull, false
	}
	return c.state, true
}

func (e *Engine) deliver(p Primitive) {
	e.metrics.primitives.WithLabelValues(p.Kind.String()).Inc()
	e.log.Debug("primitive", "primitive", p.String())
	if !e.indications.Push(p) {
		e.log.Warn("primitive dropped, engine closed", "primitive", p.Kind.String())
	}
}

// linkHandler обработчик событий звена интерфейса. События ставятся в
// очередь: звено может вызывать обработчик из своего потока или
// синхронно из Send.
func (e *Engine) linkHandler(i *Interface) lapd.Handler {
	return func(ev lapd.Event) {
		e.events.Push(linkEvent{intf: i, ev: ev})
	}
}

// Poll обрабатывает накопленные события звеньев, запросы и истекшие
// таймеры. Возвращает время до следующего таймера; ok == false, если
// таймеров нет.
func (e *Engine) Poll() (next time.Duration, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		for _, le := range e.events.Drain() {
			e.handleLinkEvent(le)
		}
		for _, r := range e.requests.Drain() {
			e.handleRequest(r)
		}
		next, ok = e.wheel.RunExpired()

		if e.events.Len() == 0 && e.requests.Len() == 0 && (!ok || next > 0) {
			return next, ok
		}
	}
}

// Run рабочий поток движка; возвращается при отмене ctx
func (e *Engine) Run(ctx context.Context) error {
	wait := time.NewTimer(time.Hour)
	defer wait.Stop()

	for {
		next, ok := e.Poll()
		if !ok {
			next = time.Hour
		}
		if !wait.Stop() {
			select {
			case <-wait.C:
			default:
			}
		}
		wait.Reset(next)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.events.Notify():
		case <-e.requests.Notify():
		case <-wait.C:
		}
	}
}

func (e *Engine) handleLinkEvent(le linkEvent) {
	if e.interfaces[le.intf.cfg.Name] != le.intf {
		// интерфейс закрыт после постановки события в очередь
		return
	}
	le.intf.handleLinkEvent(le.ev)
}

func (e *Engine) handleRequest(r Request) {
	e.log.Debug("request", "request", r.String())

	i := e.interfaces[r.Interface]
	switch r.Kind {
	case SetupRequest, ResumeRequest, RestartRequest:
		if i == nil {
			e.reject(r, ie.CauseTemporaryFailure, ErrUnknownInterface)
			return
		}
	}

	switch r.Kind {
	case SetupRequest:
		i.setupRequest(&r)
		return
	case ResumeRequest:
		if i.cfg.Role != RoleTE {
			e.reject(r, ie.CauseMessageNotCompatibleWithState, ErrInvalidState)
			return
		}
		i.resumeRequest(&r)
		return
	case RestartRequest:
		i.global.restartRequest(r.Channels)
		return
	}

	c, ok := e.calls[r.Call]
	if !ok {
		e.reject(r, ie.CauseInvalidCallReference, ErrStaleCall)
		return
	}
	if r.Kind == AttachRequest {
		c.pvt = r.Pvt
		return
	}
	c.request(&r)
}

// reject сообщает приложению, что запрос не может быть выполнен
func (e *Engine) reject(r Request, cause ie.CauseValue, err error) {
	e.log.Warn("request rejected", "request", r.String(), "error", err)
	e.deliver(Primitive{
		Kind:      ErrorIndication,
		Interface: r.Interface,
		Call:      r.Call,
		Pvt:       r.Pvt,
		IEs:       []ie.IE{ie.NewCause(ie.LocationUser, cause)},
		Status:    StatusError,
		Channel:   -1,
	})
}
