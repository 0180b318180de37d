package q931

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/q931/pkg/lapd"
	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/message"
	"github.com/arzzra/q931/pkg/q931/timer"
)

type sentFrame struct {
	tei   int
	frame []byte
}

// fakeLink звено, записывающее переданные кадры. Establish подтверждается
// сразу, как это делает LAPD при исправной линии.
type fakeLink struct {
	mu          sync.Mutex
	handler     lapd.Handler
	established map[int]bool
	sent        []sentFrame
	released    []int
	closed      bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{established: make(map[int]bool)}
}

func (l *fakeLink) Start(h lapd.Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
	return nil
}

func (l *fakeLink) Establish(tei int) error {
	l.mu.Lock()
	l.established[tei] = true
	h := l.handler
	l.mu.Unlock()
	h(lapd.Event{Kind: lapd.EstablishConfirm, TEI: tei})
	return nil
}

func (l *fakeLink) Release(tei int) error {
	l.mu.Lock()
	l.established[tei] = false
	l.released = append(l.released, tei)
	h := l.handler
	l.mu.Unlock()
	h(lapd.Event{Kind: lapd.ReleaseConfirm, TEI: tei})
	return nil
}

func (l *fakeLink) Send(tei int, frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, sentFrame{tei: tei, frame: append([]byte(nil), frame...)})
	return nil
}

func (l *fakeLink) SendBroadcast(frame []byte) error {
	return l.Send(lapd.BroadcastTEI, frame)
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) inject(ev lapd.Event) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	h(ev)
}

func (l *fakeLink) takeSent() []sentFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.sent
	l.sent = nil
	return out
}

type sentMessage struct {
	tei int
	*message.Message
}

// harness движок с одним интерфейсом, ручными часами и fakeLink
type harness struct {
	t     *testing.T
	e     *Engine
	clock *timer.ManualClock
	link  *fakeLink
	reg   *prometheus.Registry
	cfg   InterfaceConfig

	prims []Primitive
	msgs  []sentMessage
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, cfg InterfaceConfig) *harness {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "isdn0"
	}

	h := &harness{
		t:     t,
		clock: &timer.ManualClock{},
		link:  newFakeLink(),
		reg:   prometheus.NewRegistry(),
	}
	h.e = New(WithClock(h.clock), WithLogger(quietLogger()), WithRegisterer(h.reg))
	require.NoError(t, h.e.OpenInterface(cfg, func() (lapd.Link, error) { return h.link, nil }))
	h.cfg = h.intf().cfg
	t.Cleanup(func() { _ = h.e.Close() })
	return h
}

func newTEHarness(t *testing.T) *harness {
	h := newHarness(t, InterfaceConfig{Role: RoleTE, Type: BRA, Topology: PointToPoint})
	h.establish(0)
	return h
}

func newNTHarness(t *testing.T) *harness {
	h := newHarness(t, InterfaceConfig{Role: RoleNT, Type: BRA, Topology: PointToPoint})
	h.establish(0)
	return h
}

func (h *harness) intf() *Interface {
	return h.e.interfaces["isdn0"]
}

// poll обрабатывает очереди движка и собирает результаты
func (h *harness) poll() {
	h.e.Poll()
	h.prims = append(h.prims, h.e.Indications().Drain()...)
	for _, s := range h.link.takeSent() {
		m, err := message.Decode(s.frame)
		require.NoError(h.t, err)
		h.msgs = append(h.msgs, sentMessage{tei: s.tei, Message: m})
	}
	h.checkTimers()
}

func (h *harness) establish(tei int) {
	h.link.inject(lapd.Event{Kind: lapd.EstablishIndication, TEI: tei})
	h.poll()
	h.reset()
}

func (h *harness) reset() {
	h.prims = nil
	h.msgs = nil
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.poll()
}

func (h *harness) submit(r Request) {
	if r.Interface == "" {
		r.Interface = "isdn0"
	}
	require.NoError(h.t, h.e.Submit(r))
	h.poll()
}

// receive доставляет сообщение от удаленной стороны по звену tei
func (h *harness) receive(tei int, m *message.Message) {
	frame, err := m.Encode()
	require.NoError(h.t, err)
	kind := lapd.DataIndication
	if tei == lapd.BroadcastTEI {
		kind = lapd.UnitDataIndication
	}
	h.link.inject(lapd.Event{Kind: kind, TEI: tei, Frame: frame})
	h.poll()
}

// receiveFrame доставляет кадр как есть
func (h *harness) receiveFrame(tei int, frame []byte) {
	h.link.inject(lapd.Event{Kind: lapd.DataIndication, TEI: tei, Frame: frame})
	h.poll()
}

// ref ссылка вызова с точки зрения удаленной стороны
func (h *harness) ref(value uint16, flag bool) message.CallRef {
	return message.CallRef{Len: h.cfg.CallRefLen, Value: value, Flag: flag}
}

func (h *harness) globalRef(flag bool) message.CallRef {
	return message.CallRef{Len: h.cfg.CallRefLen, Flag: flag}
}

func (h *harness) sent(t message.Type) []sentMessage {
	var out []sentMessage
	for _, m := range h.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (h *harness) lastSent(t message.Type) sentMessage {
	h.t.Helper()
	list := h.sent(t)
	require.NotEmpty(h.t, list, "message %s was not sent", t)
	return list[len(list)-1]
}

func (h *harness) primitives(kind PrimitiveKind) []Primitive {
	var out []Primitive
	for _, p := range h.prims {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func (h *harness) primitive(kind PrimitiveKind) Primitive {
	h.t.Helper()
	list := h.primitives(kind)
	require.NotEmpty(h.t, list, "primitive %s was not delivered", kind)
	return list[len(list)-1]
}

func (h *harness) call(id CallID) *Call {
	h.t.Helper()
	c, ok := h.e.calls[id]
	require.True(h.t, ok, "call %d not found", id)
	return c
}

func (h *harness) state(id CallID) State {
	s, ok := h.e.CallState(id)
	if !ok {
		return StateNull
	}
	return s
}

// checkTimers таймер вызова может быть взведен только в состоянии,
// где у него есть обработчик
func (h *harness) checkTimers() {
	for _, c := range h.e.calls {
		for id, tm := range c.timers {
			if tm.Pending() {
				require.True(h.t, c.table().timerAllowed(c.state, id),
					"timer %s pending in %s", id, c.state.Label(c.role()))
			}
		}
	}
}

func causeValue(t *testing.T, ies []ie.IE) ie.CauseValue {
	t.Helper()
	c, ok := ie.Find(ies, ie.IDCause).(*ie.Cause)
	require.True(t, ok, "no cause IE")
	return c.Value
}

func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v != lp.GetValue() {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

// setupOutbound исходящий вызов; возвращает дескриптор и ссылку из SETUP
func (h *harness) setupOutbound(ies ...ie.IE) (CallID, uint16) {
	h.t.Helper()
	id, err := h.e.Setup("isdn0", "pvt", ies...)
	require.NoError(h.t, err)
	h.poll()
	setup := h.lastSent(message.Setup)
	return id, setup.CallRef.Value
}

// inboundSetup входящий SETUP с указанной ссылкой; возвращает дескриптор
func (h *harness) inboundSetup(tei int, ref uint16, ies ...ie.IE) CallID {
	h.t.Helper()
	ies = append([]ie.IE{ie.SpeechBearer()}, ies...)
	h.receive(tei, message.New(h.ref(ref, false), message.Setup, ies...))
	return h.primitive(SetupIndication).Call
}
