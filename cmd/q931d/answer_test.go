package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/q931/pkg/lapd"
	"github.com/arzzra/q931/pkg/q931"
	"github.com/arzzra/q931/pkg/q931/timer"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// answerBench сеть с приложением автоответа и телефон на одном канале в памяти
type answerBench struct {
	pbx, phone *q931.Engine
	app        *answerer
	received   []q931.Primitive
}

func newAnswerBench(t *testing.T, cfg AnswerConfig) *answerBench {
	clock := &timer.ManualClock{}
	pipe := lapd.NewPipe(0)

	open := func(cfg q931.InterfaceConfig, link lapd.Link) *q931.Engine {
		e := q931.New(q931.WithClock(clock), q931.WithLogger(quietLogger()), q931.WithRegisterer(prometheus.NewRegistry()))
		require.NoError(t, e.OpenInterface(cfg, func() (lapd.Link, error) { return link, nil }))
		t.Cleanup(func() { e.Close() })
		return e
	}

	b := &answerBench{
		pbx:   open(q931.InterfaceConfig{Name: "pbx", Role: q931.RoleNT, Type: q931.BRA, Topology: q931.PointToPoint}, pipe.NT()),
		phone: open(q931.InterfaceConfig{Name: "phone", Role: q931.RoleTE, Type: q931.BRA, Topology: q931.PointToPoint}, pipe.TE()),
	}
	b.app = newAnswerer(b.pbx, cfg, map[string]q931.Role{"pbx": q931.RoleNT}, quietLogger())
	t.Cleanup(b.app.stopAll)
	return b
}

func (b *answerBench) pump() {
	for n := 0; n < 8; n++ {
		b.pbx.Poll()
		for _, p := range b.pbx.Indications().Drain() {
			b.app.handle(p)
		}
		b.phone.Poll()
		b.received = append(b.received, b.phone.Indications().Drain()...)
	}
}

func (b *answerBench) got(kind q931.PrimitiveKind) (q931.Primitive, bool) {
	for _, p := range b.received {
		if p.Kind == kind {
			return p, true
		}
	}
	return q931.Primitive{}, false
}

func TestAnswererAnswersCall(t *testing.T) {
	b := newAnswerBench(t, AnswerConfig{Enabled: true, Alerting: true})

	id, err := b.phone.Setup("phone", nil)
	require.NoError(t, err)
	b.pump()

	_, alerted := b.got(q931.AlertingIndication)
	assert.True(t, alerted)
	conf, ok := b.got(q931.SetupConfirm)
	require.True(t, ok)
	assert.Equal(t, q931.StatusOK, conf.Status)
	state, _ := b.phone.CallState(id)
	assert.Equal(t, q931.StateActive, state)

	require.NoError(t, b.phone.Submit(q931.Request{Kind: q931.DisconnectRequest, Interface: "phone", Call: id}))
	b.pump()

	_, released := b.got(q931.ReleaseIndication)
	assert.True(t, released, "answerer releases after DISCONNECT")
	_, alive := b.phone.CallState(id)
	assert.False(t, alive)
}

func TestAnswererRejectsWhenDisabled(t *testing.T) {
	b := newAnswerBench(t, AnswerConfig{})

	id, err := b.phone.Setup("phone", nil)
	require.NoError(t, err)
	b.pump()

	p, ok := b.got(q931.RejectIndication)
	require.True(t, ok)
	assert.Equal(t, id, p.Call)
	_, connected := b.got(q931.SetupConfirm)
	assert.False(t, connected)
}

func TestAnswererHangsUp(t *testing.T) {
	b := newAnswerBench(t, AnswerConfig{Enabled: true, HangupAfter: 20 * time.Millisecond})

	id, err := b.phone.Setup("phone", nil)
	require.NoError(t, err)
	b.pump()
	_, ok := b.got(q931.SetupConfirm)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		b.pump()
		_, ok := b.got(q931.DisconnectIndication)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, b.phone.Submit(q931.Request{Kind: q931.ReleaseRequest, Interface: "phone", Call: id}))
	b.pump()
	_, alive := b.phone.CallState(id)
	assert.False(t, alive)
}
