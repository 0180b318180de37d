package q931

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/q931/pkg/lapd"
	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/timer"
)

// side одна сторона соединения двух движков через lapd.Pipe
type side struct {
	e     *Engine
	prims []Primitive
}

func (s *side) take(t *testing.T, kind PrimitiveKind) Primitive {
	t.Helper()
	for n, p := range s.prims {
		if p.Kind == kind {
			s.prims = append(s.prims[:n], s.prims[n+1:]...)
			return p
		}
	}
	require.Failf(t, "primitive not delivered", "%s", kind)
	return Primitive{}
}

type loopback struct {
	t      *testing.T
	nt, te *side
}

func newLoopback(t *testing.T) *loopback {
	clock := &timer.ManualClock{}
	pipe := lapd.NewPipe(0)

	newSide := func(cfg InterfaceConfig, link lapd.Link) *side {
		e := New(WithClock(clock), WithLogger(quietLogger()), WithRegisterer(prometheus.NewRegistry()))
		require.NoError(t, e.OpenInterface(cfg, func() (lapd.Link, error) { return link, nil }))
		t.Cleanup(func() { _ = e.Close() })
		return &side{e: e}
	}

	return &loopback{
		t:  t,
		nt: newSide(InterfaceConfig{Name: "pbx", Role: RoleNT, Type: BRA, Topology: PointToPoint}, pipe.NT()),
		te: newSide(InterfaceConfig{Name: "phone", Role: RoleTE, Type: BRA, Topology: PointToPoint}, pipe.TE()),
	}
}

// pump обрабатывает обе стороны, пока кадры не перестанут ходить
func (l *loopback) pump() {
	for n := 0; n < 8; n++ {
		for _, s := range []*side{l.nt, l.te} {
			s.e.Poll()
			s.prims = append(s.prims, s.e.Indications().Drain()...)
		}
	}
}

func TestLoopbackCallSetupAndClearing(t *testing.T) {
	l := newLoopback(t)

	teCall, err := l.te.e.Setup("phone", "handset", ie.NewCalledPartyNumber("2001"))
	require.NoError(t, err)
	l.pump()

	in := l.nt.take(t, SetupIndication)
	assert.Equal(t, 0, in.Channel)
	number, ok := ie.Find(in.IEs, ie.IDCalledPartyNumber).(*ie.CalledPartyNumber)
	require.True(t, ok)
	assert.Equal(t, "2001", number.Digits)
	ntCall := in.Call

	require.NoError(t, l.nt.e.Submit(Request{Kind: AlertingRequest, Interface: "pbx", Call: ntCall}))
	l.pump()
	alerting := l.te.take(t, AlertingIndication)
	assert.Equal(t, "handset", alerting.Pvt)
	assert.Equal(t, 0, alerting.Channel, "channel taken from the network's first response")

	require.NoError(t, l.nt.e.Submit(Request{Kind: SetupResponse, Interface: "pbx", Call: ntCall}))
	l.pump()
	assert.Equal(t, StatusOK, l.te.take(t, SetupConfirm).Status)
	l.nt.take(t, ConnectIndication)

	teState, _ := l.te.e.CallState(teCall)
	ntState, _ := l.nt.e.CallState(ntCall)
	assert.Equal(t, StateActive, teState)
	assert.Equal(t, StateActive, ntState)

	require.NoError(t, l.te.e.Submit(Request{Kind: DisconnectRequest, Interface: "phone", Call: teCall}))
	l.pump()
	l.nt.take(t, DisconnectIndication)

	require.NoError(t, l.nt.e.Submit(Request{Kind: ReleaseRequest, Interface: "pbx", Call: ntCall}))
	l.pump()
	l.te.take(t, ReleaseIndication)
	l.nt.take(t, ReleaseConfirm)

	_, alive := l.te.e.CallState(teCall)
	assert.False(t, alive)
	_, alive = l.nt.e.CallState(ntCall)
	assert.False(t, alive)
}

func TestLoopbackRestart(t *testing.T) {
	l := newLoopback(t)

	teCall, err := l.te.e.Setup("phone", nil)
	require.NoError(t, err)
	l.pump()
	ntCall := l.nt.take(t, SetupIndication).Call
	require.NoError(t, l.nt.e.Submit(Request{Kind: SetupResponse, Interface: "pbx", Call: ntCall}))
	l.pump()

	require.NoError(t, l.nt.e.Restart("pbx", ie.NewChannelSet(0)))
	l.pump()

	l.te.take(t, ReleaseIndication)
	l.nt.take(t, ReleaseIndication)
	assert.Equal(t, ie.NewChannelSet(0), l.te.take(t, ManagementRestartConfirm).Channels)
	assert.Equal(t, ie.NewChannelSet(0), l.nt.take(t, ManagementRestartConfirm).Channels)

	_, alive := l.te.e.CallState(teCall)
	assert.False(t, alive)
	_, alive = l.nt.e.CallState(ntCall)
	assert.False(t, alive)
}
