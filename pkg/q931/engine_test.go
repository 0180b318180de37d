package q931

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/q931/pkg/lapd"
	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/message"
	"github.com/arzzra/q931/pkg/q931/timer"
)

func TestCallReferencesUniqueUntilExhausted(t *testing.T) {
	h := newTEHarness(t)

	for n := 0; n < 127; n++ {
		_, err := h.e.Setup("isdn0", n)
		require.NoError(t, err)
	}
	h.poll()

	refs := make(map[uint16]bool)
	for _, m := range h.sent(message.Setup) {
		assert.False(t, refs[m.CallRef.Value], "call reference %d reused", m.CallRef.Value)
		refs[m.CallRef.Value] = true
	}
	assert.Len(t, refs, 127)
	assert.Empty(t, h.primitives(RejectIndication))

	id, err := h.e.Setup("isdn0", "extra")
	require.NoError(t, err)
	h.poll()
	p := h.primitive(RejectIndication)
	assert.Equal(t, id, p.Call)
	assert.Equal(t, "extra", p.Pvt)
	assert.Equal(t, ie.CauseResourcesUnavailable, causeValue(t, p.IEs))
	assert.Equal(t, 127.0, metricValue(t, h.reg, "q931_calls_active", nil))
}

func TestStaleCallRequest(t *testing.T) {
	h := newTEHarness(t)

	id, ref := h.setupOutbound()
	h.receive(0, message.New(h.ref(ref, true), message.ReleaseComplete,
		ie.NewCause(ie.LocationPublicNetworkLocalUser, ie.CauseUserBusy)))
	assert.NotEmpty(t, h.primitives(RejectIndication))
	h.reset()

	h.submit(Request{Kind: DisconnectRequest, Call: id})
	p := h.primitive(ErrorIndication)
	assert.Equal(t, id, p.Call)
	assert.Equal(t, StatusError, p.Status)
	assert.Equal(t, ie.CauseInvalidCallReference, causeValue(t, p.IEs))
	assert.Empty(t, h.msgs)
}

func TestRequestNotValidInState(t *testing.T) {
	h := newTEHarness(t)
	id, _ := h.setupOutbound()

	h.submit(Request{Kind: SuspendRequest, Call: id})
	p := h.primitive(ErrorIndication)
	assert.Equal(t, ie.CauseMessageNotCompatibleWithState, causeValue(t, p.IEs))
	assert.Equal(t, StateCallInitiated, h.state(id))
}

func TestResumeRequestOnNetworkSide(t *testing.T) {
	h := newNTHarness(t)

	h.submit(Request{Kind: ResumeRequest})
	assert.Equal(t, ie.CauseMessageNotCompatibleWithState, causeValue(t, h.primitive(ErrorIndication).IEs))
	assert.Empty(t, h.msgs)
}

func TestAttachReplacesApplicationObject(t *testing.T) {
	h := newTEHarness(t)
	id, ref := activeTECall(t, h)

	h.submit(Request{Kind: AttachRequest, Call: id, Pvt: "bridge"})
	h.receive(0, message.New(h.ref(ref, true), message.Release))
	assert.Equal(t, "bridge", h.primitive(ReleaseIndication).Pvt)
}

func TestUnknownCallReference(t *testing.T) {
	h := newTEHarness(t)

	h.receive(0, message.New(h.ref(5, true), message.Alerting))
	rc := h.lastSent(message.ReleaseComplete)
	assert.Equal(t, ie.CauseInvalidCallReference, causeValue(t, rc.IEs))
	assert.False(t, rc.CallRef.Flag)

	h.reset()
	h.receive(0, message.New(h.ref(5, true), message.StatusEnquiry))
	st := h.lastSent(message.Status)
	assert.Equal(t, ie.CauseResponseToStatusEnquiry, causeValue(t, st.IEs))
	assert.Equal(t, ie.CallStateValue(0), st.Find(ie.IDCallState).(*ie.CallState).Value)

	h.reset()
	h.receive(0, message.New(h.ref(5, true), message.ReleaseComplete))
	h.receive(0, message.New(h.ref(5, true), message.Status,
		ie.NewCause(ie.LocationPublicNetworkLocalUser, ie.CauseResponseToStatusEnquiry),
		&ie.CallState{Value: 0}))
	assert.Empty(t, h.msgs)

	h.receive(0, message.New(h.ref(5, true), message.Status,
		ie.NewCause(ie.LocationPublicNetworkLocalUser, ie.CauseResponseToStatusEnquiry),
		&ie.CallState{Value: ie.CallStateValue(StateActive)}))
	rc = h.lastSent(message.ReleaseComplete)
	assert.Equal(t, ie.CauseMessageNotCompatibleWithState, causeValue(t, rc.IEs))
	assert.Empty(t, h.primitives(SetupIndication))
}

func TestDummyCallReferenceIgnored(t *testing.T) {
	h := newTEHarness(t)

	h.receive(0, message.New(message.CallRef{}, message.Information))
	assert.Empty(t, h.msgs)
	assert.Empty(t, h.prims)
}

func TestLinkFailureKeepsActiveCall(t *testing.T) {
	h := newTEHarness(t)
	id, ref := activeTECall(t, h)

	h.link.inject(lapd.Event{Kind: lapd.ReleaseIndication, TEI: 0})
	h.poll()
	assert.Equal(t, StatusError, h.primitive(ManagementStatus).Status)
	assert.Equal(t, StateActive, h.state(id))
	assert.True(t, h.call(id).timerPending(T309))

	h.advance(30 * time.Second)
	h.link.inject(lapd.Event{Kind: lapd.EstablishIndication, TEI: 0})
	h.poll()
	assert.False(t, h.call(id).timerPending(T309))
	assert.Len(t, h.sent(message.StatusEnquiry), 1)
	assert.True(t, h.call(id).timerPending(T322))

	h.receive(0, message.New(h.ref(ref, true), message.Status,
		ie.NewCause(ie.LocationPublicNetworkLocalUser, ie.CauseResponseToStatusEnquiry),
		&ie.CallState{Value: ie.CallStateValue(StateActive)}))
	assert.Equal(t, StatusOK, h.primitive(StatusIndication).Status)
	assert.Equal(t, StateActive, h.state(id))
}

func TestLinkNotRestored(t *testing.T) {
	h := newTEHarness(t)
	id, _ := activeTECall(t, h)

	h.link.inject(lapd.Event{Kind: lapd.ReleaseIndication, TEI: 0})
	h.poll()
	h.advance(90 * time.Second)

	p := h.primitive(ReleaseIndication)
	assert.Equal(t, ie.CauseDestinationOutOfOrder, causeValue(t, p.IEs))
	_, alive := h.e.CallState(id)
	assert.False(t, alive)
	assert.Equal(t, ChannelAvailable, h.intf().channels[0].State)
}

func TestLinkFailureClearsCallInProgress(t *testing.T) {
	h := newTEHarness(t)
	id, _ := h.setupOutbound()

	h.link.inject(lapd.Event{Kind: lapd.ReleaseIndication, TEI: 0})
	h.poll()

	assert.Equal(t, ie.CauseTemporaryFailure, causeValue(t, h.primitive(ReleaseIndication).IEs))
	_, alive := h.e.CallState(id)
	assert.False(t, alive)
}

func TestSetupQueuedUntilLinkEstablished(t *testing.T) {
	h := newHarness(t, InterfaceConfig{Role: RoleTE, Type: BRA, Topology: PointToPoint})

	h.setupOutbound()
	assert.True(t, h.link.established[0], "SETUP triggers DL-ESTABLISH")
	assert.Equal(t, dlcEstablished, h.intf().mainDLC().Status())
}

func TestDLCAutorelease(t *testing.T) {
	h := newHarness(t, InterfaceConfig{
		Role:           RoleTE,
		Type:           BRA,
		Topology:       PointToPoint,
		DLCAutorelease: 10 * time.Second,
	})
	h.establish(0)
	id, ref := activeTECall(t, h)

	h.advance(20 * time.Second)
	assert.Empty(t, h.link.released, "held by an active call")

	h.receive(0, message.New(h.ref(ref, true), message.Release))
	_, alive := h.e.CallState(id)
	require.False(t, alive)

	h.advance(10 * time.Second)
	assert.Equal(t, []int{0}, h.link.released)
	assert.Equal(t, dlcReleased, h.intf().mainDLC().Status())
}

func TestOpenInterfaceRetries(t *testing.T) {
	clock := &timer.ManualClock{}
	e := New(WithClock(clock), WithLogger(quietLogger()), WithRegisterer(prometheus.NewRegistry()))
	defer e.Close()

	link := newFakeLink()
	attempts := 0
	open := func() (lapd.Link, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("device busy")
		}
		return link, nil
	}

	require.NoError(t, e.OpenInterface(InterfaceConfig{Name: "isdn0"}, open))
	assert.Equal(t, 1, attempts)
	assert.Nil(t, e.interfaces["isdn0"].link)

	clock.Advance(openRetryInterval)
	e.Poll()
	assert.Equal(t, 2, attempts)
	assert.Equal(t, lapd.Link(link), e.interfaces["isdn0"].link)
}

func TestOpenInterfaceErrors(t *testing.T) {
	e := New(WithLogger(quietLogger()))
	open := func() (lapd.Link, error) { return newFakeLink(), nil }

	assert.ErrorIs(t, e.OpenInterface(InterfaceConfig{Name: "isdn0"}, nil), ErrInvalidConfig)
	assert.ErrorIs(t, e.OpenInterface(InterfaceConfig{Name: "isdn0", Role: "pbx"}, open), ErrInvalidConfig)

	require.NoError(t, e.OpenInterface(InterfaceConfig{Name: "isdn0"}, open))
	assert.ErrorIs(t, e.OpenInterface(InterfaceConfig{Name: "isdn0"}, open), ErrInterfaceExists)

	_, err := e.Setup("isdn9", nil)
	assert.ErrorIs(t, err, ErrUnknownInterface)
	assert.ErrorIs(t, e.CloseInterface("isdn9"), ErrUnknownInterface)

	require.NoError(t, e.Close())
	assert.NoError(t, e.Close())
	assert.ErrorIs(t, e.OpenInterface(InterfaceConfig{Name: "isdn1"}, open), ErrEngineClosed)
	assert.ErrorIs(t, e.Submit(Request{Kind: DisconnectRequest, Call: 1}), ErrEngineClosed)
}

func TestCloseInterfaceReleasesCalls(t *testing.T) {
	h := newTEHarness(t)
	id, _ := activeTECall(t, h)

	require.NoError(t, h.e.CloseInterface("isdn0"))
	h.poll()

	p := h.primitive(ReleaseIndication)
	assert.Equal(t, id, p.Call)
	assert.Equal(t, ie.CauseTemporaryFailure, causeValue(t, p.IEs))
	assert.True(t, h.link.closed)
	_, alive := h.e.CallState(id)
	assert.False(t, alive)
	assert.Equal(t, 0.0, metricValue(t, h.reg, "q931_calls_active", nil))
}

func TestRunDeliversPrimitives(t *testing.T) {
	e := New(WithClock(&timer.ManualClock{}), WithLogger(quietLogger()))
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.NoError(t, e.Submit(Request{Kind: DisconnectRequest, Call: 42}))

	select {
	case <-e.Indications().Notify():
	case <-time.After(5 * time.Second):
		t.Fatal("no primitive delivered")
	}
	prims := e.Indications().Drain()
	require.Len(t, prims, 1)
	assert.Equal(t, ErrorIndication, prims[0].Kind)
	assert.Equal(t, CallID(42), prims[0].Call)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
