package backhaul

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/q931/pkg/lapd"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collector struct {
	mu     sync.Mutex
	events []lapd.Event
}

func (c *collector) handle(ev lapd.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

// wait ждет событие нужного типа и возвращает его
func (c *collector) wait(t *testing.T, kind lapd.EventKind) lapd.Event {
	t.Helper()
	var found lapd.Event
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		for n, ev := range c.events {
			if ev.Kind == kind {
				found = ev
				c.events = append(c.events[:n], c.events[n+1:]...)
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "event %s not delivered", kind)
	return found
}

func TestEnvelopeStream(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteEnvelope(&buf, Envelope{Kind: KindHello}))
	require.NoError(t, WriteEnvelope(&buf, FromEvent(lapd.Event{
		Kind:  lapd.ReleaseIndication,
		TEI:   64,
		Frame: []byte{0x08, 0x01, 0x81, 0x4d},
		Err:   errors.New("T200 expired"),
	})))

	env, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindHello, env.Kind)
	assert.Empty(t, env.Session)
	_, ok := env.Event()
	assert.False(t, ok, "requests carry no link event")

	env, err = ReadEnvelope(&buf)
	require.NoError(t, err)
	ev, ok := env.Event()
	require.True(t, ok)
	assert.Equal(t, lapd.ReleaseIndication, ev.Kind)
	assert.Equal(t, 64, ev.TEI)
	assert.Equal(t, []byte{0x08, 0x01, 0x81, 0x4d}, ev.Frame)
	assert.EqualError(t, ev.Err, "T200 expired")

	_, err = ReadEnvelope(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEnvelopeLimits(t *testing.T) {
	_, err := ReadEnvelope(bytes.NewReader([]byte{0x00, 0x01, 0x00, 0x00}))
	assert.ErrorIs(t, err, ErrEnvelopeTooLarge)

	_, err = ReadEnvelope(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x08, 0x81}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadEnvelope(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x01, 0xc1}))
	assert.Error(t, err, "0xc1 is never used in msgpack")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "establish", KindEstablish.String())
	assert.Equal(t, "DL-DATA-IND", FromEvent(lapd.Event{Kind: lapd.DataIndication}).Kind.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}

// backhaulPair мост над стороной TE канала в памяти и клиент Link
type backhaulPair struct {
	pipe   *lapd.Pipe
	nt     *collector
	remote *collector
	link   *Link
	stop   context.CancelFunc
	served chan error
}

func newBackhaulPair(t *testing.T) *backhaulPair {
	t.Helper()

	serverTLS, err := GenerateTLSConfig()
	require.NoError(t, err)
	ln, err := Listen("127.0.0.1:0", serverTLS)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	p := &backhaulPair{
		pipe:   lapd.NewPipe(0),
		nt:     &collector{},
		remote: &collector{},
		served: make(chan error, 1),
	}
	require.NoError(t, p.pipe.NT().Start(p.nt.handle))

	bridge, err := NewBridge(p.pipe.TE(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { bridge.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	t.Cleanup(cancel)
	go func() { p.served <- bridge.Serve(ctx, ln) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	p.link, err = Dial(dialCtx, ln.Addr().String(), ClientTLSConfig(true), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { p.link.Close() })
	require.Len(t, p.link.Session(), 36)
	require.NoError(t, p.link.Start(p.remote.handle))
	return p
}

func TestBackhaulCarriesLink(t *testing.T) {
	p := newBackhaulPair(t)

	require.NoError(t, p.link.Establish(0))
	assert.Equal(t, 0, p.remote.wait(t, lapd.EstablishConfirm).TEI)
	p.nt.wait(t, lapd.EstablishIndication)
	assert.True(t, p.pipe.Established())

	setup := []byte{0x08, 0x01, 0x01, 0x05, 0x04, 0x03, 0x80, 0x90, 0xa3}
	require.NoError(t, p.link.Send(0, setup))
	assert.Equal(t, setup, p.nt.wait(t, lapd.DataIndication).Frame)

	alerting := []byte{0x08, 0x01, 0x81, 0x01}
	require.NoError(t, p.pipe.NT().Send(0, alerting))
	assert.Equal(t, alerting, p.remote.wait(t, lapd.DataIndication).Frame)

	require.NoError(t, p.pipe.NT().SendBroadcast(setup))
	ui := p.remote.wait(t, lapd.UnitDataIndication)
	assert.Equal(t, lapd.BroadcastTEI, ui.TEI)

	require.NoError(t, p.link.Release(0))
	p.remote.wait(t, lapd.ReleaseConfirm)
	p.nt.wait(t, lapd.ReleaseIndication)
}

func TestBackhaulLocalErrorReported(t *testing.T) {
	p := newBackhaulPair(t)

	require.NoError(t, p.link.Establish(5))
	ev := p.remote.wait(t, lapd.ReleaseIndication)
	assert.Equal(t, 5, ev.TEI)
	assert.Contains(t, ev.Err.Error(), "unknown TEI")
}

func TestBackhaulConnectionLoss(t *testing.T) {
	p := newBackhaulPair(t)

	require.NoError(t, p.link.Establish(0))
	p.remote.wait(t, lapd.EstablishConfirm)

	p.stop()
	ev := p.remote.wait(t, lapd.ReleaseIndication)
	assert.Equal(t, 0, ev.TEI)
	assert.Error(t, ev.Err)

	select {
	case err := <-p.served:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}

	require.Eventually(t, func() bool {
		return p.link.Send(0, []byte{0x08}) != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBridgeDispatchRejectsHello(t *testing.T) {
	b := &Bridge{log: quietLogger()}
	assert.ErrorIs(t, b.dispatch(Envelope{Kind: KindHello}), ErrUnexpectedKind)
}
