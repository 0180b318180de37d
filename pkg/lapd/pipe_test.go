package lapd

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func startedPipe(t *testing.T, tei int) (*Pipe, *recorder, *recorder) {
	t.Helper()
	p := NewPipe(tei)
	nt, te := &recorder{}, &recorder{}
	require.NoError(t, p.NT().Start(nt.handle))
	require.NoError(t, p.TE().Start(te.handle))
	return p, nt, te
}

func TestPipeEstablishAndData(t *testing.T) {
	p, nt, te := startedPipe(t, 64)

	assert.ErrorIs(t, p.TE().Send(64, []byte{0x08}), ErrNotStarted)

	require.NoError(t, p.TE().Establish(64))
	assert.True(t, p.Established())
	assert.Equal(t, []EventKind{EstablishConfirm}, te.kinds())
	assert.Equal(t, []EventKind{EstablishIndication}, nt.kinds())

	frame := []byte{0x08, 0x01, 0x01, 0x05}
	require.NoError(t, p.TE().Send(64, frame))
	frame[3] = 0xff

	require.Len(t, nt.events, 2)
	got := nt.events[1]
	assert.Equal(t, DataIndication, got.Kind)
	assert.Equal(t, 64, got.TEI)
	assert.Equal(t, []byte{0x08, 0x01, 0x01, 0x05}, got.Frame, "frame is copied")

	assert.ErrorIs(t, p.NT().Send(65, frame), ErrUnknownTEI)
}

func TestPipeEstablishTwice(t *testing.T) {
	p, nt, te := startedPipe(t, 0)

	require.NoError(t, p.TE().Establish(0))
	require.NoError(t, p.NT().Establish(0))
	assert.Equal(t, []EventKind{EstablishIndication, EstablishConfirm}, nt.kinds())
	assert.Equal(t, []EventKind{EstablishConfirm}, te.kinds(), "peer is not notified again")
}

func TestPipeRelease(t *testing.T) {
	p, nt, te := startedPipe(t, 0)
	require.NoError(t, p.TE().Establish(0))

	require.NoError(t, p.NT().Release(0))
	assert.False(t, p.Established())
	assert.Equal(t, ReleaseConfirm, nt.kinds()[1])
	assert.Equal(t, ReleaseIndication, te.kinds()[1])
}

func TestPipeFail(t *testing.T) {
	p, nt, te := startedPipe(t, 0)

	p.Fail()
	assert.Empty(t, nt.kinds(), "nothing to fail before establishment")

	require.NoError(t, p.TE().Establish(0))
	p.Fail()
	assert.Equal(t, ReleaseIndication, nt.kinds()[1])
	assert.Equal(t, ReleaseIndication, te.kinds()[1])
}

func TestPipeBroadcast(t *testing.T) {
	p, _, te := startedPipe(t, 0)

	require.NoError(t, p.NT().SendBroadcast([]byte{0x08, 0x01, 0x01, 0x05}))
	require.Len(t, te.events, 1)
	assert.Equal(t, UnitDataIndication, te.events[0].Kind)
	assert.Equal(t, BroadcastTEI, te.events[0].TEI)
}

func TestPipeClose(t *testing.T) {
	p, nt, _ := startedPipe(t, 0)

	require.NoError(t, p.NT().Close())
	assert.ErrorIs(t, p.NT().Establish(0), ErrClosed)
	assert.ErrorIs(t, p.NT().SendBroadcast(nil), ErrClosed)
	assert.ErrorIs(t, p.NT().Start(nt.handle), ErrClosed)

	require.NoError(t, p.TE().Establish(0))
	assert.Empty(t, nt.kinds(), "closed end receives nothing")
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "DL-ESTABLISH-IND", EstablishIndication.String())
	assert.Equal(t, "DL-UNIT-DATA-IND", UnitDataIndication.String())
	assert.Equal(t, "EventKind(9)", EventKind(9).String())
}
