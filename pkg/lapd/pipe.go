package lapd

import (
	"sync"
)

// Pipe соединяет две стороны интерфейса в памяти: сторону сети (NT) и
// один терминал (TE) с фиксированным TEI.
type Pipe struct {
	mu  sync.Mutex
	tei int
	nt  *PipeEnd
	te  *PipeEnd

	established bool
}

// PipeEnd одна сторона Pipe, реализует Link
type PipeEnd struct {
	pipe    *Pipe
	network bool
	handler Handler
	closed  bool
}

// NewPipe создает соединенную пару сторон. tei номер терминала.
func NewPipe(tei int) *Pipe {
	p := &Pipe{tei: tei}
	p.nt = &PipeEnd{pipe: p, network: true}
	p.te = &PipeEnd{pipe: p}
	return p
}

// NT сторона сети
func (p *Pipe) NT() *PipeEnd { return p.nt }

// TE сторона терминала
func (p *Pipe) TE() *PipeEnd { return p.te }

// Established сообщает состояние звена терминала
func (p *Pipe) Established() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.established
}

// Fail имитирует разрыв звена: обе стороны получают DL-RELEASE-IND
func (p *Pipe) Fail() {
	p.mu.Lock()
	was := p.established
	p.established = false
	p.mu.Unlock()

	if was {
		p.nt.deliver(Event{Kind: ReleaseIndication, TEI: p.tei})
		p.te.deliver(Event{Kind: ReleaseIndication, TEI: p.tei})
	}
}

func (e *PipeEnd) peer() *PipeEnd {
	if e.network {
		return e.pipe.te
	}
	return e.pipe.nt
}

func (e *PipeEnd) deliver(ev Event) {
	e.pipe.mu.Lock()
	h := e.handler
	closed := e.closed
	e.pipe.mu.Unlock()

	if h != nil && !closed {
		h(ev)
	}
}

func (e *PipeEnd) Start(h Handler) error {
	e.pipe.mu.Lock()
	defer e.pipe.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.handler = h
	return nil
}

func (e *PipeEnd) Establish(tei int) error {
	if err := e.check(tei); err != nil {
		return err
	}

	e.pipe.mu.Lock()
	was := e.pipe.established
	e.pipe.established = true
	e.pipe.mu.Unlock()

	e.deliver(Event{Kind: EstablishConfirm, TEI: e.pipe.tei})
	if !was {
		e.peer().deliver(Event{Kind: EstablishIndication, TEI: e.pipe.tei})
	}
	return nil
}

func (e *PipeEnd) Release(tei int) error {
	if err := e.check(tei); err != nil {
		return err
	}

	e.pipe.mu.Lock()
	was := e.pipe.established
	e.pipe.established = false
	e.pipe.mu.Unlock()

	e.deliver(Event{Kind: ReleaseConfirm, TEI: e.pipe.tei})
	if was {
		e.peer().deliver(Event{Kind: ReleaseIndication, TEI: e.pipe.tei})
	}
	return nil
}

func (e *PipeEnd) Send(tei int, frame []byte) error {
	if err := e.check(tei); err != nil {
		return err
	}
	if !e.pipe.Established() {
		return ErrNotStarted
	}
	e.peer().deliver(Event{Kind: DataIndication, TEI: e.pipe.tei, Frame: append([]byte(nil), frame...)})
	return nil
}

func (e *PipeEnd) SendBroadcast(frame []byte) error {
	if e.isClosed() {
		return ErrClosed
	}
	e.peer().deliver(Event{Kind: UnitDataIndication, TEI: BroadcastTEI, Frame: append([]byte(nil), frame...)})
	return nil
}

func (e *PipeEnd) Close() error {
	e.pipe.mu.Lock()
	e.closed = true
	e.handler = nil
	e.pipe.mu.Unlock()
	return nil
}

func (e *PipeEnd) isClosed() bool {
	e.pipe.mu.Lock()
	defer e.pipe.mu.Unlock()
	return e.closed
}

func (e *PipeEnd) check(tei int) error {
	if e.isClosed() {
		return ErrClosed
	}
	if tei != e.pipe.tei {
		return ErrUnknownTEI
	}
	return nil
}
