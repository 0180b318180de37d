package backhaul

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/arzzra/q931/pkg/lapd"
)

// KeepAlivePeriod период keep-alive соединения QUIC
const KeepAlivePeriod = 10 * time.Second

func quicConfig() *quic.Config {
	return &quic.Config{KeepAlivePeriod: KeepAlivePeriod}
}

// Link удаленное звено данных: реализует lapd.Link, передавая запросы
// мосту и получая от него примитивы звена.
type Link struct {
	session string
	log     *slog.Logger
	conn    *quic.Conn
	stream  *quic.Stream

	wmu sync.Mutex

	mu      sync.Mutex
	handler lapd.Handler
	up      map[int]bool
	closed  bool
	failed  error

	done chan struct{}
}

// Dial подключается к мосту по адресу addr
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, logger *slog.Logger) (*Link, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("backhaul: dial %s: %w", addr, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return nil, fmt.Errorf("backhaul: open stream: %w", err)
	}

	session := uuid.NewString()
	l := &Link{
		session: session,
		log: logger.With(
			slog.String("component", "backhaul"),
			slog.String("bridge", addr),
			slog.String("session", session)),
		conn:   conn,
		stream: stream,
		up:     make(map[int]bool),
		done:   make(chan struct{}),
	}

	// поток становится видимым мосту только после первых данных
	if err := l.write(Envelope{Kind: KindHello, Session: session}); err != nil {
		conn.CloseWithError(0, "hello failed")
		return nil, fmt.Errorf("backhaul: hello: %w", err)
	}

	l.log.Info("connected to bridge")
	return l, nil
}

// Session идентификатор сессии, переданный мосту в приветствии
func (l *Link) Session() string { return l.session }

func (l *Link) Start(h lapd.Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return lapd.ErrClosed
	}
	if l.handler != nil {
		return errors.New("backhaul: link already started")
	}
	l.handler = h
	go l.readLoop()
	return nil
}

func (l *Link) Establish(tei int) error {
	return l.request(Envelope{Kind: KindEstablish, TEI: tei})
}

func (l *Link) Release(tei int) error {
	return l.request(Envelope{Kind: KindRelease, TEI: tei})
}

func (l *Link) Send(tei int, frame []byte) error {
	return l.request(Envelope{Kind: KindData, TEI: tei, Frame: frame})
}

func (l *Link) SendBroadcast(frame []byte) error {
	return l.request(Envelope{Kind: KindUnitData, TEI: lapd.BroadcastTEI, Frame: frame})
}

func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	started := l.handler != nil
	l.handler = nil
	l.mu.Unlock()

	l.stream.Close()
	err := l.conn.CloseWithError(0, "link closed")
	if started {
		<-l.done
	}
	return err
}

func (l *Link) request(env Envelope) error {
	l.mu.Lock()
	closed, failed := l.closed, l.failed
	l.mu.Unlock()

	if closed {
		return lapd.ErrClosed
	}
	if failed != nil {
		return fmt.Errorf("backhaul: %s: %w", env.Kind, failed)
	}
	return l.write(env)
}

func (l *Link) write(env Envelope) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return WriteEnvelope(l.stream, env)
}

func (l *Link) readLoop() {
	defer close(l.done)

	for {
		env, err := ReadEnvelope(l.stream)
		if err != nil {
			l.fail(err)
			return
		}

		ev, ok := env.Event()
		if !ok {
			l.log.Warn("unexpected envelope from bridge", "kind", env.Kind.String())
			continue
		}

		l.mu.Lock()
		switch ev.Kind {
		case lapd.EstablishIndication, lapd.EstablishConfirm:
			l.up[ev.TEI] = true
		case lapd.ReleaseIndication, lapd.ReleaseConfirm:
			delete(l.up, ev.TEI)
		}
		h := l.handler
		l.mu.Unlock()

		if h != nil {
			h(ev)
		}
	}
}

// fail переводит звено в состояние отказа: для каждого установленного
// TEI доставляется DL-RELEASE-IND
func (l *Link) fail(err error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.failed = err
	teis := make([]int, 0, len(l.up))
	for tei := range l.up {
		teis = append(teis, tei)
	}
	l.up = make(map[int]bool)
	h := l.handler
	l.mu.Unlock()

	l.log.Warn("bridge connection lost", "error", err, "links", len(teis))
	if h == nil {
		return
	}
	for _, tei := range teis {
		h(lapd.Event{Kind: lapd.ReleaseIndication, TEI: tei, Err: err})
	}
}
