package backhaul

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/arzzra/q931/pkg/lapd"
)

// Listen открывает слушающий сокет QUIC для моста
func Listen(addr string, tlsConf *tls.Config) (*quic.Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("backhaul: listen %s: %w", addr, err)
	}
	return ln, nil
}

// Bridge отдает локальное звено данных одному удаленному клиенту.
// Клиенты обслуживаются по очереди; пока клиента нет, примитивы
// локального звена отбрасываются.
type Bridge struct {
	local lapd.Link
	log   *slog.Logger

	mu      sync.Mutex
	session *quic.Stream
	wmu     sync.Mutex
}

// NewBridge запускает доставку событий локального звена в мост
func NewBridge(local lapd.Link, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		local: local,
		log:   logger.With(slog.String("component", "backhaul-bridge")),
	}
	if err := local.Start(b.forward); err != nil {
		return nil, fmt.Errorf("backhaul: start local link: %w", err)
	}
	return b, nil
}

// Serve принимает клиентов до отмены ctx или закрытия ln
func (b *Bridge) Serve(ctx context.Context, ln *quic.Listener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("backhaul: accept: %w", err)
		}

		err = b.serveConn(ctx, conn)
		b.log.Info("client disconnected", "client", conn.RemoteAddr().String(), "error", err)
	}
}

// Close закрывает локальное звено
func (b *Bridge) Close() error {
	return b.local.Close()
}

func (b *Bridge) serveConn(ctx context.Context, conn *quic.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.CloseWithError(0, "bridge stopped")
		case <-done:
		}
	}()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return err
	}

	hello, err := ReadEnvelope(stream)
	if err != nil {
		conn.CloseWithError(0, "no hello")
		return err
	}
	if hello.Kind != KindHello {
		conn.CloseWithError(0, "protocol error")
		return fmt.Errorf("%w: %s before hello", ErrUnexpectedKind, hello.Kind)
	}

	b.log.Info("client connected", "client", conn.RemoteAddr().String(), "session", hello.Session)

	b.mu.Lock()
	b.session = stream
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.session = nil
		b.mu.Unlock()
		conn.CloseWithError(0, "session closed")
	}()

	for {
		env, err := ReadEnvelope(stream)
		if err != nil {
			return err
		}
		if err := b.dispatch(env); err != nil {
			b.log.Warn("request failed", "kind", env.Kind.String(), "tei", env.TEI, "error", err)
			if env.Kind == KindEstablish {
				b.forward(lapd.Event{Kind: lapd.ReleaseIndication, TEI: env.TEI, Err: err})
			}
		}
	}
}

func (b *Bridge) dispatch(env Envelope) error {
	switch env.Kind {
	case KindEstablish:
		return b.local.Establish(env.TEI)
	case KindRelease:
		return b.local.Release(env.TEI)
	case KindData:
		return b.local.Send(env.TEI, env.Frame)
	case KindUnitData:
		return b.local.SendBroadcast(env.Frame)
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedKind, env.Kind)
}

// forward передает событие локального звена клиенту
func (b *Bridge) forward(ev lapd.Event) {
	b.mu.Lock()
	stream := b.session
	b.mu.Unlock()

	if stream == nil {
		b.log.Debug("no client, dropping event", "event", ev.Kind.String(), "tei", ev.TEI)
		return
	}

	b.wmu.Lock()
	err := WriteEnvelope(stream, FromEvent(ev))
	b.wmu.Unlock()
	if err != nil && !errors.Is(err, context.Canceled) {
		b.log.Warn("failed to forward event", "event", ev.Kind.String(), "error", err)
	}
}
