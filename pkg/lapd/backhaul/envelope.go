// Package backhaul переносит звено данных LAPD через QUIC: удаленный
// процесс с сокетом LAPD (Bridge) отдает свое звено движку Q.931,
// работающему на другой машине (Link).
//
// Каждое сообщение потока это конверт msgpack с префиксом длины.
package backhaul

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/arzzra/q931/pkg/lapd"
)

// Kind тип конверта
type Kind uint8

// Запросы клиента к мосту
const (
	KindHello Kind = iota + 1
	KindEstablish
	KindRelease
	KindData
	KindUnitData
)

// indicationBase смещение типов конвертов с примитивами звена
const indicationBase Kind = 0x10

// MaxEnvelopeSize ограничение размера конверта на входе
const MaxEnvelopeSize = 4096

var (
	ErrEnvelopeTooLarge = errors.New("backhaul: envelope too large")
	ErrUnexpectedKind   = errors.New("backhaul: unexpected envelope kind")
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindEstablish:
		return "establish"
	case KindRelease:
		return "release"
	case KindData:
		return "data"
	case KindUnitData:
		return "unit-data"
	}
	if k > indicationBase {
		return lapd.EventKind(k - indicationBase).String()
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Envelope единица обмена в потоке QUIC
type Envelope struct {
	Kind  Kind   `msgpack:"k"`
	TEI   int    `msgpack:"t"`
	Frame []byte `msgpack:"p,omitempty"`
	Err   string `msgpack:"e,omitempty"`
	// Session идентификатор сессии клиента в приветствии
	Session string `msgpack:"s,omitempty"`
}

// FromEvent упаковывает примитив звена
func FromEvent(ev lapd.Event) Envelope {
	env := Envelope{Kind: indicationBase + Kind(ev.Kind), TEI: ev.TEI, Frame: ev.Frame}
	if ev.Err != nil {
		env.Err = ev.Err.Error()
	}
	return env
}

// Event распаковывает примитив звена; ok false для запросов
func (e Envelope) Event() (lapd.Event, bool) {
	if e.Kind <= indicationBase {
		return lapd.Event{}, false
	}
	ev := lapd.Event{Kind: lapd.EventKind(e.Kind - indicationBase), TEI: e.TEI, Frame: e.Frame}
	if e.Err != "" {
		ev.Err = errors.New(e.Err)
	}
	return ev, true
}

// WriteEnvelope пишет конверт одним вызовом Write
func WriteEnvelope(w io.Writer, env Envelope) error {
	payload, err := msgpack.Marshal(&env)
	if err != nil {
		return fmt.Errorf("backhaul: marshal %s: %w", env.Kind, err)
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)

	_, err = w.Write(buf)
	return err
}

// ReadEnvelope читает следующий конверт
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Envelope{}, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxEnvelopeSize {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrEnvelopeTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("backhaul: unmarshal: %w", err)
	}
	return env, nil
}
