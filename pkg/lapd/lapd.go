// Package lapd описывает звено данных Q.921 (LAPD), поверх которого работает
// движок Q.931, и его реализации: сокет ядра Linux, канал в памяти и
// туннель QUIC (пакет backhaul).
package lapd

import (
	"errors"
	"fmt"
)

// BroadcastTEI TEI широковещательного звена (UI кадры групповой адресации)
const BroadcastTEI = 127

// Ошибки звена
var (
	ErrClosed     = errors.New("lapd: link closed")
	ErrNotStarted = errors.New("lapd: link not started")
	ErrUnknownTEI = errors.New("lapd: unknown TEI")
)

// EventKind тип примитива, поступающего от звена
type EventKind uint8

const (
	// EstablishIndication звено установлено по инициативе удаленной стороны
	EstablishIndication EventKind = iota + 1
	// EstablishConfirm звено установлено по нашему запросу
	EstablishConfirm
	// ReleaseIndication звено разорвано удаленной стороной или ошибкой
	ReleaseIndication
	// ReleaseConfirm звено освобождено по нашему запросу
	ReleaseConfirm
	// DataIndication кадр I с сообщением уровня 3
	DataIndication
	// UnitDataIndication кадр UI с сообщением уровня 3
	UnitDataIndication
)

func (k EventKind) String() string {
	switch k {
	case EstablishIndication:
		return "DL-ESTABLISH-IND"
	case EstablishConfirm:
		return "DL-ESTABLISH-CONF"
	case ReleaseIndication:
		return "DL-RELEASE-IND"
	case ReleaseConfirm:
		return "DL-RELEASE-CONF"
	case DataIndication:
		return "DL-DATA-IND"
	case UnitDataIndication:
		return "DL-UNIT-DATA-IND"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event примитив звена данных
type Event struct {
	Kind  EventKind
	TEI   int
	Frame []byte
	Err   error
}

// Handler получатель событий звена. Вызывается из потока звена и не должен
// блокироваться.
type Handler func(Event)

// Link звено данных одного интерфейса. Каждый TEI соответствует отдельному
// соединению звена; широковещательные кадры идут через SendBroadcast.
type Link interface {
	// Start начинает доставку событий в h
	Start(h Handler) error
	// Establish запрос DL-ESTABLISH для TEI
	Establish(tei int) error
	// Release запрос DL-RELEASE для TEI
	Release(tei int) error
	// Send передает сообщение в кадре I
	Send(tei int, frame []byte) error
	// SendBroadcast передает сообщение в кадре UI на групповой TEI
	SendBroadcast(frame []byte) error
	// Close закрывает звено, после чего события не доставляются
	Close() error
}
