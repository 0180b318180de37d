// Package ie кодирование и декодирование информационных элементов Q.931.
//
// Каждый элемент реализует интерфейс IE. Decode разбирает содержимое
// элемента (без идентификатора и длины), Marshal собирает элемент целиком.
// Поля и порядок битов соответствуют ITU-T Q.931 / ETSI EN 300 403.
package ie

import (
	"errors"
	"fmt"
	"sort"
)

// ID идентификатор информационного элемента в codeset 0
type ID uint8

// Идентификаторы информационных элементов
const (
	IDBearerCapability       ID = 0x04
	IDCause                  ID = 0x08
	IDCallIdentity           ID = 0x10
	IDCallState              ID = 0x14
	IDChannelIdentification  ID = 0x18
	IDProgressIndicator      ID = 0x1e
	IDNotificationIndicator  ID = 0x27
	IDDisplay                ID = 0x28
	IDDateTime               ID = 0x29
	IDKeypadFacility         ID = 0x2c
	IDSignal                 ID = 0x34
	IDCallingPartyNumber     ID = 0x6c
	IDCalledPartyNumber      ID = 0x70
	IDRestartIndicator       ID = 0x79
	IDHighLayerCompatibility ID = 0x7d
	IDUserUser               ID = 0x7e
	IDSendingComplete        ID = 0xa1
	IDShift                  ID = 0x90
	IDMoreData               ID = 0xa0
)

// IsSingleOctet сообщает, является ли элемент однооктетным
func (id ID) IsSingleOctet() bool {
	return id&0x80 != 0
}

// ComprehensionRequired элементы 0000xxxx codeset 0 обязательны для понимания
func (id ID) ComprehensionRequired() bool {
	return id&0xf0 == 0
}

func (id ID) String() string {
	if c, ok := classes[id]; ok {
		return c.name
	}
	return fmt.Sprintf("IE(0x%02x)", uint8(id))
}

// IE информационный элемент
type IE interface {
	// ID идентификатор элемента
	ID() ID
	// Encode кодирует содержимое элемента без идентификатора и длины.
	// Для однооктетных элементов возвращает пустой срез.
	Encode() ([]byte, error)
	// String человекочитаемый дамп для диагностики
	String() string
}

// Ошибки кодирования
var (
	ErrTooLong   = errors.New("ie: encoded element exceeds maximum length")
	ErrTruncated = errors.New("ie: truncated element")
)

// DecodeError ошибка разбора элемента. Cause задает причину Q.931, с которой
// элемент отвергается (обычно 100 "invalid information element contents").
type DecodeError struct {
	ID     ID
	Cause  CauseValue
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ie %s: %s (cause %d)", e.ID, e.Reason, e.Cause)
}

func invalid(id ID, format string, args ...interface{}) *DecodeError {
	return &DecodeError{
		ID:     id,
		Cause:  CauseInvalidIEContents,
		Reason: fmt.Sprintf(format, args...),
	}
}

type class struct {
	name   string
	maxLen int
	decode func(data []byte) (IE, error)
}

var classes = map[ID]class{
	IDBearerCapability:       {"bearer capability", 12, decodeBearerCapability},
	IDCause:                  {"cause", 32, decodeCause},
	IDCallIdentity:           {"call identity", 8, decodeCallIdentity},
	IDCallState:              {"call state", 1, decodeCallState},
	IDChannelIdentification:  {"channel identification", 32, decodeChannelIdentification},
	IDProgressIndicator:      {"progress indicator", 2, decodeProgressIndicator},
	IDNotificationIndicator:  {"notification indicator", 32, decodeNotificationIndicator},
	IDDisplay:                {"display", 82, decodeDisplay},
	IDDateTime:               {"date/time", 6, decodeDateTime},
	IDKeypadFacility:         {"keypad facility", 32, decodeKeypadFacility},
	IDSignal:                 {"signal", 1, decodeSignal},
	IDCallingPartyNumber:     {"calling party number", 32, decodeCallingPartyNumber},
	IDCalledPartyNumber:      {"called party number", 32, decodeCalledPartyNumber},
	IDRestartIndicator:       {"restart indicator", 1, decodeRestartIndicator},
	IDHighLayerCompatibility: {"high layer compatibility", 3, decodeHighLayerCompatibility},
	IDUserUser:               {"user-user", 131, decodeUserUser},
	IDSendingComplete:        {"sending complete", 0, decodeSendingComplete},
}

// Known сообщает, поддерживается ли элемент codeset 0
func Known(id ID) bool {
	_, ok := classes[id]
	return ok
}

// KnownIDs возвращает поддерживаемые идентификаторы по возрастанию
func KnownIDs() []ID {
	ids := make([]ID, 0, len(classes))
	for id := range classes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Decode разбирает содержимое элемента codeset 0. Неизвестный элемент
// возвращается как *Unknown без ошибки.
func Decode(id ID, data []byte) (IE, error) {
	c, ok := classes[id]
	if !ok {
		return &Unknown{Ident: id, Data: append([]byte(nil), data...)}, nil
	}
	if !id.IsSingleOctet() && len(data) > c.maxLen {
		return nil, invalid(id, "length %d exceeds maximum %d", len(data), c.maxLen)
	}
	return c.decode(data)
}

// Marshal собирает элемент целиком: идентификатор, длина, содержимое.
// Однооктетный элемент занимает один октет.
func Marshal(e IE) ([]byte, error) {
	id := e.ID()
	content, err := e.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", id, err)
	}

	if id.IsSingleOctet() {
		if u, ok := e.(*Unknown); ok {
			return []byte{u.Octet}, nil
		}
		return []byte{byte(id)}, nil
	}

	if _, unknown := e.(*Unknown); !unknown {
		if c, ok := classes[id]; ok && len(content) > c.maxLen {
			return nil, fmt.Errorf("%s: %w", id, ErrTooLong)
		}
	}
	if len(content) > 255 {
		return nil, fmt.Errorf("%s: %w", id, ErrTooLong)
	}

	buf := make([]byte, 0, len(content)+2)
	buf = append(buf, byte(id), byte(len(content)))
	return append(buf, content...), nil
}

// Dump возвращает строку вида "<имя>: <содержимое>"
func Dump(e IE) string {
	return fmt.Sprintf("%s: %s", e.ID(), e.String())
}

// Find возвращает первый элемент codeset 0 с указанным идентификатором.
// Элементы других codeset совпадают по номеру, но не по смыслу.
func Find(ies []IE, id ID) IE {
	for _, e := range ies {
		if u, ok := e.(*Unknown); ok && u.Codeset != 0 {
			continue
		}
		if e.ID() == id {
			return e
		}
	}
	return nil
}

// Unknown элемент, который движок не разбирает. Содержимое сохраняется
// без изменений, поэтому элемент можно переслать дальше.
type Unknown struct {
	Codeset uint8
	Ident   ID
	// Octet значение однооктетного элемента (идентификатор вместе со значением)
	Octet byte
	Data  []byte
}

func (u *Unknown) ID() ID { return u.Ident }

func (u *Unknown) Encode() ([]byte, error) {
	return append([]byte(nil), u.Data...), nil
}

func (u *Unknown) String() string {
	if u.Ident.IsSingleOctet() {
		return fmt.Sprintf("codeset %d octet 0x%02x", u.Codeset, u.Octet)
	}
	return fmt.Sprintf("codeset %d % x", u.Codeset, u.Data)
}

// splitExt делит октеты на группы по биту расширения: группа заканчивается
// октетом со старшим битом 1.
func splitExt(data []byte) (group, rest []byte, ok bool) {
	for i, b := range data {
		if b&0x80 != 0 {
			return data[:i+1], data[i+1:], true
		}
	}
	return data, nil, false
}

func ext(b byte, last bool) byte {
	if last {
		return b | 0x80
	}
	return b &^ 0x80
}
