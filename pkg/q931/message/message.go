// Package message кодек сообщений Q.931: дискриминатор протокола,
// ссылка вызова, тип сообщения и последовательность информационных элементов.
package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arzzra/q931/pkg/q931/ie"
)

// ProtocolDiscriminator дискриминатор протокола Q.931
const ProtocolDiscriminator = 0x08

// MaxCallRefLen наибольшая поддерживаемая длина ссылки вызова
const MaxCallRefLen = 2

// Ошибки разбора заголовка. Сообщения с такими ошибками отбрасываются
// без ответа.
var (
	ErrShortMessage          = errors.New("message: too short")
	ErrProtocolDiscriminator = errors.New("message: unknown protocol discriminator")
	ErrCallRefLength         = errors.New("message: unsupported call reference length")
)

// Type тип сообщения
type Type uint8

// Типы сообщений
const (
	Alerting           Type = 0x01
	CallProceeding     Type = 0x02
	Progress           Type = 0x03
	Setup              Type = 0x05
	Connect            Type = 0x07
	SetupAcknowledge   Type = 0x0d
	ConnectAcknowledge Type = 0x0f
	UserInformation    Type = 0x20
	SuspendReject      Type = 0x21
	ResumeReject       Type = 0x22
	Suspend            Type = 0x25
	Resume             Type = 0x26
	SuspendAcknowledge Type = 0x2d
	ResumeAcknowledge  Type = 0x2e
	Disconnect         Type = 0x45
	Restart            Type = 0x46
	Release            Type = 0x4d
	RestartAcknowledge Type = 0x4e
	ReleaseComplete    Type = 0x5a
	Segment            Type = 0x60
	Facility           Type = 0x62
	Notify             Type = 0x6e
	StatusEnquiry      Type = 0x75
	CongestionControl  Type = 0x79
	Information        Type = 0x7b
	Status             Type = 0x7d
)

var typeNames = map[Type]string{
	Alerting:           "ALERTING",
	CallProceeding:     "CALL PROCEEDING",
	Progress:           "PROGRESS",
	Setup:              "SETUP",
	Connect:            "CONNECT",
	SetupAcknowledge:   "SETUP ACKNOWLEDGE",
	ConnectAcknowledge: "CONNECT ACKNOWLEDGE",
	UserInformation:    "USER INFORMATION",
	SuspendReject:      "SUSPEND REJECT",
	ResumeReject:       "RESUME REJECT",
	Suspend:            "SUSPEND",
	Resume:             "RESUME",
	SuspendAcknowledge: "SUSPEND ACKNOWLEDGE",
	ResumeAcknowledge:  "RESUME ACKNOWLEDGE",
	Disconnect:         "DISCONNECT",
	Restart:            "RESTART",
	Release:            "RELEASE",
	RestartAcknowledge: "RESTART ACKNOWLEDGE",
	ReleaseComplete:    "RELEASE COMPLETE",
	Segment:            "SEGMENT",
	Facility:           "FACILITY",
	Notify:             "NOTIFY",
	StatusEnquiry:      "STATUS ENQUIRY",
	CongestionControl:  "CONGESTION CONTROL",
	Information:        "INFORMATION",
	Status:             "STATUS",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MESSAGE(0x%02x)", uint8(t))
}

// Known сообщает, реализован ли тип сообщения
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// CallRef ссылка вызова.
// Flag == false в сообщениях от стороны, выделившей ссылку, true в ответных.
type CallRef struct {
	Len   int
	Value uint16
	Flag  bool
}

// Dummy пустая ссылка (длина 0)
func (c CallRef) Dummy() bool {
	return c.Len == 0
}

// Global глобальная ссылка (значение 0 ненулевой длины)
func (c CallRef) Global() bool {
	return c.Len > 0 && c.Value == 0
}

// Reply ссылка для ответа: то же значение с инвертированным флагом
func (c CallRef) Reply() CallRef {
	c.Flag = !c.Flag
	return c
}

func (c CallRef) String() string {
	if c.Dummy() {
		return "dummy"
	}
	dir := "O"
	if c.Flag {
		dir = "I"
	}
	return fmt.Sprintf("%d/%s", c.Value, dir)
}

// Message разобранное сообщение Q.931
type Message struct {
	CallRef CallRef
	Type    Type
	IEs     []ie.IE

	// Malformed элементы, которые не удалось разобрать
	Malformed []*ie.DecodeError
	// Unrecognized неизвестные элементы codeset 0
	Unrecognized []ie.ID
}

// New создает сообщение с указанными элементами
func New(cr CallRef, t Type, ies ...ie.IE) *Message {
	return &Message{CallRef: cr, Type: t, IEs: ies}
}

// Find первый элемент с идентификатором id
func (m *Message) Find(id ie.ID) ie.IE {
	return ie.Find(m.IEs, id)
}

// Add добавляет элементы
func (m *Message) Add(ies ...ie.IE) {
	for _, e := range ies {
		if e != nil {
			m.IEs = append(m.IEs, e)
		}
	}
}

func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s cref %s", m.Type, m.CallRef)
	for _, e := range m.IEs {
		b.WriteString("; ")
		b.WriteString(ie.Dump(e))
	}
	return b.String()
}

// Encode собирает сообщение в октеты
func (m *Message) Encode() ([]byte, error) {
	cr := m.CallRef
	if cr.Len < 0 || cr.Len > MaxCallRefLen {
		return nil, ErrCallRefLength
	}
	if cr.Len == 1 && cr.Value > 0x7f {
		return nil, fmt.Errorf("call reference %d does not fit 1 octet: %w", cr.Value, ErrCallRefLength)
	}
	if cr.Len == 2 && cr.Value > 0x7fff {
		return nil, fmt.Errorf("call reference %d does not fit 2 octets: %w", cr.Value, ErrCallRefLength)
	}

	buf := make([]byte, 0, 32)
	buf = append(buf, ProtocolDiscriminator, byte(cr.Len))

	flag := byte(0)
	if cr.Flag {
		flag = 0x80
	}
	switch cr.Len {
	case 1:
		buf = append(buf, flag|byte(cr.Value))
	case 2:
		buf = append(buf, flag|byte(cr.Value>>8), byte(cr.Value))
	}

	buf = append(buf, byte(m.Type)&0x7f)

	for _, e := range m.IEs {
		if u, ok := e.(*ie.Unknown); ok && u.Codeset != 0 {
			// non-locking shift на один элемент
			buf = append(buf, 0x98|u.Codeset&0x7)
		}
		raw, err := ie.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Type, err)
		}
		buf = append(buf, raw...)
	}

	return buf, nil
}

// Decode разбирает сообщение. Ошибка возвращается только при неразборчивом
// заголовке; ошибки отдельных элементов собираются в Malformed.
func Decode(frame []byte) (*Message, error) {
	if len(frame) < 3 {
		return nil, ErrShortMessage
	}
	if frame[0] != ProtocolDiscriminator {
		return nil, fmt.Errorf("%w 0x%02x", ErrProtocolDiscriminator, frame[0])
	}

	crLen := int(frame[1] & 0x0f)
	if frame[1]&0xf0 != 0 || crLen > MaxCallRefLen {
		return nil, fmt.Errorf("%w: %d", ErrCallRefLength, crLen)
	}
	if len(frame) < 3+crLen {
		return nil, ErrShortMessage
	}

	m := &Message{CallRef: CallRef{Len: crLen}}
	switch crLen {
	case 1:
		m.CallRef.Flag = frame[2]&0x80 != 0
		m.CallRef.Value = uint16(frame[2] & 0x7f)
	case 2:
		m.CallRef.Flag = frame[2]&0x80 != 0
		m.CallRef.Value = uint16(frame[2]&0x7f)<<8 | uint16(frame[3])
	}

	pos := 2 + crLen
	if frame[pos]&0x80 != 0 {
		return nil, fmt.Errorf("message: type octet 0x%02x has bit 8 set", frame[pos])
	}
	m.Type = Type(frame[pos])
	m.decodeIEs(frame[pos+1:])

	return m, nil
}

func (m *Message) decodeIEs(data []byte) {
	lockedCodeset := uint8(0)
	oneShot := -1

	for i := 0; i < len(data); {
		codeset := lockedCodeset
		if oneShot >= 0 {
			codeset = uint8(oneShot)
		}

		b := data[i]
		if b&0x80 != 0 {
			i++
			if b&0xf0 == uint8(ie.IDShift) {
				if b&0x08 != 0 {
					oneShot = int(b & 0x7)
				} else {
					lockedCodeset = b & 0x7
					oneShot = -1
				}
				continue
			}
			oneShot = -1
			m.addSingleOctet(codeset, b)
			continue
		}
		oneShot = -1

		id := ie.ID(b)
		if i+1 >= len(data) || i+2+int(data[i+1]) > len(data) {
			m.Malformed = append(m.Malformed, &ie.DecodeError{
				ID:     id,
				Cause:  ie.CauseInvalidIEContents,
				Reason: ie.ErrTruncated.Error(),
			})
			return
		}
		content := data[i+2 : i+2+int(data[i+1])]
		i += 2 + len(content)

		if codeset != 0 {
			m.IEs = append(m.IEs, &ie.Unknown{Codeset: codeset, Ident: id, Data: append([]byte(nil), content...)})
			continue
		}

		if !ie.Known(id) {
			m.Unrecognized = append(m.Unrecognized, id)
			m.IEs = append(m.IEs, &ie.Unknown{Ident: id, Data: append([]byte(nil), content...)})
			continue
		}

		e, err := ie.Decode(id, content)
		if err != nil {
			var decodeErr *ie.DecodeError
			if !errors.As(err, &decodeErr) {
				decodeErr = &ie.DecodeError{ID: id, Cause: ie.CauseInvalidIEContents, Reason: err.Error()}
			}
			m.Malformed = append(m.Malformed, decodeErr)
			continue
		}
		m.IEs = append(m.IEs, e)
	}
}

func (m *Message) addSingleOctet(codeset uint8, b byte) {
	id := ie.ID(b)
	if b&0xf0 != 0xa0 {
		// тип 1: идентификатор в старшей тетраде, значение в младшей
		id = ie.ID(b & 0xf0)
	}

	if codeset == 0 && ie.Known(id) {
		e, err := ie.Decode(id, nil)
		if err == nil {
			m.IEs = append(m.IEs, e)
			return
		}
	}

	m.IEs = append(m.IEs, &ie.Unknown{Codeset: codeset, Ident: id, Octet: b})
}
