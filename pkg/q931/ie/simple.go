package ie

import (
	"fmt"
)

// CallIdentity информационный элемент Call identity (0x10), до 8 октетов
type CallIdentity struct {
	Data []byte
}

func (c *CallIdentity) ID() ID { return IDCallIdentity }

func (c *CallIdentity) Encode() ([]byte, error) {
	if len(c.Data) > 8 {
		return nil, ErrTooLong
	}
	return append([]byte(nil), c.Data...), nil
}

func (c *CallIdentity) String() string {
	return fmt.Sprintf("% x", c.Data)
}

func decodeCallIdentity(data []byte) (IE, error) {
	return &CallIdentity{Data: append([]byte(nil), data...)}, nil
}

// CallStateValue значение элемента Call state
type CallStateValue uint8

// Значения состояния глобального вызова в элементе Call state
const (
	CallStateRest0 CallStateValue = 0x00
	CallStateRest1 CallStateValue = 0x3d
	CallStateRest2 CallStateValue = 0x3e
)

// CallState информационный элемент Call state (0x14)
type CallState struct {
	CodingStandard CodingStandard
	Value          CallStateValue
}

func (c *CallState) ID() ID { return IDCallState }

func (c *CallState) Encode() ([]byte, error) {
	return []byte{byte(c.CodingStandard&0x3)<<6 | byte(c.Value&0x3f)}, nil
}

func (c *CallState) String() string {
	return fmt.Sprintf("state %d", c.Value)
}

func decodeCallState(data []byte) (IE, error) {
	if len(data) != 1 {
		return nil, invalid(IDCallState, "length %d", len(data))
	}
	return &CallState{
		CodingStandard: CodingStandard(data[0]>>6) & 0x3,
		Value:          CallStateValue(data[0] & 0x3f),
	}, nil
}

// ProgressDescription описание в индикаторе прогресса
type ProgressDescription uint8

const (
	ProgressNotEndToEndISDN     ProgressDescription = 0x01
	ProgressDestinationNonISDN  ProgressDescription = 0x02
	ProgressOriginationNonISDN  ProgressDescription = 0x03
	ProgressReturnedToISDN      ProgressDescription = 0x04
	ProgressInterworking        ProgressDescription = 0x05
	ProgressInbandInfoAvailable ProgressDescription = 0x08
)

// ProgressIndicator информационный элемент Progress indicator (0x1e)
type ProgressIndicator struct {
	CodingStandard CodingStandard
	Location       Location
	Description    ProgressDescription
}

func (p *ProgressIndicator) ID() ID { return IDProgressIndicator }

func (p *ProgressIndicator) Encode() ([]byte, error) {
	return []byte{
		0x80 | byte(p.CodingStandard&0x3)<<5 | byte(p.Location&0xf),
		0x80 | byte(p.Description&0x7f),
	}, nil
}

func (p *ProgressIndicator) String() string {
	return fmt.Sprintf("location %d, description %d", p.Location, p.Description)
}

func decodeProgressIndicator(data []byte) (IE, error) {
	if len(data) != 2 || data[0]&0x80 == 0 || data[1]&0x80 == 0 {
		return nil, invalid(IDProgressIndicator, "malformed")
	}
	return &ProgressIndicator{
		CodingStandard: CodingStandard(data[0]>>5) & 0x3,
		Location:       Location(data[0] & 0xf),
		Description:    ProgressDescription(data[1] & 0x7f),
	}, nil
}

// Описания уведомлений
const (
	NotifyUserSuspended uint8 = 0x00
	NotifyUserResumed   uint8 = 0x01
	NotifyBearerChange  uint8 = 0x02
)

// NotificationIndicator информационный элемент Notification indicator (0x27)
type NotificationIndicator struct {
	Description uint8
	// Data дополнительные октеты уведомления
	Data []byte
}

func (n *NotificationIndicator) ID() ID { return IDNotificationIndicator }

func (n *NotificationIndicator) Encode() ([]byte, error) {
	return append([]byte{0x80 | n.Description&0x7f}, n.Data...), nil
}

func (n *NotificationIndicator) String() string {
	return fmt.Sprintf("description %d", n.Description)
}

func decodeNotificationIndicator(data []byte) (IE, error) {
	if len(data) < 1 || data[0]&0x80 == 0 {
		return nil, invalid(IDNotificationIndicator, "malformed octet 3")
	}
	n := &NotificationIndicator{Description: data[0] & 0x7f}
	if len(data) > 1 {
		n.Data = append([]byte(nil), data[1:]...)
	}
	return n, nil
}

// Display информационный элемент Display (0x28)
type Display struct {
	Text string
}

func (d *Display) ID() ID { return IDDisplay }

func (d *Display) Encode() ([]byte, error) {
	if err := checkIA5(d.Text); err != nil {
		return nil, err
	}
	return []byte(d.Text), nil
}

func (d *Display) String() string { return "'" + d.Text + "'" }

func decodeDisplay(data []byte) (IE, error) {
	text, err := decodeIA5(IDDisplay, data)
	if err != nil {
		return nil, err
	}
	return &Display{Text: text}, nil
}

// KeypadFacility информационный элемент Keypad facility (0x2c)
type KeypadFacility struct {
	Digits string
}

func (k *KeypadFacility) ID() ID { return IDKeypadFacility }

func (k *KeypadFacility) Encode() ([]byte, error) {
	if err := checkIA5(k.Digits); err != nil {
		return nil, err
	}
	return []byte(k.Digits), nil
}

func (k *KeypadFacility) String() string { return "'" + k.Digits + "'" }

func decodeKeypadFacility(data []byte) (IE, error) {
	if len(data) == 0 {
		return nil, invalid(IDKeypadFacility, "empty")
	}
	digits, err := decodeIA5(IDKeypadFacility, data)
	if err != nil {
		return nil, err
	}
	return &KeypadFacility{Digits: digits}, nil
}

// DateTime информационный элемент Date/time (0x29). Fields число
// присутствующих октетов начиная с года (3..6).
type DateTime struct {
	Year, Month, Day     uint8
	Hour, Minute, Second uint8
	Fields               int
}

func (d *DateTime) ID() ID { return IDDateTime }

func (d *DateTime) Encode() ([]byte, error) {
	n := d.Fields
	if n == 0 {
		n = 5
	}
	if n < 3 || n > 6 {
		return nil, fmt.Errorf("date/time: %d fields", n)
	}
	all := []byte{d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second}
	return append([]byte(nil), all[:n]...), nil
}

func (d *DateTime) String() string {
	return fmt.Sprintf("%02d-%02d-%02d %02d:%02d:%02d", d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

func decodeDateTime(data []byte) (IE, error) {
	if len(data) < 3 {
		return nil, invalid(IDDateTime, "too short (%d octets)", len(data))
	}
	var f [6]byte
	copy(f[:], data)
	return &DateTime{
		Year: f[0], Month: f[1], Day: f[2],
		Hour: f[3], Minute: f[4], Second: f[5],
		Fields: len(data),
	}, nil
}

// SignalValue значение элемента Signal
type SignalValue uint8

const (
	SignalDialToneOn         SignalValue = 0x00
	SignalRingBackToneOn     SignalValue = 0x01
	SignalInterceptToneOn    SignalValue = 0x02
	SignalCongestionToneOn   SignalValue = 0x03
	SignalBusyToneOn         SignalValue = 0x04
	SignalConfirmToneOn      SignalValue = 0x05
	SignalAnswerToneOn       SignalValue = 0x06
	SignalCallWaitingToneOn  SignalValue = 0x07
	SignalOffHookWarningTone SignalValue = 0x08
	SignalPreemptionToneOn   SignalValue = 0x09
	SignalTonesOff           SignalValue = 0x3f
	SignalAlertingOff        SignalValue = 0x4f
)

// Signal информационный элемент Signal (0x34)
type Signal struct {
	Value SignalValue
}

func (s *Signal) ID() ID { return IDSignal }

func (s *Signal) Encode() ([]byte, error) { return []byte{byte(s.Value)}, nil }

func (s *Signal) String() string { return fmt.Sprintf("0x%02x", uint8(s.Value)) }

func decodeSignal(data []byte) (IE, error) {
	if len(data) != 1 {
		return nil, invalid(IDSignal, "length %d", len(data))
	}
	return &Signal{Value: SignalValue(data[0])}, nil
}

// RestartClass класс перезапуска
type RestartClass uint8

const (
	RestartIndicated       RestartClass = 0x0
	RestartSingleInterface RestartClass = 0x6
	RestartAllInterfaces   RestartClass = 0x7
)

func (c RestartClass) String() string {
	switch c {
	case RestartIndicated:
		return "indicated channels"
	case RestartSingleInterface:
		return "single interface"
	case RestartAllInterfaces:
		return "all interfaces"
	}
	return fmt.Sprintf("class %d", uint8(c))
}

// RestartIndicator информационный элемент Restart indicator (0x79)
type RestartIndicator struct {
	Class RestartClass
}

func (r *RestartIndicator) ID() ID { return IDRestartIndicator }

func (r *RestartIndicator) Encode() ([]byte, error) {
	return []byte{0x80 | byte(r.Class&0x7)}, nil
}

func (r *RestartIndicator) String() string { return r.Class.String() }

func decodeRestartIndicator(data []byte) (IE, error) {
	if len(data) != 1 || data[0]&0x80 == 0 {
		return nil, invalid(IDRestartIndicator, "malformed")
	}
	class := RestartClass(data[0] & 0x7)
	switch class {
	case RestartIndicated, RestartSingleInterface, RestartAllInterfaces:
	default:
		return nil, invalid(IDRestartIndicator, "reserved class %d", class)
	}
	return &RestartIndicator{Class: class}, nil
}

// HighLayerCompatibility информационный элемент High layer compatibility (0x7d)
type HighLayerCompatibility struct {
	CodingStandard  CodingStandard
	Interpretation  uint8
	Presentation    uint8
	Characteristics uint8
	// Extended октет 4a, присутствует при HasExtended
	HasExtended bool
	Extended    uint8
}

func (h *HighLayerCompatibility) ID() ID { return IDHighLayerCompatibility }

func (h *HighLayerCompatibility) Encode() ([]byte, error) {
	buf := []byte{
		0x80 | byte(h.CodingStandard&0x3)<<5 | (h.Interpretation&0x7)<<2 | h.Presentation&0x3,
		ext(h.Characteristics&0x7f, !h.HasExtended),
	}
	if h.HasExtended {
		buf = append(buf, 0x80|h.Extended&0x7f)
	}
	return buf, nil
}

func (h *HighLayerCompatibility) String() string {
	return fmt.Sprintf("characteristics 0x%02x", h.Characteristics)
}

func decodeHighLayerCompatibility(data []byte) (IE, error) {
	if len(data) < 2 || data[0]&0x80 == 0 {
		return nil, invalid(IDHighLayerCompatibility, "malformed")
	}
	group, rest, ok := splitExt(data[1:])
	if !ok || len(rest) > 0 || len(group) > 2 {
		return nil, invalid(IDHighLayerCompatibility, "malformed octet 4")
	}
	h := &HighLayerCompatibility{
		CodingStandard:  CodingStandard(data[0]>>5) & 0x3,
		Interpretation:  (data[0] >> 2) & 0x7,
		Presentation:    data[0] & 0x3,
		Characteristics: group[0] & 0x7f,
	}
	if len(group) == 2 {
		h.HasExtended = true
		h.Extended = group[1] & 0x7f
	}
	return h, nil
}

// UserUser информационный элемент User-user (0x7e)
type UserUser struct {
	Protocol uint8
	Data     []byte
}

func (u *UserUser) ID() ID { return IDUserUser }

func (u *UserUser) Encode() ([]byte, error) {
	return append([]byte{u.Protocol}, u.Data...), nil
}

func (u *UserUser) String() string {
	return fmt.Sprintf("protocol %d, % x", u.Protocol, u.Data)
}

func decodeUserUser(data []byte) (IE, error) {
	if len(data) < 1 {
		return nil, invalid(IDUserUser, "empty")
	}
	return &UserUser{Protocol: data[0], Data: append([]byte(nil), data[1:]...)}, nil
}

// SendingComplete однооктетный элемент Sending complete (0xa1)
type SendingComplete struct{}

func (SendingComplete) ID() ID { return IDSendingComplete }

func (SendingComplete) Encode() ([]byte, error) { return nil, nil }

func (SendingComplete) String() string { return "" }

func decodeSendingComplete([]byte) (IE, error) {
	return SendingComplete{}, nil
}
