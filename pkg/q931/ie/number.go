package ie

import (
	"fmt"
)

// TypeOfNumber тип номера (3 бита)
type TypeOfNumber uint8

const (
	TONUnknown       TypeOfNumber = 0x0
	TONInternational TypeOfNumber = 0x1
	TONNational      TypeOfNumber = 0x2
	TONNetwork       TypeOfNumber = 0x3
	TONSubscriber    TypeOfNumber = 0x4
	TONAbbreviated   TypeOfNumber = 0x6
	TONReserved      TypeOfNumber = 0x7
)

// NumberingPlan план нумерации (4 бита)
type NumberingPlan uint8

const (
	NPIUnknown  NumberingPlan = 0x0
	NPIISDN     NumberingPlan = 0x1
	NPIData     NumberingPlan = 0x3
	NPITelex    NumberingPlan = 0x4
	NPINational NumberingPlan = 0x8
	NPIPrivate  NumberingPlan = 0x9
	NPIReserved NumberingPlan = 0xf
)

// Presentation индикатор представления номера вызывающего
type Presentation uint8

const (
	PresentationAllowed      Presentation = 0x0
	PresentationRestricted   Presentation = 0x1
	PresentationNotAvailable Presentation = 0x2
)

// Screening индикатор экранирования
type Screening uint8

const (
	ScreeningUserNotScreened Screening = 0x0
	ScreeningUserPassed      Screening = 0x1
	ScreeningUserFailed      Screening = 0x2
	ScreeningNetwork         Screening = 0x3
)

// CalledPartyNumber информационный элемент Called party number (0x70)
type CalledPartyNumber struct {
	Type   TypeOfNumber
	Plan   NumberingPlan
	Digits string
}

// NewCalledPartyNumber номер вызываемого с неизвестными типом и планом
func NewCalledPartyNumber(digits string) *CalledPartyNumber {
	return &CalledPartyNumber{Type: TONUnknown, Plan: NPIISDN, Digits: digits}
}

func (n *CalledPartyNumber) ID() ID { return IDCalledPartyNumber }

func (n *CalledPartyNumber) Encode() ([]byte, error) {
	if err := checkIA5(n.Digits); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 1+len(n.Digits))
	buf = append(buf, 0x80|byte(n.Type&0x7)<<4|byte(n.Plan&0xf))
	return append(buf, n.Digits...), nil
}

func (n *CalledPartyNumber) String() string {
	return fmt.Sprintf("ton %d, npi %d, '%s'", n.Type, n.Plan, n.Digits)
}

func decodeCalledPartyNumber(data []byte) (IE, error) {
	if len(data) < 1 {
		return nil, invalid(IDCalledPartyNumber, "empty")
	}
	if data[0]&0x80 == 0 {
		return nil, invalid(IDCalledPartyNumber, "octet 3 without extension bit")
	}
	digits, err := decodeIA5(IDCalledPartyNumber, data[1:])
	if err != nil {
		return nil, err
	}
	return &CalledPartyNumber{
		Type:   TypeOfNumber(data[0]>>4) & 0x7,
		Plan:   NumberingPlan(data[0] & 0xf),
		Digits: digits,
	}, nil
}

// CallingPartyNumber информационный элемент Calling party number (0x6c)
type CallingPartyNumber struct {
	Type TypeOfNumber
	Plan NumberingPlan
	// HasPresentation наличие октета 3a
	HasPresentation bool
	Presentation    Presentation
	Screening       Screening
	Digits          string
}

func (n *CallingPartyNumber) ID() ID { return IDCallingPartyNumber }

func (n *CallingPartyNumber) Encode() ([]byte, error) {
	if err := checkIA5(n.Digits); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 2+len(n.Digits))
	buf = append(buf, ext(byte(n.Type&0x7)<<4|byte(n.Plan&0xf), !n.HasPresentation))
	if n.HasPresentation {
		buf = append(buf, 0x80|byte(n.Presentation&0x3)<<5|byte(n.Screening&0x3))
	}
	return append(buf, n.Digits...), nil
}

func (n *CallingPartyNumber) String() string {
	s := fmt.Sprintf("ton %d, npi %d, '%s'", n.Type, n.Plan, n.Digits)
	if n.HasPresentation {
		s += fmt.Sprintf(", presentation %d, screening %d", n.Presentation, n.Screening)
	}
	return s
}

func decodeCallingPartyNumber(data []byte) (IE, error) {
	group, rest, ok := splitExt(data)
	if !ok || len(group) > 2 {
		return nil, invalid(IDCallingPartyNumber, "malformed octet 3")
	}

	n := &CallingPartyNumber{
		Type: TypeOfNumber(group[0]>>4) & 0x7,
		Plan: NumberingPlan(group[0] & 0xf),
	}
	if len(group) == 2 {
		n.HasPresentation = true
		n.Presentation = Presentation(group[1]>>5) & 0x3
		n.Screening = Screening(group[1] & 0x3)
	}

	digits, err := decodeIA5(IDCallingPartyNumber, rest)
	if err != nil {
		return nil, err
	}
	n.Digits = digits
	return n, nil
}

func checkIA5(s string) error {
	for i := 0; i < len(s); i++ {
		if s[i]&0x80 != 0 {
			return fmt.Errorf("non-IA5 character 0x%02x at %d", s[i], i)
		}
	}
	return nil
}

func decodeIA5(id ID, data []byte) (string, error) {
	for i, b := range data {
		if b&0x80 != 0 {
			return "", invalid(id, "non-IA5 character 0x%02x at %d", b, i)
		}
	}
	return string(data), nil
}
