package ie

import (
	"fmt"
)

// InterfaceType тип интерфейса в идентификации канала
type InterfaceType uint8

const (
	InterfaceBasic   InterfaceType = 0
	InterfacePrimary InterfaceType = 1
)

// ChannelSelection поле information channel selection (биты 2-1 октета 3)
type ChannelSelection uint8

const (
	SelectionNone ChannelSelection = 0x0
	// SelectionB1 на BRA канал B1, на PRA "as indicated in following octets"
	SelectionB1 ChannelSelection = 0x1
	SelectionB2 ChannelSelection = 0x2
	// SelectionAny любой канал
	SelectionAny ChannelSelection = 0x3

	SelectionIndicated = SelectionB1
)

// ChannelTypeB единица B-канала в октете 3.2
const ChannelTypeB uint8 = 0x3

// ChannelIdentification информационный элемент Channel identification (0x18)
type ChannelIdentification struct {
	InterfaceType InterfaceType
	// InterfaceID октеты 3.1, присутствует если не пуст
	InterfaceID []byte
	Exclusive   bool
	DChannel    bool
	Selection   ChannelSelection

	// Поля октетов 3.2/3.3, только для PRA с SelectionIndicated
	CodingStandard CodingStandard
	UseMap         bool
	ChannelType    uint8
	// Timeslots номера тайм-слотов (UseMap == false)
	Timeslots []uint8
	// Map слотовая карта (UseMap == true)
	Map []byte
}

// NewChannelIdentification идентификация набора каналов на интерфейсе.
// Пустой набор означает "любой канал".
func NewChannelIdentification(itype InterfaceType, exclusive bool, channels ChannelSet) *ChannelIdentification {
	ci := &ChannelIdentification{
		InterfaceType: itype,
		Exclusive:     exclusive,
	}

	if channels.Empty() {
		ci.Selection = SelectionAny
		return ci
	}

	if itype == InterfaceBasic {
		switch {
		case channels.Count() > 1:
			ci.Selection = SelectionAny
		case channels.Contains(0):
			ci.Selection = SelectionB1
		default:
			ci.Selection = SelectionB2
		}
		return ci
	}

	ci.Selection = SelectionIndicated
	ci.CodingStandard = CodingCCITT
	ci.ChannelType = ChannelTypeB
	for _, c := range channels.Slice() {
		ci.Timeslots = append(ci.Timeslots, uint8(ChannelToTimeslot(c)))
	}
	return ci
}

// Channels возвращает явно указанные каналы. anyChannel == true означает,
// что выбор канала оставлен получателю.
func (ci *ChannelIdentification) Channels() (set ChannelSet, anyChannel bool) {
	switch ci.Selection {
	case SelectionNone:
		return 0, false
	case SelectionAny:
		return 0, true
	}

	if ci.InterfaceType == InterfaceBasic {
		if ci.Selection == SelectionB1 {
			return NewChannelSet(0), false
		}
		return NewChannelSet(1), false
	}

	if ci.Selection != SelectionIndicated {
		return 0, false
	}

	if ci.UseMap {
		// карта: последний октет соответствует слотам 1-8
		n := len(ci.Map)
		for i := 0; i < n; i++ {
			octet := ci.Map[n-1-i]
			for bit := 0; bit < 8; bit++ {
				if octet&(1<<uint(bit)) == 0 {
					continue
				}
				if c := TimeslotToChannel(i*8 + bit + 1); c >= 0 {
					set = set.Add(c)
				}
			}
		}
		return set, false
	}

	for _, ts := range ci.Timeslots {
		if c := TimeslotToChannel(int(ts)); c >= 0 {
			set = set.Add(c)
		}
	}
	return set, false
}

func (ci *ChannelIdentification) ID() ID { return IDChannelIdentification }

func (ci *ChannelIdentification) Encode() ([]byte, error) {
	oct3 := byte(0x80) |
		boolBit(len(ci.InterfaceID) > 0, 6) |
		byte(ci.InterfaceType&0x1)<<5 |
		boolBit(ci.Exclusive, 3) |
		boolBit(ci.DChannel, 2) |
		byte(ci.Selection&0x3)

	buf := []byte{oct3}
	for i, b := range ci.InterfaceID {
		buf = append(buf, ext(b, i == len(ci.InterfaceID)-1))
	}

	if ci.InterfaceType != InterfacePrimary || ci.Selection != SelectionIndicated {
		return buf, nil
	}

	buf = append(buf, 0x80|byte(ci.CodingStandard&0x3)<<5|boolBit(ci.UseMap, 4)|ci.ChannelType&0xf)
	if ci.UseMap {
		if len(ci.Map) == 0 {
			return nil, fmt.Errorf("channel identification: empty slot map")
		}
		return append(buf, ci.Map...), nil
	}

	if len(ci.Timeslots) == 0 {
		return nil, fmt.Errorf("channel identification: no timeslots")
	}
	for i, ts := range ci.Timeslots {
		buf = append(buf, ext(ts&0x7f, i == len(ci.Timeslots)-1))
	}
	return buf, nil
}

func (ci *ChannelIdentification) String() string {
	mode := "preferred"
	if ci.Exclusive {
		mode = "exclusive"
	}
	set, anyChannel := ci.Channels()
	if anyChannel {
		return fmt.Sprintf("%s any", mode)
	}
	return fmt.Sprintf("%s %s", mode, set)
}

func decodeChannelIdentification(data []byte) (IE, error) {
	if len(data) < 1 {
		return nil, invalid(IDChannelIdentification, "empty")
	}

	oct3 := data[0]
	if oct3&0x80 == 0 {
		return nil, invalid(IDChannelIdentification, "octet 3 without extension bit")
	}

	ci := &ChannelIdentification{
		InterfaceType: InterfaceType((oct3 >> 5) & 0x1),
		Exclusive:     oct3&0x08 != 0,
		DChannel:      oct3&0x04 != 0,
		Selection:     ChannelSelection(oct3 & 0x3),
	}
	rest := data[1:]

	if oct3&0x40 != 0 {
		group, r, ok := splitExt(rest)
		if !ok || len(group) == 0 {
			return nil, invalid(IDChannelIdentification, "truncated interface identifier")
		}
		for _, b := range group {
			ci.InterfaceID = append(ci.InterfaceID, b&0x7f)
		}
		rest = r
	}

	if ci.InterfaceType != InterfacePrimary || ci.Selection != SelectionIndicated {
		if len(rest) > 0 {
			return nil, invalid(IDChannelIdentification, "%d unexpected octets", len(rest))
		}
		return ci, nil
	}

	if len(rest) < 2 {
		return nil, invalid(IDChannelIdentification, "missing channel number octets")
	}
	oct32 := rest[0]
	if oct32&0x80 == 0 {
		return nil, invalid(IDChannelIdentification, "octet 3.2 without extension bit")
	}
	ci.CodingStandard = CodingStandard(oct32>>5) & 0x3
	ci.UseMap = oct32&0x10 != 0
	ci.ChannelType = oct32 & 0xf
	rest = rest[1:]

	if ci.UseMap {
		ci.Map = append([]byte(nil), rest...)
		return ci, nil
	}

	group, r, ok := splitExt(rest)
	if !ok || len(r) > 0 {
		return nil, invalid(IDChannelIdentification, "malformed channel number list")
	}
	for _, b := range group {
		ci.Timeslots = append(ci.Timeslots, b&0x7f)
	}
	return ci, nil
}
