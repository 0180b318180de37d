package ie

import (
	"fmt"
	"strings"
)

// TransferCapability информационная передаточная способность (октет 3)
type TransferCapability uint8

const (
	TransferSpeech                       TransferCapability = 0x00
	TransferUnrestrictedDigital          TransferCapability = 0x08
	TransferRestrictedDigital            TransferCapability = 0x09
	Transfer3k1Audio                     TransferCapability = 0x10
	TransferUnrestrictedDigitalWithTones TransferCapability = 0x11
	TransferVideo                        TransferCapability = 0x18
)

// TransferMode режим передачи (октет 4)
type TransferMode uint8

const (
	TransferModeCircuit TransferMode = 0x0
	TransferModePacket  TransferMode = 0x2
)

// TransferRate скорость передачи (октет 4)
type TransferRate uint8

const (
	TransferRatePacket    TransferRate = 0x00
	TransferRate64k       TransferRate = 0x10
	TransferRate2x64k     TransferRate = 0x11
	TransferRate384k      TransferRate = 0x13
	TransferRate1536k     TransferRate = 0x15
	TransferRate1920k     TransferRate = 0x17
	TransferRateMultirate TransferRate = 0x18
)

// Layer1Protocol протокол первого уровня (октет 5)
type Layer1Protocol uint8

const (
	Layer1V110      Layer1Protocol = 0x01
	Layer1G711ULaw  Layer1Protocol = 0x02
	Layer1G711ALaw  Layer1Protocol = 0x03
	Layer1G721      Layer1Protocol = 0x04
	Layer1G722      Layer1Protocol = 0x05
	Layer1G7xxVideo Layer1Protocol = 0x06
	Layer1NonCCITT  Layer1Protocol = 0x07
	Layer1V120      Layer1Protocol = 0x08
	Layer1X31       Layer1Protocol = 0x09
)

// Протоколы второго и третьего уровней (октеты 6 и 7)
const (
	Layer2Q921 uint8 = 0x02
	Layer2X25  uint8 = 0x06
	Layer3Q931 uint8 = 0x02
	Layer3X25  uint8 = 0x06
)

const (
	bcLayer1Ident = 0x1
	bcLayer2Ident = 0x2
	bcLayer3Ident = 0x3
)

// BearerStructure октеты 4a и 4b
type BearerStructure struct {
	Structure     uint8
	Configuration uint8
	Establishment uint8
	// октет 4b
	HasDestinationRate bool
	Symmetry           uint8
	DestinationRate    TransferRate
}

// Layer1 октет 5 и его продолжения 5a-5d
type Layer1 struct {
	Protocol Layer1Protocol
	Rate     *Layer1Rate
	V110     *V110Params
	V120     *V120Params
	Async    *AsyncFormat
	Modem    *ModemParams
}

// Layer1Rate октет 5a
type Layer1Rate struct {
	Asynchronous bool
	Negotiation  bool
	UserRate     uint8
}

// V110Params октет 5b для V.110/X.30
type V110Params struct {
	IntermediateRate uint8
	NICTx            bool
	NICRx            bool
	FlowControlTx    bool
	FlowControlRx    bool
}

// V120Params октет 5b для V.120
type V120Params struct {
	RateAdaptionHeader bool
	MultiframeSupport  bool
	ProtocolSensitive  bool
	LLINegotiation     bool
	Assignor           bool
	InbandNegotiation  bool
}

// AsyncFormat октет 5c
type AsyncFormat struct {
	StopBits uint8
	DataBits uint8
	Parity   uint8
}

// ModemParams октет 5d
type ModemParams struct {
	FullDuplex bool
	ModemType  uint8
}

// LayerProtocol октеты 6 и 7. Extra хранит октеты 6a, 7a, 7b без разбора.
type LayerProtocol struct {
	Protocol uint8
	Extra    []byte
}

// BearerCapability информационный элемент Bearer capability (0x04)
type BearerCapability struct {
	CodingStandard     CodingStandard
	TransferCapability TransferCapability
	TransferMode       TransferMode
	TransferRate       TransferRate
	Structure          *BearerStructure
	// RateMultiplier октет 4.1, только для TransferRateMultirate
	RateMultiplier uint8
	Layer1         *Layer1
	Layer2         *LayerProtocol
	Layer3         *LayerProtocol
}

// SpeechBearer стандартная речевая несущая 64 кбит/с, A-law
func SpeechBearer() *BearerCapability {
	return &BearerCapability{
		CodingStandard:     CodingCCITT,
		TransferCapability: TransferSpeech,
		TransferMode:       TransferModeCircuit,
		TransferRate:       TransferRate64k,
		Layer1:             &Layer1{Protocol: Layer1G711ALaw},
	}
}

func (bc *BearerCapability) ID() ID { return IDBearerCapability }

func (bc *BearerCapability) Encode() ([]byte, error) {
	buf := make([]byte, 0, 8)
	buf = append(buf, ext(byte(bc.CodingStandard&0x3)<<5|byte(bc.TransferCapability&0x1f), true))

	oct4 := byte(bc.TransferMode&0x3)<<5 | byte(bc.TransferRate&0x1f)
	if bc.Structure == nil {
		buf = append(buf, ext(oct4, true))
	} else {
		s := bc.Structure
		buf = append(buf, ext(oct4, false))
		buf = append(buf, ext((s.Structure&0x7)<<4|(s.Configuration&0x3)<<2|s.Establishment&0x3, !s.HasDestinationRate))
		if s.HasDestinationRate {
			buf = append(buf, ext((s.Symmetry&0x3)<<5|byte(s.DestinationRate&0x1f), true))
		}
	}
	if bc.TransferRate == TransferRateMultirate {
		buf = append(buf, ext(bc.RateMultiplier&0x7f, true))
	}

	if l1 := bc.Layer1; l1 != nil {
		octets := []byte{bcLayer1Ident<<5 | byte(l1.Protocol&0x1f)}
		if r := l1.Rate; r != nil {
			octets = append(octets, boolBit(r.Asynchronous, 6)|boolBit(r.Negotiation, 5)|r.UserRate&0x1f)

			switch {
			case l1.V110 != nil:
				v := l1.V110
				octets = append(octets, (v.IntermediateRate&0x3)<<5|boolBit(v.NICTx, 4)|
					boolBit(v.NICRx, 3)|boolBit(v.FlowControlTx, 2)|boolBit(v.FlowControlRx, 1))
			case l1.V120 != nil:
				v := l1.V120
				octets = append(octets, boolBit(v.RateAdaptionHeader, 6)|boolBit(v.MultiframeSupport, 5)|
					boolBit(v.ProtocolSensitive, 4)|boolBit(v.LLINegotiation, 3)|
					boolBit(v.Assignor, 2)|boolBit(v.InbandNegotiation, 1))
			}

			if a := l1.Async; a != nil {
				octets = append(octets, (a.StopBits&0x3)<<5|(a.DataBits&0x3)<<3|a.Parity&0x7)
				if m := l1.Modem; m != nil {
					octets = append(octets, boolBit(m.FullDuplex, 6)|m.ModemType&0x3f)
				}
			}
		}
		for i, o := range octets {
			buf = append(buf, ext(o, i == len(octets)-1))
		}
	}

	for _, l := range []struct {
		ident byte
		p     *LayerProtocol
	}{{bcLayer2Ident, bc.Layer2}, {bcLayer3Ident, bc.Layer3}} {
		if l.p == nil {
			continue
		}
		buf = append(buf, ext(l.ident<<5|l.p.Protocol&0x1f, len(l.p.Extra) == 0))
		buf = append(buf, l.p.Extra...)
	}

	return buf, nil
}

func (bc *BearerCapability) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "coding %d, capability 0x%02x, mode %d, rate 0x%02x",
		bc.CodingStandard, uint8(bc.TransferCapability), bc.TransferMode, uint8(bc.TransferRate))
	if bc.Layer1 != nil {
		fmt.Fprintf(&b, ", L1 0x%02x", uint8(bc.Layer1.Protocol))
	}
	if bc.Layer2 != nil {
		fmt.Fprintf(&b, ", L2 0x%02x", bc.Layer2.Protocol)
	}
	if bc.Layer3 != nil {
		fmt.Fprintf(&b, ", L3 0x%02x", bc.Layer3.Protocol)
	}
	return b.String()
}

func boolBit(v bool, bit uint) byte {
	if v {
		return 1 << bit
	}
	return 0
}

func decodeBearerCapability(data []byte) (IE, error) {
	if len(data) < 2 {
		return nil, invalid(IDBearerCapability, "too short (%d octets)", len(data))
	}
	if data[0]&0x80 == 0 {
		return nil, invalid(IDBearerCapability, "octet 3 without extension bit")
	}

	bc := &BearerCapability{
		CodingStandard:     CodingStandard(data[0]>>5) & 0x3,
		TransferCapability: TransferCapability(data[0] & 0x1f),
	}

	group, rest, ok := splitExt(data[1:])
	if !ok || len(group) > 3 {
		return nil, invalid(IDBearerCapability, "malformed octet 4")
	}
	bc.TransferMode = TransferMode(group[0]>>5) & 0x3
	bc.TransferRate = TransferRate(group[0] & 0x1f)
	if len(group) >= 2 {
		bc.Structure = &BearerStructure{
			Structure:     (group[1] >> 4) & 0x7,
			Configuration: (group[1] >> 2) & 0x3,
			Establishment: group[1] & 0x3,
		}
		if len(group) == 3 {
			bc.Structure.HasDestinationRate = true
			bc.Structure.Symmetry = (group[2] >> 5) & 0x3
			bc.Structure.DestinationRate = TransferRate(group[2] & 0x1f)
		}
	}

	if bc.TransferRate == TransferRateMultirate {
		if len(rest) == 0 || rest[0]&0x80 == 0 {
			return nil, invalid(IDBearerCapability, "missing rate multiplier")
		}
		bc.RateMultiplier = rest[0] & 0x7f
		rest = rest[1:]
	}

	lastIdent := byte(0)
	for len(rest) > 0 {
		ident := (rest[0] >> 5) & 0x3
		if ident <= lastIdent {
			return nil, invalid(IDBearerCapability, "layer identifier %d out of order", ident)
		}
		lastIdent = ident

		group, rest, ok = splitExt(rest)
		if !ok {
			return nil, invalid(IDBearerCapability, "layer %d group without terminating octet", ident)
		}

		switch ident {
		case bcLayer1Ident:
			l1, err := decodeLayer1(group)
			if err != nil {
				return nil, err
			}
			bc.Layer1 = l1
		case bcLayer2Ident:
			bc.Layer2 = decodeLayerProtocol(group)
		case bcLayer3Ident:
			bc.Layer3 = decodeLayerProtocol(group)
		default:
			return nil, invalid(IDBearerCapability, "unexpected layer identifier %d", ident)
		}
	}

	return bc, nil
}

func decodeLayerProtocol(group []byte) *LayerProtocol {
	lp := &LayerProtocol{Protocol: group[0] & 0x1f}
	if len(group) > 1 {
		lp.Extra = append([]byte(nil), group[1:]...)
	}
	return lp
}

func decodeLayer1(group []byte) (*Layer1, error) {
	l1 := &Layer1{Protocol: Layer1Protocol(group[0] & 0x1f)}
	octets := group[1:]
	if len(octets) == 0 {
		return l1, nil
	}

	l1.Rate = &Layer1Rate{
		Asynchronous: octets[0]&0x40 != 0,
		Negotiation:  octets[0]&0x20 != 0,
		UserRate:     octets[0] & 0x1f,
	}
	octets = octets[1:]

	if len(octets) > 0 {
		switch l1.Protocol {
		case Layer1V110:
			o := octets[0]
			l1.V110 = &V110Params{
				IntermediateRate: (o >> 5) & 0x3,
				NICTx:            o&0x10 != 0,
				NICRx:            o&0x08 != 0,
				FlowControlTx:    o&0x04 != 0,
				FlowControlRx:    o&0x02 != 0,
			}
			octets = octets[1:]
		case Layer1V120:
			o := octets[0]
			l1.V120 = &V120Params{
				RateAdaptionHeader: o&0x40 != 0,
				MultiframeSupport:  o&0x20 != 0,
				ProtocolSensitive:  o&0x10 != 0,
				LLINegotiation:     o&0x08 != 0,
				Assignor:           o&0x04 != 0,
				InbandNegotiation:  o&0x02 != 0,
			}
			octets = octets[1:]
		}
	}

	if len(octets) > 0 {
		o := octets[0]
		l1.Async = &AsyncFormat{
			StopBits: (o >> 5) & 0x3,
			DataBits: (o >> 3) & 0x3,
			Parity:   o & 0x7,
		}
		octets = octets[1:]
	}

	if len(octets) > 0 {
		o := octets[0]
		l1.Modem = &ModemParams{
			FullDuplex: o&0x40 != 0,
			ModemType:  o & 0x3f,
		}
		octets = octets[1:]
	}

	if len(octets) > 0 {
		return nil, invalid(IDBearerCapability, "%d excess layer 1 octets", len(octets))
	}
	return l1, nil
}
