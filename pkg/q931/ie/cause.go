package ie

import (
	"fmt"
)

// CauseValue значение причины Q.850
type CauseValue uint8

// Значения причин
const (
	CauseUnallocatedNumber              CauseValue = 1
	CauseNoRouteToTransitNetwork        CauseValue = 2
	CauseNoRouteToDestination           CauseValue = 3
	CauseChannelUnacceptable            CauseValue = 6
	CauseCallAwardedDelivered           CauseValue = 7
	CauseNormalCallClearing             CauseValue = 16
	CauseUserBusy                       CauseValue = 17
	CauseNoUserResponding               CauseValue = 18
	CauseNoAnswerFromUser               CauseValue = 19
	CauseCallRejected                   CauseValue = 21
	CauseNumberChanged                  CauseValue = 22
	CauseNonSelectedUserClearing        CauseValue = 26
	CauseDestinationOutOfOrder          CauseValue = 27
	CauseInvalidNumberFormat            CauseValue = 28
	CauseFacilityRejected               CauseValue = 29
	CauseResponseToStatusEnquiry        CauseValue = 30
	CauseNormalUnspecified              CauseValue = 31
	CauseNoCircuitChannelAvailable      CauseValue = 34
	CauseNetworkOutOfOrder              CauseValue = 38
	CauseTemporaryFailure               CauseValue = 41
	CauseSwitchingEquipmentCongestion   CauseValue = 42
	CauseAccessInformationDiscarded     CauseValue = 43
	CauseRequestedChannelNotAvailable   CauseValue = 44
	CauseResourcesUnavailable           CauseValue = 47
	CauseQualityOfServiceUnavailable    CauseValue = 49
	CauseFacilityNotSubscribed          CauseValue = 50
	CauseBearerCapabilityNotAuthorized  CauseValue = 57
	CauseBearerCapabilityNotAvailable   CauseValue = 58
	CauseServiceNotAvailable            CauseValue = 63
	CauseBearerCapabilityNotImplemented CauseValue = 65
	CauseChannelTypeNotImplemented      CauseValue = 66
	CauseFacilityNotImplemented         CauseValue = 69
	CauseOnlyRestrictedDigital          CauseValue = 70
	CauseServiceNotImplemented          CauseValue = 79
	CauseInvalidCallReference           CauseValue = 81
	CauseIdentifiedChannelDoesNotExist  CauseValue = 82
	CauseSuspendedCallExistsNotThis     CauseValue = 83
	CauseCallIdentityInUse              CauseValue = 84
	CauseNoCallSuspended                CauseValue = 85
	CauseSuspendedCallCleared           CauseValue = 86
	CauseIncompatibleDestination        CauseValue = 88
	CauseInvalidTransitNetwork          CauseValue = 91
	CauseInvalidMessage                 CauseValue = 95
	CauseMandatoryIEMissing             CauseValue = 96
	CauseMessageTypeNonexistent         CauseValue = 97
	CauseMessageNotCompatibleOrUnknown  CauseValue = 98
	CauseIENonexistent                  CauseValue = 99
	CauseInvalidIEContents              CauseValue = 100
	CauseMessageNotCompatibleWithState  CauseValue = 101
	CauseRecoveryOnTimerExpiry          CauseValue = 102
	CauseProtocolError                  CauseValue = 111
	CauseInterworking                   CauseValue = 127
)

var causeNames = map[CauseValue]string{
	CauseUnallocatedNumber:              "unallocated number",
	CauseNoRouteToTransitNetwork:        "no route to specified transit network",
	CauseNoRouteToDestination:           "no route to destination",
	CauseChannelUnacceptable:            "channel unacceptable",
	CauseCallAwardedDelivered:           "call awarded and being delivered",
	CauseNormalCallClearing:             "normal call clearing",
	CauseUserBusy:                       "user busy",
	CauseNoUserResponding:               "no user responding",
	CauseNoAnswerFromUser:               "no answer from user",
	CauseCallRejected:                   "call rejected",
	CauseNumberChanged:                  "number changed",
	CauseNonSelectedUserClearing:        "non-selected user clearing",
	CauseDestinationOutOfOrder:          "destination out of order",
	CauseInvalidNumberFormat:            "invalid number format",
	CauseFacilityRejected:               "facility rejected",
	CauseResponseToStatusEnquiry:        "response to status enquiry",
	CauseNormalUnspecified:              "normal, unspecified",
	CauseNoCircuitChannelAvailable:      "no circuit/channel available",
	CauseNetworkOutOfOrder:              "network out of order",
	CauseTemporaryFailure:               "temporary failure",
	CauseSwitchingEquipmentCongestion:   "switching equipment congestion",
	CauseAccessInformationDiscarded:     "access information discarded",
	CauseRequestedChannelNotAvailable:   "requested circuit/channel not available",
	CauseResourcesUnavailable:           "resources unavailable, unspecified",
	CauseQualityOfServiceUnavailable:    "quality of service unavailable",
	CauseFacilityNotSubscribed:          "requested facility not subscribed",
	CauseBearerCapabilityNotAuthorized:  "bearer capability not authorized",
	CauseBearerCapabilityNotAvailable:   "bearer capability not presently available",
	CauseServiceNotAvailable:            "service or option not available",
	CauseBearerCapabilityNotImplemented: "bearer capability not implemented",
	CauseChannelTypeNotImplemented:      "channel type not implemented",
	CauseFacilityNotImplemented:         "requested facility not implemented",
	CauseOnlyRestrictedDigital:          "only restricted digital information bearer capability is available",
	CauseServiceNotImplemented:          "service or option not implemented",
	CauseInvalidCallReference:           "invalid call reference value",
	CauseIdentifiedChannelDoesNotExist:  "identified channel does not exist",
	CauseSuspendedCallExistsNotThis:     "a suspended call exists, but this call identity does not",
	CauseCallIdentityInUse:              "call identity in use",
	CauseNoCallSuspended:                "no call suspended",
	CauseSuspendedCallCleared:           "call having the requested call identity has been cleared",
	CauseIncompatibleDestination:        "incompatible destination",
	CauseInvalidTransitNetwork:          "invalid transit network selection",
	CauseInvalidMessage:                 "invalid message, unspecified",
	CauseMandatoryIEMissing:             "mandatory information element is missing",
	CauseMessageTypeNonexistent:         "message type non-existent or not implemented",
	CauseMessageNotCompatibleOrUnknown:  "message not compatible with call state or message type non-existent",
	CauseIENonexistent:                  "information element non-existent or not implemented",
	CauseInvalidIEContents:              "invalid information element contents",
	CauseMessageNotCompatibleWithState:  "message not compatible with call state",
	CauseRecoveryOnTimerExpiry:          "recovery on timer expiry",
	CauseProtocolError:                  "protocol error, unspecified",
	CauseInterworking:                   "interworking, unspecified",
}

func (v CauseValue) String() string {
	if name, ok := causeNames[v]; ok {
		return name
	}
	return fmt.Sprintf("cause #%d", uint8(v))
}

// Location поле location причины и индикатора прогресса
type Location uint8

const (
	LocationUser                    Location = 0x0
	LocationPrivateNetworkLocalUser Location = 0x1
	LocationPublicNetworkLocalUser  Location = 0x2
	LocationTransitNetwork          Location = 0x3
	LocationPublicNetworkRemoteUser Location = 0x4
	LocationPrivateNetworkRemote    Location = 0x5
	LocationInternational           Location = 0x7
	LocationBeyondInterworking      Location = 0xa
)

// CodingStandard стандарт кодирования (2 бита)
type CodingStandard uint8

const (
	CodingCCITT    CodingStandard = 0x0
	CodingReserved CodingStandard = 0x1
	CodingNational CodingStandard = 0x2
	CodingSpecific CodingStandard = 0x3
)

// Cause информационный элемент Cause (0x08)
type Cause struct {
	CodingStandard CodingStandard
	Location       Location
	// Recommendation октет 3a, присутствует при HasRecommendation
	HasRecommendation bool
	Recommendation    uint8
	Value             CauseValue
	Diagnostics       []byte
}

// NewCause причина со стандартным кодированием CCITT
func NewCause(location Location, value CauseValue, diagnostics ...byte) *Cause {
	return &Cause{
		CodingStandard: CodingCCITT,
		Location:       location,
		Value:          value,
		Diagnostics:    diagnostics,
	}
}

func (c *Cause) ID() ID { return IDCause }

func (c *Cause) Encode() ([]byte, error) {
	buf := make([]byte, 0, 3+len(c.Diagnostics))
	oct3 := byte(c.CodingStandard&0x3)<<5 | byte(c.Location&0xf)
	buf = append(buf, ext(oct3, !c.HasRecommendation))
	if c.HasRecommendation {
		buf = append(buf, ext(c.Recommendation&0x7f, true))
	}
	buf = append(buf, ext(byte(c.Value)&0x7f, true))
	return append(buf, c.Diagnostics...), nil
}

func (c *Cause) String() string {
	s := fmt.Sprintf("#%d %s, location %d", uint8(c.Value), c.Value, c.Location)
	if len(c.Diagnostics) > 0 {
		s += fmt.Sprintf(", diagnostics % x", c.Diagnostics)
	}
	return s
}

func decodeCause(data []byte) (IE, error) {
	group, rest, ok := splitExt(data)
	if !ok || len(group) > 2 {
		return nil, invalid(IDCause, "malformed octet 3")
	}

	c := &Cause{
		CodingStandard: CodingStandard(group[0]>>5) & 0x3,
		Location:       Location(group[0] & 0xf),
	}
	if len(group) == 2 {
		c.HasRecommendation = true
		c.Recommendation = group[1] & 0x7f
	}

	if len(rest) == 0 {
		return nil, invalid(IDCause, "missing cause value")
	}
	if rest[0]&0x80 == 0 {
		return nil, invalid(IDCause, "cause value octet without extension bit")
	}
	c.Value = CauseValue(rest[0] & 0x7f)
	if len(rest) > 1 {
		c.Diagnostics = append([]byte(nil), rest[1:]...)
	}
	return c, nil
}
