package q931

import (
	"fmt"

	"github.com/arzzra/q931/pkg/q931/ie"
)

// CallID дескриптор вызова для приложения. Идентификаторы не переиспользуются,
// поэтому запрос по освобожденному вызову обнаруживается как устаревший.
type CallID uint64

// Status результат подтверждающего примитива
type Status uint8

const (
	StatusOK Status = iota
	StatusError
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusTimeout:
		return "TIMEOUT"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Tone тональный сигнал в полосе, которым управляет приложение на стороне сети
type Tone uint8

const (
	ToneDial Tone = iota + 1
	ToneRingback
	ToneBusy
	ToneFailure
)

func (t Tone) String() string {
	switch t {
	case ToneDial:
		return "dial"
	case ToneRingback:
		return "ringback"
	case ToneBusy:
		return "busy"
	case ToneFailure:
		return "failure"
	}
	return fmt.Sprintf("Tone(%d)", uint8(t))
}

// PrimitiveKind вид примитива, передаваемого приложению
type PrimitiveKind uint8

// Примитивы движок -> приложение
const (
	AlertingIndication PrimitiveKind = iota + 1
	ConnectIndication
	DisconnectIndication
	ErrorIndication
	InfoIndication
	MoreInfoIndication
	NotifyIndication
	ProceedingIndication
	ProgressIndication
	RejectIndication
	ReleaseConfirm
	ReleaseIndication
	ResumeConfirm
	ResumeIndication
	SetupCompleteIndication
	SetupConfirm
	SetupIndication
	StatusIndication
	SuspendConfirm
	SuspendIndication
	TimeoutIndication
	ManagementTimeout
	ManagementStatus
	ManagementRestartConfirm
	ConnectChannel
	DisconnectChannel
	StartTone
	StopTone
)

var primitiveNames = map[PrimitiveKind]string{
	AlertingIndication:       "ALERTING-IND",
	ConnectIndication:        "CONNECT-IND",
	DisconnectIndication:     "DISCONNECT-IND",
	ErrorIndication:          "ERROR-IND",
	InfoIndication:           "INFO-IND",
	MoreInfoIndication:       "MORE-INFO-IND",
	NotifyIndication:         "NOTIFY-IND",
	ProceedingIndication:     "PROCEEDING-IND",
	ProgressIndication:       "PROGRESS-IND",
	RejectIndication:         "REJECT-IND",
	ReleaseConfirm:           "RELEASE-CONF",
	ReleaseIndication:        "RELEASE-IND",
	ResumeConfirm:            "RESUME-CONF",
	ResumeIndication:         "RESUME-IND",
	SetupCompleteIndication:  "SETUP-COMPLETE-IND",
	SetupConfirm:             "SETUP-CONF",
	SetupIndication:          "SETUP-IND",
	StatusIndication:         "STATUS-IND",
	SuspendConfirm:           "SUSPEND-CONF",
	SuspendIndication:        "SUSPEND-IND",
	TimeoutIndication:        "TIMEOUT-IND",
	ManagementTimeout:        "MANAGEMENT-TIMEOUT",
	ManagementStatus:         "MANAGEMENT-STATUS",
	ManagementRestartConfirm: "MANAGEMENT-RESTART-CONF",
	ConnectChannel:           "CONNECT-CHANNEL",
	DisconnectChannel:        "DISCONNECT-CHANNEL",
	StartTone:                "START-TONE",
	StopTone:                 "STOP-TONE",
}

func (k PrimitiveKind) String() string {
	if name, ok := primitiveNames[k]; ok {
		return name
	}
	return fmt.Sprintf("PrimitiveKind(%d)", uint8(k))
}

// Primitive событие для приложения
type Primitive struct {
	Kind      PrimitiveKind
	Interface string
	// Call дескриптор вызова; 0 для примитивов управления интерфейсом
	Call CallID
	// Pvt объект приложения, связанный с вызовом
	Pvt    interface{}
	IEs    []ie.IE
	Status Status
	// Channel B-канал вызова, -1 если канал не назначен
	Channel int
	// Channels набор каналов для примитивов управления
	Channels ie.ChannelSet
	Tone     Tone
}

// Cause причина из элементов примитива
func (p Primitive) Cause() (*ie.Cause, bool) {
	c, ok := ie.Find(p.IEs, ie.IDCause).(*ie.Cause)
	return c, ok
}

func (p Primitive) String() string {
	s := fmt.Sprintf("%s %s call %d", p.Kind, p.Interface, p.Call)
	switch p.Kind {
	case ReleaseConfirm, ResumeConfirm, SetupCompleteIndication, SetupConfirm,
		StatusIndication, SuspendConfirm, ManagementTimeout, ManagementStatus:
		s += " " + p.Status.String()
	case StartTone:
		s += " " + p.Tone.String()
	case ManagementRestartConfirm:
		s += " " + p.Channels.String()
	}
	if c, ok := p.Cause(); ok {
		s += " " + c.String()
	}
	return s
}

// RequestKind вид запроса приложения
type RequestKind uint8

// Запросы приложение -> движок
const (
	AlertingRequest RequestKind = iota + 1
	DisconnectRequest
	InfoRequest
	MoreInfoRequest
	NotifyRequest
	ProceedingRequest
	ProgressRequest
	RejectRequest
	ReleaseRequest
	ResumeRequest
	ResumeRejectRequest
	ResumeResponse
	SetupCompleteRequest
	SetupRequest
	SetupResponse
	StatusEnquiryRequest
	SuspendRejectRequest
	SuspendResponse
	SuspendRequest
	RestartRequest
	AttachRequest
)

var requestNames = map[RequestKind]string{
	AlertingRequest:      "ALERTING-REQ",
	DisconnectRequest:    "DISCONNECT-REQ",
	InfoRequest:          "INFO-REQ",
	MoreInfoRequest:      "MORE-INFO-REQ",
	NotifyRequest:        "NOTIFY-REQ",
	ProceedingRequest:    "PROCEEDING-REQ",
	ProgressRequest:      "PROGRESS-REQ",
	RejectRequest:        "REJECT-REQ",
	ReleaseRequest:       "RELEASE-REQ",
	ResumeRequest:        "RESUME-REQ",
	ResumeRejectRequest:  "RESUME-REJECT-REQ",
	ResumeResponse:       "RESUME-RESP",
	SetupCompleteRequest: "SETUP-COMPLETE-REQ",
	SetupRequest:         "SETUP-REQ",
	SetupResponse:        "SETUP-RESP",
	StatusEnquiryRequest: "STATUS-ENQUIRY-REQ",
	SuspendRejectRequest: "SUSPEND-REJECT-REQ",
	SuspendResponse:      "SUSPEND-RESP",
	SuspendRequest:       "SUSPEND-REQ",
	RestartRequest:       "RESTART-REQ",
	AttachRequest:        "ATTACH-REQ",
}

func (k RequestKind) String() string {
	if name, ok := requestNames[k]; ok {
		return name
	}
	return fmt.Sprintf("RequestKind(%d)", uint8(k))
}

// Request запрос приложения к движку
type Request struct {
	Kind      RequestKind
	Interface string
	// Call вызов, к которому относится запрос. Для SetupRequest и
	// ResumeRequest дескриптор резервируется через Engine.ReserveCallID.
	Call CallID
	// Pvt объект приложения; AttachRequest заменяет им текущий
	Pvt interface{}
	IEs []ie.IE
	// Channels каналы для RestartRequest; пустой набор означает весь интерфейс
	Channels ie.ChannelSet
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s call %d", r.Kind, r.Interface, r.Call)
}
