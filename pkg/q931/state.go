package q931

import (
	"fmt"

	"github.com/arzzra/q931/pkg/q931/message"
)

// State состояние вызова. Значения совпадают с номерами состояний Q.931;
// смысл номера зависит от роли (U-состояния TE и N-состояния NT).
type State uint8

const (
	StateNull                   State = 0
	StateCallInitiated          State = 1
	StateOverlapSending         State = 2
	StateOutgoingCallProceeding State = 3
	StateCallDelivered          State = 4
	StateCallPresent            State = 6
	StateCallReceived           State = 7
	StateConnectRequest         State = 8
	StateIncomingCallProceeding State = 9
	StateActive                 State = 10
	StateDisconnectRequest      State = 11
	StateDisconnectIndication   State = 12
	StateSuspendRequest         State = 15
	StateResumeRequest          State = 17
	StateReleaseRequest         State = 19
	StateCallAbort              State = 22
	StateOverlapReceiving       State = 25
)

var stateNames = map[State]string{
	StateNull:                   "Null",
	StateCallInitiated:          "Call Initiated",
	StateOverlapSending:         "Overlap Sending",
	StateOutgoingCallProceeding: "Outgoing Call Proceeding",
	StateCallDelivered:          "Call Delivered",
	StateCallPresent:            "Call Present",
	StateCallReceived:           "Call Received",
	StateConnectRequest:         "Connect Request",
	StateIncomingCallProceeding: "Incoming Call Proceeding",
	StateActive:                 "Active",
	StateDisconnectRequest:      "Disconnect Request",
	StateDisconnectIndication:   "Disconnect Indication",
	StateSuspendRequest:         "Suspend Request",
	StateResumeRequest:          "Resume Request",
	StateReleaseRequest:         "Release Request",
	StateCallAbort:              "Call Abort",
	StateOverlapReceiving:       "Overlap Receiving",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Label имя состояния с префиксом роли, например "U10 Active"
func (s State) Label(role Role) string {
	prefix := "U"
	if role == RoleNT {
		prefix = "N"
	}
	return fmt.Sprintf("%s%d %s", prefix, uint8(s), s)
}

// teStates состояния стороны пользователя
var teStates = []State{
	StateNull, StateCallInitiated, StateOverlapSending, StateOutgoingCallProceeding,
	StateCallDelivered, StateCallPresent, StateCallReceived, StateConnectRequest,
	StateIncomingCallProceeding, StateActive, StateDisconnectRequest,
	StateDisconnectIndication, StateSuspendRequest, StateResumeRequest,
	StateReleaseRequest, StateOverlapReceiving,
}

// ntStates состояния стороны сети
var ntStates = append(append([]State(nil), teStates...), StateCallAbort)

// States перечень состояний роли
func States(role Role) []State {
	if role == RoleNT {
		return append([]State(nil), ntStates...)
	}
	return append([]State(nil), teStates...)
}

// busyStates все состояния, кроме Null
func busyStates(role Role) []State {
	var out []State
	for _, s := range States(role) {
		if s != StateNull {
			out = append(out, s)
		}
	}
	return out
}

// except состояния из list без перечисленных
func except(list []State, skip ...State) []State {
	var out []State
outer:
	for _, s := range list {
		for _, k := range skip {
			if s == k {
				continue outer
			}
		}
		out = append(out, s)
	}
	return out
}

type (
	messageHandler func(c *Call, m *message.Message)
	requestHandler func(c *Call, r *Request)
	timerHandler   func(c *Call)
)

// transitions таблица переходов роли: состояние x событие -> обработчик.
// Таймер может быть запущен только в состояниях, где для него есть
// обработчик; при смене состояния остальные таймеры останавливаются.
type transitions struct {
	role     Role
	messages map[State]map[message.Type]messageHandler
	requests map[State]map[RequestKind]requestHandler
	timers   map[State]map[TimerID]timerHandler
	handled  map[message.Type]bool
}

func newTransitions(role Role) *transitions {
	return &transitions{
		role:     role,
		messages: make(map[State]map[message.Type]messageHandler),
		requests: make(map[State]map[RequestKind]requestHandler),
		timers:   make(map[State]map[TimerID]timerHandler),
		handled:  make(map[message.Type]bool),
	}
}

func (t *transitions) onMessage(mt message.Type, h messageHandler, states ...State) {
	t.handled[mt] = true
	for _, s := range states {
		if t.messages[s] == nil {
			t.messages[s] = make(map[message.Type]messageHandler)
		}
		t.messages[s][mt] = h
	}
}

func (t *transitions) onRequest(kind RequestKind, h requestHandler, states ...State) {
	for _, s := range states {
		if t.requests[s] == nil {
			t.requests[s] = make(map[RequestKind]requestHandler)
		}
		t.requests[s][kind] = h
	}
}

func (t *transitions) onTimer(id TimerID, h timerHandler, states ...State) {
	for _, s := range states {
		if t.timers[s] == nil {
			t.timers[s] = make(map[TimerID]timerHandler)
		}
		t.timers[s][id] = h
	}
}

func (t *transitions) message(s State, mt message.Type) messageHandler {
	return t.messages[s][mt]
}

func (t *transitions) request(s State, kind RequestKind) requestHandler {
	return t.requests[s][kind]
}

func (t *transitions) timer(s State, id TimerID) timerHandler {
	return t.timers[s][id]
}

// timerAllowed может ли таймер оставаться запущенным в состоянии
func (t *transitions) timerAllowed(s State, id TimerID) bool {
	return t.timers[s][id] != nil
}

// implemented обрабатывает ли роль сообщение хотя бы в одном состоянии
func (t *transitions) implemented(mt message.Type) bool {
	return t.handled[mt]
}

// Таблицы строятся в init: обработчики ссылаются на таблицы через tableFor
var teTable, ntTable *transitions

func init() {
	teTable = buildTETable()
	ntTable = buildNTTable()
}

func tableFor(role Role) *transitions {
	if role == RoleNT {
		return ntTable
	}
	return teTable
}
