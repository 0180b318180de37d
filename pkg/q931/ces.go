package q931

import (
	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/message"
)

// ces состояние терминала (Call Extension State), ответившего на
// широковещательный SETUP. Существует, пока вызов не выбрал терминал
// или пока не получено подтверждение освобождения.
type ces struct {
	tei       int
	dlc       *DLC
	state     State
	releasing bool
}

// broadcastPending SETUP отправлен широковещательно и терминал еще не выбран
func (c *Call) broadcastPending() bool {
	return c.dlc != nil && c.dlc.broadcast
}

func (c *Call) cesFor(d *DLC) *ces {
	if c.ces == nil {
		c.ces = make(map[int]*ces)
	}
	x, ok := c.ces[d.tei]
	if !ok {
		x = &ces{tei: d.tei, dlc: d.get(), state: StateCallPresent}
		d.hold()
		c.ces[d.tei] = x
		c.log.Debug("CES created", "tei", d.tei)
	}
	return x
}

func (c *Call) dropCES(x *ces) {
	if _, ok := c.ces[x.tei]; !ok {
		return
	}
	delete(c.ces, x.tei)
	x.dlc.release()
	x.dlc.put()
	c.log.Debug("CES dropped", "tei", x.tei)
}

func (c *Call) freeCES() {
	for _, x := range c.ces {
		c.dropCES(x)
	}
	c.ces = nil
}

// liveCES число терминалов, которым не отправлен RELEASE
func (c *Call) liveCES() int {
	n := 0
	for _, x := range c.ces {
		if !x.releasing {
			n++
		}
	}
	return n
}

func (c *Call) sendCES(x *ces, t message.Type, ies ...ie.IE) {
	c.intf.sendMessage(x.dlc, c.newMessage(t, ies...))
}

// releaseCES отправляет RELEASE терминалу и ждет RELEASE COMPLETE
func (c *Call) releaseCES(x *ces, cause ie.CauseValue) {
	if x.releasing {
		return
	}
	x.releasing = true
	c.sendCES(x, message.Release, c.cause(cause))
}

// saveCause запоминает причину отказа терминала. "Абонент занят"
// имеет приоритет над остальными причинами.
func (c *Call) saveCause(m *message.Message) {
	cause := causeOf(m.IEs)
	if cause == nil {
		return
	}
	if c.savedCause != nil && c.savedCause.Value == ie.CauseUserBusy {
		return
	}
	c.savedCause = cause
}

// selectCES выбирает терминал: вызов переходит на его звено, остальные
// терминалы освобождаются с причиной #26
func (c *Call) selectCES(x *ces) {
	for _, o := range c.ces {
		if o != x {
			c.releaseCES(o, ie.CauseNonSelectedUserClearing)
		}
	}

	old := c.dlc
	c.dlc = x.dlc.get()
	c.dlc.hold()
	old.release()
	old.put()
	c.dropCES(x)
	c.log = c.log.With("tei", x.tei)
	c.log.Debug("CES selected")
}

// cesReceive сообщение от терминала до выбора
func (c *Call) cesReceive(d *DLC, m *message.Message) {
	x := c.cesFor(d)

	switch m.Type {
	case message.Release:
		c.saveCause(m)
		c.sendCES(x, message.ReleaseComplete)
		c.dropCES(x)
		c.cesCleared()
		return
	case message.ReleaseComplete:
		c.saveCause(m)
		c.dropCES(x)
		c.cesCleared()
		return
	}

	if x.releasing || c.state == StateCallAbort {
		c.releaseCES(x, ie.CauseNonSelectedUserClearing)
		return
	}

	switch m.Type {
	case message.SetupAcknowledge:
		c.stopTimer(T303)
		c.selectCES(x)
		c.bindIndicatedChannel(m)
		c.setState(StateOverlapReceiving)
		c.startTimer(T304)
		c.indicate(MoreInfoIndication, m.IEs)

	case message.CallProceeding:
		x.state = StateIncomingCallProceeding
		if c.state == StateCallPresent {
			c.stopTimer(T303)
			c.setState(StateIncomingCallProceeding)
			c.startTimer(T310)
			c.indicate(ProceedingIndication, m.IEs)
		}

	case message.Alerting:
		x.state = StateCallReceived
		if c.state == StateCallPresent || c.state == StateIncomingCallProceeding {
			c.stopTimers(T303, T310)
			c.setState(StateCallReceived)
			c.startTimer(T301)
			c.indicate(AlertingIndication, m.IEs)
		}

	case message.Connect:
		c.stopAllTimers()
		c.selectCES(x)
		c.bindIndicatedChannel(m)
		c.setState(StateConnectRequest)
		c.confirm(SetupConfirm, StatusOK, m.IEs)

	case message.Disconnect:
		c.saveCause(m)
		c.releaseCES(x, ie.CauseNormalCallClearing)

	case message.StatusEnquiry:
		c.sendCES(x, message.Status,
			c.cause(ie.CauseResponseToStatusEnquiry),
			&ie.CallState{Value: ie.CallStateValue(x.state)})

	case message.Status:
		c.log.Debug("STATUS from CES", "tei", x.tei)

	case message.Information:
		c.indicate(InfoIndication, m.IEs)
	case message.Notify:
		c.indicate(NotifyIndication, m.IEs)
	case message.Progress:
		c.indicate(ProgressIndication, m.IEs)

	default:
		c.sendCES(x, message.Status,
			c.cause(ie.CauseMessageNotCompatibleWithState, byte(m.Type)),
			&ie.CallState{Value: ie.CallStateValue(x.state)})
	}
}

// cesCleared терминал освобожден; проверяет, остались ли кандидаты
func (c *Call) cesCleared() {
	if c.released {
		return
	}
	if c.state == StateCallAbort {
		if len(c.ces) == 0 {
			c.clear(ReleaseConfirm, StatusOK, nil)
		}
		return
	}
	if !c.broadcastPending() || c.liveCES() > 0 {
		return
	}
	if c.state == StateCallPresent {
		// другие терминалы еще могут ответить до экспирации T303
		return
	}

	cause := c.savedCause
	if cause == nil {
		cause = c.cause(ie.CauseNoUserResponding)
	}
	c.clear(ReleaseIndication, StatusOK, []ie.IE{cause})
}

// nonSelectedReceive сообщение от терминала, не выбранного для вызова
func (c *Call) nonSelectedReceive(d *DLC, m *message.Message) {
	x, known := c.ces[d.tei]

	switch m.Type {
	case message.Release:
		c.intf.sendMessage(d, c.newMessage(message.ReleaseComplete))
		if known {
			c.dropCES(x)
		}
	case message.ReleaseComplete:
		if known {
			c.dropCES(x)
		}
	default:
		if !known {
			x = c.cesFor(d)
		}
		c.releaseCES(x, ie.CauseNonSelectedUserClearing)
	}
}

// cesLinkFailure звено терминала-кандидата разорвано
func (c *Call) cesLinkFailure(d *DLC) {
	x, ok := c.ces[d.tei]
	if !ok {
		return
	}
	c.dropCES(x)
	c.cesCleared()
}

// abort локальное освобождение вызова при широковещательном SETUP:
// RELEASE всем терминалам-кандидатам и ожидание в N22
func (c *Call) abort(ies []ie.IE) {
	c.stopAllTimers()
	c.stopTone()
	ies = withCause(ies, c.cause(ie.CauseNormalCallClearing))
	c.release = c.newMessage(message.Release, ies...)

	for _, x := range c.ces {
		if !x.releasing {
			x.releasing = true
			c.intf.sendMessage(x.dlc, c.release)
		}
	}

	if len(c.ces) == 0 {
		c.clear(ReleaseConfirm, StatusOK, nil)
		return
	}
	c.setState(StateCallAbort)
	c.startTimer(T308)
}
