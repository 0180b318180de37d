package q931

import (
	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/message"
)

// Обработчики, общие для обеих ролей

func ignoreMessage(c *Call, m *message.Message) {
	c.log.Debug("message ignored", "message", m.Type.String(), "state", c.state.Label(c.role()))
}

func onStatusEnquiry(c *Call, _ *message.Message) {
	c.sendStatus(ie.CauseResponseToStatusEnquiry)
}

// knownState является ли значение из элемента Call state состоянием
// удаленной стороны
func knownState(peer Role, v ie.CallStateValue) bool {
	s := State(v)
	for _, st := range States(peer) {
		if st == s {
			return true
		}
	}
	return false
}

func peerRole(r Role) Role {
	if r == RoleNT {
		return RoleTE
	}
	return RoleNT
}

func onStatus(c *Call, m *message.Message) {
	cs, ok := m.Find(ie.IDCallState).(*ie.CallState)
	if !ok {
		cause := ie.CauseMandatoryIEMissing
		if malformed(m, ie.IDCallState) {
			cause = ie.CauseInvalidIEContents
		}
		c.sendStatus(cause, byte(ie.IDCallState))
		return
	}
	if cs.CodingStandard != ie.CodingCCITT {
		// значения состояний определены только для стандарта ITU-T
		c.log.Warn("call state with unsupported coding standard", "coding", uint8(cs.CodingStandard))
		c.sendStatus(ie.CauseInvalidIEContents, byte(ie.IDCallState))
		return
	}

	if cs.Value == ie.CallStateValue(StateNull) {
		c.log.Warn("peer reports Null state, clearing call")
		if c.state == StateReleaseRequest {
			c.clear(ReleaseConfirm, StatusOK, m.IEs)
		} else {
			c.clear(ReleaseIndication, StatusOK, m.IEs)
		}
		return
	}

	if !knownState(peerRole(c.role()), cs.Value) {
		c.log.Warn("peer reports incompatible state", "peer", uint8(cs.Value))
		if c.state != StateReleaseRequest {
			c.indicate(ReleaseIndication, []ie.IE{c.cause(ie.CauseMessageNotCompatibleWithState)})
			c.startRelease([]ie.IE{c.cause(ie.CauseMessageNotCompatibleWithState)})
		}
		return
	}

	if c.timerPending(T322) {
		c.stopTimer(T322)
		c.confirm(StatusIndication, StatusOK, m.IEs)
	}
}

func onRelease(c *Call, m *message.Message) {
	if c.state == StateReleaseRequest {
		// встречное разъединение
		c.clear(ReleaseConfirm, StatusOK, m.IEs)
		return
	}
	c.stopAllTimers()
	c.send(message.ReleaseComplete)
	c.clear(ReleaseIndication, StatusOK, m.IEs)
}

func onReleaseComplete(c *Call, m *message.Message) {
	switch {
	case c.state == StateReleaseRequest:
		c.clear(ReleaseConfirm, StatusOK, m.IEs)
	case c.outbound && c.setup != nil && (c.state == StateCallInitiated || c.state == StateCallPresent):
		c.clear(RejectIndication, StatusOK, m.IEs)
	case c.state == StateResumeRequest && c.outbound:
		c.clear(ResumeConfirm, StatusError, m.IEs)
	default:
		c.clear(ReleaseIndication, StatusOK, m.IEs)
	}
}

// onDisconnect удаленная сторона начала разъединение
func onDisconnect(c *Call, m *message.Message) {
	c.stopAllTimers()
	c.stopTone()
	if c.role() == RoleNT {
		c.setState(StateDisconnectRequest)
	} else {
		c.setState(StateDisconnectIndication)
	}
	if inbandInfo(m) {
		c.connectChannel()
	}
	c.indicate(DisconnectIndication, m.IEs)
}

// onDisconnectCollision DISCONNECT в ответ на наш DISCONNECT
func onDisconnectCollision(c *Call, m *message.Message) {
	ies := []ie.IE{}
	if c.disconnectCause != nil {
		ies = append(ies, c.disconnectCause)
	}
	c.startRelease(ies)
}

func onNotify(c *Call, m *message.Message) {
	c.indicate(NotifyIndication, m.IEs)
}

func onInformation(c *Call, m *message.Message) {
	c.indicate(InfoIndication, m.IEs)
}

func onProgress(c *Call, m *message.Message) {
	if inbandInfo(m) {
		c.connectChannel()
	}
	c.indicate(ProgressIndication, m.IEs)
}

func inbandInfo(m *message.Message) bool {
	pi, ok := m.Find(ie.IDProgressIndicator).(*ie.ProgressIndicator)
	return ok && pi.Description == ie.ProgressInbandInfoAvailable
}

// Общие запросы

func reqDisconnect(c *Call, r *Request) {
	c.startDisconnect(r.IEs)
}

func reqRelease(c *Call, r *Request) {
	c.startRelease(r.IEs)
}

func reqStatusEnquiry(c *Call, _ *Request) {
	c.enquire()
}

func reqInfo(c *Call, r *Request) {
	c.send(message.Information, r.IEs...)
}

func reqNotify(c *Call, r *Request) {
	c.send(message.Notify, r.IEs...)
}

func reqProgress(c *Call, r *Request) {
	c.send(message.Progress, r.IEs...)
}

// firstResponse добавляет идентификацию канала в первый ответ на SETUP
func (c *Call) firstResponse(ies []ie.IE) []ie.IE {
	if c.channelIndicated || c.channel == nil || ie.Find(ies, ie.IDChannelIdentification) != nil {
		return ies
	}
	c.channelIndicated = true
	return append([]ie.IE{c.intf.channelIdentification(c.channel, true)}, ies...)
}

// drop освобождает вызов по инициативе приложения без примитива
func (c *Call) drop() {
	c.stopAllTimers()
	c.disconnectChannel()
	c.setState(StateNull)
	c.free()
}

func reqReject(c *Call, r *Request) {
	c.send(message.ReleaseComplete, withCause(r.IEs, c.cause(ie.CauseCallRejected))...)
	c.drop()
}

// Общие таймеры

func onT305(c *Call) {
	ies := []ie.IE{}
	if c.disconnectCause != nil {
		ies = append(ies, c.disconnectCause)
	}
	c.startRelease(ies)
}

func onT308(c *Call) {
	if c.firstExpiry(T308) {
		if c.release != nil {
			c.transmit(c.release)
		}
		c.restartTimer(T308)
		return
	}

	maintenance := !c.restarting
	if maintenance && c.channel != nil {
		c.log.Warn("no response to RELEASE, channel put in maintenance", "channel", c.channel.ID)
	}
	c.stopAllTimers()
	c.disconnectChannel()
	c.releaseChannel(maintenance)
	c.clear(ReleaseConfirm, StatusError, []ie.IE{c.cause(ie.CauseRecoveryOnTimerExpiry)})
}

func onT309(c *Call) {
	c.log.Warn("data link not restored, clearing call")
	c.clear(ReleaseIndication, StatusOK, []ie.IE{c.cause(ie.CauseDestinationOutOfOrder)})
}

func onT322(c *Call) {
	if c.firstExpiry(T322) {
		c.send(message.StatusEnquiry)
		c.restartTimer(T322)
		return
	}

	c.confirm(StatusIndication, StatusTimeout, nil)
	if c.state != StateReleaseRequest && c.state != StateCallAbort {
		c.startRelease([]ie.IE{c.cause(ie.CauseTemporaryFailure)})
	}
}

// supervisionTimeout экспирация таймера ожидания ответа: приложение
// получает TIMEOUT, вызов разъединяется с указанной причиной
func (c *Call) supervisionTimeout(cause ie.CauseValue) {
	ies := []ie.IE{c.cause(cause)}
	c.indicate(TimeoutIndication, ies)
	if c.broadcastPending() {
		c.abort(ies)
		return
	}
	c.startDisconnect(ies)
}

// registerCommon общие переходы роли
func registerCommon(t *transitions) {
	busy := busyStates(t.role)

	t.onMessage(message.StatusEnquiry, onStatusEnquiry, busy...)
	t.onMessage(message.Status, onStatus, busy...)
	t.onMessage(message.Release, onRelease, busy...)
	t.onMessage(message.ReleaseComplete, onReleaseComplete, busy...)
	t.onMessage(message.Disconnect, ignoreMessage, StateReleaseRequest)
	t.onMessage(message.Notify, onNotify, except(busy, StateReleaseRequest, StateCallAbort)...)

	t.onRequest(StatusEnquiryRequest, reqStatusEnquiry, except(busy, StateReleaseRequest)...)

	t.onTimer(T322, onT322, except(busy, StateReleaseRequest)...)
	t.onTimer(T308, onT308, StateReleaseRequest)
	t.onTimer(T309, onT309, StateActive)
}
