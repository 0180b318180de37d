package q931

import (
	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/message"
)

// Процедуры стороны сети (NT)

// Вызов от абонента: N1 -> N2/N3/N4 -> N10

func ntMoreInfoRequest(c *Call, r *Request) {
	c.send(message.SetupAcknowledge, c.firstResponse(r.IEs)...)
	c.setState(StateOverlapSending)
	c.startTimer(T302)
	c.startTone(ToneDial)
}

func ntInformation(c *Call, m *message.Message) {
	c.startTimer(T302)
	c.stopTone()
	c.indicate(InfoIndication, m.IEs)
}

func ntT302(c *Call) {
	c.log.Debug("overlap receiving timed out")
	c.confirm(TimeoutIndication, StatusTimeout, nil)
}

func ntProceedingRequest(c *Call, r *Request) {
	c.stopTimer(T302)
	c.stopTone()
	c.send(message.CallProceeding, c.firstResponse(r.IEs)...)
	c.setState(StateOutgoingCallProceeding)
}

func ntAlertingRequest(c *Call, r *Request) {
	c.stopTimer(T302)
	c.stopTone()
	ies := c.firstResponse(r.IEs)
	if c.intf.cfg.Tones && c.channel != nil && ie.Find(ies, ie.IDProgressIndicator) == nil {
		ies = append(ies, &ie.ProgressIndicator{
			Location:    c.intf.location(),
			Description: ie.ProgressInbandInfoAvailable,
		})
	}
	c.send(message.Alerting, ies...)
	c.setState(StateCallDelivered)
	c.startTone(ToneRingback)
}

func ntSetupResponse(c *Call, r *Request) {
	c.stopTimer(T302)
	c.stopTone()
	c.send(message.Connect, c.firstResponse(r.IEs)...)
	c.setState(StateActive)
	c.connectChannel()
}

func ntProgressRequest(c *Call, r *Request) {
	c.stopTone()
	c.send(message.Progress, r.IEs...)
}

func ntConnectAck(c *Call, m *message.Message) {
	c.indicate(ConnectIndication, m.IEs)
}

// Вызов к абоненту: N6 -> N25/N9/N7 -> N8 -> N10

func ntSetupAck(c *Call, m *message.Message) {
	c.stopTimer(T303)
	c.bindIndicatedChannel(m)
	c.setState(StateOverlapReceiving)
	c.startTimer(T304)
	c.indicate(MoreInfoIndication, m.IEs)
}

func ntCallProceeding(c *Call, m *message.Message) {
	c.stopTimers(T303, T304)
	c.bindIndicatedChannel(m)
	c.setState(StateIncomingCallProceeding)
	c.startTimer(T310)
	c.indicate(ProceedingIndication, m.IEs)
}

func ntAlerting(c *Call, m *message.Message) {
	c.stopTimers(T303, T304, T310)
	c.bindIndicatedChannel(m)
	c.setState(StateCallReceived)
	c.startTimer(T301)
	c.indicate(AlertingIndication, m.IEs)
}

func ntConnect(c *Call, m *message.Message) {
	c.stopAllTimers()
	c.bindIndicatedChannel(m)
	c.setState(StateConnectRequest)
	c.confirm(SetupConfirm, StatusOK, m.IEs)
}

func ntSetupCompleteRequest(c *Call, r *Request) {
	c.send(message.ConnectAcknowledge, r.IEs...)
	c.setState(StateActive)
	c.connectChannel()
}

func ntInfoRequest(c *Call, r *Request) {
	c.send(message.Information, r.IEs...)
	if c.state == StateOverlapReceiving {
		c.startTimer(T304)
	}
}

func ntT303(c *Call) {
	if c.firstExpiry(T303) && c.liveCES() == 0 {
		c.log.Debug("no response to SETUP, retransmitting")
		c.transmit(c.setup)
		c.restartTimer(T303)
		if c.dlc == c.intf.broadcast {
			c.intf.retainBroadcastRef(c.ref)
		}
		return
	}

	cause := c.savedCause
	if cause == nil {
		cause = c.cause(ie.CauseNoUserResponding)
	}
	if c.broadcastPending() {
		// ответившие терминалы освобождаются без ожидания подтверждения
		for _, x := range c.ces {
			if !x.releasing {
				c.sendCES(x, message.Release, c.cause(ie.CauseRecoveryOnTimerExpiry))
			}
		}
	} else {
		c.send(message.ReleaseComplete, c.cause(ie.CauseRecoveryOnTimerExpiry))
	}
	c.clear(SetupConfirm, StatusError, []ie.IE{cause})
}

func ntT301(c *Call) { c.supervisionTimeout(ie.CauseNoAnswerFromUser) }

func ntT304(c *Call) { c.supervisionTimeout(ie.CauseRecoveryOnTimerExpiry) }

func ntT310(c *Call) { c.supervisionTimeout(ie.CauseRecoveryOnTimerExpiry) }

// Разъединение

func ntDisconnectRequest(c *Call, r *Request) {
	if c.broadcastPending() {
		c.abort(r.IEs)
		return
	}
	c.stopTone()
	c.startDisconnect(r.IEs)
}

// ntT308Abort повтор RELEASE терминалам в N22
func ntT308Abort(c *Call) {
	if c.firstExpiry(T308) {
		for _, x := range c.ces {
			c.intf.sendMessage(x.dlc, c.release)
		}
		c.restartTimer(T308)
		return
	}
	c.log.Warn("terminals did not confirm RELEASE", "ces", len(c.ces))
	c.clear(ReleaseConfirm, StatusError, []ie.IE{c.cause(ie.CauseRecoveryOnTimerExpiry)})
}

// Приостановка

func ntSuspend(c *Call, m *message.Message) {
	identity := identityOf(m)
	if c.intf.suspended.inUse(identity) {
		c.log.Warn("SUSPEND rejected, call identity in use")
		c.send(message.SuspendReject, c.cause(ie.CauseCallIdentityInUse))
		return
	}
	c.suspendIdentity = identity
	c.setState(StateSuspendRequest)
	c.indicate(SuspendIndication, m.IEs)
}

func ntSuspendResponse(c *Call, r *Request) {
	c.disconnectChannel()
	c.intf.suspended.park(c)
	c.send(message.SuspendAcknowledge, r.IEs...)
	c.drop()
}

func ntSuspendRejectRequest(c *Call, r *Request) {
	c.suspendIdentity = nil
	c.send(message.SuspendReject, withCause(r.IEs, c.cause(ie.CauseFacilityRejected))...)
	c.setState(StateActive)
}

// Возобновление

func ntResumeResponse(c *Call, r *Request) {
	preferred := -1
	if c.resumed != nil {
		preferred = c.resumed.channel
	}

	ci, _ := ie.Find(r.IEs, ie.IDChannelIdentification).(*ie.ChannelIdentification)
	ch, cause := c.intf.selectChannel(ci, preferred)
	if cause != 0 || ch == nil {
		if cause == 0 {
			cause = ie.CauseNoCircuitChannelAvailable
		}
		c.log.Warn("no channel for resumed call", "cause", cause.String())
		c.confirm(ErrorIndication, StatusError, []ie.IE{c.cause(cause)})
		return
	}

	c.bindChannel(ch)
	c.resumed = nil
	ies := r.IEs
	if ci == nil {
		ies = append([]ie.IE{c.intf.channelIdentification(ch, true)}, ies...)
	}
	c.send(message.ResumeAcknowledge, ies...)
	c.setState(StateActive)
	c.connectChannel()
}

func ntResumeRejectRequest(c *Call, r *Request) {
	c.send(message.ResumeReject, withCause(r.IEs, c.cause(ie.CauseNormalUnspecified))...)
	c.drop()
}

func buildNTTable() *transitions {
	t := newTransitions(RoleNT)
	registerCommon(t)

	// вызов от абонента
	t.onRequest(MoreInfoRequest, ntMoreInfoRequest, StateCallInitiated)
	t.onMessage(message.Information, ntInformation, StateOverlapSending)
	t.onTimer(T302, ntT302, StateOverlapSending)
	t.onRequest(ProceedingRequest, ntProceedingRequest, StateCallInitiated, StateOverlapSending)
	t.onRequest(AlertingRequest, ntAlertingRequest,
		StateCallInitiated, StateOverlapSending, StateOutgoingCallProceeding)
	t.onRequest(SetupResponse, ntSetupResponse,
		StateCallInitiated, StateOverlapSending, StateOutgoingCallProceeding, StateCallDelivered)
	t.onRequest(RejectRequest, reqReject, StateCallInitiated)
	t.onRequest(ProgressRequest, ntProgressRequest,
		StateCallInitiated, StateOverlapSending, StateOutgoingCallProceeding, StateCallDelivered)
	t.onMessage(message.ConnectAcknowledge, ntConnectAck, StateActive)

	// вызов к абоненту
	t.onMessage(message.SetupAcknowledge, ntSetupAck, StateCallPresent)
	t.onMessage(message.CallProceeding, ntCallProceeding, StateCallPresent, StateOverlapReceiving)
	t.onMessage(message.Alerting, ntAlerting,
		StateCallPresent, StateOverlapReceiving, StateIncomingCallProceeding)
	t.onMessage(message.Connect, ntConnect,
		StateCallPresent, StateOverlapReceiving, StateIncomingCallProceeding, StateCallReceived)
	t.onMessage(message.Progress, onProgress,
		StateOverlapReceiving, StateIncomingCallProceeding, StateCallReceived)
	t.onRequest(SetupCompleteRequest, ntSetupCompleteRequest, StateConnectRequest)
	t.onTimer(T303, ntT303, StateCallPresent)
	t.onTimer(T304, ntT304, StateOverlapReceiving)
	t.onTimer(T310, ntT310, StateIncomingCallProceeding)
	t.onTimer(T301, ntT301, StateCallReceived)

	// информация
	t.onMessage(message.Information, onInformation,
		StateOutgoingCallProceeding, StateCallDelivered, StateCallReceived,
		StateConnectRequest, StateIncomingCallProceeding, StateActive,
		StateDisconnectRequest, StateDisconnectIndication, StateSuspendRequest,
		StateOverlapReceiving)
	t.onRequest(InfoRequest, ntInfoRequest,
		StateOverlapSending, StateOutgoingCallProceeding, StateCallDelivered,
		StateCallReceived, StateConnectRequest, StateIncomingCallProceeding,
		StateActive, StateOverlapReceiving)
	t.onRequest(NotifyRequest, reqNotify,
		StateOutgoingCallProceeding, StateCallDelivered, StateCallReceived,
		StateIncomingCallProceeding, StateActive)

	// разъединение
	live := []State{
		StateCallInitiated, StateOverlapSending, StateOutgoingCallProceeding,
		StateCallDelivered, StateCallPresent, StateCallReceived, StateConnectRequest,
		StateIncomingCallProceeding, StateActive, StateSuspendRequest,
		StateResumeRequest, StateOverlapReceiving,
	}
	t.onMessage(message.Disconnect, onDisconnect, live...)
	t.onMessage(message.Disconnect, onDisconnectCollision, StateDisconnectIndication)
	t.onMessage(message.Disconnect, ignoreMessage, StateDisconnectRequest)
	t.onRequest(DisconnectRequest, ntDisconnectRequest, except(live, StateSuspendRequest, StateResumeRequest)...)
	t.onRequest(ReleaseRequest, ntDisconnectRequest, StateCallPresent)
	t.onRequest(ReleaseRequest, reqRelease, StateDisconnectRequest)
	t.onTimer(T305, onT305, StateDisconnectIndication)
	t.onTimer(T306, onT305, StateDisconnectIndication)
	t.onTimer(T308, ntT308Abort, StateCallAbort)

	// приостановка и возобновление
	t.onMessage(message.Suspend, ntSuspend, StateActive)
	t.onRequest(SuspendResponse, ntSuspendResponse, StateSuspendRequest)
	t.onRequest(SuspendRejectRequest, ntSuspendRejectRequest, StateSuspendRequest)
	t.onRequest(ResumeResponse, ntResumeResponse, StateResumeRequest)
	t.onRequest(ResumeRejectRequest, ntResumeRejectRequest, StateResumeRequest)

	return t
}
