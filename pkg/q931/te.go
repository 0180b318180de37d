package q931

import (
	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/message"
)

// Процедуры стороны пользователя (TE)

func teSetupAck(c *Call, m *message.Message) {
	c.stopTimer(T303)
	c.bindIndicatedChannel(m)
	c.setState(StateOverlapSending)
	c.startTimer(T304)
	c.indicate(MoreInfoIndication, m.IEs)
}

func teCallProceeding(c *Call, m *message.Message) {
	c.stopTimers(T303, T304)
	c.bindIndicatedChannel(m)
	c.setState(StateOutgoingCallProceeding)
	c.startTimer(T310)
	c.indicate(ProceedingIndication, m.IEs)
}

func teAlerting(c *Call, m *message.Message) {
	c.stopTimers(T303, T304, T310)
	c.bindIndicatedChannel(m)
	c.setState(StateCallDelivered)
	if inbandInfo(m) {
		c.connectChannel()
	}
	c.indicate(AlertingIndication, m.IEs)
}

func teConnect(c *Call, m *message.Message) {
	c.stopAllTimers()
	c.bindIndicatedChannel(m)
	c.send(message.ConnectAcknowledge)
	c.setState(StateActive)
	c.connectChannel()
	c.confirm(SetupConfirm, StatusOK, m.IEs)
}

func teT303(c *Call) {
	if c.firstExpiry(T303) {
		c.log.Debug("no response to SETUP, retransmitting")
		c.transmit(c.setup)
		c.restartTimer(T303)
		return
	}

	cause := c.cause(ie.CauseRecoveryOnTimerExpiry)
	c.send(message.ReleaseComplete, cause)
	c.clear(SetupConfirm, StatusError, []ie.IE{cause})
}

func teT304(c *Call) { c.supervisionTimeout(ie.CauseRecoveryOnTimerExpiry) }

func teT310(c *Call) { c.supervisionTimeout(ie.CauseRecoveryOnTimerExpiry) }

func teInfoRequest(c *Call, r *Request) {
	c.send(message.Information, r.IEs...)
	if c.state == StateOverlapSending {
		c.startTimer(T304)
	}
}

// Входящий вызов

func teAlertingRequest(c *Call, r *Request) {
	c.send(message.Alerting, c.firstResponse(r.IEs)...)
	c.setState(StateCallReceived)
}

func teProceedingRequest(c *Call, r *Request) {
	c.send(message.CallProceeding, c.firstResponse(r.IEs)...)
	c.setState(StateIncomingCallProceeding)
}

func teMoreInfoRequest(c *Call, r *Request) {
	c.send(message.SetupAcknowledge, c.firstResponse(r.IEs)...)
	c.setState(StateOverlapReceiving)
}

func teSetupResponse(c *Call, r *Request) {
	c.send(message.Connect, c.firstResponse(r.IEs)...)
	c.setState(StateConnectRequest)
	c.startTimer(T313)
}

func teConnectAck(c *Call, m *message.Message) {
	c.stopTimer(T313)
	c.setState(StateActive)
	c.connectChannel()
	c.confirm(SetupCompleteIndication, StatusOK, m.IEs)
}

func teT313(c *Call) {
	cause := c.cause(ie.CauseRecoveryOnTimerExpiry)
	c.confirm(SetupCompleteIndication, StatusError, []ie.IE{cause})
	c.startDisconnect([]ie.IE{cause})
}

// Приостановка и возобновление

func teSuspendRequest(c *Call, r *Request) {
	c.send(message.Suspend, r.IEs...)
	c.setState(StateSuspendRequest)
	c.startTimer(T319)
}

func teSuspendAck(c *Call, m *message.Message) {
	c.stopAllTimers()
	c.disconnectChannel()
	c.releaseChannel(false)
	c.setState(StateNull)
	c.confirm(SuspendConfirm, StatusOK, m.IEs)
	c.free()
}

func teSuspendReject(c *Call, m *message.Message) {
	c.stopTimer(T319)
	c.setState(StateActive)
	c.confirm(SuspendConfirm, StatusError, m.IEs)
}

func teT319(c *Call) {
	c.setState(StateActive)
	c.confirm(SuspendConfirm, StatusTimeout, nil)
}

func teResumeAck(c *Call, m *message.Message) {
	c.stopTimer(T318)
	c.bindIndicatedChannel(m)
	c.setState(StateActive)
	c.connectChannel()
	c.confirm(ResumeConfirm, StatusOK, m.IEs)
}

func teResumeReject(c *Call, m *message.Message) {
	c.clear(ResumeConfirm, StatusError, m.IEs)
}

func teT318(c *Call) {
	cause := c.cause(ie.CauseRecoveryOnTimerExpiry)
	c.confirm(ResumeConfirm, StatusTimeout, []ie.IE{cause})
	c.startRelease([]ie.IE{cause})
}

func buildTETable() *transitions {
	t := newTransitions(RoleTE)
	registerCommon(t)

	// исходящий вызов
	t.onMessage(message.SetupAcknowledge, teSetupAck, StateCallInitiated)
	t.onMessage(message.CallProceeding, teCallProceeding, StateCallInitiated, StateOverlapSending)
	t.onMessage(message.Alerting, teAlerting, StateCallInitiated, StateOverlapSending, StateOutgoingCallProceeding)
	t.onMessage(message.Connect, teConnect,
		StateCallInitiated, StateOverlapSending, StateOutgoingCallProceeding, StateCallDelivered)
	t.onMessage(message.Progress, onProgress,
		StateCallInitiated, StateOverlapSending, StateOutgoingCallProceeding, StateCallDelivered)
	t.onTimer(T303, teT303, StateCallInitiated)
	t.onTimer(T304, teT304, StateOverlapSending)
	t.onTimer(T310, teT310, StateOutgoingCallProceeding)

	// входящий вызов
	t.onRequest(AlertingRequest, teAlertingRequest,
		StateCallPresent, StateIncomingCallProceeding, StateOverlapReceiving)
	t.onRequest(ProceedingRequest, teProceedingRequest, StateCallPresent, StateOverlapReceiving)
	t.onRequest(MoreInfoRequest, teMoreInfoRequest, StateCallPresent)
	t.onRequest(SetupResponse, teSetupResponse,
		StateCallPresent, StateCallReceived, StateIncomingCallProceeding, StateOverlapReceiving)
	t.onRequest(RejectRequest, reqReject, StateCallPresent, StateOverlapReceiving)
	t.onMessage(message.ConnectAcknowledge, teConnectAck, StateConnectRequest)
	t.onTimer(T313, teT313, StateConnectRequest)

	// информация
	infoStates := []State{
		StateOverlapSending, StateOutgoingCallProceeding, StateCallDelivered,
		StateCallReceived, StateConnectRequest, StateIncomingCallProceeding,
		StateActive, StateDisconnectRequest, StateDisconnectIndication,
		StateSuspendRequest, StateOverlapReceiving,
	}
	t.onMessage(message.Information, onInformation, infoStates...)
	t.onRequest(InfoRequest, teInfoRequest,
		StateOverlapSending, StateOutgoingCallProceeding, StateCallDelivered,
		StateCallReceived, StateConnectRequest, StateIncomingCallProceeding,
		StateActive, StateOverlapReceiving)
	t.onRequest(NotifyRequest, reqNotify,
		StateOutgoingCallProceeding, StateCallDelivered, StateCallReceived,
		StateIncomingCallProceeding, StateActive)

	// разъединение
	t.onMessage(message.Disconnect, onDisconnect,
		StateCallInitiated, StateOverlapSending, StateOutgoingCallProceeding,
		StateCallDelivered, StateCallPresent, StateCallReceived, StateConnectRequest,
		StateIncomingCallProceeding, StateActive, StateSuspendRequest,
		StateResumeRequest, StateOverlapReceiving)
	t.onMessage(message.Disconnect, onDisconnectCollision, StateDisconnectRequest)
	t.onMessage(message.Disconnect, ignoreMessage, StateDisconnectIndication)
	t.onRequest(DisconnectRequest, reqDisconnect,
		StateCallInitiated, StateOverlapSending, StateOutgoingCallProceeding,
		StateCallDelivered, StateCallReceived, StateConnectRequest,
		StateIncomingCallProceeding, StateActive, StateOverlapReceiving)
	t.onRequest(ReleaseRequest, reqRelease, StateDisconnectIndication)
	t.onTimer(T305, onT305, StateDisconnectRequest)

	// приостановка и возобновление
	t.onRequest(SuspendRequest, teSuspendRequest, StateActive)
	t.onMessage(message.SuspendAcknowledge, teSuspendAck, StateSuspendRequest)
	t.onMessage(message.SuspendReject, teSuspendReject, StateSuspendRequest)
	t.onTimer(T319, teT319, StateSuspendRequest)
	t.onMessage(message.ResumeAcknowledge, teResumeAck, StateResumeRequest)
	t.onMessage(message.ResumeReject, teResumeReject, StateResumeRequest)
	t.onTimer(T318, teT318, StateResumeRequest)

	return t
}
