package q931

import (
	"context"
	"errors"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/message"
	"github.com/arzzra/q931/pkg/q931/timer"
)

// Состояния глобального вызова
const (
	globalNull           = "null"
	globalRestartRequest = "restart-request"
	globalRestart        = "restart"
)

// Результаты рестарта для метрик
const (
	restartOK      = "ok"
	restartPartial = "partial"
	restartFailed  = "failed"
)

// globalCall глобальный вызов интерфейса (ссылка 0): процедура рестарта.
//
// required каналы, которые еще должны освободиться, acked уже освобожденные.
// Рестарт завершается, когда required пуст и (для локального рестарта)
// получен RESTART ACKNOWLEDGE.
type globalCall struct {
	intf  *Interface
	log   *slog.Logger
	state *fsm.FSM

	origin   string
	class    ie.RestartClass
	required ie.ChannelSet
	acked    ie.ChannelSet

	ackReceived bool
	// t317Expired каналы не освободились вовремя, RESTART ACKNOWLEDGE
	// завершит рестарт частично
	t317Expired bool
	restart     *message.Message
	dlc         *DLC
	peerRef     message.CallRef

	t316 *timer.Timer
	t317 *timer.Timer
	// t316Count число экспираций T316 текущего рестарта
	t316Count int
}

func newGlobalCall(i *Interface) *globalCall {
	g := &globalCall{
		intf: i,
		log:  i.log.With("call", "global"),
	}

	g.state = fsm.NewFSM(
		globalNull,
		fsm.Events{
			{Name: "request", Src: []string{globalNull}, Dst: globalRestartRequest},
			{Name: "indication", Src: []string{globalNull}, Dst: globalRestart},
			{Name: "complete", Src: []string{globalRestartRequest, globalRestart}, Dst: globalNull},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				g.log.Debug("global call state changed", "from", e.Src, "to", e.Dst)
			},
		},
	)

	g.t316 = i.engine.wheel.NewTimer(string(T316), g.onT316)
	g.t317 = i.engine.wheel.NewTimer(string(T317), g.onT317)
	return g
}

// State текущее состояние глобального вызова
func (g *globalCall) State() string { return g.state.Current() }

func (g *globalCall) fire(event string) {
	if err := g.state.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			contract("global call event %q in state %s: %v", event, g.state.Current(), err)
		}
	}
}

func (g *globalCall) callRef() message.CallRef {
	return message.CallRef{Len: g.intf.cfg.CallRefLen}
}

// restValue значение Call state глобального вызова
func (g *globalCall) restValue() ie.CallStateValue {
	switch g.state.Current() {
	case globalRestartRequest:
		return ie.CallStateRest1
	case globalRestart:
		return ie.CallStateRest2
	}
	return ie.CallStateRest0
}

func (g *globalCall) cause(v ie.CauseValue, diag ...byte) *ie.Cause {
	return ie.NewCause(g.intf.location(), v, diag...)
}

func (g *globalCall) deliver(kind PrimitiveKind, status Status, channels ie.ChannelSet, ies ...ie.IE) {
	g.intf.engine.deliver(Primitive{
		Kind:      kind,
		Interface: g.intf.cfg.Name,
		IEs:       ies,
		Status:    status,
		Channel:   -1,
		Channels:  channels,
	})
}

func (g *globalCall) sendStatus(dlc *DLC, ref message.CallRef, cause ie.CauseValue, diag ...byte) {
	g.intf.sendMessage(dlc, message.New(ref, message.Status,
		g.cause(cause, diag...),
		&ie.CallState{Value: g.restValue()}))
}

// restartRequest локальный рестарт. Пустой набор означает все каналы
// интерфейса, которые можно перезапустить.
func (g *globalCall) restartRequest(channels ie.ChannelSet) {
	if !g.state.Is(globalNull) {
		g.log.Warn("restart already in progress")
		g.deliver(ErrorIndication, StatusError, channels, g.cause(ie.CauseMessageNotCompatibleWithState))
		return
	}

	restartable := g.intf.restartableChannels()
	class := ie.RestartIndicated
	scope := channels.Intersect(restartable)
	switch {
	case channels.Empty():
		scope = restartable
		if g.intf.cfg.RestartClass != RestartPolicyIndicated || g.intf.cfg.Type != PRA {
			class = ie.RestartSingleInterface
		}
	case g.intf.cfg.Type == BRA && channels.Count() > 1:
		// на BRA идентификация канала указывает только один B-канал
		class = ie.RestartSingleInterface
		scope = restartable
	}
	if scope.Empty() {
		g.log.Warn("no restartable channels in request", "channels", channels.String())
		g.deliver(ErrorIndication, StatusError, channels, g.cause(ie.CauseIdentifiedChannelDoesNotExist))
		return
	}

	g.fire("request")
	g.begin("local", class, scope)
	g.dlc = g.intf.globalDLC()

	ies := []ie.IE{}
	if class == ie.RestartIndicated {
		ies = append(ies, ie.NewChannelIdentification(g.intf.cfg.Type.ieType(), true, scope))
	}
	ies = append(ies, &ie.RestartIndicator{Class: class})
	g.restart = message.New(g.callRef(), message.Restart, ies...)
	g.intf.sendMessage(g.dlc, g.restart)
	g.t316.Start(g.intf.cfg.Timers.Duration(T316))

	g.log.Info("restart requested", "class", class.String(), "channels", scope.String())
	g.cascade()
}

func (g *globalCall) begin(origin string, class ie.RestartClass, scope ie.ChannelSet) {
	g.origin = origin
	g.class = class
	g.required = scope
	g.acked = 0
	g.ackReceived = false
	g.t317Expired = false
	g.t316Count = 0
}

// cascade запускает освобождение вызовов на каналах рестарта. Свободные
// каналы подтверждаются сразу.
func (g *globalCall) cascade() {
	var busy []*Call
	for _, n := range g.required.Slice() {
		ch := g.intf.channel(n)
		if ch != nil && ch.call != nil {
			busy = append(busy, ch.call)
			continue
		}
		g.required = g.required.Del(n)
		g.acked = g.acked.Add(n)
	}

	if len(busy) > 0 && !g.t317.Pending() {
		g.t317.Start(g.intf.cfg.Timers.Duration(T317))
	}
	for _, c := range busy {
		c.restartRequest()
	}
	if g.required.Empty() {
		g.channelsReady()
	}
}

// channelReleased канал освобожден вызовом
func (g *globalCall) channelReleased(n int) {
	if g.state.Is(globalNull) || !g.required.Contains(n) {
		return
	}
	g.required = g.required.Del(n)
	g.acked = g.acked.Add(n)
	g.log.Debug("channel restarted", "channel", n, "remaining", g.required.String())
	if g.required.Empty() {
		g.channelsReady()
	}
}

// channelsReady все каналы рестарта освобождены
func (g *globalCall) channelsReady() {
	g.t317.Stop()
	switch g.state.Current() {
	case globalRestartRequest:
		if g.ackReceived {
			g.complete(restartOK)
		}
	case globalRestart:
		g.sendAck()
		g.complete(restartOK)
	}
}

func (g *globalCall) sendAck() {
	ies := []ie.IE{}
	if g.class == ie.RestartIndicated {
		ci := ie.NewChannelIdentification(g.intf.cfg.Type.ieType(), true, g.acked)
		if g.acked.Empty() {
			ci.Selection = ie.SelectionNone
		}
		ies = append(ies, ci)
	}
	ies = append(ies, &ie.RestartIndicator{Class: g.class})
	g.intf.sendMessage(g.dlc, message.New(g.peerRef.Reply(), message.RestartAcknowledge, ies...))
}

// complete возврат в Null и сообщение приложению
func (g *globalCall) complete(result string) {
	g.t316.Stop()
	g.t317.Stop()
	g.intf.engine.metrics.restarts.WithLabelValues(g.origin, result).Inc()
	g.log.Info("restart completed", "origin", g.origin, "result", result, "channels", g.acked.String())

	if result != restartFailed {
		status := StatusOK
		if result == restartPartial {
			status = StatusError
		}
		g.deliver(ManagementRestartConfirm, status, g.acked)
	}

	g.fire("complete")
	g.restart = nil
	g.required = 0
}

// receive сообщение с глобальной ссылкой
func (g *globalCall) receive(dlc *DLC, m *message.Message) {
	switch m.Type {
	case message.Restart:
		g.peerRestart(dlc, m)

	case message.RestartAcknowledge:
		if !g.state.Is(globalRestartRequest) {
			g.log.Warn("unexpected RESTART ACKNOWLEDGE", "state", g.state.Current())
			g.sendStatus(dlc, m.CallRef.Reply(), ie.CauseInvalidCallReference)
			return
		}
		g.t316.Stop()
		g.ackReceived = true
		switch {
		case g.required.Empty():
			g.complete(restartOK)
		case g.t317Expired:
			g.complete(restartPartial)
		}

	case message.Status:
		g.log.Debug("STATUS on global call reference")

	default:
		g.log.Warn("unexpected message on global call reference", "message", m.Type.String())
		g.sendStatus(dlc, m.CallRef.Reply(), ie.CauseInvalidCallReference)
	}
}

func (g *globalCall) peerRestart(dlc *DLC, m *message.Message) {
	reply := m.CallRef.Reply()

	if !g.state.Is(globalNull) {
		g.log.Warn("RESTART while restart in progress", "state", g.state.Current())
		g.sendStatus(dlc, reply, ie.CauseInvalidCallReference)
		return
	}
	if id, ok := unrecognizedMandatory(m); ok {
		g.sendStatus(dlc, reply, ie.CauseMandatoryIEMissing, byte(id))
		return
	}

	ri, ok := m.Find(ie.IDRestartIndicator).(*ie.RestartIndicator)
	if !ok {
		cause := ie.CauseMandatoryIEMissing
		if malformed(m, ie.IDRestartIndicator) {
			cause = ie.CauseInvalidIEContents
		}
		g.sendStatus(dlc, reply, cause, byte(ie.IDRestartIndicator))
		return
	}

	restartable := g.intf.restartableChannels()
	scope := restartable
	if ri.Class == ie.RestartIndicated {
		ci, ok := m.Find(ie.IDChannelIdentification).(*ie.ChannelIdentification)
		if !ok {
			g.sendStatus(dlc, reply, ie.CauseMandatoryIEMissing, byte(ie.IDChannelIdentification))
			return
		}
		set, anyChannel := ci.Channels()
		if !anyChannel {
			scope = set.Intersect(restartable)
		}
		if scope.Empty() {
			g.log.Warn("RESTART for unknown channels", "channels", set.String())
			g.sendStatus(dlc, reply, ie.CauseIdentifiedChannelDoesNotExist)
			return
		}
	}

	g.fire("indication")
	g.begin("peer", ri.Class, scope)
	g.dlc = dlc
	g.peerRef = m.CallRef
	g.t317.Start(g.intf.cfg.Timers.Duration(T317))
	g.log.Info("restart indicated by peer", "class", ri.Class.String(), "channels", scope.String())
	g.cascade()
}

func (g *globalCall) onT316() {
	if !g.state.Is(globalRestartRequest) {
		return
	}
	g.t316Count++
	g.intf.engine.metrics.timerExpirations.WithLabelValues(string(T316)).Inc()

	if g.t316Count == 1 {
		g.log.Debug("no RESTART ACKNOWLEDGE, retransmitting")
		g.intf.sendMessage(g.dlc, g.restart)
		g.t316.Start(g.intf.cfg.Timers.Duration(T316))
		return
	}

	g.log.Warn("restart not acknowledged")
	g.deliver(ManagementTimeout, StatusError, g.required.Merge(g.acked), g.cause(ie.CauseRecoveryOnTimerExpiry))
	g.complete(restartFailed)
}

func (g *globalCall) onT317() {
	g.intf.engine.metrics.timerExpirations.WithLabelValues(string(T317)).Inc()
	g.log.Warn("channels not released in time", "remaining", g.required.String())

	switch g.state.Current() {
	case globalRestartRequest:
		if g.ackReceived {
			g.complete(restartPartial)
			return
		}
		g.t317Expired = true
	case globalRestart:
		g.sendAck()
		g.deliver(ManagementTimeout, StatusTimeout, g.required, g.cause(ie.CauseRecoveryOnTimerExpiry))
		g.complete(restartPartial)
	}
}

func (g *globalCall) stop() {
	g.t316.Stop()
	g.t317.Stop()
	if !g.state.Is(globalNull) {
		g.state.SetState(globalNull)
	}
	g.required = 0
	g.acked = 0
}
