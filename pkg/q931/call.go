package q931

import (
	"log/slog"

	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/message"
	"github.com/arzzra/q931/pkg/q931/timer"
)

// Call сущность вызова: ссылка вызова, состояние, канал и таймеры.
// Вызов существует от SETUP (или RESUME) до возврата в Null, после чего
// освобождается и его CallID становится устаревшим.
type Call struct {
	id       CallID
	intf     *Interface
	outbound bool
	ref      uint16
	state    State
	log      *slog.Logger

	dlc     *DLC
	channel *Channel
	pvt     interface{}

	timers      map[TimerID]*timer.Timer
	expirations map[TimerID]int

	// setup и release хранятся для повторной передачи по T303 и T308
	setup   *message.Message
	release *message.Message

	// disconnectCause причина последнего отправленного DISCONNECT
	disconnectCause *ie.Cause

	channelIndicated bool
	channelConnected bool
	tone             Tone

	restarting bool
	released   bool

	// ces состояния терминалов при широковещательном SETUP (NT multipoint)
	ces        map[int]*ces
	savedCause *ie.Cause

	// suspendIdentity идентификатор из SUSPEND (NT)
	suspendIdentity []byte
	// resumed запись приостановленного вызова, ожидающая ответа приложения (NT)
	resumed *suspendedCall
}

// ID дескриптор вызова
func (c *Call) ID() CallID { return c.id }

// State текущее состояние
func (c *Call) State() State { return c.state }

func (c *Call) role() Role { return c.intf.cfg.Role }

func (c *Call) table() *transitions { return tableFor(c.role()) }

func (c *Call) callRef() message.CallRef {
	return message.CallRef{Len: c.intf.cfg.CallRefLen, Value: c.ref, Flag: !c.outbound}
}

func (c *Call) newMessage(t message.Type, ies ...ie.IE) *message.Message {
	m := message.New(c.callRef(), t)
	m.Add(ies...)
	return m
}

func (c *Call) transmit(m *message.Message) {
	c.intf.sendMessage(c.dlc, m)
}

func (c *Call) send(t message.Type, ies ...ie.IE) *message.Message {
	m := c.newMessage(t, ies...)
	c.transmit(m)
	return m
}

func (c *Call) cause(v ie.CauseValue, diag ...byte) *ie.Cause {
	return ie.NewCause(c.intf.location(), v, diag...)
}

// withCause добавляет причину, если приложение ее не указало
func withCause(ies []ie.IE, cause *ie.Cause) []ie.IE {
	if ie.Find(ies, ie.IDCause) != nil {
		return ies
	}
	return append([]ie.IE{cause}, ies...)
}

func causeOf(ies []ie.IE) *ie.Cause {
	c, _ := ie.Find(ies, ie.IDCause).(*ie.Cause)
	return c
}

func (c *Call) channelID() int {
	if c.channel == nil {
		return -1
	}
	return c.channel.ID
}

func (c *Call) primitive(kind PrimitiveKind, status Status, ies []ie.IE) Primitive {
	return Primitive{
		Kind:      kind,
		Interface: c.intf.cfg.Name,
		Call:      c.id,
		Pvt:       c.pvt,
		IEs:       ies,
		Status:    status,
		Channel:   c.channelID(),
	}
}

func (c *Call) indicate(kind PrimitiveKind, ies []ie.IE) {
	c.intf.engine.deliver(c.primitive(kind, StatusOK, ies))
}

func (c *Call) confirm(kind PrimitiveKind, status Status, ies []ie.IE) {
	c.intf.engine.deliver(c.primitive(kind, status, ies))
}

// setState переводит вызов в состояние s и останавливает таймеры, которые
// не могут быть запущены в новом состоянии
func (c *Call) setState(s State) {
	if c.released {
		contract("state change on released call %d", c.id)
	}
	old := c.state
	c.state = s

	t := c.table()
	for id, tm := range c.timers {
		if tm.Pending() && !t.timerAllowed(s, id) {
			tm.Stop()
		}
	}

	if old != s {
		c.log.Debug("call state changed", "from", old.Label(c.role()), "to", s.Label(c.role()))
		c.intf.engine.metrics.stateTransitions.WithLabelValues(string(c.role()), s.Label(c.role())).Inc()
	}
}

func (c *Call) startTimer(id TimerID) {
	tm, ok := c.timers[id]
	if !ok {
		tm = c.intf.engine.wheel.NewTimer(string(id), func() { c.onTimer(id) })
		c.timers[id] = tm
	}
	c.expirations[id] = 0
	tm.Start(c.intf.cfg.Timers.Duration(id))
	c.log.Debug("timer started", "timer", string(id))
}

// restartTimer перезапускает таймер после первой экспирации, сохраняя счетчик
func (c *Call) restartTimer(id TimerID) {
	n := c.expirations[id]
	c.startTimer(id)
	c.expirations[id] = n
}

func (c *Call) stopTimer(id TimerID) {
	if tm, ok := c.timers[id]; ok && tm.Pending() {
		tm.Stop()
		c.log.Debug("timer stopped", "timer", string(id))
	}
}

func (c *Call) stopTimers(ids ...TimerID) {
	for _, id := range ids {
		c.stopTimer(id)
	}
}

func (c *Call) stopAllTimers() {
	for _, tm := range c.timers {
		tm.Stop()
	}
}

func (c *Call) timerPending(id TimerID) bool {
	tm, ok := c.timers[id]
	return ok && tm.Pending()
}

// firstExpiry true при первой экспирации таймера с момента запуска
func (c *Call) firstExpiry(id TimerID) bool {
	return c.expirations[id] == 1
}

func (c *Call) onTimer(id TimerID) {
	if c.released {
		return
	}
	c.expirations[id]++
	c.intf.engine.metrics.timerExpirations.WithLabelValues(string(id)).Inc()
	c.log.Debug("timer expired", "timer", string(id), "state", c.state.Label(c.role()), "count", c.expirations[id])

	h := c.table().timer(c.state, id)
	if h == nil {
		c.log.Warn("timer expired in state without handler", "timer", string(id), "state", c.state.Label(c.role()))
		return
	}
	h(c)
}

func (c *Call) bindChannel(ch *Channel) {
	if c.channel != nil {
		contract("call %d already bound to channel %d", c.id, c.channel.ID)
	}
	ch.bind(c)
	c.channel = ch
	c.log.Debug("channel bound", "channel", ch.ID)
}

// bindIndicatedChannel назначает канал из ответа сети (TE)
func (c *Call) bindIndicatedChannel(m *message.Message) {
	if c.channel != nil {
		return
	}
	ci, ok := m.Find(ie.IDChannelIdentification).(*ie.ChannelIdentification)
	if !ok {
		return
	}
	ch, cause := c.intf.selectChannel(ci, -1)
	if cause != 0 || ch == nil {
		c.log.Warn("indicated channel not usable", "channel", ci.String(), "cause", cause.String())
		return
	}
	c.bindChannel(ch)
}

func (c *Call) releaseChannel(maintenance bool) {
	ch := c.channel
	if ch == nil {
		return
	}
	c.channel = nil
	ch.release(maintenance)
	c.log.Debug("channel released", "channel", ch.ID, "state", ch.State.String())
	c.intf.global.channelReleased(ch.ID)
}

// connectChannel сообщает приложению о готовности B-канала
func (c *Call) connectChannel() {
	if c.channel == nil || c.channelConnected {
		return
	}
	c.channelConnected = true
	c.indicate(ConnectChannel, nil)
}

func (c *Call) disconnectChannel() {
	c.stopTone()
	if !c.channelConnected {
		return
	}
	c.channelConnected = false
	c.indicate(DisconnectChannel, nil)
}

func (c *Call) startTone(t Tone) {
	if !c.intf.cfg.Tones || c.role() != RoleNT {
		return
	}
	c.connectChannel()
	c.tone = t
	p := c.primitive(StartTone, StatusOK, nil)
	p.Tone = t
	c.intf.engine.deliver(p)
}

func (c *Call) stopTone() {
	if c.tone == 0 {
		return
	}
	c.tone = 0
	c.indicate(StopTone, nil)
}

// clear возвращает вызов в Null, сообщает приложению и освобождает его
func (c *Call) clear(kind PrimitiveKind, status Status, ies []ie.IE) {
	c.stopAllTimers()
	c.disconnectChannel()
	c.setState(StateNull)
	// после рестарта приложение уже получило RELEASE-IND
	if !(c.restarting && kind == ReleaseConfirm) {
		c.confirm(kind, status, ies)
	}
	c.free()
}

// free освобождает ресурсы вызова. Вызов должен быть в Null.
func (c *Call) free() {
	if c.released {
		contract("call %d released twice", c.id)
	}
	if c.state != StateNull {
		contract("call %d freed in state %s", c.id, c.state.Label(c.role()))
	}

	c.stopAllTimers()
	c.releaseChannel(false)
	c.freeCES()
	if c.resumed != nil {
		// возобновление не завершено, запись возвращается в реестр
		c.intf.suspended.repark(c.resumed)
		c.resumed = nil
	}

	c.released = true
	c.dlc.release()
	c.dlc.put()

	delete(c.intf.calls, c.id)
	delete(c.intf.engine.calls, c.id)
	c.intf.engine.metrics.callsActive.Dec()
	c.log.Debug("call released")
}

func (c *Call) usesDLC(d *DLC) bool {
	if c.dlc == d {
		return true
	}
	for _, x := range c.ces {
		if x.dlc == d {
			return true
		}
	}
	return false
}

// sendStatus ответ STATUS с текущим состоянием
func (c *Call) sendStatus(cause ie.CauseValue, diag ...byte) {
	c.send(message.Status, c.cause(cause, diag...), &ie.CallState{Value: ie.CallStateValue(c.state)})
}

// receive обрабатывает сообщение с известной ссылкой вызова
func (c *Call) receive(dlc *DLC, m *message.Message) {
	if !m.Type.Known() {
		c.sendStatus(ie.CauseMessageTypeNonexistent)
		return
	}

	if c.broadcastPending() {
		c.cesReceive(dlc, m)
		return
	}
	if dlc != c.dlc && c.ces != nil {
		c.nonSelectedReceive(dlc, m)
		return
	}

	if !c.checkMandatory(m) {
		return
	}

	h := c.table().message(c.state, m.Type)
	if h == nil {
		c.unexpected(m)
		return
	}
	h(c, m)
	c.reportIEErrors(m)
}

func (c *Call) unexpected(m *message.Message) {
	c.log.Warn("unexpected message", "message", m.Type.String(), "state", c.state.Label(c.role()))
	if c.table().implemented(m.Type) {
		c.sendStatus(ie.CauseMessageNotCompatibleWithState, byte(m.Type))
		return
	}
	c.sendStatus(ie.CauseMessageTypeNonexistent, byte(m.Type))
}

func clearing(t message.Type) bool {
	return t == message.Disconnect || t == message.Release || t == message.ReleaseComplete
}

// mandatoryIEs обязательные элементы входящих сообщений, кроме SETUP
var mandatoryIEs = map[message.Type][]ie.ID{
	message.Status:   {ie.IDCause, ie.IDCallState},
	message.Notify:   {ie.IDNotificationIndicator},
	message.Progress: {ie.IDProgressIndicator},
}

func malformed(m *message.Message, id ie.ID) bool {
	for _, e := range m.Malformed {
		if e.ID == id {
			return true
		}
	}
	return false
}

// unrecognizedMandatory первый нераспознанный элемент, требующий понимания
func unrecognizedMandatory(m *message.Message) (ie.ID, bool) {
	for _, id := range m.Unrecognized {
		if id.ComprehensionRequired() {
			return id, true
		}
	}
	return 0, false
}

// checkMandatory проверка обязательных элементов. Сообщения разъединения
// обрабатываются всегда.
func (c *Call) checkMandatory(m *message.Message) bool {
	if clearing(m.Type) {
		return true
	}

	if id, ok := unrecognizedMandatory(m); ok {
		c.log.Warn("unrecognized comprehension-required IE", "message", m.Type.String(), "ie", id.String())
		c.sendStatus(ie.CauseMandatoryIEMissing, byte(id))
		return false
	}

	for _, id := range mandatoryIEs[m.Type] {
		if m.Find(id) != nil {
			continue
		}
		cause := ie.CauseMandatoryIEMissing
		if malformed(m, id) {
			cause = ie.CauseInvalidIEContents
		}
		c.log.Warn("mandatory IE missing", "message", m.Type.String(), "ie", id.String())
		c.sendStatus(cause, byte(id))
		return false
	}
	return true
}

// reportIEErrors после обработки сообщает о поврежденных и неизвестных
// необязательных элементах
func (c *Call) reportIEErrors(m *message.Message) {
	if c.released || clearing(m.Type) {
		return
	}
	switch {
	case len(m.Malformed) > 0:
		c.sendStatus(ie.CauseInvalidIEContents, byte(m.Malformed[0].ID))
	case len(m.Unrecognized) > 0:
		c.sendStatus(ie.CauseIENonexistent, byte(m.Unrecognized[0]))
	}
}

// request обрабатывает запрос приложения
func (c *Call) request(r *Request) {
	h := c.table().request(c.state, r.Kind)
	if h == nil {
		c.log.Warn("request not valid in state", "request", r.Kind.String(), "state", c.state.Label(c.role()))
		c.confirm(ErrorIndication, StatusError, []ie.IE{c.cause(ie.CauseMessageNotCompatibleWithState)})
		return
	}
	h(c, r)
}

// startDisconnect отправляет DISCONNECT и ждет RELEASE
func (c *Call) startDisconnect(ies []ie.IE) {
	c.stopAllTimers()
	ies = withCause(ies, c.cause(ie.CauseNormalCallClearing))
	c.disconnectCause = causeOf(ies)

	supervision := T305
	if c.role() == RoleNT && c.intf.cfg.Tones && c.channel != nil {
		// тон занятости или неудачи передается в полосе
		if ie.Find(ies, ie.IDProgressIndicator) == nil {
			ies = append(ies, &ie.ProgressIndicator{
				Location:    c.intf.location(),
				Description: ie.ProgressInbandInfoAvailable,
			})
		}
		if c.disconnectCause.Value == ie.CauseUserBusy {
			c.startTone(ToneBusy)
		} else {
			c.startTone(ToneFailure)
		}
		supervision = T306
	}

	c.send(message.Disconnect, ies...)
	if c.role() == RoleNT {
		c.setState(StateDisconnectIndication)
	} else {
		c.setState(StateDisconnectRequest)
	}
	c.startTimer(supervision)
}

// startRelease отправляет RELEASE и ждет RELEASE COMPLETE
func (c *Call) startRelease(ies []ie.IE) {
	c.stopAllTimers()
	c.disconnectChannel()
	c.release = c.send(message.Release, withCause(ies, c.cause(ie.CauseNormalCallClearing))...)
	c.setState(StateReleaseRequest)
	c.startTimer(T308)
}

// restartRequest освобождение вызова по процедуре рестарта
func (c *Call) restartRequest() {
	if c.restarting {
		return
	}
	c.restarting = true
	c.log.Debug("call restart requested")

	cause := c.cause(ie.CauseTemporaryFailure)
	if c.state == StateReleaseRequest {
		return
	}
	c.indicate(ReleaseIndication, []ie.IE{cause})
	c.startRelease([]ie.IE{cause})
}

// linkFailure звено вызова разорвано
func (c *Call) linkFailure(d *DLC) {
	if c.ces != nil && d != c.dlc {
		c.cesLinkFailure(d)
		return
	}

	switch c.state {
	case StateActive:
		if !c.timerPending(T309) {
			c.startTimer(T309)
		}
	case StateReleaseRequest:
		c.clear(ReleaseConfirm, StatusOK, nil)
	default:
		c.clear(ReleaseIndication, StatusOK, []ie.IE{c.cause(ie.CauseTemporaryFailure)})
	}
}

// linkEstablished звено восстановлено
func (c *Call) linkEstablished() {
	if !c.timerPending(T309) {
		return
	}
	c.stopTimer(T309)
	c.enquire()
}

func (c *Call) enquire() {
	if c.timerPending(T322) {
		return
	}
	c.send(message.StatusEnquiry)
	c.startTimer(T322)
}
