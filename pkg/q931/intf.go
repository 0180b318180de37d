package q931

import (
	"log/slog"
	"math/rand"

	"github.com/arzzra/q931/pkg/lapd"
	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/message"
	"github.com/arzzra/q931/pkg/q931/timer"
)

// LinkOpener открывает звено данных интерфейса. При ошибке движок повторяет
// попытку каждые openRetryInterval.
type LinkOpener func() (lapd.Link, error)

// Interface точка доступа ISDN: роль, каналы, звенья данных, вызовы и
// глобальный вызов. Все поля принадлежат рабочему потоку движка.
type Interface struct {
	engine *Engine
	cfg    InterfaceConfig
	log    *slog.Logger

	open  LinkOpener
	link  lapd.Link
	retry *timer.Timer

	channels  []*Channel
	dlcs      map[int]*DLC
	broadcast *DLC

	calls       map[CallID]*Call
	nextCallRef uint16

	// retained ссылки широковещательных SETUP, удерживаемые до T312:
	// запоздавшие ответы терминалов не должны попасть в новый вызов
	retained map[uint16]*timer.Timer

	global    *globalCall
	suspended *suspendRegistry
}

func newInterface(e *Engine, cfg InterfaceConfig, open LinkOpener) *Interface {
	i := &Interface{
		engine:   e,
		cfg:      cfg,
		log:      e.log.With("intf", cfg.Name, "role", string(cfg.Role)),
		open:     open,
		channels: newChannels(cfg),
		dlcs:     make(map[int]*DLC),
		calls:    make(map[CallID]*Call),
		retained: make(map[uint16]*timer.Timer),
	}

	// начальное значение случайно, чтобы после перезапуска не повторять
	// ссылки, которые могут оставаться у удаленной стороны
	i.nextCallRef = uint16(rand.Intn(int(i.maxCallRef()))) + 1

	i.broadcast = newDLC(i, lapd.BroadcastTEI)
	i.global = newGlobalCall(i)
	i.suspended = newSuspendRegistry(i)
	i.retry = e.wheel.NewTimer("open-retry", i.tryOpen)
	return i
}

// Name имя интерфейса
func (i *Interface) Name() string { return i.cfg.Name }

// Config нормализованная конфигурация
func (i *Interface) Config() InterfaceConfig { return i.cfg }

// tryOpen открывает звено; при ошибке повторяет через openRetryInterval
func (i *Interface) tryOpen() {
	if i.link != nil {
		return
	}

	link, err := i.open()
	if err == nil {
		err = link.Start(i.engine.linkHandler(i))
		if err != nil {
			_ = link.Close()
		}
	}
	if err != nil {
		i.log.Warn("failed to open data link, will retry", "error", err, "retry", openRetryInterval)
		i.retry.Start(openRetryInterval)
		return
	}

	i.link = link
	i.log.Info("interface opened",
		"type", string(i.cfg.Type),
		"config", string(i.cfg.Topology),
		"channels", len(i.channels))
}

func (i *Interface) close() {
	for _, c := range i.callList() {
		c.disconnectChannel()
		c.setState(StateNull)
		c.indicate(ReleaseIndication, []ie.IE{c.cause(ie.CauseTemporaryFailure)})
		c.free()
	}
	i.global.stop()
	i.suspended.stop()
	i.retry.Stop()
	for ref, tm := range i.retained {
		tm.Stop()
		delete(i.retained, ref)
	}

	for tei, d := range i.dlcs {
		d.put()
		delete(i.dlcs, tei)
	}
	i.broadcast.put()

	if i.link != nil {
		if err := i.link.Close(); err != nil {
			i.log.Warn("failed to close data link", "error", err)
		}
		i.link = nil
	}
	i.log.Info("interface closed")
}

func (i *Interface) maxCallRef() uint16 {
	if i.cfg.CallRefLen == 1 {
		return 0x7f
	}
	return 0x7fff
}

// allocCallRef выделяет свободную ссылку для исходящего вызова
func (i *Interface) allocCallRef() (uint16, error) {
	limit := i.maxCallRef()
	for n := uint16(0); n < limit; n++ {
		ref := i.nextCallRef
		i.nextCallRef++
		if i.nextCallRef > limit {
			i.nextCallRef = 1
		}
		if _, held := i.retained[ref]; held {
			continue
		}
		if i.outboundCall(ref) == nil {
			return ref, nil
		}
	}
	return 0, ErrCallReferenceExhausted
}

func (i *Interface) outboundCall(ref uint16) *Call {
	for _, c := range i.calls {
		if c.outbound && c.ref == ref {
			return c
		}
	}
	return nil
}

// findCall ищет вызов по ссылке из входящего сообщения. Входящие вызовы
// различаются также по звену: на NT каждый TEI имеет свое пространство ссылок.
func (i *Interface) findCall(dlc *DLC, cr message.CallRef) *Call {
	if cr.Flag {
		return i.outboundCall(cr.Value)
	}
	for _, c := range i.calls {
		if !c.outbound && c.ref == cr.Value && c.dlc == dlc {
			return c
		}
	}
	return nil
}

func (i *Interface) callList() []*Call {
	out := make([]*Call, 0, len(i.calls))
	for _, c := range i.calls {
		out = append(out, c)
	}
	return out
}

// mainDLC звено для сообщений, не привязанных к TEI отправителя:
// единственное звено TE или точки-точка NT
func (i *Interface) mainDLC() *DLC {
	return i.dlcFor(i.cfg.TEI)
}

func (i *Interface) dlcFor(tei int) *DLC {
	if tei == lapd.BroadcastTEI {
		return i.broadcast
	}
	if i.cfg.Role == RoleTE {
		tei = i.cfg.TEI
	}
	d, ok := i.dlcs[tei]
	if !ok {
		d = newDLC(i, tei)
		i.dlcs[tei] = d
	}
	return d
}

// globalDLC звено для сообщений с глобальной ссылкой
func (i *Interface) globalDLC() *DLC {
	if i.cfg.Role == RoleNT && i.cfg.Topology == Multipoint {
		return i.broadcast
	}
	return i.mainDLC()
}

func (i *Interface) sendMessage(dlc *DLC, m *message.Message) {
	frame, err := m.Encode()
	if err != nil {
		i.log.Error("failed to encode message", "message", m.Type.String(), "error", err)
		return
	}

	i.log.Debug("sending message", "tei", dlc.tei, "message", m.String())
	i.engine.metrics.messages.WithLabelValues("out", m.Type.String()).Inc()

	if err := dlc.send(frame); err != nil {
		i.log.Warn("failed to send message", "tei", dlc.tei, "message", m.Type.String(), "error", err)
	}
}

// handleLinkEvent обрабатывает примитив звена данных
func (i *Interface) handleLinkEvent(ev lapd.Event) {
	dlc := i.dlcFor(ev.TEI)

	switch ev.Kind {
	case lapd.EstablishIndication, lapd.EstablishConfirm:
		i.log.Debug("data link established", "tei", ev.TEI, "event", ev.Kind.String())
		dlc.onEstablished()
		i.engine.deliver(Primitive{Kind: ManagementStatus, Interface: i.cfg.Name, Status: StatusOK, Channel: -1})
		for _, c := range i.callList() {
			if c.usesDLC(dlc) {
				c.linkEstablished()
			}
		}

	case lapd.ReleaseIndication, lapd.ReleaseConfirm:
		i.log.Debug("data link released", "tei", ev.TEI, "event", ev.Kind.String(), "error", ev.Err)
		dlc.onReleased()
		status := StatusOK
		if ev.Kind == lapd.ReleaseIndication {
			status = StatusError
		}
		i.engine.deliver(Primitive{Kind: ManagementStatus, Interface: i.cfg.Name, Status: status, Channel: -1})
		for _, c := range i.callList() {
			if c.usesDLC(dlc) {
				c.linkFailure(dlc)
			}
		}

	case lapd.DataIndication, lapd.UnitDataIndication:
		i.receive(dlc, ev.Frame)

	default:
		i.log.Warn("unexpected data link event", "event", ev.Kind.String())
	}
}

// receive разбирает сообщение и передает его вызову или глобальному вызову
func (i *Interface) receive(dlc *DLC, frame []byte) {
	m, err := message.Decode(frame)
	if err != nil {
		i.engine.metrics.decodeErrors.WithLabelValues("header").Inc()
		i.log.Warn("discarding undecodable frame", "tei", dlc.tei, "error", err)
		return
	}

	i.engine.metrics.messages.WithLabelValues("in", m.Type.String()).Inc()
	if len(m.Malformed) > 0 {
		i.engine.metrics.decodeErrors.WithLabelValues("ie").Add(float64(len(m.Malformed)))
	}
	i.log.Debug("received message", "tei", dlc.tei, "message", m.String())

	// TE отвечает на широковещательные сообщения через собственное звено
	fromBroadcast := dlc.broadcast
	if i.cfg.Role == RoleTE {
		dlc = i.mainDLC()
	}

	switch {
	case m.CallRef.Dummy():
		i.log.Debug("ignoring message with dummy call reference", "message", m.Type.String())
		return
	case m.CallRef.Global():
		i.global.receive(dlc, m)
		return
	}

	if c := i.findCall(dlc, m.CallRef); c != nil {
		c.receive(dlc, m)
		return
	}

	if !m.CallRef.Flag && !dlc.broadcast {
		switch {
		case m.Type == message.Setup:
			i.setupIndication(dlc, m)
			return
		case m.Type == message.Resume && i.cfg.Role == RoleNT:
			i.resumeIndication(dlc, m)
			return
		}
	}

	if i.lateResponse(dlc, m) {
		return
	}
	if fromBroadcast {
		// на групповые сообщения с неизвестной ссылкой не отвечаем
		return
	}
	i.unknownCallRef(dlc, m)
}

// retainBroadcastRef удерживает ссылку широковещательного SETUP на время T312
func (i *Interface) retainBroadcastRef(ref uint16) {
	if tm, ok := i.retained[ref]; ok {
		tm.Stop()
	}
	tm := i.engine.wheel.NewTimer(string(T312), func() {
		delete(i.retained, ref)
		i.engine.metrics.timerExpirations.WithLabelValues(string(T312)).Inc()
		i.log.Debug("broadcast call reference released", "callref", ref)
	})
	i.retained[ref] = tm
	tm.Start(i.cfg.Timers.Duration(T312))
}

// lateResponse отвечает терминалу, приславшему сообщение по ссылке уже
// завершенного широковещательного вызова
func (i *Interface) lateResponse(dlc *DLC, m *message.Message) bool {
	if !m.CallRef.Flag || dlc.broadcast {
		return false
	}
	if _, held := i.retained[m.CallRef.Value]; !held {
		return false
	}

	i.log.Debug("late response to broadcast setup", "tei", dlc.tei, "message", m.Type.String())
	switch m.Type {
	case message.ReleaseComplete:
	case message.Release:
		i.sendMessage(dlc, message.New(m.CallRef.Reply(), message.ReleaseComplete))
	default:
		i.sendMessage(dlc, message.New(m.CallRef.Reply(), message.Release,
			ie.NewCause(i.location(), ie.CauseRecoveryOnTimerExpiry)))
	}
	return true
}

// unknownCallRef обработка сообщений с неизвестной ссылкой вызова
func (i *Interface) unknownCallRef(dlc *DLC, m *message.Message) {

	reply := func(t message.Type, ies ...ie.IE) {
		i.sendMessage(dlc, message.New(m.CallRef.Reply(), t, ies...))
	}

	switch m.Type {
	case message.ReleaseComplete:
	case message.StatusEnquiry:
		reply(message.Status,
			ie.NewCause(i.location(), ie.CauseResponseToStatusEnquiry),
			&ie.CallState{Value: ie.CallStateValue(StateNull)})
	case message.Status:
		cs, _ := m.Find(ie.IDCallState).(*ie.CallState)
		if cs != nil && cs.Value == ie.CallStateValue(StateNull) {
			return
		}
		reply(message.ReleaseComplete, ie.NewCause(i.location(), ie.CauseMessageNotCompatibleWithState))
	default:
		i.log.Warn("message for unknown call reference", "message", m.Type.String(), "callref", m.CallRef.String())
		reply(message.ReleaseComplete, ie.NewCause(i.location(), ie.CauseInvalidCallReference))
	}
}

func (i *Interface) location() ie.Location {
	if i.cfg.Role == RoleNT {
		return ie.LocationPublicNetworkLocalUser
	}
	return ie.LocationUser
}

// newCall создает вызов и регистрирует его в движке
func (i *Interface) newCall(id CallID, outbound bool, ref uint16, dlc *DLC) *Call {
	if id == 0 {
		id = i.engine.ReserveCallID()
	}
	c := &Call{
		id:          id,
		intf:        i,
		outbound:    outbound,
		ref:         ref,
		dlc:         dlc.get(),
		timers:      make(map[TimerID]*timer.Timer),
		expirations: make(map[TimerID]int),
	}
	dlc.hold()

	dir := "I"
	direction := "inbound"
	if outbound {
		dir = "O"
		direction = "outbound"
	}
	c.log = i.log.With("callref", ref, "dir", dir, "call", uint64(id))

	i.calls[id] = c
	i.engine.calls[id] = c
	i.engine.metrics.callsActive.Inc()
	i.engine.metrics.callsTotal.WithLabelValues(direction).Inc()
	return c
}

// setupIndication входящий SETUP с новой ссылкой
func (i *Interface) setupIndication(dlc *DLC, m *message.Message) {
	rejectWith := func(cause ie.CauseValue, diag ...byte) {
		i.log.Warn("rejecting SETUP", "cause", cause.String())
		i.sendMessage(dlc, message.New(m.CallRef.Reply(), message.ReleaseComplete,
			ie.NewCause(i.location(), cause, diag...)))
	}

	if _, ok := m.Find(ie.IDBearerCapability).(*ie.BearerCapability); !ok {
		if malformed(m, ie.IDBearerCapability) {
			rejectWith(ie.CauseInvalidIEContents, byte(ie.IDBearerCapability))
		} else {
			rejectWith(ie.CauseMandatoryIEMissing, byte(ie.IDBearerCapability))
		}
		return
	}
	if id, ok := unrecognizedMandatory(m); ok {
		rejectWith(ie.CauseMandatoryIEMissing, byte(id))
		return
	}

	ci, _ := m.Find(ie.IDChannelIdentification).(*ie.ChannelIdentification)
	ch, cause := i.selectChannel(ci, -1)
	if cause != 0 {
		rejectWith(cause)
		return
	}

	c := i.newCall(0, false, m.CallRef.Value, dlc)
	if ch != nil {
		c.bindChannel(ch)
		// канал, выбранный не так, как указано абонентом, сообщается в первом ответе
		if ci != nil && ci.Exclusive {
			c.channelIndicated = true
		}
	}
	if i.cfg.Role == RoleNT {
		c.setState(StateCallInitiated)
	} else {
		c.setState(StateCallPresent)
	}
	c.indicate(SetupIndication, m.IEs)
	c.reportIEErrors(m)
}

// setupRequest исходящий вызов по запросу приложения
func (i *Interface) setupRequest(r *Request) {
	fail := func(cause ie.CauseValue, err error) {
		i.log.Warn("setup request failed", "error", err)
		i.engine.deliver(Primitive{
			Kind:      RejectIndication,
			Interface: i.cfg.Name,
			Call:      r.Call,
			Pvt:       r.Pvt,
			IEs:       []ie.IE{ie.NewCause(i.location(), cause)},
			Channel:   -1,
		})
	}

	ref, err := i.allocCallRef()
	if err != nil {
		fail(ie.CauseResourcesUnavailable, err)
		return
	}

	ies := append([]ie.IE(nil), r.IEs...)
	ci, _ := ie.Find(ies, ie.IDChannelIdentification).(*ie.ChannelIdentification)

	var ch *Channel
	if ci != nil || i.cfg.Role == RoleNT {
		var cause ie.CauseValue
		ch, cause = i.selectChannel(ci, -1)
		if cause != 0 {
			fail(cause, NewProtocolError("setup", cause, ErrNoChannelAvailable))
			return
		}
	}

	if ie.Find(ies, ie.IDBearerCapability) == nil {
		ies = append([]ie.IE{ie.SpeechBearer()}, ies...)
	}
	if ch != nil && ci == nil {
		// сеть всегда указывает выбранный канал
		ies = insertAfter(ies, ie.IDBearerCapability, i.channelIdentification(ch, i.cfg.Type == PRA))
	}

	dlc := i.mainDLC()
	if i.cfg.Role == RoleNT && i.cfg.Topology == Multipoint {
		dlc = i.broadcast
		i.retainBroadcastRef(ref)
	}

	c := i.newCall(r.Call, true, ref, dlc)
	c.pvt = r.Pvt
	if ch != nil {
		c.bindChannel(ch)
		c.channelIndicated = true
	}

	c.setup = c.newMessage(message.Setup, ies...)
	c.transmit(c.setup)
	if i.cfg.Role == RoleNT {
		c.setState(StateCallPresent)
	} else {
		c.setState(StateCallInitiated)
	}
	c.startTimer(T303)
}

// resumeRequest TE: возобновление приостановленного вызова
func (i *Interface) resumeRequest(r *Request) {
	ref, err := i.allocCallRef()
	if err != nil {
		i.engine.deliver(Primitive{
			Kind:      ResumeConfirm,
			Interface: i.cfg.Name,
			Call:      r.Call,
			Pvt:       r.Pvt,
			Status:    StatusError,
			IEs:       []ie.IE{ie.NewCause(i.location(), ie.CauseResourcesUnavailable)},
			Channel:   -1,
		})
		return
	}

	c := i.newCall(r.Call, true, ref, i.mainDLC())
	c.pvt = r.Pvt
	c.send(message.Resume, r.IEs...)
	c.setState(StateResumeRequest)
	c.startTimer(T318)
}

// insertAfter вставляет элемент после первого элемента id, сохраняя порядок
// кодирования по возрастанию идентификаторов
func insertAfter(ies []ie.IE, id ie.ID, e ie.IE) []ie.IE {
	for n, cur := range ies {
		if cur.ID() == id {
			out := make([]ie.IE, 0, len(ies)+1)
			out = append(out, ies[:n+1]...)
			out = append(out, e)
			return append(out, ies[n+1:]...)
		}
	}
	return append([]ie.IE{e}, ies...)
}
