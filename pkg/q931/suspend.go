package q931

import (
	"bytes"

	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/message"
	"github.com/arzzra/q931/pkg/q931/timer"
)

// maxClearedIdentities сколько идентификаторов снятых по T307 вызовов
// помнит реестр для ответа #86
const maxClearedIdentities = 16

// suspendedCall приостановленный вызов: объект приложения и канал,
// занимавшийся до SUSPEND
type suspendedCall struct {
	identity []byte
	pvt      interface{}
	channel  int
	hangup   *timer.Timer
}

// suspendRegistry приостановленные вызовы интерфейса (NT). Поиск идет по
// первому совпадению; пустой идентификатор совпадает только с пустым.
type suspendRegistry struct {
	intf    *Interface
	calls   []*suspendedCall
	cleared [][]byte
}

func newSuspendRegistry(i *Interface) *suspendRegistry {
	return &suspendRegistry{intf: i}
}

// Len число приостановленных вызовов
func (r *suspendRegistry) Len() int { return len(r.calls) }

func (r *suspendRegistry) find(identity []byte) *suspendedCall {
	for _, s := range r.calls {
		if bytes.Equal(s.identity, identity) {
			return s
		}
	}
	return nil
}

func (r *suspendRegistry) inUse(identity []byte) bool {
	return r.find(identity) != nil
}

// park сохраняет вызов и запускает T307
func (r *suspendRegistry) park(c *Call) {
	s := &suspendedCall{
		identity: c.suspendIdentity,
		pvt:      c.pvt,
		channel:  c.channelID(),
	}
	s.hangup = r.intf.engine.wheel.NewTimer(string(T307), func() { r.expire(s) })
	r.forget(s.identity)
	r.repark(s)
	c.log.Debug("call suspended", "channel", s.channel, "identity", s.identity)
}

// repark возвращает запись в реестр
func (r *suspendRegistry) repark(s *suspendedCall) {
	r.calls = append(r.calls, s)
	s.hangup.Start(r.intf.cfg.Timers.Duration(T307))
}

// match ищет запись для RESUME; при неудаче возвращает причину отказа
func (r *suspendRegistry) match(identity []byte) (*suspendedCall, ie.CauseValue) {
	if s := r.find(identity); s != nil {
		return s, 0
	}
	for _, id := range r.cleared {
		if bytes.Equal(id, identity) {
			return nil, ie.CauseSuspendedCallCleared
		}
	}
	if len(r.calls) == 0 {
		return nil, ie.CauseNoCallSuspended
	}
	return nil, ie.CauseSuspendedCallExistsNotThis
}

// take извлекает запись из реестра
func (r *suspendRegistry) take(s *suspendedCall) {
	for n, cur := range r.calls {
		if cur == s {
			r.calls = append(r.calls[:n], r.calls[n+1:]...)
			break
		}
	}
	s.hangup.Stop()
}

func (r *suspendRegistry) forget(identity []byte) {
	for n, id := range r.cleared {
		if bytes.Equal(id, identity) {
			r.cleared = append(r.cleared[:n], r.cleared[n+1:]...)
			return
		}
	}
}

// expire T307: приостановленный вызов не возобновлен вовремя
func (r *suspendRegistry) expire(s *suspendedCall) {
	r.take(s)
	r.cleared = append(r.cleared, s.identity)
	if len(r.cleared) > maxClearedIdentities {
		r.cleared = r.cleared[1:]
	}

	r.intf.log.Info("suspended call not resumed, clearing", "identity", s.identity)
	r.intf.engine.metrics.timerExpirations.WithLabelValues(string(T307)).Inc()
	r.intf.engine.deliver(Primitive{
		Kind:      ReleaseIndication,
		Interface: r.intf.cfg.Name,
		Pvt:       s.pvt,
		IEs:       []ie.IE{ie.NewCause(r.intf.location(), ie.CauseRecoveryOnTimerExpiry)},
		Channel:   -1,
	})
}

func (r *suspendRegistry) stop() {
	for _, s := range r.calls {
		s.hangup.Stop()
	}
	r.calls = nil
	r.cleared = nil
}

func identityOf(m *message.Message) []byte {
	if ci, ok := m.Find(ie.IDCallIdentity).(*ie.CallIdentity); ok {
		return ci.Data
	}
	return nil
}

// resumeIndication NT: RESUME с новой ссылкой вызова
func (i *Interface) resumeIndication(dlc *DLC, m *message.Message) {
	identity := identityOf(m)
	s, cause := i.suspended.match(identity)
	if cause != 0 {
		i.log.Warn("rejecting RESUME", "cause", cause.String(), "identity", identity)
		i.sendMessage(dlc, message.New(m.CallRef.Reply(), message.ResumeReject,
			ie.NewCause(i.location(), cause)))
		return
	}

	i.suspended.take(s)
	c := i.newCall(0, false, m.CallRef.Value, dlc)
	c.pvt = s.pvt
	c.resumed = s
	c.suspendIdentity = identity
	c.setState(StateResumeRequest)
	c.indicate(ResumeIndication, m.IEs)
}
