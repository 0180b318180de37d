package q931

import (
	"context"
	"errors"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/arzzra/q931/pkg/lapd"
	"github.com/arzzra/q931/pkg/q931/timer"
)

// Состояния звена данных
const (
	dlcReleased          = "released"
	dlcAwaitingEstablish = "awaiting-establish"
	dlcEstablished       = "established"
	dlcAwaitingRelease   = "awaiting-release"
)

// DLC соединение звена данных с одним TEI.
//
// Два независимых счетчика: holds (использование вызовами, при обнулении
// запускается автоосвобождение звена) и refs (время жизни объекта).
type DLC struct {
	intf      *Interface
	tei       int
	broadcast bool
	log       *slog.Logger

	holds int
	refs  int

	status      *fsm.FSM
	autorelease *timer.Timer

	// pending кадры, ожидающие установления звена
	pending [][]byte
}

func newDLC(intf *Interface, tei int) *DLC {
	d := &DLC{
		intf:      intf,
		tei:       tei,
		broadcast: tei == lapd.BroadcastTEI,
		refs:      1,
		log:       intf.log.With("tei", tei),
	}

	d.status = fsm.NewFSM(
		dlcReleased,
		fsm.Events{
			{Name: "establish-request", Src: []string{dlcReleased}, Dst: dlcAwaitingEstablish},
			{Name: "establish", Src: []string{dlcReleased, dlcAwaitingEstablish, dlcAwaitingRelease}, Dst: dlcEstablished},
			{Name: "release-request", Src: []string{dlcEstablished, dlcAwaitingEstablish}, Dst: dlcAwaitingRelease},
			{Name: "release", Src: []string{dlcAwaitingEstablish, dlcEstablished, dlcAwaitingRelease}, Dst: dlcReleased},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				d.log.Debug("DLC status", "from", e.Src, "to", e.Dst)
			},
		},
	)
	if d.broadcast {
		d.status.SetState(dlcEstablished)
	}

	d.autorelease = intf.engine.wheel.NewTimer("dlc-autorelease", d.onAutorelease)
	intf.engine.metrics.dlcsActive.Inc()
	return d
}

func (d *DLC) fire(event string) {
	if !d.status.Can(event) {
		return
	}
	if err := d.status.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			d.log.Warn("DLC status event failed", "event", event, "error", err)
		}
	}
}

// Status текущее состояние звена
func (d *DLC) Status() string {
	return d.status.Current()
}

// TEI номер терминала
func (d *DLC) TEI() int {
	return d.tei
}

func (d *DLC) established() bool {
	return d.status.Is(dlcEstablished)
}

func (d *DLC) get() *DLC {
	if d.refs <= 0 {
		contract("get on freed DLC tei %d", d.tei)
	}
	d.refs++
	return d
}

func (d *DLC) put() {
	if d.refs <= 0 {
		contract("DLC tei %d reference underflow", d.tei)
	}
	d.refs--
	if d.refs > 0 {
		return
	}
	if d.holds > 0 {
		contract("DLC tei %d freed while held %d times", d.tei, d.holds)
	}
	d.autorelease.Stop()
	d.pending = nil
	d.intf.engine.metrics.dlcsActive.Dec()
}

func (d *DLC) hold() {
	d.holds++
	d.autorelease.Stop()
	d.log.Debug("DLC hold", "holds", d.holds)
}

func (d *DLC) release() {
	if d.holds <= 0 {
		contract("DLC tei %d hold underflow", d.tei)
	}
	d.holds--
	d.log.Debug("DLC release", "holds", d.holds)

	if d.holds == 0 && !d.broadcast && d.intf.cfg.DLCAutorelease > 0 {
		d.autorelease.Start(d.intf.cfg.DLCAutorelease)
	}
}

func (d *DLC) onAutorelease() {
	if d.holds > 0 || !d.established() {
		return
	}
	d.log.Debug("DLC autorelease")
	d.fire("release-request")
	if err := d.intf.link.Release(d.tei); err != nil {
		d.log.Warn("DLC autorelease failed", "error", err)
	}
}

// send передает кадр; если звено не установлено, кадр ставится в очередь
// и запрашивается установление.
func (d *DLC) send(frame []byte) error {
	link := d.intf.link
	if link == nil {
		return ErrLinkDown
	}
	if d.broadcast {
		return link.SendBroadcast(frame)
	}
	if d.established() {
		return link.Send(d.tei, frame)
	}

	d.pending = append(d.pending, frame)
	if d.status.Is(dlcReleased) {
		d.fire("establish-request")
		if err := link.Establish(d.tei); err != nil {
			d.fire("release")
			d.pending = nil
			return errors.Join(ErrLinkDown, err)
		}
	}
	return nil
}

func (d *DLC) onEstablished() {
	d.fire("establish")

	pending := d.pending
	d.pending = nil
	for _, frame := range pending {
		if err := d.intf.link.Send(d.tei, frame); err != nil {
			d.log.Warn("failed to flush queued frame", "error", err)
		}
	}
}

func (d *DLC) onReleased() {
	d.fire("release")
	if len(d.pending) > 0 {
		d.log.Warn("dropping frames queued on released link", "frames", len(d.pending))
		d.pending = nil
	}
}
