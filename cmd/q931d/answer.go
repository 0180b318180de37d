package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arzzra/q931/pkg/q931"
)

// answerer демонстрационное приложение: отвечает на входящие вызовы,
// разъединяет по таймауту и освобождает вызовы после DISCONNECT
type answerer struct {
	engine *q931.Engine
	cfg    AnswerConfig
	roles  map[string]q931.Role
	log    *slog.Logger

	mu      sync.Mutex
	hangups map[q931.CallID]*time.Timer
}

func newAnswerer(e *q931.Engine, cfg AnswerConfig, roles map[string]q931.Role, logger *slog.Logger) *answerer {
	return &answerer{
		engine:  e,
		cfg:     cfg,
		roles:   roles,
		log:     logger.With(slog.String("component", "answer")),
		hangups: make(map[q931.CallID]*time.Timer),
	}
}

// run забирает примитивы движка до отмены ctx
func (a *answerer) run(ctx context.Context) {
	q := a.engine.Indications()
	for {
		for _, p := range q.Drain() {
			a.handle(p)
		}
		select {
		case <-ctx.Done():
			a.stopAll()
			return
		case <-q.Notify():
		}
	}
}

func (a *answerer) handle(p q931.Primitive) {
	a.log.Debug("primitive", "primitive", p.String())

	switch p.Kind {
	case q931.SetupIndication:
		if !a.cfg.Enabled {
			a.submit(p, q931.RejectRequest)
			return
		}
		if a.cfg.Alerting {
			a.submit(p, q931.AlertingRequest)
		}
		a.submit(p, q931.SetupResponse)
		a.log.Info("answering call", "intf", p.Interface, "call", p.Call, "channel", p.Channel)

	case q931.SetupConfirm:
		if p.Status == q931.StatusOK && a.roles[p.Interface] == q931.RoleNT {
			a.submit(p, q931.SetupCompleteRequest)
		}

	case q931.ConnectIndication, q931.SetupCompleteIndication:
		if p.Status == q931.StatusOK {
			a.scheduleHangup(p)
		}

	case q931.DisconnectIndication:
		a.cancelHangup(p.Call)
		a.submit(p, q931.ReleaseRequest)

	case q931.ReleaseIndication, q931.ReleaseConfirm, q931.RejectIndication:
		a.cancelHangup(p.Call)
		a.log.Info("call cleared", "intf", p.Interface, "call", p.Call, "primitive", p.Kind.String())

	case q931.ManagementStatus:
		a.log.Info("data link status", "intf", p.Interface, "status", p.Status.String())

	case q931.ManagementTimeout, q931.ManagementRestartConfirm:
		a.log.Warn("management event", "primitive", p.String())
	}
}

func (a *answerer) submit(p q931.Primitive, kind q931.RequestKind) {
	err := a.engine.Submit(q931.Request{Kind: kind, Interface: p.Interface, Call: p.Call})
	if err != nil {
		a.log.Warn("request failed", "request", kind.String(), "call", p.Call, "error", err)
	}
}

func (a *answerer) scheduleHangup(p q931.Primitive) {
	if a.cfg.HangupAfter == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.hangups[p.Call]; ok {
		return
	}
	a.hangups[p.Call] = time.AfterFunc(a.cfg.HangupAfter, func() {
		a.mu.Lock()
		delete(a.hangups, p.Call)
		a.mu.Unlock()
		a.submit(p, q931.DisconnectRequest)
	})
}

func (a *answerer) cancelHangup(id q931.CallID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.hangups[id]; ok {
		t.Stop()
		delete(a.hangups, id)
	}
}

func (a *answerer) stopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, t := range a.hangups {
		t.Stop()
		delete(a.hangups, id)
	}
}
