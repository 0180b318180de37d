package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/arzzra/q931/pkg/lapd"
	"github.com/arzzra/q931/pkg/lapd/backhaul"
	"github.com/arzzra/q931/pkg/q931"
)

const defaultDialTimeout = 5 * time.Second

// linkOpener строит функцию открытия звена для интерфейса. Движок
// повторяет ее при ошибке, поэтому мост может подняться позже демона.
func linkOpener(intf InterfaceConfig, logger *slog.Logger) q931.LinkOpener {
	if intf.Link.Backhaul != nil {
		bc := *intf.Link.Backhaul
		return func() (lapd.Link, error) {
			timeout := bc.DialTimeout
			if timeout == 0 {
				timeout = defaultDialTimeout
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			link, err := backhaul.Dial(ctx, bc.Addr, backhaul.ClientTLSConfig(bc.Insecure), logger)
			if err != nil {
				return nil, err
			}
			return link, nil
		}
	}

	sc := *intf.Link.Socket
	sc.Logger = logger
	role := intf.Role
	return func() (lapd.Link, error) {
		s, err := lapd.OpenSocket(sc)
		if err != nil {
			return nil, err
		}
		if role != "" && s.Network() != (role == q931.RoleNT) {
			s.Close()
			return nil, fmt.Errorf("device %s role does not match configured role %s", sc.Device, role)
		}
		return s, nil
	}
}

// startBridge открывает локальный сокет и экспортирует его через QUIC
func startBridge(ctx context.Context, bc BridgeConfig, logger *slog.Logger) error {
	var (
		tlsConf *tls.Config
		err     error
	)
	if bc.Cert != "" {
		tlsConf, err = backhaul.LoadTLSConfig(bc.Cert, bc.Key)
	} else {
		logger.Warn("bridge uses a self-signed certificate", "listen", bc.Listen)
		tlsConf, err = backhaul.GenerateTLSConfig()
	}
	if err != nil {
		return err
	}

	sc := bc.Socket
	sc.Logger = logger
	sock, err := lapd.OpenSocket(sc)
	if err != nil {
		return err
	}

	bridge, err := backhaul.NewBridge(sock, logger)
	if err != nil {
		sock.Close()
		return err
	}

	ln, err := backhaul.Listen(bc.Listen, tlsConf)
	if err != nil {
		bridge.Close()
		return err
	}

	go func() {
		defer bridge.Close()
		defer ln.Close()
		if err := bridge.Serve(ctx, ln); err != nil && ctx.Err() == nil {
			logger.Error("bridge stopped", "listen", bc.Listen, "error", err)
		}
	}()
	logger.Info("bridge listening", "listen", bc.Listen, "device", bc.Socket.Device)
	return nil
}
