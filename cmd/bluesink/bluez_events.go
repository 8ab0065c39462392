package main

import (
	"context"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

// bluezWatcher turns BlueZ property changes into stream and handshake events:
// Device1.Connected and MediaTransport1.State feed the stream handler,
// Device1.Paired feeds the handshake handler.
type bluezWatcher struct {
	bz        *bluezConn
	stream    StreamHandler
	handshake HandshakeHandler
	logger    *slog.Logger
}

func newBluezWatcher(bz *bluezConn, stream StreamHandler, handshake HandshakeHandler, logger *slog.Logger) *bluezWatcher {
	return &bluezWatcher{
		bz:        bz,
		stream:    stream,
		handshake: handshake,
		logger:    componentLogger(logger, "bluez-watch"),
	}
}

func (w *bluezWatcher) Run(ctx context.Context) error {
	ch, err := w.bz.subscribePropertyChanges()
	if err != nil {
		return err
	}
	defer w.bz.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			if err := w.handle(sig); err != nil {
				return err
			}
		}
	}
}

func (w *bluezWatcher) handle(sig *dbus.Signal) error {
	if sig.Name != propsSignal || len(sig.Body) < 2 {
		return nil
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return nil
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return nil
	}
	addr, ok := addressFromPath(sig.Path)
	if !ok {
		return nil
	}

	switch iface {
	case deviceIface:
		if v, ok := changed["Connected"]; ok {
			if connected, ok := v.Value().(bool); ok && w.stream != nil {
				if err := emit(w.stream, ConnectionStateChanged{Address: addr, Connected: connected}); err != nil {
					return err
				}
			}
		}
		if v, ok := changed["Paired"]; ok {
			if paired, ok := v.Value().(bool); ok && paired && w.handshake != nil {
				if err := w.handshake.HandleHandshake(AuthenticationComplete{Address: addr, Success: true}); err != nil {
					return err
				}
			}
		}
	case mediaTransportIface:
		if v, ok := changed["State"]; ok {
			if state, ok := v.Value().(string); ok && w.stream != nil {
				w.logger.Debug("transport state", "address", addr.String(), "state", state)
				return emit(w.stream, AudioStateChanged{Playing: state == "active"})
			}
		}
	}
	return nil
}
