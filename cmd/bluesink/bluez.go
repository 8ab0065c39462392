package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBusName        = "org.bluez"
	adapterIface        = "org.bluez.Adapter1"
	deviceIface         = "org.bluez.Device1"
	agentIface          = "org.bluez.Agent1"
	agentManagerIface   = "org.bluez.AgentManager1"
	mediaPlayerIface    = "org.bluez.MediaPlayer1"
	mediaTransportIface = "org.bluez.MediaTransport1"
	propsIface          = "org.freedesktop.DBus.Properties"
	propsSignal         = "org.freedesktop.DBus.Properties.PropertiesChanged"
	objectManagerIface  = "org.freedesktop.DBus.ObjectManager"

	bluezRootPath = dbus.ObjectPath("/org/bluez")
	agentPath     = dbus.ObjectPath("/bluesink/agent")

	bluezErrRejected = "org.bluez.Error.Rejected"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// bluezConn wraps a system D-Bus connection scoped to one adapter.
type bluezConn struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
}

func dialBluez(adapter string) (*bluezConn, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	if !slices.Contains(names, bluezBusName) {
		conn.Close()
		return nil, fmt.Errorf("%s not found on system bus (is bluetooth.service running?)", bluezBusName)
	}
	return &bluezConn{
		conn:    conn,
		adapter: bluezRootPath + dbus.ObjectPath("/"+adapter),
	}, nil
}

func (b *bluezConn) close() error {
	return b.conn.Close()
}

func (b *bluezConn) object(path dbus.ObjectPath) dbus.BusObject {
	return b.conn.Object(bluezBusName, path)
}

// --- property helpers ---

func (b *bluezConn) setProp(path dbus.ObjectPath, iface, prop string, val any) error {
	return b.object(path).Call(propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
}

func (b *bluezConn) managedObjects(ctx context.Context) (managedObjects, error) {
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := b.conn.Object(bluezBusName, "/").
		CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).
		Store(&objs)
	if err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}
	return managedObjects(objs), nil
}

// --- paths ---

// addressFromPath extracts the device address from any object path below a
// device (device, player, transport).
func addressFromPath(path dbus.ObjectPath) (Address, bool) {
	for _, seg := range strings.Split(string(path), "/") {
		if rest, ok := strings.CutPrefix(seg, "dev_"); ok {
			addr, err := ParseAddress(rest)
			return addr, err == nil
		}
	}
	return Address{}, false
}

// --- signal subscription ---

func (b *bluezConn) subscribePropertyChanges() (chan *dbus.Signal, error) {
	err := b.conn.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(bluezRootPath),
	)
	if err != nil {
		return nil, fmt.Errorf("add match PropertiesChanged: %w", err)
	}
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	return ch, nil
}

func (b *bluezConn) unsubscribe(ch chan *dbus.Signal) {
	b.conn.RemoveSignal(ch)
}
