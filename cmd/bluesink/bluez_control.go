package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"
)

var ErrNoPlayer = errors.New("no connected media player")

// bluezControl sends remote-control commands through the MediaPlayer1 object
// BlueZ creates for the connected phone. BlueZ assigns its own AVCTP
// transaction labels and sends the release itself, so our label is only
// logged and release requests are no-ops.
type bluezControl struct {
	bz           *bluezConn
	ignoreAbsent bool
	logger       *slog.Logger
}

func newBluezControl(bz *bluezConn, ignoreAbsent bool, logger *slog.Logger) *bluezControl {
	return &bluezControl{
		bz:           bz,
		ignoreAbsent: ignoreAbsent,
		logger:       componentLogger(logger, "control"),
	}
}

func playerMethod(cmd LogicalCommand) (string, error) {
	switch cmd {
	case CommandForward:
		return "Next", nil
	case CommandBackward:
		return "Previous", nil
	case CommandPause:
		return "Pause", nil
	case CommandPlay:
		return "Play", nil
	default:
		return "", fmt.Errorf("no player method for %s", cmd)
	}
}

func (c *bluezControl) SendPassthrough(ctx context.Context, label TransactionLabel, cmd LogicalCommand, pressed bool) error {
	if !pressed {
		return nil
	}
	method, err := playerMethod(cmd)
	if err != nil {
		return err
	}
	player, err := c.findPlayer(ctx)
	if err != nil {
		if c.ignoreAbsent && errors.Is(err, ErrNoPlayer) {
			c.logger.Warn("command dropped, no player connected", "command", cmd.String(), "label", uint8(label))
			return nil
		}
		return err
	}
	if err := c.bz.object(player).CallWithContext(ctx, mediaPlayerIface+"."+method, 0).Err; err != nil {
		return fmt.Errorf("%s on %s: %w", method, player, err)
	}
	c.logger.Debug("player command sent", "player", player, "method", method, "label", uint8(label))
	return nil
}

// findPlayer returns the first MediaPlayer1 below our adapter.
func (c *bluezControl) findPlayer(ctx context.Context) (dbus.ObjectPath, error) {
	objs, err := c.bz.managedObjects(ctx)
	if err != nil {
		return "", err
	}
	prefix := string(c.bz.adapter) + "/"
	var players []dbus.ObjectPath
	for path, ifaces := range objs {
		if _, ok := ifaces[mediaPlayerIface]; ok && strings.HasPrefix(string(path), prefix) {
			players = append(players, path)
		}
	}
	if len(players) == 0 {
		return "", ErrNoPlayer
	}
	slices.Sort(players)
	return players[0], nil
}
