package main

import (
	"fmt"
	"strings"
)

// ==============================
// Logical commands (remote-control intents)
// ==============================

// LogicalCommand is a playback-control intent produced by an input line and
// forwarded to the host over the remote-control channel.
type LogicalCommand uint8

const (
	CommandForward LogicalCommand = iota + 1
	CommandBackward
	CommandPause
	CommandPlay
)

// AllCommands lists every command in the default line order.
var AllCommands = []LogicalCommand{CommandForward, CommandBackward, CommandPause, CommandPlay}

func (c LogicalCommand) String() string {
	switch c {
	case CommandForward:
		return "forward"
	case CommandBackward:
		return "backward"
	case CommandPause:
		return "pause"
	case CommandPlay:
		return "play"
	default:
		return fmt.Sprintf("LogicalCommand(%d)", uint8(c))
	}
}

// Valid reports whether c is one of the four known commands.
func (c LogicalCommand) Valid() bool {
	return c >= CommandForward && c <= CommandPlay
}

// ParseLogicalCommand converts the text form used in config and IPC.
func ParseLogicalCommand(s string) (LogicalCommand, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "next":
		return CommandForward, nil
	case "backward", "previous", "back":
		return CommandBackward, nil
	case "pause":
		return CommandPause, nil
	case "play":
		return CommandPlay, nil
	default:
		return 0, fmt.Errorf("invalid command: %q (must be forward, backward, pause, or play)", s)
	}
}

func (c LogicalCommand) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("marshal command: unknown value %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *LogicalCommand) UnmarshalText(b []byte) error {
	v, err := ParseLogicalCommand(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// TransactionLabel tags each passthrough command so the host can correlate
// it and ignore retransmissions. It is a 4-bit counter.
type TransactionLabel uint8

// Next returns the label that follows l, wrapping 15 -> 0.
func (l TransactionLabel) Next() TransactionLabel {
	return TransactionLabel((uint8(l) + 1) % transactionLabelModulo)
}
