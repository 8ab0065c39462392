package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// ============================================================================
// bluesinkctl - Command-line IPC Client
// ============================================================================
// Talks to the bluesink daemon over its Unix domain socket.
//
// Usage:
//   bluesinkctl press forward
//   bluesinkctl status
//   bluesinkctl pair AA:BB:CC:DD:EE:FF 123456   (device.stack none only)
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/bluesink.sock)
// ============================================================================

// Wire types (duplicated from the daemon for a standalone binary)
type ipcRequest struct {
	Type    string `json:"type"`
	Line    string `json:"line,omitempty"`
	Address string `json:"address,omitempty"`
	Number  uint32 `json:"number,omitempty"`
}

type ipcResponse struct {
	Status   string          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Accepted *bool           `json:"accepted,omitempty"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
}

func main() {
	socketPath := "/tmp/bluesink.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var req ipcRequest

	switch args[0] {
	case "press":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: press requires a line name\n")
			os.Exit(1)
		}
		req = ipcRequest{Type: "press", Line: args[1]}

	case "status":
		req = ipcRequest{Type: "status"}

	case "pair":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "error: pair requires an address and a number\n")
			os.Exit(1)
		}
		n, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid number: %v\n", err)
			os.Exit(1)
		}
		req = ipcRequest{Type: "pair", Address: args[1], Number: uint32(n)}

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	resp, err := send(socketPath, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case len(resp.Snapshot) > 0 && req.Type == "status":
		var pretty map[string]any
		if err := json.Unmarshal(resp.Snapshot, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
		} else {
			fmt.Println(string(resp.Snapshot))
		}
	case resp.Accepted != nil && *resp.Accepted:
		fmt.Println("accepted")
	case resp.Accepted != nil:
		fmt.Println("ignored")
	default:
		fmt.Println("ok")
	}
}

func send(socketPath string, req ipcRequest) (ipcResponse, error) {
	var resp ipcResponse

	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return resp, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("marshal request: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return resp, fmt.Errorf("send request: %w", err)
	}

	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `bluesinkctl - control the bluesink daemon

Usage:
  bluesinkctl [-socket PATH] COMMAND [ARGS]

Commands:
  press LINE             Simulate a button press (forward, backward, pause, play)
  status                 Print the daemon status snapshot
  pair ADDRESS NUMBER    Inject a pairing confirmation (bench stack only)
  help                   Show this help

Options:
  -socket PATH           Unix socket path (default: /tmp/bluesink.sock)
`)
}
