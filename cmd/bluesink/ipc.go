package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Protocol: line-delimited JSON.
//   - {"type":"press","line":"forward"}  simulate a rising edge on a line
//   - {"type":"status"}                  return the status snapshot
//   - {"type":"pair","address":"AA:BB:CC:DD:EE:FF","number":123456}
//     inject a confirmation request (device.stack none only)
//
// Responses: {"status":"ok", ...} or {"status":"error","error":"msg"}
// ============================================================================

type IPCRequest struct {
	Type string `json:"type"`
	Line string `json:"line,omitempty"`

	Address string `json:"address,omitempty"`
	Number  uint32 `json:"number,omitempty"`
}

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status   string          `json:"status"`          // "ok" or "error"
	Error    string          `json:"error,omitempty"` // error message if status == "error"
	Accepted *bool           `json:"accepted,omitempty"`
	Snapshot *StatusSnapshot `json:"snapshot,omitempty"`
}

// LinePresser injects software edges by line name.
type LinePresser interface {
	Press(name string) (bool, error)
}

// HandshakeInjector delivers a synthetic confirmation request and returns the
// decision that was replied for it.
type HandshakeInjector interface {
	InjectConfirmation(req ConfirmationRequest) (bool, error)
}

type ipcHandler struct {
	lines   LinePresser
	status  SnapshotSource
	pairing HandshakeInjector
	logger  *slog.Logger
}

func (h *ipcHandler) handle(req IPCRequest) IPCResponse {
	switch req.Type {
	case "press":
		if req.Line == "" {
			return IPCResponse{Status: "error", Error: "press: line is required"}
		}
		accepted, err := h.lines.Press(req.Line)
		if err != nil {
			return IPCResponse{Status: "error", Error: err.Error()}
		}
		if !accepted {
			h.logger.Debug("IPC press ignored (line disarmed)", "line", req.Line)
		}
		return IPCResponse{Status: "ok", Accepted: &accepted}
	case "status":
		snap := h.status.Snapshot()
		return IPCResponse{Status: "ok", Snapshot: &snap}
	case "pair":
		if h.pairing == nil {
			return IPCResponse{Status: "error", Error: "pair: only available with device.stack none"}
		}
		addr, err := ParseAddress(req.Address)
		if err != nil {
			return IPCResponse{Status: "error", Error: fmt.Sprintf("pair: %v", err)}
		}
		accepted, err := h.pairing.InjectConfirmation(ConfirmationRequest{Address: addr, Number: req.Number})
		if err != nil {
			return IPCResponse{Status: "error", Error: fmt.Sprintf("pair: %v", err)}
		}
		snap := h.status.Snapshot()
		return IPCResponse{Status: "ok", Accepted: &accepted, Snapshot: &snap}
	default:
		return IPCResponse{Status: "error", Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
}

// runIPCServer serves the socket until ctx is canceled. Open connections are
// closed on shutdown and waited for. pairing may be nil.
func runIPCServer(ctx context.Context, socketPath string, lines LinePresser, status SnapshotSource, pairing HandshakeInjector, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger = componentLogger(logger, "ipc")
	logger.Info("IPC listening", "socket", socketPath)

	h := &ipcHandler{lines: lines, status: status, pairing: pairing, logger: logger}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
	)

	closeAll := func() {
		_ = listener.Close()
		mu.Lock()
		for c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	}
	stop := context.AfterFunc(ctx, closeAll)
	defer func() {
		stop()
		closeAll()
		wg.Wait()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		mu.Lock()
		conns[conn] = struct{}{}
		mu.Unlock()
		if ctx.Err() != nil {
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, conn)
				mu.Unlock()
			}()
			handleIPCConnection(conn, h, logger)
		}()
	}
}

func handleIPCConnection(conn net.Conn, h *ipcHandler, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		var req IPCRequest
		var resp IPCResponse
		if err := json.Unmarshal(line, &req); err != nil {
			resp = IPCResponse{Status: "error", Error: fmt.Sprintf("parse request: %v", err)}
		} else {
			resp = h.handle(req)
		}
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
}

// ============================================================================
// IPC client
// ============================================================================

// SendIPCRequest sends one request and returns the decoded response. A
// response with status "error" is returned as an error.
func SendIPCRequest(socketPath string, req IPCRequest, timeout time.Duration) (IPCResponse, error) {
	var resp IPCResponse

	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return resp, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	data, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return resp, fmt.Errorf("send request: %w", err)
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}
