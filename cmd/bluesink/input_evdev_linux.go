//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// evdevReader multiplexes every configured input device on one epoll fd and
// feeds key edges into the matching evdevLine gates.
type evdevReader struct {
	logger *slog.Logger

	mu      sync.Mutex
	files   map[string]*os.File
	lines   map[evdevKey]*evdevLine
	ignored uint64
}

func newEvdevReader(logger *slog.Logger) *evdevReader {
	return &evdevReader{
		logger: componentLogger(logger, "evdev"),
		files:  make(map[string]*os.File),
		lines:  make(map[evdevKey]*evdevLine),
	}
}

// Line opens device (once per path) and returns a line for the key code.
func (r *evdevReader) Line(name, device string, code uint16) (*evdevLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := evdevKey{device: device, code: code}
	if _, dup := r.lines[key]; dup {
		return nil, fmt.Errorf("line %s: %s code %d already bound", name, device, code)
	}
	if _, ok := r.files[device]; !ok {
		f, err := os.Open(device)
		if err != nil {
			return nil, fmt.Errorf("open input device %s: %w", device, err)
		}
		r.files[device] = f
	}
	l := &evdevLine{name: name, device: device, code: code}
	r.lines[key] = l
	return l, nil
}

// Run waits on every device until ctx is canceled or a device fails.
func (r *evdevReader) Run(ctx context.Context) error {
	r.mu.Lock()
	files := make([]*os.File, 0, len(r.files))
	for _, f := range r.files {
		files = append(files, f)
	}
	r.mu.Unlock()

	if len(files) == 0 {
		return errors.New("no input devices configured")
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	fdToFile := make(map[int]*os.File, len(files))
	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f
		event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			return fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err)
		}
	}

	// Bounded wait so cancellation is noticed without closing the fds.
	const (
		maxEvents     = 32
		waitTimeoutMS = 250
	)
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, inputEventSize)

	r.logger.Info("input reader started", "devices", len(files))

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := unix.EpollWait(epfd, epollEvents, waitTimeoutMS)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				return fmt.Errorf("device error/hangup: %s", f.Name())
			}
			if _, err := f.Read(buf); err != nil {
				return fmt.Errorf("read from %s: %w", f.Name(), err)
			}
			ev, err := decodeInputEvent(buf)
			if err != nil {
				continue
			}
			r.deliver(f.Name(), ev)
		}
	}
}

func (r *evdevReader) deliver(device string, ev inputEvent) {
	if ev.Type != EV_KEY {
		return
	}
	r.mu.Lock()
	line, ok := r.lines[evdevKey{device: device, code: ev.Code}]
	r.mu.Unlock()
	if !ok || !line.matches(ev.Value) {
		return
	}
	if !line.gate.fire() {
		r.mu.Lock()
		r.ignored++
		r.mu.Unlock()
		r.logger.Debug("edge ignored (line disarmed)", "line", line.name)
	}
}

// Ignored returns how many matching edges arrived while their line was disarmed.
func (r *evdevReader) Ignored() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ignored
}

func (r *evdevReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for path, f := range r.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	r.files = make(map[string]*os.File)
	return errors.Join(errs...)
}
