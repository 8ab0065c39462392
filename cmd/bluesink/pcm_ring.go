package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
)

var errRingClosed = errors.New("pcm ring closed")

// pcmRing decouples the stream callback from the playback device callback.
// Write blocks (bounded by a timeout) until the whole buffer fits. Fill never
// blocks and pads with silence on underrun.
type pcmRing struct {
	rb     *ringbuffer.RingBuffer
	space  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newPCMRing(size int) *pcmRing {
	return &pcmRing{
		rb:     ringbuffer.New(size),
		space:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Write queues all of buf or nothing. It waits for enough free space and
// fails with ErrForwardTimeout once timeout has elapsed, leaving the ring
// untouched.
func (r *pcmRing) Write(buf []byte, timeout time.Duration) error {
	if len(buf) == 0 {
		return nil
	}
	if len(buf) > r.rb.Capacity() {
		return fmt.Errorf("pcm ring write: %d bytes exceeds capacity %d", len(buf), r.rb.Capacity())
	}

	var deadline <-chan time.Time
	for {
		select {
		case <-r.closed:
			return errRingClosed
		default:
		}

		if r.rb.Free() >= len(buf) {
			n, err := r.rb.Write(buf)
			if err != nil {
				return fmt.Errorf("pcm ring write: %w", err)
			}
			if n != len(buf) {
				return fmt.Errorf("pcm ring write: short write %d of %d bytes", n, len(buf))
			}
			return nil
		}

		if deadline == nil {
			if timeout <= 0 {
				return fmt.Errorf("%w: ring full, %d bytes not queued", ErrForwardTimeout, len(buf))
			}
			t := time.NewTimer(timeout)
			defer t.Stop()
			deadline = t.C
		}

		select {
		case <-r.space:
		case <-r.closed:
			return errRingClosed
		case <-deadline:
			return fmt.Errorf("%w: ring full, %d bytes not queued", ErrForwardTimeout, len(buf))
		}
	}
}

// Fill reads up to len(out) bytes and zeroes the rest. It returns how many
// bytes came from the ring.
func (r *pcmRing) Fill(out []byte) int {
	n, err := r.rb.Read(out)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		n = 0
	}
	clear(out[n:])
	if n > 0 {
		select {
		case r.space <- struct{}{}:
		default:
		}
	}
	return n
}

func (r *pcmRing) Buffered() int { return r.rb.Length() }

func (r *pcmRing) Capacity() int { return r.rb.Capacity() }

func (r *pcmRing) Close() {
	r.once.Do(func() { close(r.closed) })
}
