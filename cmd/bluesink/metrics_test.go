package main

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkMetrics_ObserverUpdatesSeries(t *testing.T) {
	m, err := NewSinkMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.DispatcherStateChanged(DispatcherArmed)
	m.CommandDispatched(15, CommandPlay)
	m.CommandDispatched(0, CommandPlay)
	m.PairingRequest(ConfirmationRequest{}, true, "auto_accept")
	m.PairingRequest(ConfirmationRequest{}, false, "allowlist")
	m.HandshakeObserved(PairingCanceled{})
	m.StreamEventObserved(AudioStateChanged{Playing: true})
	m.FrameForwarded(512, 2*time.Millisecond)
	m.ForwardFailed(ErrForwardTimeout)
	m.ForwardFailed(errors.New("device lost"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatcherState.WithLabelValues("armed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.dispatcherState.WithLabelValues("idle")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsDispatched.WithLabelValues("play")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactionLabel))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pairingRequests.WithLabelValues("accepted", "auto_accept")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pairingRequests.WithLabelValues("rejected", "allowlist")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handshakeEvents.WithLabelValues("pairing_canceled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamEvents.WithLabelValues("audio_state")))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.bytesForwarded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.forwardErrors.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.forwardErrors.WithLabelValues("error")))
}

func TestSinkMetrics_HandlerServesGaugeFuncs(t *testing.T) {
	m, err := NewSinkMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, m.RegisterGaugeFunc("bluesink_test_ring_bytes", "test gauge", func() float64 { return 4096 }))
	m.CommandDispatched(3, CommandForward)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	assert.True(t, strings.Contains(text, "bluesink_test_ring_bytes 4096"), text)
	assert.Contains(t, text, `bluesink_commands_dispatched_total{command="forward"} 1`)
	assert.Contains(t, text, "go_goroutines")
}
