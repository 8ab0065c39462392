package main

import "time"

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_NEXTSONG     = 163
	KEY_PLAYPAUSE    = 164
	KEY_PREVIOUSSONG = 165
	KEY_PLAYCD       = 200
	KEY_PAUSECD      = 201
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Dispatch, pairing and audio defaults
const (
	defaultDeviceName = "MY CAR"

	// Minimum spacing between two dispatched commands. Edges arriving inside
	// this window are dropped because every line stays disabled.
	defaultDebounce = 200 * time.Millisecond

	// Upper bound for a single forward into the audio output.
	defaultForwardTimeout = 10 * time.Second

	// Default output format: 44.1 kHz, 16 bit, stereo.
	defaultSampleRate = 44100
	defaultChannels   = 2
	bytesPerSample    = 2

	// Ring buffer between the bridge and the playback device (~0.5 s of audio).
	defaultRingBytes = defaultSampleRate * defaultChannels * bytesPerSample / 2

	// Size of one SinkData frame read from a PCM pipe.
	defaultFrameBytes = 4096

	// Transaction labels are a 4-bit field.
	transactionLabelModulo = 16

	// Acknowledgment returned to the streaming profile for every event.
	streamAck = 0
)
