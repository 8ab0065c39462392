package main

import "context"

// StreamEvent is one notification from the streaming (sink) profile.
type StreamEvent interface {
	streamEvent()
	Kind() string
}

// SinkData carries one buffer of decoded PCM. Data is only valid for the
// duration of the handler call.
type SinkData struct {
	Data []byte
}

type ConnectionStateChanged struct {
	Address   Address
	Connected bool
}

type AudioStateChanged struct {
	Playing bool
}

type AudioConfigured struct {
	SampleRate int
	Channels   int
}

func (SinkData) streamEvent()               {}
func (ConnectionStateChanged) streamEvent() {}
func (AudioStateChanged) streamEvent()      {}
func (AudioConfigured) streamEvent()        {}

func (SinkData) Kind() string               { return "sink_data" }
func (ConnectionStateChanged) Kind() string { return "connection_state" }
func (AudioStateChanged) Kind() string      { return "audio_state" }
func (AudioConfigured) Kind() string        { return "audio_config" }

// StreamHandler consumes stream events and returns the profile ack code.
// A non-nil error tears down the stream.
type StreamHandler interface {
	HandleStreamEvent(ev StreamEvent) (int, error)
}

// StreamingProfile is the sink side of the audio profile.
type StreamingProfile interface {
	InitSink() error
	SubscribeStream(h StreamHandler) error
	Run(ctx context.Context) error
}
