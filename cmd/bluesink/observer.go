package main

import "time"

// Observer receives notifications from the core components. Implementations
// must not block: they are called from the dispatcher loop, the pairing
// handler and the stream callback.
type Observer interface {
	DispatcherStateChanged(state DispatcherState)
	CommandDispatched(label TransactionLabel, cmd LogicalCommand)
	PairingRequest(req ConfirmationRequest, accepted bool, decider string)
	HandshakeObserved(ev HandshakeEvent)
	StreamEventObserved(ev StreamEvent)
	FrameForwarded(bytes int, elapsed time.Duration)
	ForwardFailed(err error)
}

type nopObserver struct{}

func (nopObserver) DispatcherStateChanged(DispatcherState)             {}
func (nopObserver) CommandDispatched(TransactionLabel, LogicalCommand) {}
func (nopObserver) PairingRequest(ConfirmationRequest, bool, string)   {}
func (nopObserver) HandshakeObserved(HandshakeEvent)                   {}
func (nopObserver) StreamEventObserved(StreamEvent)                    {}
func (nopObserver) FrameForwarded(int, time.Duration)                  {}
func (nopObserver) ForwardFailed(error)                                {}

// multiObserver fans out to several observers in order.
type multiObserver []Observer

func newMultiObserver(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nopObserver{}
	}
	return out
}

func (m multiObserver) DispatcherStateChanged(s DispatcherState) {
	for _, o := range m {
		o.DispatcherStateChanged(s)
	}
}

func (m multiObserver) CommandDispatched(label TransactionLabel, cmd LogicalCommand) {
	for _, o := range m {
		o.CommandDispatched(label, cmd)
	}
}

func (m multiObserver) PairingRequest(req ConfirmationRequest, accepted bool, decider string) {
	for _, o := range m {
		o.PairingRequest(req, accepted, decider)
	}
}

func (m multiObserver) HandshakeObserved(ev HandshakeEvent) {
	for _, o := range m {
		o.HandshakeObserved(ev)
	}
}

func (m multiObserver) StreamEventObserved(ev StreamEvent) {
	for _, o := range m {
		o.StreamEventObserved(ev)
	}
}

func (m multiObserver) FrameForwarded(n int, elapsed time.Duration) {
	for _, o := range m {
		o.FrameForwarded(n, elapsed)
	}
}

func (m multiObserver) ForwardFailed(err error) {
	for _, o := range m {
		o.ForwardFailed(err)
	}
}
