package at

// Event is the closed set of signals the engine publishes. It replaces
// a stringly-typed emitter with a sum type: each concrete type below is
// the only way to construct an Event, and a consumer type-switches on
// it.
type Event interface {
	isEvent()
}

// EventOpen is published once, when the transport is opened.
type EventOpen struct{}

// EventModemReady is published on every check-modem probe.
type EventModemReady struct {
	Ready bool
}

// EventNetwork is published on every successful CREG parse.
type EventNetwork struct {
	Action int
	Status int
}

// EventNetworkStatus carries the same payload as EventNetwork; the
// source emits both names for the same data and callers may care about
// either.
type EventNetworkStatus struct {
	Action int
	Status int
}

// EventIncoming is published when unsolicited data arrives that no
// router recognized, and the incoming-settle timer expired.
type EventIncoming struct {
	Response []string
}

// EventTimeout is published when a job's own timeout fires.
type EventTimeout struct {
	Job      *Job
	Snapshot []string
}

// EventError is a diagnostic catch-all for conditions not covered by a
// more specific event.
type EventError struct {
	Err error
}

// EventDeliveryReport carries a raw +CDS: indication for the SMS
// subsystem to correlate against an outstanding part.
type EventDeliveryReport struct {
	ShortID int
	Data    string
}

// EventIncomingSMS is published on an unsolicited +CMTI: indication.
// Retrieving and deleting the stored message is left to the caller -
// SIM phonebook-style storage management is out of scope here.
type EventIncomingSMS struct {
	Index string
}

func (EventOpen) isEvent()           {}
func (EventModemReady) isEvent()     {}
func (EventNetwork) isEvent()        {}
func (EventNetworkStatus) isEvent()  {}
func (EventIncoming) isEvent()       {}
func (EventTimeout) isEvent()        {}
func (EventError) isEvent()          {}
func (EventDeliveryReport) isEvent() {}
func (EventIncomingSMS) isEvent()    {}
