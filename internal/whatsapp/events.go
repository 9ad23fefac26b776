package whatsapp

// Event is the closed set of transitions the session service reacts to.
// Protocol client adapters translate library-specific callbacks into these
// values; the service never sees a library event type directly.
type Event interface {
	isEvent()
}

// EvPairingIssued carries a fresh pairing code emitted by the client during
// startup. The raw code string is relayed to the front-end, which renders it.
type EvPairingIssued struct {
	Code string
}

// EvAuthenticated signals that pairing or session restore succeeded.
type EvAuthenticated struct{}

// EvReady signals the client completed its post-auth handshake and reports
// the account's external identity. Additive to EvAuthenticated, never
// contradictory.
type EvReady struct {
	Phone    string
	PushName string
}

// EvAuthFailure signals a credential or pairing rejection. Not transient:
// the account requires a fresh explicit Connect.
type EvAuthFailure struct {
	Reason string
}

// EvDisconnected signals the client lost its connection.
type EvDisconnected struct {
	Reason string
}

// EvMessage reports message traffic so daily counters stay current.
type EvMessage struct {
	Incoming bool
}

func (EvPairingIssued) isEvent() {}
func (EvAuthenticated) isEvent() {}
func (EvReady) isEvent()         {}
func (EvAuthFailure) isEvent()   {}
func (EvDisconnected) isEvent()  {}
func (EvMessage) isEvent()       {}

// EventSink receives translated events for one account. Callbacks for a
// single account arrive in causal order; sinks for different accounts run
// concurrently.
type EventSink func(evt Event)
