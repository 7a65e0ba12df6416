package at

import "sync"

// PINStatus is the result of parsing a +CPIN? response.
type PINStatus string

// PIN status values reported by +CPIN.
const (
	PINReady   PINStatus = "READY"
	PINNeedPIN PINStatus = "NEED_PIN"
	PINNeedPUK PINStatus = "NEED_PUK"
	PINError   PINStatus = "ERROR"
)

// Config holds the construction-time, immutable settings of a State.
type Config struct {
	// PIN, if set, is used to unlock the SIM on NEED_PIN.
	PIN string
	// CNMI is the new-message-indication string applied during init.
	CNMI string
	// DeliveryReport makes the SMS coordinator wait for a +CDS status
	// report before a sent part counts as delivered. It does not set
	// TP-SRR on the outgoing TPDUs, so no status report is requested
	// by the driver itself.
	DeliveryReport bool
	// AutoDeleteFromSim is a policy flag that nothing in this driver
	// reads; no deletion command is ever issued (see DESIGN.md open
	// question 4).
	AutoDeleteFromSim bool
}

// State is the modem's process-wide lifecycle state: the booleans and
// counters every handler and supervisor loop reads or mutates. It
// replaces the source's global mutable flags with a single struct whose
// fields are only ever changed through its own methods (the "restricted
// mutator" the redesign calls for).
type State struct {
	cfg Config

	mu            sync.Mutex
	initialized   bool
	networkReady  bool
	simUnlocked   bool
	retryNumber   int
	resetNumber   int
	networkRetry  int
	brownoutNumber int
}

// NewState creates a State from the given Config.
func NewState(cfg Config) *State {
	return &State{cfg: cfg}
}

// Config returns the immutable configuration this State was built with.
func (s *State) Config() Config { return s.cfg }

// Initialized reports whether cold-boot initialization has completed.
func (s *State) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// SetInitialized sets the initialized flag.
func (s *State) SetInitialized(v bool) {
	s.mu.Lock()
	s.initialized = v
	s.mu.Unlock()
}

// NetworkReady reports whether the last observed registration status was
// REGISTERED or ROAMING.
func (s *State) NetworkReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.networkReady
}

// SetNetworkReady sets the networkReady flag.
func (s *State) SetNetworkReady(v bool) {
	s.mu.Lock()
	s.networkReady = v
	s.mu.Unlock()
}

// SIMUnlocked reports whether the SIM has reported READY.
func (s *State) SIMUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.simUnlocked
}

// SetSIMUnlocked sets the simUnlocked flag. Mutated only by check-pin
// and pin-unlock handlers.
func (s *State) SetSIMUnlocked(v bool) {
	s.mu.Lock()
	s.simUnlocked = v
	s.mu.Unlock()
}

// RetryNumber returns the count of initialization attempts since the
// last success.
func (s *State) RetryNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryNumber
}

// IncRetryNumber increments and returns the new retryNumber.
func (s *State) IncRetryNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryNumber++
	return s.retryNumber
}

// ResetRetryNumber zeroes retryNumber (on successful initialization or
// on reset).
func (s *State) ResetRetryNumber() {
	s.mu.Lock()
	s.retryNumber = 0
	s.mu.Unlock()
}

// ResetNumber returns the total count of soft resets performed.
func (s *State) ResetNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetNumber
}

// IncResetNumber increments and returns the new resetNumber. It is
// never zeroed by a reset: it counts resets since process start.
func (s *State) IncResetNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetNumber++
	return s.resetNumber
}

// NetworkRetry returns the count of consecutive failed registration
// checks.
func (s *State) NetworkRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.networkRetry
}

// IncNetworkRetry increments and returns the new networkRetry.
func (s *State) IncNetworkRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkRetry++
	return s.networkRetry
}

// ResetNetworkRetry zeroes networkRetry.
func (s *State) ResetNetworkRetry() {
	s.mu.Lock()
	s.networkRetry = 0
	s.mu.Unlock()
}

// BrownoutNumber returns the count of consecutive failed liveness
// probes.
func (s *State) BrownoutNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brownoutNumber
}

// IncBrownoutNumber increments and returns the new brownoutNumber.
func (s *State) IncBrownoutNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brownoutNumber++
	return s.brownoutNumber
}

// ResetBrownoutNumber zeroes brownoutNumber.
func (s *State) ResetBrownoutNumber() {
	s.mu.Lock()
	s.brownoutNumber = 0
	s.mu.Unlock()
}

// ResetLifecycle applies the post-reset invariant: initialized and
// networkReady drop, and the attempt counters that track "since last
// success" are zeroed. resetNumber is untouched - it is cumulative.
func (s *State) ResetLifecycle() {
	s.mu.Lock()
	s.initialized = false
	s.networkReady = false
	s.retryNumber = 0
	s.networkRetry = 0
	s.brownoutNumber = 0
	s.mu.Unlock()
}
