// Package supervisor owns the modem's lifecycle: cold-boot
// initialization (retried with backoff), periodic liveness and
// registration probes, and the reset policy that recovers from a
// brownout or a stuck registration without operator intervention.
package supervisor

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"github.com/sim800l/modem/at"
	"github.com/sim800l/modem/logx"
)

// Event is the set of lifecycle signals the supervisor publishes, kept
// distinct from at.Event (wire-level) and sms.Event (coordinator-level)
// so a consumer can subscribe to only the layer it cares about.
type Event interface {
	isEvent()
}

// EventInitialized is published once cold-boot initialization (or
// reinitialization after a reset) succeeds.
type EventInitialized struct{}

// EventBrownout is published when consecutive liveness probes fail
// past the threshold, just before a reset is triggered.
type EventBrownout struct {
	Count int
}

// EventFatal is published when cold boot (initial or after a reset)
// fails for good, or when the reset-retry budget (at.ErrFatal) is
// exhausted; the supervisor gives up and stops probing.
type EventFatal struct {
	Err error
}

func (EventInitialized) isEvent() {}
func (EventBrownout) isEvent()    {}
func (EventFatal) isEvent()       {}

const (
	brownoutPeriod    = 20 * time.Second
	brownoutThreshold = 3
	networkPeriod     = 60 * time.Second
	networkThreshold  = 3
)

// resetTriggered reports whether n consecutive failures warrant a
// reset: only once the count exceeds threshold, i.e. on the
// (threshold+1)th failure, not the threshold'th.
func resetTriggered(n, threshold int) bool {
	return n > threshold
}

// Supervisor drives the at.Engine through cold boot and keeps it alive
// across brownouts and registration loss.
type Supervisor struct {
	engine *at.Engine
	state  *at.State
	log    logx.Logger

	events chan Event
	closed chan struct{}

	resetBackoff *backoff.Backoff
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the Supervisor's diagnostic logger.
func WithLogger(l logx.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// New creates a Supervisor over engine, sharing its State.
func New(engine *at.Engine, state *at.State, opts ...Option) *Supervisor {
	s := &Supervisor{
		engine: engine,
		state:  state,
		log:    logx.Nop(),
		events: make(chan Event, 64),
		closed: make(chan struct{}),
		resetBackoff: &backoff.Backoff{
			Min: time.Second,
			Max: 5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the channel of published lifecycle Events.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Close stops the Supervisor's background loops.
func (s *Supervisor) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

// Run performs cold-boot initialization and then runs the brownout and
// network watchdogs until ctx is done or Close is called. A watchdog
// that exhausts the reset budget publishes EventFatal and stops itself;
// that alone does not make Run return. It blocks; callers run it in its
// own goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	if err := s.coldBoot(ctx); err != nil {
		s.publish(EventFatal{Err: err})
		return
	}
	s.publish(EventInitialized{})

	go s.brownoutLoop(ctx)
	go s.networkLoop(ctx)

	select {
	case <-ctx.Done():
	case <-s.closed:
	}
}

// coldBoot runs the modem through the init sequence: liveness, verbose
// errors, PIN check (unlocking if configured), new-message indication
// config, PDU mode, then marks the state initialized.
func (s *Supervisor) coldBoot(ctx context.Context) error {
	cfg := s.state.Config()
	steps := []*at.Job{
		at.CheckModem(),
		at.EnableVerboseErrors(),
	}
	for _, job := range steps {
		if _, err := s.engine.Exec(job).Get(ctx); err != nil {
			return s.retryOrFail(ctx, err)
		}
	}
	if err := s.ensurePIN(ctx, cfg.PIN); err != nil {
		return s.retryOrFail(ctx, err)
	}
	if cfg.CNMI != "" {
		if _, err := s.engine.Exec(at.ConfigureCNMI(cfg.CNMI)).Get(ctx); err != nil {
			return s.retryOrFail(ctx, err)
		}
	}
	if _, err := s.engine.Exec(at.SetPDUMode()).Get(ctx); err != nil {
		return s.retryOrFail(ctx, err)
	}
	s.state.SetInitialized(true)
	s.state.ResetRetryNumber()
	if _, err := s.engine.Exec(at.CheckNetwork()).Get(ctx); err != nil {
		s.log.Warn("initial network check failed", "error", err)
	}
	return nil
}

func (s *Supervisor) ensurePIN(ctx context.Context, pin string) error {
	_, err := s.engine.Exec(at.CheckPIN()).Get(ctx)
	if err == nil {
		return nil
	}
	cmdErr, ok := err.(*at.CommandError)
	if !ok || cmdErr.Kind != at.KindPINRequired {
		return err
	}
	if pin == "" {
		return cmdErr
	}
	_, err = s.engine.Exec(at.UnlockPIN(pin)).Get(ctx)
	return err
}

// retryOrFail re-runs cold boot after a backoff wait, with an increasing
// retry count, giving up once the count reaches initRetryLimit by
// returning the original error unresolved: the caller (coldBoot's
// caller, Run) treats any returned error as fatal after this point.
func (s *Supervisor) retryOrFail(ctx context.Context, cause error) error {
	const initRetryLimit = 3
	n := s.state.IncRetryNumber()
	if n >= initRetryLimit {
		s.log.Warn("cold boot step failed, giving up", "attempt", n, "error", cause)
		return cause
	}
	s.log.Warn("cold boot step failed, retrying", "attempt", n, "error", cause)
	select {
	case <-time.After(s.resetBackoff.Duration()):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.coldBoot(ctx)
}

// brownoutLoop probes liveness every brownoutPeriod; a reset triggers
// once consecutive failures exceed brownoutThreshold (i.e. on the
// (brownoutThreshold+1)th failure).
func (s *Supervisor) brownoutLoop(ctx context.Context) {
	ticker := time.NewTicker(brownoutPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-ticker.C:
			_, err := s.engine.Exec(at.CheckModem()).Get(ctx)
			if err == nil {
				s.state.ResetBrownoutNumber()
				continue
			}
			n := s.state.IncBrownoutNumber()
			if !resetTriggered(n, brownoutThreshold) {
				continue
			}
			s.publish(EventBrownout{Count: n})
			if !s.resetAndReinit(ctx) {
				return
			}
		}
	}
}

// networkLoop probes registration every networkPeriod once the modem
// is initialized; a reset triggers once consecutive non-registered
// results exceed networkThreshold (i.e. on the (networkThreshold+1)th
// reading).
func (s *Supervisor) networkLoop(ctx context.Context) {
	ticker := time.NewTicker(networkPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-ticker.C:
			if !s.state.Initialized() {
				continue
			}
			result, err := s.engine.Exec(at.CheckNetwork()).Get(ctx)
			if err != nil {
				continue
			}
			nr, _ := result.Data.(at.NetworkResult)
			registered := nr.Status == at.RegRegistered || nr.Status == at.RegRoaming
			s.state.SetNetworkReady(registered)
			if registered {
				s.state.ResetNetworkRetry()
				continue
			}
			n := s.state.IncNetworkRetry()
			if !resetTriggered(n, networkThreshold) {
				continue
			}
			if !s.resetAndReinit(ctx) {
				return
			}
		}
	}
}

// resetAndReinit performs AT+CFUN reset and, on success, a fresh cold
// boot. It returns false if the reset budget (at.ErrFatal) was
// exhausted, telling the caller loop to stop.
func (s *Supervisor) resetAndReinit(ctx context.Context) bool {
	s.engine.ExecImmediate(at.AbortInput())
	_, err := s.engine.ExecImmediate(at.Reset("")).Get(ctx)
	if err == at.ErrFatal {
		s.publish(EventFatal{Err: err})
		return false
	}
	if err != nil {
		s.log.Warn("reset failed", "error", err)
		return true
	}
	if err := s.coldBoot(ctx); err != nil {
		s.publish(EventFatal{Err: err})
		return false
	}
	s.publish(EventInitialized{})
	return true
}

func (s *Supervisor) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("dropping supervisor event, subscriber too slow")
	}
}
