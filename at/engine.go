package at

import (
	"io"
	"time"

	"github.com/sim800l/modem/logx"
)

// Engine owns the command queue and the accumulation buffer, and is the
// only goroutine that ever touches either. External callers reach it
// only through Exec/ExecImmediate/Notify/Events/Close; a Handler
// invoked from inside the run loop reaches it only by recording intent
// on a HandlerContext, which the same goroutine interprets once the
// handler returns. That is what lets a handler enqueue a follow-up job
// from within its own invocation without deadlocking on itself.
type Engine struct {
	transport io.ReadWriter
	log       logx.Logger
	state     *State

	q      *queue
	buffer []byte

	submitCh chan submission
	rawCh    chan []byte
	eventsCh chan Event
	notifyCh chan notifyReq
	unsubCh  chan unsubReq
	closed   chan struct{}

	transportDown chan struct{}

	notifications map[string][]chan []string

	incomingSettle time.Duration
	timer          *time.Timer
	incomingTimer  *time.Timer
}

type submission struct {
	job       *Job
	immediate bool
}

type notifyReq struct {
	prefix string
	respCh chan chan []string
}

type unsubReq struct {
	prefix string
	ch     chan []string
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger sets the Engine's diagnostic logger. The default is a
// no-op logger.
func WithLogger(l logx.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithIncomingSettle overrides the quiet period the engine waits after
// unrecognized unsolicited data before publishing it as EventIncoming.
// The default is 200ms.
func WithIncomingSettle(d time.Duration) Option {
	return func(e *Engine) { e.incomingSettle = d }
}

// New creates an Engine over transport, with modem lifecycle tracked in
// state, and starts its reader and run-loop goroutines.
func New(transport io.ReadWriter, state *State, opts ...Option) *Engine {
	e := &Engine{
		transport:      transport,
		log:            logx.Nop(),
		state:          state,
		q:              newQueue(),
		submitCh:       make(chan submission),
		rawCh:          make(chan []byte),
		eventsCh:       make(chan Event, 256),
		notifyCh:       make(chan notifyReq),
		unsubCh:        make(chan unsubReq),
		closed:         make(chan struct{}),
		transportDown:  make(chan struct{}),
		notifications:  make(map[string][]chan []string),
		incomingSettle: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.publish(EventOpen{})
	go e.readLoop()
	go e.run()
	return e
}

// Exec enqueues job at the tail of the normal queue and returns a
// Future for its eventual result.
func (e *Engine) Exec(job *Job) *Future {
	return e.submit(job, false)
}

// ExecImmediate enqueues job ahead of normal jobs, behind any
// already-queued immediate job and behind the currently active job.
func (e *Engine) ExecImmediate(job *Job) *Future {
	return e.submit(job, true)
}

func (e *Engine) submit(job *Job, immediate bool) *Future {
	job.future = newFuture()
	select {
	case <-e.closed:
		job.future.fulfil(Result{}, ErrClosed)
		return job.future
	case e.submitCh <- submission{job: job, immediate: immediate}:
		return job.future
	}
}

// Events returns the channel of published Events. It is never closed
// while the Engine is open; it closes once Close has fully drained the
// run loop.
func (e *Engine) Events() <-chan Event {
	return e.eventsCh
}

// Notify subscribes to unsolicited lines beginning with prefix that no
// built-in router (network banner, +CMTI, +CDS) already consumes. The
// returned cancel func unsubscribes and releases the channel.
func (e *Engine) Notify(prefix string) (<-chan []string, func()) {
	respCh := make(chan chan []string, 1)
	select {
	case <-e.closed:
		ch := make(chan []string)
		close(ch)
		return ch, func() {}
	case e.notifyCh <- notifyReq{prefix: prefix, respCh: respCh}:
	}
	ch := <-respCh
	cancel := func() {
		select {
		case e.unsubCh <- unsubReq{prefix: prefix, ch: ch}:
		case <-e.closed:
		}
	}
	return ch, cancel
}

// Close shuts the Engine down: every queued and active job is failed
// with ErrClosed, and the run loop exits.
func (e *Engine) Close() {
	select {
	case <-e.closed:
	default:
		close(e.closed)
	}
}

func (e *Engine) publish(ev Event) {
	select {
	case e.eventsCh <- ev:
	default:
		e.log.Warn("dropping event, subscriber too slow", "event", ev)
	}
}

func (e *Engine) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := e.transport.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case e.rawCh <- chunk:
			case <-e.closed:
				return
			}
		}
		if err != nil {
			select {
			case <-e.transportDown:
			default:
				close(e.transportDown)
			}
			return
		}
	}
}

func (e *Engine) run() {
	defer func() {
		e.q.drainAll(func(j *Job) { j.future.fulfil(Result{}, ErrClosed) })
		e.stopTimer()
		e.stopIncomingTimer()
		for _, subs := range e.notifications {
			for _, ch := range subs {
				close(ch)
			}
		}
		close(e.eventsCh)
	}()
	for {
		var timerC <-chan time.Time
		if e.timer != nil {
			timerC = e.timer.C
		}
		var incomingC <-chan time.Time
		if e.incomingTimer != nil {
			incomingC = e.incomingTimer.C
		}
		select {
		case <-e.closed:
			return
		case <-e.transportDown:
			e.publish(EventError{Err: ErrClosed})
			e.Close()
		case sub := <-e.submitCh:
			e.onSubmit(sub)
		case b := <-e.rawCh:
			e.onBytes(b)
		case <-timerC:
			e.onTimeout()
		case <-incomingC:
			e.onIncomingSettle()
		case req := <-e.notifyCh:
			ch := make(chan []string, 8)
			e.notifications[req.prefix] = append(e.notifications[req.prefix], ch)
			req.respCh <- ch
		case req := <-e.unsubCh:
			e.removeNotify(req.prefix, req.ch)
		}
	}
}

func (e *Engine) removeNotify(prefix string, ch chan []string) {
	subs := e.notifications[prefix]
	for i, c := range subs {
		if c == ch {
			e.notifications[prefix] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (e *Engine) onSubmit(sub submission) {
	job := sub.job
	if job.Handler == nil {
		job.Handler = defaultHandlerFor(job.Type)
	}
	if job.Timeout == 0 {
		job.Timeout = DefaultTimeout
	}
	job.ID = newJobID()
	if sub.immediate {
		e.q.pushImmediate(job)
	} else {
		e.q.pushNormal(job)
	}
	e.tryActivate()
}

func (e *Engine) tryActivate() {
	if e.q.head() != nil {
		return
	}
	job := e.q.activateNext()
	if job == nil {
		return
	}
	e.buffer = nil
	e.writeJob(job)
}

func (e *Engine) writeJob(job *Job) {
	job.written = true
	if _, err := e.transport.Write(frame(job.Command)); err != nil {
		e.completeJob(job, Result{}, err)
		return
	}
	if job.NoResponse {
		e.completeJob(job, Result{}, nil)
		return
	}
	e.startTimer(job.Timeout)
}

// frame appends the AT command terminator, CR, unless cmd already ends
// with SUB (0x1A) or ESC (0x1B) - the two control bytes a handler uses
// to write its own exact wire sequence (an SMS body, or an abort).
func frame(cmd string) []byte {
	if n := len(cmd); n > 0 {
		switch cmd[n-1] {
		case 0x1a, 0x1b:
			return []byte(cmd)
		}
	}
	return []byte(cmd + "\r")
}

func (e *Engine) startTimer(d time.Duration) {
	e.stopTimer()
	e.timer = time.NewTimer(d)
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) startIncomingTimer() {
	e.stopIncomingTimer()
	e.incomingTimer = time.NewTimer(e.incomingSettle)
}

func (e *Engine) resetIncomingTimer() {
	e.startIncomingTimer()
}

func (e *Engine) stopIncomingTimer() {
	if e.incomingTimer != nil {
		e.incomingTimer.Stop()
		e.incomingTimer = nil
	}
}

func (e *Engine) onBytes(b []byte) {
	e.buffer = append(e.buffer, b...)
	lines := splitLines(e.buffer)
	job := e.q.head()
	if job == nil {
		e.handleUnsolicited(lines)
		return
	}
	ctx := &HandlerContext{Job: job, Buffer: e.buffer, Lines: lines, State: e.state}
	job.Handler(ctx)
	e.applyContext(job, ctx)
}

func (e *Engine) applyContext(job *Job, ctx *HandlerContext) {
	for _, w := range ctx.writes {
		e.transport.Write(w)
	}
	for _, ev := range ctx.events {
		e.publish(ev)
	}
	for _, enq := range ctx.enqueues {
		enq.job.future = newFuture()
		if enq.job.Handler == nil {
			enq.job.Handler = defaultHandlerFor(enq.job.Type)
		}
		if enq.job.Timeout == 0 {
			enq.job.Timeout = DefaultTimeout
		}
		enq.job.ID = newJobID()
		if enq.immediate {
			e.q.pushImmediate(enq.job)
		} else {
			e.q.pushNormal(enq.job)
		}
	}
	if ctx.completed {
		e.completeJob(job, ctx.result, ctx.err)
	}
}

func (e *Engine) completeJob(job *Job, result Result, err error) {
	e.stopTimer()
	e.q.clearActive()
	e.buffer = nil
	job.ended = true
	job.future.fulfil(result, err)
	e.tryActivate()
}

func (e *Engine) onTimeout() {
	job := e.q.head()
	if job == nil {
		return
	}
	if job.Type == JobReset {
		e.finishReset(job)
		return
	}
	snapshot := splitLines(e.buffer)
	if job.Type == JobCheckModem {
		e.publish(EventModemReady{Ready: false})
	}
	e.publish(EventTimeout{Job: job, Snapshot: snapshot})
	e.completeJob(job, Result{}, &CommandError{Kind: KindUnhandled, Message: "timeout", Raw: snapshot})
}

// finishReset treats a reset job's own timeout as its completion
// trigger rather than a failure: AT+CFUN never replies with a crisp
// terminator the way other commands do, so the fixed settle wait built
// into Reset's Timeout IS the protocol.
func (e *Engine) finishReset(job *Job) {
	e.stopTimer()
	e.q.drainPending(func(j *Job) { j.future.fulfil(Result{}, ErrCancelled) })
	e.q.clearActive()
	e.state.ResetLifecycle()
	n := e.state.IncResetNumber()
	e.buffer = nil
	if n > 5 {
		job.future.fulfil(Result{}, ErrFatal)
	} else {
		job.future.fulfil(Result{}, nil)
	}
	e.tryActivate()
}

func (e *Engine) handleUnsolicited(lines []string) {
	ctx := &HandlerContext{Buffer: e.buffer, Lines: lines, State: e.state}
	consumed, hold := incomingHandler(ctx)
	for _, w := range ctx.writes {
		e.transport.Write(w)
	}
	for _, ev := range ctx.events {
		e.publish(ev)
	}
	for _, enq := range ctx.enqueues {
		enq.job.future = newFuture()
		if enq.job.Handler == nil {
			enq.job.Handler = defaultHandlerFor(enq.job.Type)
		}
		if enq.job.Timeout == 0 {
			enq.job.Timeout = DefaultTimeout
		}
		enq.job.ID = newJobID()
		if enq.immediate {
			e.q.pushImmediate(enq.job)
		} else {
			e.q.pushNormal(enq.job)
		}
	}
	if hold {
		return
	}
	// A follow-up (e.g. check-network) may have just been enqueued;
	// activating it here writes its command and resets e.buffer, so the
	// unsolicited data that triggered it is never held against the new
	// job.
	e.tryActivate()
	if consumed {
		e.buffer = nil
		e.stopIncomingTimer()
		return
	}
	if e.matchNotify(lines) {
		e.buffer = nil
		e.stopIncomingTimer()
		return
	}
	e.resetIncomingTimer()
}

func (e *Engine) matchNotify(lines []string) bool {
	matched := false
	for prefix, subs := range e.notifications {
		hit := false
		for _, l := range lines {
			if len(l) >= len(prefix) && l[:len(prefix)] == prefix {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		matched = true
		cp := append([]string(nil), lines...)
		for _, ch := range subs {
			select {
			case ch <- cp:
			default:
				e.log.Warn("dropping notification, subscriber too slow", "prefix", prefix)
			}
		}
	}
	return matched
}

func (e *Engine) onIncomingSettle() {
	e.stopIncomingTimer()
	if len(e.buffer) == 0 {
		return
	}
	e.publish(EventIncoming{Response: splitLines(e.buffer)})
	e.buffer = nil
}
