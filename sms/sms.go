// Package sms coordinates outgoing messages: splitting them into PDU
// parts, handing each part to the at engine, and correlating the
// asynchronous +CDS delivery reports back onto the right part.
package sms

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sim800l/modem/at"
	"github.com/sim800l/modem/logx"
	"github.com/sim800l/modem/pdu"
)

// Status is the lifecycle state of an SMS or one of its parts.
type Status int

// Status values, in the order a part normally passes through them.
const (
	StatusIdle Status = iota
	StatusSending
	StatusSent
	StatusDelivered
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusSending:
		return "SENDING"
	case StatusSent:
		return "SENT"
	case StatusDelivered:
		return "DELIVERED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// isTerminal reports whether a part will never change status again.
func (s Status) isTerminal() bool {
	return s == StatusDelivered || s == StatusError
}

// Part is one PDU-encoded segment of an SMS.
type Part struct {
	ID         uuid.UUID
	Hex        string
	TPDULength int
	Reference  int // the short reference byte +CMGS returns, used to correlate a +CDS report
	Status     Status
	Err        error
}

// SMS is a (possibly multipart) outgoing message and its aggregate
// delivery status.
type SMS struct {
	ID     uuid.UUID
	Number string
	Body   string
	Parts  []*Part
}

// AggregateStatus reports the SMS's overall status: the status of its
// last part once that part has left IDLE, else the status of its
// first part. A multipart SMS is "done" only once every part has
// reached a terminal status; until then the last part's in-flight
// status best represents where the send has gotten to.
func (s *SMS) AggregateStatus() Status {
	if len(s.Parts) == 0 {
		return StatusIdle
	}
	last := s.Parts[len(s.Parts)-1]
	if last.Status != StatusIdle {
		return last.Status
	}
	return s.Parts[0].Status
}

// Done reports whether every part of the SMS has reached a terminal
// status.
func (s *SMS) Done() bool {
	for _, p := range s.Parts {
		if !p.Status.isTerminal() {
			return false
		}
	}
	return true
}

// Event is the set of signals the coordinator publishes.
type Event interface {
	isEvent()
}

// EventStatusChange is published whenever a part's Status changes.
type EventStatusChange struct {
	SMSID  uuid.UUID
	PartID uuid.UUID
	Status Status
}

// EventSMSError is published when a part fails outright (as opposed to
// a negative delivery-report status, which is still EventStatusChange
// with StatusError).
type EventSMSError struct {
	SMSID  uuid.UUID
	PartID uuid.UUID
	Err    error
}

func (EventStatusChange) isEvent() {}
func (EventSMSError) isEvent()     {}

// deliveryStatusFromByte maps a GSM 03.40 TP-Status octet to a Status.
// 0x00 is the only unconditional "delivered"; every defined failure
// code collapses to StatusError - Part.Err's message describes the
// precise cause (see statusByteDescription).
func deliveryStatusFromByte(b byte) Status {
	if b == 0x00 {
		return StatusDelivered
	}
	return StatusError
}

// statusByteDescription names the codes a SIM800L is documented to
// return; anything else is reported as a raw hex byte.
func statusByteDescription(b byte) string {
	switch b {
	case 0x00:
		return "delivered"
	case 0x41:
		return "incompatible destination"
	case 0x43:
		return "destination not available"
	case 0x50:
		return "recipient not registered"
	case 0x60:
		return "message store full"
	case 0x61:
		return "recipient busy"
	case 0x62:
		return "recipient not answering"
	case 0x72:
		return "line suspended"
	default:
		const hexDigits = "0123456789abcdef"
		return "0x" + string([]byte{hexDigits[b>>4], hexDigits[b&0x0f]})
	}
}

// spoolPeriod is how often the spooler inspects the outbox head.
const spoolPeriod = 500 * time.Millisecond

// outboxEntry pairs a spooled SMS with the flag that tells the spooler
// whether it still needs sending.
type outboxEntry struct {
	sms      *SMS
	sendFlag bool
}

// Coordinator owns the outbox: it spools queued SMSs to the engine one
// part at a time, only while the modem is initialized and registered,
// and routes delivery reports back onto the right part.
type Coordinator struct {
	engine *at.Engine
	state  *at.State
	codec  *pdu.Codec
	log    logx.Logger

	deliveryReport bool

	outbox []*outboxEntry
	events chan Event

	byReference map[int]*Part
	smsByPart   map[uuid.UUID]*SMS
	mu          sync.Mutex

	closed chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the Coordinator's diagnostic logger.
func WithLogger(l logx.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithDeliveryReport makes the coordinator keep each sent part at
// StatusSent until a matching +CDS status report arrives; without it a
// part is marked StatusDelivered as soon as +CMGS returns. It does not
// set TP-SRR on the outgoing TPDUs (pdu.Codec.EncodeParts does not
// request a status report), so the coordinator itself never asks the
// network for one.
func WithDeliveryReport(v bool) Option {
	return func(c *Coordinator) { c.deliveryReport = v }
}

// New creates a Coordinator spooling onto engine, sharing its State so
// the spooler only runs once the modem is initialized and registered,
// and starts its internal spooler and delivery-report router
// goroutines.
func New(engine *at.Engine, state *at.State, codec *pdu.Codec, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:      engine,
		state:       state,
		codec:       codec,
		log:         logx.Nop(),
		events:      make(chan Event, 256),
		byReference: make(map[int]*Part),
		smsByPart:   make(map[uuid.UUID]*SMS),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.spoolLoop()
	go c.routeDeliveryReports()
	return c
}

// Events returns the channel of published Events.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Close stops the Coordinator's background goroutines.
func (c *Coordinator) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}

// Send splits message into PDU parts and appends the SMS to the
// outbox, returning immediately with the SMS handle; its parts' Status
// fields, and the Coordinator's Events channel, report progress.
func (c *Coordinator) Send(number, message string) (*SMS, error) {
	select {
	case <-c.closed:
		return nil, at.ErrClosed
	default:
	}
	parts, err := c.codec.EncodeParts(number, message)
	if err != nil {
		return nil, err
	}
	s := &SMS{ID: uuid.New(), Number: number, Body: message, Parts: make([]*Part, len(parts))}
	for i, p := range parts {
		s.Parts[i] = &Part{ID: uuid.New(), Hex: p.Hex, TPDULength: p.TPDULength, Status: StatusIdle}
	}
	c.mu.Lock()
	for _, p := range s.Parts {
		c.smsByPart[p.ID] = s
	}
	c.outbox = append(c.outbox, &outboxEntry{sms: s, sendFlag: true})
	c.mu.Unlock()
	return s, nil
}

// spoolLoop inspects the outbox head every spoolPeriod, sending,
// removing, or rotating it, for as long as the modem is initialized
// and registered. This is the gate that keeps the modem's single
// AT+CMGS slot from being raced: only the head is ever sent, and the
// next tick does not run until sendAll (called synchronously from this
// same goroutine) has returned.
func (c *Coordinator) spoolLoop() {
	ticker := time.NewTicker(spoolPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.spoolTick()
		}
	}
}

// spoolTick runs one spooler pass: a no-op unless the modem is
// initialized and registered, in which case it inspects the outbox
// head. A freshly queued SMS (sendFlag set, aggregate IDLE) is sent. An
// SMS that has finished sending (aggregate SENT, DELIVERED, or ERROR)
// is removed - SENT and DELIVERED are named explicitly because a part
// awaiting a delivery report is still progressing asynchronously via
// routeDeliveryReports, not via another spooler pass; ERROR is removed
// too since it can never progress further. Anything else (still
// IDLE with its flag already cleared, or still SENDING) is rotated to
// the tail so it cannot block entries behind it.
func (c *Coordinator) spoolTick() {
	if !c.state.Initialized() || !c.state.NetworkReady() {
		return
	}
	c.mu.Lock()
	if len(c.outbox) == 0 {
		c.mu.Unlock()
		return
	}
	head := c.outbox[0]
	agg := head.sms.AggregateStatus()
	switch {
	case head.sendFlag && agg == StatusIdle:
		head.sendFlag = false
		c.mu.Unlock()
		c.sendAll(head.sms)
	case agg == StatusSent || agg == StatusDelivered || agg == StatusError:
		c.outbox = c.outbox[1:]
		c.mu.Unlock()
	default:
		c.outbox = append(c.outbox[1:], head)
		c.mu.Unlock()
	}
}

func (c *Coordinator) sendAll(s *SMS) {
	for _, part := range s.Parts {
		c.setStatus(s, part, StatusSending, nil)
		job := at.SendSMSPDU(part.TPDULength, part.Hex+string(rune(0x1a)), part.ID.String())
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		result, err := c.engine.Exec(job).Get(ctx)
		cancel()
		if err != nil {
			c.setStatus(s, part, StatusError, err)
			c.events <- EventSMSError{SMSID: s.ID, PartID: part.ID, Err: err}
			continue
		}
		sendResult, _ := result.Data.(at.SMSSendResult)
		part.Reference = sendResult.ShortReference
		if !c.deliveryReport {
			// No status report was requested, so no +CDS will ever
			// arrive for this reference: the handoff to the network is
			// the last status this part will ever reach.
			c.setStatus(s, part, StatusDelivered, nil)
			continue
		}
		c.mu.Lock()
		c.byReference[part.Reference] = part
		c.mu.Unlock()
		c.setStatus(s, part, StatusSent, nil)
	}
}

func (c *Coordinator) setStatus(s *SMS, p *Part, status Status, err error) {
	p.Status = status
	p.Err = err
	c.events <- EventStatusChange{SMSID: s.ID, PartID: p.ID, Status: status}
}

// routeDeliveryReports listens for the engine's +CDS events and
// resolves the correlated part's final status.
func (c *Coordinator) routeDeliveryReports() {
	for {
		select {
		case <-c.closed:
			return
		case ev, ok := <-c.engine.Events():
			if !ok {
				return
			}
			dr, ok := ev.(at.EventDeliveryReport)
			if !ok {
				continue
			}
			c.handleDeliveryReport(dr)
		}
	}
}

func (c *Coordinator) handleDeliveryReport(dr at.EventDeliveryReport) {
	report, err := pdu.ParseStatusReport(dr.Data)
	if err != nil {
		c.log.Warn("malformed delivery report", "error", err)
		return
	}
	// dr.ShortID is the +CDS: <n> header's modem-local slot index, not
	// the message reference - the network echoes TP-MR back inside the
	// TPDU itself, and that is the value that matches what +CMGS
	// returned when the part was sent, so correlation keys on
	// report.Reference instead.
	c.mu.Lock()
	part, ok := c.byReference[report.Reference]
	var owner *SMS
	if ok {
		owner = c.smsByPart[part.ID]
		delete(c.byReference, report.Reference)
	}
	c.mu.Unlock()
	if !ok || owner == nil {
		c.log.Warn("delivery report for unknown reference", "reference", report.Reference)
		return
	}
	status := deliveryStatusFromByte(report.Status)
	var sErr error
	if status == StatusError {
		sErr = &statusError{byte: report.Status}
	}
	c.setStatus(owner, part, status, sErr)
}

type statusError struct {
	byte byte
}

func (e *statusError) Error() string {
	return statusByteDescription(e.byte)
}
