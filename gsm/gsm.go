// SPDX-License-Identifier: MIT
//
// Copyright © 2018 Kent Gibson <warthog618@gmail.com>.

// Package gsm is the top-level facade wiring the command engine, the
// lifecycle supervisor, the SMS coordinator, and the PDU codec into one
// driver for a SIM800L-family modem.
package gsm

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/sim800l/modem/at"
	"github.com/sim800l/modem/logx"
	"github.com/sim800l/modem/pdu"
	"github.com/sim800l/modem/sms"
	"github.com/sim800l/modem/supervisor"
)

// GSM is a running modem driver: its Engine handles raw AT traffic, its
// Supervisor owns the boot/recovery lifecycle, and its SMS coordinator
// handles outgoing message spooling and delivery reports.
type GSM struct {
	Engine     *at.Engine
	Supervisor *supervisor.Supervisor
	SMS        *sms.Coordinator

	state                *at.State
	requireGSMCapability bool
}

type options struct {
	cfg                  at.Config
	logger               logx.Logger
	requireGSMCapability bool
}

// Option configures a GSM at construction time.
type Option func(*options)

// WithLogger sets the logger used by the Engine, Supervisor, and SMS
// coordinator alike. The default is a no-op logger.
func WithLogger(l logx.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPIN sets the SIM PIN used during cold boot if the modem reports
// SIM PIN required.
func WithPIN(pin string) Option {
	return func(o *options) { o.cfg.PIN = pin }
}

// WithCNMI sets the new-message-indication configuration string
// applied during cold boot.
func WithCNMI(cnmi string) Option {
	return func(o *options) { o.cfg.CNMI = cnmi }
}

// WithDeliveryReport makes the SMS coordinator wait for a +CDS status
// report before a sent part counts as delivered (see
// sms.WithDeliveryReport); it does not set TP-SRR on outgoing TPDUs.
func WithDeliveryReport(v bool) Option {
	return func(o *options) { o.cfg.DeliveryReport = v }
}

// WithAutoDeleteFromSim records a policy preference read by callers
// managing SIM storage; the driver itself never issues a delete.
func WithAutoDeleteFromSim(v bool) Option {
	return func(o *options) { o.cfg.AutoDeleteFromSim = v }
}

// RequireGSMCapability makes Init fail with ErrNotGSMCapable unless the
// modem's +GCAP response advertises +CGSM support.
func RequireGSMCapability() Option {
	return func(o *options) { o.requireGSMCapability = true }
}

// New creates a GSM driver over transport.
func New(transport io.ReadWriter, opts ...Option) *GSM {
	o := options{logger: logx.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	state := at.NewState(o.cfg)
	engine := at.New(transport, state, at.WithLogger(o.logger))
	sup := supervisor.New(engine, state, supervisor.WithLogger(o.logger))
	coordinator := sms.New(engine, state, pdu.New(),
		sms.WithLogger(o.logger),
		sms.WithDeliveryReport(o.cfg.DeliveryReport))
	return &GSM{
		Engine:               engine,
		Supervisor:           sup,
		SMS:                  coordinator,
		state:                state,
		requireGSMCapability: o.requireGSMCapability,
	}
}

// Init runs the modem through cold boot: liveness, PIN, CNMI, PDU mode.
// It blocks until cold boot completes or ctx is done, then leaves the
// Supervisor's brownout and network watchdogs running in the
// background for the lifetime of ctx.
func (g *GSM) Init(ctx context.Context) error {
	if g.requireGSMCapability {
		if err := g.checkGSMCapability(ctx); err != nil {
			return err
		}
	}
	done := make(chan struct{})
	go func() {
		g.Supervisor.Run(ctx)
		close(done)
	}()
	select {
	case ev := <-g.Supervisor.Events():
		switch e := ev.(type) {
		case supervisor.EventInitialized:
			return nil
		case supervisor.EventFatal:
			return e.Err
		default:
			return nil
		}
	case <-done:
		return ErrMalformedResponse
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *GSM) checkGSMCapability(ctx context.Context) error {
	result, err := g.Engine.Exec(&at.Job{Command: "AT+GCAP"}).Get(ctx)
	if err != nil {
		return err
	}
	for _, l := range result.Lines {
		if !strings.HasPrefix(l, "+GCAP") {
			continue
		}
		for _, cap := range strings.Split(strings.TrimPrefix(l, "+GCAP: "), ",") {
			if strings.TrimSpace(cap) == "+CGSM" {
				return nil
			}
		}
	}
	return ErrNotGSMCapable
}

// SendSMS encodes message as one or more PDU parts and queues them for
// sending to number, returning immediately; progress is reported via
// SMS.Events.
func (g *GSM) SendSMS(number, message string) (*sms.SMS, error) {
	return g.SMS.Send(number, message)
}

// SignalQuality runs AT+CSQ and parses the RSSI and bit-error-rate
// fields from its response.
func (g *GSM) SignalQuality(ctx context.Context) (rssi, ber int, err error) {
	result, err := g.Engine.Exec(&at.Job{Command: "AT+CSQ"}).Get(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, l := range result.Lines {
		if !strings.HasPrefix(l, "+CSQ:") {
			continue
		}
		fields := strings.Split(strings.TrimSpace(strings.TrimPrefix(l, "+CSQ:")), ",")
		if len(fields) != 2 {
			return 0, 0, ErrMalformedResponse
		}
		rssi, err = strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return 0, 0, ErrMalformedResponse
		}
		ber, err = strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return 0, 0, ErrMalformedResponse
		}
		return rssi, ber, nil
	}
	return 0, 0, ErrMalformedResponse
}

// Events returns the Engine's wire-level event channel, for callers
// that want raw +CDS/+CMTI/network notifications rather than the
// higher-level SMS or Supervisor events.
func (g *GSM) Events() <-chan at.Event {
	return g.Engine.Events()
}

// Close shuts down the Engine, Supervisor, and SMS coordinator.
func (g *GSM) Close() {
	g.SMS.Close()
	g.Supervisor.Close()
	g.Engine.Close()
}

var (
	// ErrNotGSMCapable indicates the modem's +GCAP response did not
	// advertise +CGSM support, checked only when RequireGSMCapability
	// was supplied.
	ErrNotGSMCapable = errors.New("gsm: modem is not GSM capable")
	// ErrMalformedResponse indicates the modem returned a response this
	// driver could not parse, or Init's Supervisor exited before
	// publishing an outcome.
	ErrMalformedResponse = errors.New("gsm: malformed response")
)
