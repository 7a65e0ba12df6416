// Package pdu binds the driver to the external PDU codec collaborator:
// it turns a destination number and UTF-8 message into the hex PDU
// bodies AT+CMGS expects, and turns a +CDS: status-report payload back
// into a typed delivery outcome.
package pdu

import (
	"encoding/hex"

	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/pdumode"
	"github.com/warthog618/sms/encoding/tpdu"
)

// Part is one segment of a (possibly multipart) outgoing SMS, already
// framed with the SMSC address and ready to be written as the AT+CMGS
// command body.
type Part struct {
	// Hex is the SMSC-prefixed PDU, in the hex form the modem expects.
	Hex string
	// TPDULength is the octet length of the TPDU alone, excluding the
	// SMSC prefix - the value AT+CMGS=<length> requires.
	TPDULength int
}

// Codec encodes outgoing messages using the SMSC address configured on
// it. Delivery reports are decoded by the package-level
// DecodeStatusReport and ParseStatusReport functions.
type Codec struct {
	sca pdumode.SMSCAddress
}

// Option configures a Codec.
type Option func(*Codec)

// WithSCA overrides the default SMSC address (the SIM's own) used when
// framing outgoing PDUs.
func WithSCA(sca pdumode.SMSCAddress) Option {
	return func(c *Codec) { c.sca = sca }
}

// New creates a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EncodeParts splits message into one or more TPDUs addressed to
// number, encoding with every charset the library supports so GSM
// 7-bit, 8-bit, and UCS-2 messages are all handled, and frames each
// with the Codec's SMSC address.
func (c *Codec) EncodeParts(number, message string) ([]Part, error) {
	tpdus, err := sms.Encode([]byte(message), sms.To(number), sms.WithAllCharsets)
	if err != nil {
		return nil, err
	}
	parts := make([]Part, len(tpdus))
	for i, t := range tpdus {
		raw, err := t.MarshalBinary()
		if err != nil {
			return nil, err
		}
		framed := pdumode.PDU{SMSC: c.sca, TPDU: raw}
		hexStr, err := framed.MarshalHexString()
		if err != nil {
			return nil, err
		}
		parts[i] = Part{Hex: hexStr, TPDULength: len(raw)}
	}
	return parts, nil
}

// DecodeStatusReport parses the TPDU hex payload that follows a +CDS:
// <n> header line into its typed form.
func DecodeStatusReport(hexTPDU string) (*tpdu.TPDU, error) {
	raw, err := hex.DecodeString(hexTPDU)
	if err != nil {
		return nil, err
	}
	tp := &tpdu.TPDU{}
	if err := tp.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return tp, nil
}

// StatusReport is the decoded form of a +CDS: <n> status-report TPDU:
// the two fields a caller needs to correlate it back to the part that
// requested it and to learn its outcome.
type StatusReport struct {
	// Reference is the TPDU's own TP-MR field - the message reference
	// the network echoes back, and the same value AT+CMGS returned
	// when the part was sent. This is NOT the +CDS: <n> header's n,
	// which is only a modem-local slot index and routinely differs
	// from the message reference.
	Reference int
	// Status is the TP-Status octet.
	Status byte
}

// ParseStatusReport decodes the TPDU hex payload that follows a +CDS:
// <n> header line and extracts TP-MR and TP-Status.
func ParseStatusReport(hexTPDU string) (StatusReport, error) {
	tp, err := DecodeStatusReport(hexTPDU)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{Reference: int(tp.MR), Status: tp.ST}, nil
}
