// Test suite for the pdu package.
package pdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePartsProducesFramedHexAndLength(t *testing.T) {
	c := New()
	parts, err := c.EncodeParts("+12345", "hello")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.NotEmpty(t, parts[0].Hex)
	assert.Greater(t, parts[0].TPDULength, 0)
}

func TestEncodePartsSplitsLongMessageIntoMultipleParts(t *testing.T) {
	c := New()
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'a'
	}
	parts, err := c.EncodeParts("+12345", string(long))
	require.NoError(t, err)
	assert.Greater(t, len(parts), 1)
}

// statusReportHex builds a minimal GSM 03.40 SMS-STATUS-REPORT TPDU
// (TP-MTI=10, an empty TP-RA, a fixed TP-SCTS/TP-DT pair) with only
// TP-MR and TP-ST varied, since those are the two fields
// ParseStatusReport reads.
func statusReportHex(mr, st byte) string {
	raw := []byte{
		0x02, mr, 0x00, 0x91,
		0x32, 0x10, 0x10, 0x00, 0x00, 0x00, 0x00,
		0x32, 0x10, 0x10, 0x00, 0x00, 0x00, 0x00,
		st,
	}
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 0, len(raw)*2)
	for _, b := range raw {
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return string(out)
}

func TestParseStatusReportExtractsReferenceAndStatus(t *testing.T) {
	report, err := ParseStatusReport(statusReportHex(42, 0x00))
	require.NoError(t, err)
	assert.Equal(t, 42, report.Reference)
	assert.Equal(t, byte(0x00), report.Status)
}

func TestParseStatusReportReportsNonZeroStatus(t *testing.T) {
	report, err := ParseStatusReport(statusReportHex(7, 0x41))
	require.NoError(t, err)
	assert.Equal(t, 7, report.Reference)
	assert.Equal(t, byte(0x41), report.Status)
}

func TestParseStatusReportRejectsInvalidHex(t *testing.T) {
	_, err := ParseStatusReport("not-hex")
	assert.Error(t, err)
}

func TestDecodeStatusReportRejectsInvalidHex(t *testing.T) {
	_, err := DecodeStatusReport("zz")
	assert.Error(t, err)
}
