// Test suite for the supervisor package.
package supervisor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sim800l/modem/at"
)

type mockModem struct {
	cmdSet map[string][]string
	closed bool
	r      chan []byte
}

func (m *mockModem) Read(p []byte) (int, error) {
	data, ok := <-m.r
	if !ok {
		return 0, io.EOF
	}
	n := copy(p, data)
	return n, nil
}

func (m *mockModem) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errors.New("closed")
	}
	v, ok := m.cmdSet[string(p)]
	if !ok {
		m.r <- []byte("\r\nERROR\r\n")
		return len(p), nil
	}
	for _, l := range v {
		if l == "" {
			continue
		}
		m.r <- []byte(l)
	}
	return len(p), nil
}

func (m *mockModem) Close() {
	if !m.closed {
		m.closed = true
		close(m.r)
	}
}

func newMockModem(cmdSet map[string][]string) *mockModem {
	return &mockModem{cmdSet: cmdSet, r: make(chan []byte, 32)}
}

// TestResetTriggeredRequiresExceedingThreshold pins down the boundary a
// maintainer review caught: a reset must fire only once the failure
// count exceeds the threshold (the 4th consecutive failure for a
// threshold of 3), never on the count that merely equals it.
func TestResetTriggeredRequiresExceedingThreshold(t *testing.T) {
	cases := []struct {
		n    int
		want bool
	}{
		{1, false},
		{2, false},
		{3, false},
		{4, true},
		{5, true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, resetTriggered(c.n, brownoutThreshold), "n=%d", c.n)
	}
}

// TestBrownoutNumberCrossesThresholdOnFourthFailure exercises the same
// boundary through the State counter the loop actually mutates, as
// scenario 4 of the driving spec describes it: the reset decision is
// made on the 4th consecutive failed probe, not the 3rd.
func TestBrownoutNumberCrossesThresholdOnFourthFailure(t *testing.T) {
	state := at.NewState(at.Config{})
	var n int
	for i := 0; i < 3; i++ {
		n = state.IncBrownoutNumber()
		assert.False(t, resetTriggered(n, brownoutThreshold), "failure %d should not trigger a reset", i+1)
	}
	n = state.IncBrownoutNumber()
	assert.True(t, resetTriggered(n, brownoutThreshold), "the 4th consecutive failure should trigger a reset")
}

// TestNetworkRetryCrossesThresholdOnFourthReading mirrors scenario 5:
// three non-registered readings must not trigger a reset, the 4th must.
func TestNetworkRetryCrossesThresholdOnFourthReading(t *testing.T) {
	state := at.NewState(at.Config{})
	var n int
	for i := 0; i < 3; i++ {
		n = state.IncNetworkRetry()
		assert.False(t, resetTriggered(n, networkThreshold))
	}
	n = state.IncNetworkRetry()
	assert.True(t, resetTriggered(n, networkThreshold))
}

func newTestSupervisor(cmdSet map[string][]string) (*Supervisor, *at.Engine, *at.State, *mockModem) {
	mm := newMockModem(cmdSet)
	state := at.NewState(at.Config{})
	engine := at.New(mm, state)
	sup := New(engine, state)
	return sup, engine, state, mm
}

// TestColdBootNoPIN exercises the initialization sequence described in
// scenario 1: no PIN configured, every step replies OK, and cold boot
// ends with initialized=true and a network check already issued.
func TestColdBootNoPIN(t *testing.T) {
	sup, engine, state, mm := newTestSupervisor(map[string][]string{
		"AT\r":        {"\r\nOK\r\n"},
		"AT+CMEE=2\r": {"\r\nOK\r\n"},
		"AT+CPIN?\r":  {"\r\n+CPIN: READY\r\n", "OK\r\n"},
		"AT+CMGF=0\r": {"\r\nOK\r\n"},
		"AT+CREG?\r":  {"\r\n+CREG: 0,1\r\n", "OK\r\n"},
	})
	defer mm.Close()
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.coldBoot(ctx))
	assert.True(t, state.Initialized())
	assert.Equal(t, 0, state.RetryNumber())
}

// TestEnsurePINNoPINConfiguredFailsOnNeedPIN mirrors the CPIN?
// NEED_PIN case with no pin in Config: initialization must abort
// rather than guess a PIN.
func TestEnsurePINNoPINConfiguredFailsOnNeedPIN(t *testing.T) {
	sup, engine, _, mm := newTestSupervisor(map[string][]string{
		"AT+CPIN?\r": {"\r\n+CPIN: SIM PIN\r\n", "OK\r\n"},
	})
	defer mm.Close()
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sup.ensurePIN(ctx, "")
	require.Error(t, err)
	var ce *at.CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, at.KindPINRequired, ce.Kind)
}

// TestEnsurePINUnlocksOnNeedPIN mirrors scenario 2: NEED_PIN followed
// by a successful unlock attempt using the configured PIN.
func TestEnsurePINUnlocksOnNeedPIN(t *testing.T) {
	sup, engine, state, mm := newTestSupervisor(map[string][]string{
		"AT+CPIN?\r":     {"\r\n+CPIN: SIM PIN\r\n", "OK\r\n"},
		"AT+CPIN=1234\r": {"\r\nOK\r\n", "\r\n+CPIN: READY\r\n"},
	})
	defer mm.Close()
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.ensurePIN(ctx, "1234"))
	assert.True(t, state.SIMUnlocked())
}
