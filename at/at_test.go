// Test suite for the at package.
//
// mockModem does not attempt to emulate a serial modem in full - it
// replies with whatever the cmdSet maps a written command to, which is
// enough to exercise the engine's queue, timeout, and handler behavior
// without a real device. A command present in cmdSet with an empty
// slice is answered with silence, which is how the timeout and close
// tests avoid racing a spurious ERROR reply against the assertion they
// are actually making.
package at

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func newTestEngine(cmdSet map[string][]string) (*Engine, *mockModem) {
	mm := newMockModem(cmdSet)
	e := New(mm, NewState(Config{}))
	return e, mm
}

func TestExecOK(t *testing.T) {
	e, mm := newTestEngine(map[string][]string{
		"AT\r": {"\r\nOK\r\n"},
	})
	defer mm.Close()
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := e.Exec(CheckModem()).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"OK"}, result.Lines)
}

func TestExecError(t *testing.T) {
	e, mm := newTestEngine(map[string][]string{
		"AT\r": {"\r\nERROR\r\n"},
	})
	defer mm.Close()
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := e.Exec(CheckModem()).Get(ctx)
	require.Error(t, err)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindCheckError, ce.Kind)
}

func TestExecTimeout(t *testing.T) {
	e, mm := newTestEngine(map[string][]string{
		"AT\r": {},
	})
	defer mm.Close()
	defer e.Close()

	job := CheckModem()
	job.Timeout = 10 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := e.Exec(job).Get(ctx)
	require.Error(t, err)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindUnhandled, ce.Kind)
}

func TestQueueOrdersNormalJobsFIFO(t *testing.T) {
	e, mm := newTestEngine(map[string][]string{
		"AT\r":        {"\r\nOK\r\n"},
		"AT+CMEE=2\r": {"\r\nOK\r\n"},
	})
	defer mm.Close()
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f1 := e.Exec(CheckModem())
	f2 := e.Exec(EnableVerboseErrors())
	_, err2 := f2.Get(ctx)
	select {
	case <-f1.Done():
	default:
		t.Fatal("second job completed before the first")
	}
	_, err1 := f1.Get(ctx)
	require.NoError(t, err1)
	require.NoError(t, err2)
}

func TestImmediateJobsPreserveSubmissionOrder(t *testing.T) {
	q := newQueue()
	a := &Job{Command: "A"}
	b := &Job{Command: "B"}
	q.pushImmediate(a)
	q.pushImmediate(b)
	got := q.activateNext()
	assert.Same(t, a, got)
	q.clearActive()
	got = q.activateNext()
	assert.Same(t, b, got)
}

func TestImmediateJobsJumpNormalJobs(t *testing.T) {
	q := newQueue()
	normal := &Job{Command: "N"}
	immediate := &Job{Command: "I"}
	q.pushNormal(normal)
	q.pushImmediate(immediate)
	got := q.activateNext()
	assert.Same(t, immediate, got)
}

func TestActiveJobNeverPreempted(t *testing.T) {
	q := newQueue()
	active := &Job{Command: "ACTIVE"}
	q.pushNormal(active)
	require.Same(t, active, q.activateNext())
	immediate := &Job{Command: "I"}
	q.pushImmediate(immediate)
	assert.Same(t, active, q.head())
}

func TestCheckPINReportsNeedPIN(t *testing.T) {
	e, mm := newTestEngine(map[string][]string{
		"AT+CPIN?\r": {"\r\n+CPIN: SIM PIN\r\n", "OK\r\n"},
	})
	defer mm.Close()
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := e.Exec(CheckPIN()).Get(ctx)
	require.Error(t, err)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindPINRequired, ce.Kind)
	assert.False(t, e.state.SIMUnlocked())
}

func TestCheckNetworkParsesCREG(t *testing.T) {
	e, mm := newTestEngine(map[string][]string{
		"AT+CREG?\r": {"\r\n+CREG: 1,5\r\n", "OK\r\n"},
	})
	defer mm.Close()
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := e.Exec(CheckNetwork()).Get(ctx)
	require.NoError(t, err)
	nr, ok := result.Data.(NetworkResult)
	require.True(t, ok)
	assert.Equal(t, 1, nr.Action)
	assert.Equal(t, RegRoaming, nr.Status)
}

func TestSMSSendRespondsToPrompt(t *testing.T) {
	pdu := "PDUBODY" + string(rune(0x1a))
	e, mm := newTestEngine(map[string][]string{
		"AT+CMGS=10\r": {"\r\n> "},
		pdu:            {"\r\n+CMGS: 7\r\n", "OK\r\n"},
	})
	defer mm.Close()
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job := SendSMSPDU(10, pdu, "ref-1")
	result, err := e.Exec(job).Get(ctx)
	require.NoError(t, err)
	sr, ok := result.Data.(SMSSendResult)
	require.True(t, ok)
	assert.Equal(t, 7, sr.ShortReference)
}

func TestResetCompletesOnSettleTimeout(t *testing.T) {
	e, mm := newTestEngine(map[string][]string{})
	defer mm.Close()
	defer e.Close()
	e.state.SetInitialized(true)
	e.state.SetNetworkReady(true)

	job := Reset("1,1")
	job.Timeout = 20 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := e.Exec(job).Get(ctx)
	require.NoError(t, err)
	assert.False(t, e.state.Initialized())
	assert.False(t, e.state.NetworkReady())
	assert.Equal(t, 1, e.state.ResetNumber())
}

func TestResetCancelsPendingJobs(t *testing.T) {
	e, mm := newTestEngine(map[string][]string{})
	defer mm.Close()
	defer e.Close()

	resetJob := Reset("1,1")
	resetJob.Timeout = 20 * time.Millisecond
	e.ExecImmediate(resetJob)
	pendingFuture := e.Exec(CheckModem())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := pendingFuture.Get(ctx)
	assert.Equal(t, ErrCancelled, err)
}

func TestEngineClosePublishesErrClosedToPendingJobs(t *testing.T) {
	e, mm := newTestEngine(map[string][]string{
		"AT\r": {},
	})
	defer mm.Close()

	future := e.Exec(CheckModem())
	e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := future.Get(ctx)
	assert.Equal(t, ErrClosed, err)
}

func TestNotifySubscribesToUnsolicitedPrefix(t *testing.T) {
	e, mm := newTestEngine(map[string][]string{})
	defer mm.Close()
	defer e.Close()

	ch, cancel := e.Notify("+CUSD:")
	defer cancel()
	mm.r <- []byte("\r\n+CUSD: 0,\"hi\",15\r\n")

	select {
	case lines := <-ch:
		require.Len(t, lines, 1)
		assert.Contains(t, lines[0], "+CUSD:")
	case <-time.After(time.Second):
		t.Fatal("notification not received")
	}
}

func TestSplitLinesDiscardsEmptyFragments(t *testing.T) {
	lines := splitLines([]byte("\r\nOK\r\n"))
	assert.Equal(t, []string{"OK"}, lines)
}

func TestIsOkRequiresTrailingCRLF(t *testing.T) {
	assert.False(t, isOk([]byte("\r\nOK"), splitLines([]byte("\r\nOK"))))
	assert.True(t, isOk([]byte("\r\nOK\r\n"), splitLines([]byte("\r\nOK\r\n"))))
}

func TestFindCDSHoldsUntilPayloadArrives(t *testing.T) {
	buf := []byte("\r\n+CDS: 6\r\n")
	_, found, held := findCDS(buf, splitLines(buf))
	assert.False(t, found)
	assert.True(t, held)

	buf = append(buf, []byte("0791...report...\r\n")...)
	report, found, held := findCDS(buf, splitLines(buf))
	assert.True(t, found)
	assert.False(t, held)
	assert.Equal(t, 6, report.ShortID)
}
