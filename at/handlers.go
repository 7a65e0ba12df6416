package at

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sim800l/modem/info"
)

// defaultHandler terminates on isOk (success) or a getError match
// (failure). It ignores everything else, so it suits any command whose
// completion is fully described by the terminator.
func defaultHandler(ctx *HandlerContext) {
	if isOk(ctx.Buffer, ctx.Lines) {
		ctx.Complete(Result{Lines: ctx.Lines})
		return
	}
	if e := getError(ctx.Buffer, ctx.Lines); e.IsError {
		ctx.Fail(&CommandError{Kind: KindGeneric, Message: e.Message})
	}
}

// checkModemHandler implements AT: succeed on OK, fail on error, and
// report modem liveness either way. It is the brownout probe.
func checkModemHandler(ctx *HandlerContext) {
	if isOk(ctx.Buffer, ctx.Lines) {
		ctx.Emit(EventModemReady{Ready: true})
		ctx.Complete(Result{Lines: ctx.Lines})
		return
	}
	if e := getError(ctx.Buffer, ctx.Lines); e.IsError {
		ctx.Emit(EventModemReady{Ready: false})
		ctx.Fail(&CommandError{Kind: KindCheckError, Message: e.Message})
	}
}

// parsePINStatus maps the token following "+CPIN: " to a PINStatus.
func parsePINStatus(line string) PINStatus {
	idx := strings.Index(line, " ")
	if idx < 0 {
		return PINError
	}
	switch strings.TrimSpace(line[idx+1:]) {
	case "READY":
		return PINReady
	case "SIM PIN":
		return PINNeedPIN
	case "SIM PUK":
		return PINNeedPUK
	default:
		return PINError
	}
}

// checkPINHandler implements AT+CPIN?.
func checkPINHandler(ctx *HandlerContext) {
	if isOk(ctx.Buffer, ctx.Lines) {
		line, ok := findPrefix(ctx.Lines, "+CPIN")
		if !ok {
			ctx.Fail(&CommandError{Kind: KindCheckPINError, Message: "no +CPIN line in response"})
			return
		}
		status := parsePINStatus(line)
		ctx.State.SetSIMUnlocked(status == PINReady)
		if status == PINReady {
			ctx.Complete(Result{Lines: ctx.Lines, Data: status})
			return
		}
		ctx.Fail(&CommandError{Kind: KindPINRequired, Message: string(status)})
		return
	}
	if e := getError(ctx.Buffer, ctx.Lines); e.IsError {
		ctx.Fail(&CommandError{Kind: KindCheckPINError, Message: e.Message})
	}
}

// pinUnlockHandler implements AT+CPIN=<pin>. An OK alone is not
// terminal: the modem later emits "+CPIN: READY" (or another status)
// asynchronously, and that fragment - wherever it appears in the
// accumulated buffer - is what actually ends the job.
func pinUnlockHandler(ctx *HandlerContext) {
	if e := getError(ctx.Buffer, ctx.Lines); e.IsError {
		ctx.Fail(&CommandError{Kind: KindSIMUnlock, Message: "PIN_INCORRECT"})
		return
	}
	line, ok := findPrefix(ctx.Lines, "+CPIN")
	if !ok {
		return
	}
	status := parsePINStatus(line)
	ctx.State.SetSIMUnlocked(status == PINReady)
	if status == PINReady {
		ctx.Complete(Result{Lines: ctx.Lines, Data: status})
		return
	}
	ctx.Fail(&CommandError{Kind: KindSIMUnlock, Message: "PIN_INCORRECT"})
}

// checkNetworkHandler implements AT+CREG?.
func checkNetworkHandler(ctx *HandlerContext) {
	if isOk(ctx.Buffer, ctx.Lines) {
		line, ok := findPrefix(ctx.Lines, "+CREG")
		if !ok {
			ctx.Fail(&CommandError{Kind: KindParseError, Message: "no +CREG: line in response"})
			return
		}
		tail := info.TrimPrefix(line, "+CREG")
		fields := strings.SplitN(tail, ",", 2)
		if len(fields) != 2 {
			ctx.Fail(&CommandError{Kind: KindParseErrorComma, Message: tail})
			return
		}
		action, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
		status, err2 := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err1 != nil || err2 != nil {
			ctx.Fail(&CommandError{Kind: KindParseErrorComma, Message: tail})
			return
		}
		ctx.State.SetNetworkReady(status == RegRegistered || status == RegRoaming)
		ctx.Emit(EventNetwork{Action: action, Status: status})
		ctx.Emit(EventNetworkStatus{Action: action, Status: status})
		ctx.Complete(Result{Lines: ctx.Lines, Data: NetworkResult{Action: action, Status: status}})
		return
	}
	if e := getError(ctx.Buffer, ctx.Lines); e.IsError {
		ctx.Fail(&CommandError{Kind: KindCommand, Message: e.Message})
	}
}

// NetworkResult is the Data payload of a successful check-network Job.
type NetworkResult struct {
	Action int
	Status int
}

// RegistrationStatus values used in NetworkResult.Status.
const (
	RegNotRegistered     = 0
	RegRegistered        = 1
	RegSearching         = 2
	RegDenied            = 3
	RegUnknown           = 4
	RegRoaming           = 5
)

// resetHandler implements AT+CFUN=<mode>. It never watches for OK: the
// job's own Timeout field is used as the fixed settle wait, and the
// engine special-cases a JobReset timeout as the reset's actual
// completion trigger rather than a failure (see Engine.onTimeout).
func resetHandler(ctx *HandlerContext) {
	// intentionally inert: completion happens on the job's timeout.
}

// smsSendHandler implements AT+CMGS=<tpduLength> followed by the PDU
// body. On the '>' prompt it writes subcommand 0 (the PDU plus SUB)
// directly; on OK it parses the short reference from "+CMGS: N"; on
// error it fails with KindSMSSent.
func smsSendHandler(ctx *HandlerContext) {
	if isWaitingForInput(ctx.Lines) {
		if len(ctx.Job.Subcommands) > 0 {
			ctx.Write([]byte(ctx.Job.Subcommands[0]))
		}
		return
	}
	if isOk(ctx.Buffer, ctx.Lines) {
		line, ok := findPrefix(ctx.Lines, "+CMGS")
		if !ok {
			ctx.Fail(&CommandError{Kind: KindSMSSent, Message: "no +CMGS: line in response"})
			return
		}
		tail := info.TrimPrefix(line, "+CMGS")
		ref, err := strconv.Atoi(tail)
		if err != nil {
			ctx.Fail(&CommandError{Kind: KindSMSSent, Message: fmt.Sprintf("malformed +CMGS reference %q", tail)})
			return
		}
		ctx.Complete(Result{Lines: ctx.Lines, Data: SMSSendResult{ShortReference: ref}})
		return
	}
	if e := getError(ctx.Buffer, ctx.Lines); e.IsError {
		ctx.Fail(&CommandError{Kind: KindSMSSent, Message: e.Message})
	}
}

// SMSSendResult is the Data payload of a successful SMS-send Job.
type SMSSendResult struct {
	ShortReference int
}

// incomingHandler routes unsolicited data that arrived while no job was
// queued. It never sets ctx.completed - the engine decides when to
// clear the buffer, since more than one predicate may match within the
// same chunk and a partially received line must be held.
func incomingHandler(ctx *HandlerContext) (consumed bool, hold bool) {
	if isNetworkReadyBanner(ctx.Lines) {
		ctx.Emit(EventNetwork{Action: -1, Status: RegRegistered})
		consumed = true
	}
	if hasCREGUnsolicited(ctx.Lines) {
		ctx.Enqueue(CheckNetwork())
		consumed = true
	}
	if line, ok := hasCMTI(ctx.Lines); ok {
		_, idx, found := strings.Cut(line, ",")
		if found {
			ctx.Emit(EventIncomingSMS{Index: strings.TrimSpace(idx)})
		}
		consumed = true
	}
	if report, found, held := findCDS(ctx.Buffer, ctx.Lines); found {
		ctx.Emit(EventDeliveryReport{ShortID: report.ShortID, Data: report.Data})
		consumed = true
	} else if held {
		return consumed, true
	}
	return consumed, false
}

// --- handler library lookups and job constructors ---

func defaultHandlerFor(t JobType) Handler {
	switch t {
	case JobCheckModem:
		return checkModemHandler
	case JobCheckPIN:
		return checkPINHandler
	case JobUnlockPIN:
		return pinUnlockHandler
	case JobCheckNetwork:
		return checkNetworkHandler
	case JobReset:
		return resetHandler
	case JobSMSSend:
		return smsSendHandler
	default:
		return defaultHandler
	}
}

// CheckModem builds the AT liveness-probe Job.
func CheckModem() *Job {
	return &Job{Command: "AT", Type: JobCheckModem}
}

// EnableVerboseErrors builds the AT+CMEE=2 Job.
func EnableVerboseErrors() *Job {
	return &Job{Command: "AT+CMEE=2", Type: JobCMEE}
}

// CheckPIN builds the AT+CPIN? Job.
func CheckPIN() *Job {
	return &Job{Command: "AT+CPIN?", Type: JobCheckPIN}
}

// UnlockPIN builds the AT+CPIN=<pin> Job.
func UnlockPIN(pin string) *Job {
	return &Job{Command: "AT+CPIN=" + pin, Type: JobUnlockPIN}
}

// ConfigureCNMI builds the AT+CNMI=<s> Job.
func ConfigureCNMI(s string) *Job {
	return &Job{Command: "AT+CNMI=" + s, Type: JobCNMIConfig}
}

// SetPDUMode builds the AT+CMGF=0 Job.
func SetPDUMode() *Job {
	return &Job{Command: "AT+CMGF=0", Type: JobSetSMSMode}
}

// CheckNetwork builds the AT+CREG? Job.
func CheckNetwork() *Job {
	return &Job{Command: "AT+CREG?", Type: JobCheckNetwork}
}

// Reset builds the AT+CFUN=<mode> Job with the spec's 6 s settle
// timeout. mode defaults to "1,1" when empty.
func Reset(mode string) *Job {
	if mode == "" {
		mode = "1,1"
	}
	return &Job{Command: "AT+CFUN=" + mode, Type: JobReset, Timeout: 6 * settleUnit}
}

const settleUnit = 1_000_000_000 // time.Second, spelled out to avoid importing time just for this

// AbortInput builds the immediate CR+ESC write that escapes a pending
// '>' SMS prompt ahead of a reset.
func AbortInput() *Job {
	return &Job{Command: "\r" + string(rune(0x1b)), Type: JobAbortInput, NoResponse: true}
}

// SendSMSPDU builds the AT+CMGS=<tpduLength> Job. smscTPDUWithSub is the
// hex PDU body with the SUB (0x1A) terminator already appended by the
// caller; the engine does not add it.
func SendSMSPDU(tpduLength int, smscTPDUWithSub string, reference string) *Job {
	return &Job{
		Command:     fmt.Sprintf("AT+CMGS=%d", tpduLength),
		Type:        JobSMSSend,
		Subcommands: []string{smscTPDUWithSub},
		Reference:   reference,
		Timeout:     20 * settleUnit,
	}
}
