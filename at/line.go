package at

import (
	"strconv"
	"strings"

	"github.com/sim800l/modem/info"
)

// splitLines splits a raw buffer on CR/LF sequences and discards empty
// fragments.
func splitLines(buf []byte) []string {
	raw := strings.ReplaceAll(string(buf), "\r", "\n")
	fields := strings.Split(raw, "\n")
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			lines = append(lines, f)
		}
	}
	return lines
}

// endsWithCRLF reports whether buf's raw bytes end with a full CRLF
// terminator. This matters because a fragment can be a byte-for-byte
// prefix match ("OK") before the line is actually complete.
func endsWithCRLF(buf []byte) bool {
	return len(buf) >= 2 && buf[len(buf)-2] == '\r' && buf[len(buf)-1] == '\n'
}

// isOk reports whether the buffer is terminated by a complete "OK"
// line. Both the fragment match and the trailing CRLF are required -
// matching on the fragment alone is a common bug class, since "OK" can
// be a prefix of a line still arriving.
func isOk(buf []byte, lines []string) bool {
	if len(lines) == 0 {
		return false
	}
	return lines[len(lines)-1] == "OK" && endsWithCRLF(buf)
}

// isWaitingForInput reports whether the last fragment is the SMS body
// prompt.
func isWaitingForInput(lines []string) bool {
	if len(lines) == 0 {
		return false
	}
	return strings.HasPrefix(lines[len(lines)-1], ">")
}

// parsedError is the result of getError.
type parsedError struct {
	IsError bool
	Message string
}

// getError inspects a CRLF-terminated buffer for ERROR or +CME/+CMS
// style failures. It is only meaningful once the buffer ends with
// CRLF; a partially received line must never be misclassified as an
// error.
func getError(buf []byte, lines []string) parsedError {
	if !endsWithCRLF(buf) || len(lines) == 0 {
		return parsedError{}
	}
	last := lines[len(lines)-1]
	switch {
	case last == "ERROR":
		return parsedError{IsError: true, Message: strings.Join(lines, " ")}
	case strings.HasPrefix(last, "+C") && strings.Contains(last, " ERROR: "):
		idx := strings.Index(last, " ERROR: ")
		return parsedError{IsError: true, Message: last[idx+len(" ERROR: "):]}
	default:
		return parsedError{}
	}
}

// findPrefix returns the first fragment that is an info line for cmd
// (e.g. "+CREG", matching a "+CREG:..." fragment).
func findPrefix(lines []string, cmd string) (string, bool) {
	for _, l := range lines {
		if info.HasPrefix(l, cmd) {
			return l, true
		}
	}
	return "", false
}

// isNetworkReadyBanner reports whether both unsolicited boot banners
// have arrived.
func isNetworkReadyBanner(lines []string) bool {
	var callReady, smsReady bool
	for _, l := range lines {
		switch l {
		case "Call Ready":
			callReady = true
		case "SMS Ready":
			smsReady = true
		}
	}
	return callReady && smsReady
}

// hasCREGUnsolicited reports whether an unsolicited +CREG: fragment is
// present.
func hasCREGUnsolicited(lines []string) bool {
	_, ok := findPrefix(lines, "+CREG")
	return ok
}

// hasCMTI reports whether a new-SMS indication is present.
func hasCMTI(lines []string) (string, bool) {
	return findPrefix(lines, "+CMTI")
}

// cdsReport is a parsed +CDS: delivery report indication: the fragment
// that follows the +CDS: <n> header line.
type cdsReport struct {
	ShortID int
	Data    string
}

// findCDS looks for a +CDS: <n> fragment followed by its payload line.
// held is true when the header has arrived but its payload line has
// not, in which case the caller must hold the buffer rather than
// discard it.
func findCDS(buf []byte, lines []string) (report cdsReport, found bool, held bool) {
	for i, l := range lines {
		if !info.HasPrefix(l, "+CDS") {
			continue
		}
		n, err := strconv.Atoi(info.TrimPrefix(l, "+CDS"))
		if err != nil {
			continue
		}
		if i+1 >= len(lines) {
			return cdsReport{}, false, true
		}
		if !endsWithCRLF(buf) {
			return cdsReport{}, false, true
		}
		return cdsReport{ShortID: n, Data: lines[i+1]}, true, false
	}
	return cdsReport{}, false, false
}
