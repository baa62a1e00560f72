package session

// Close codes used by the session layer. 3000-3999 are reserved for libraries.
const (
	CloseNormalClosure      = 1000
	CloseGoingAway          = 1001
	CloseNoStatusReceived   = 1005
	CloseAbnormalClosure    = 1006
	CloseTerminalDisconnect = 3000
	CloseLivenessTimeout    = 3001
	ClosePolicyRejected     = 3003
)

// MaxCloseReasonLen is the control frame payload limit minus the 2-byte code.
const MaxCloseReasonLen = 123

// IsTerminalClose reports whether code suppresses automatic reconnection.
func IsTerminalClose(code int) bool {
	return code == CloseTerminalDisconnect || code == ClosePolicyRejected
}

var standardReasons = map[int]string{
	1000: "Normal Closure",
	1001: "Going Away",
	1002: "Protocol Error",
	1003: "Unsupported Data",
	1004: "(For future)",
	1005: "No Status Received",
	1006: "Abnormal Closure",
	1007: "Invalid Frame Payload Data",
	1008: "Policy Violation",
	1009: "Message Too Big",
	1010: "Missing Extension",
	1011: "Internal Error",
	1012: "Service Restart",
	1013: "Try Again Later",
	1014: "Bad Gateway",
	1015: "TLS Handshake",
}

// ReasonForCode keeps a peer-supplied reason longer than two characters and
// otherwise describes code. The result is for logs and callbacks only.
func ReasonForCode(code int, reason string) string {
	if len(reason) > 2 {
		return reason
	}
	switch {
	case code >= 0 && code <= 999:
		return "(Unused)"
	case code >= 1016 && code <= 1999:
		return "(For WebSocket standard)"
	case code >= 2000 && code <= 2999:
		return "(For WebSocket extensions)"
	case code >= 3000 && code <= 3999:
		return "(For libraries and frameworks)"
	case code >= 4000 && code <= 4999:
		return "(For applications)"
	}
	if text, ok := standardReasons[code]; ok {
		return text
	}
	return reason
}

// TruncateCloseReason cuts reason to MaxCloseReasonLen bytes on a rune boundary.
func TruncateCloseReason(reason string) string {
	if len(reason) <= MaxCloseReasonLen {
		return reason
	}
	cut := MaxCloseReasonLen
	for cut > 0 && reason[cut]&0xC0 == 0x80 {
		cut--
	}
	return reason[:cut]
}
