package recovery

import (
	"strings"
	"time"
)

// rule maps message substrings to an error type. A rule matches when every
// group in all has at least one substring present in the message.
type rule struct {
	errType ErrorType
	all     [][]string
	message string
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		errType: NetworkTimeout,
		all:     [][]string{{"connect etimedout", "timeout"}},
		message: "Connection timed out",
	},
	{
		errType: ConnectionRefused,
		all:     [][]string{{"connect econnrefused", "connection refused"}},
		message: "Connection refused by the remote host",
	},
	{
		errType: HostUnreachable,
		all:     [][]string{{"host unreachable", "no route to host"}},
		message: "Remote host is unreachable",
	},
	{
		errType: DNSResolutionFailed,
		all:     [][]string{{"getaddrinfo", "dns"}},
		message: "Could not resolve the host name",
	},
	{
		errType: AuthenticationFailed,
		all:     [][]string{{"authentication failed", "auth failed"}},
		message: "Authentication failed",
	},
	{
		errType: PermissionDenied,
		all:     [][]string{{"permission denied"}},
		message: "Permission denied",
	},
	{
		errType: KeyRejected,
		all:     [][]string{{"key"}, {"rejected", "invalid"}},
		message: "The private key was rejected",
	},
	{
		errType: PasswordRejected,
		all:     [][]string{{"password"}, {"rejected", "incorrect"}},
		message: "The password was rejected",
	},
	{
		errType: ProtocolError,
		all:     [][]string{{"protocol", "handshake"}},
		message: "SSH protocol error",
	},
}

func (r rule) matches(msg string) bool {
	for _, group := range r.all {
		if !containsAny(msg, group) {
			return false
		}
	}
	return true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Classify maps a raw failure to a ConnectionError. Errors that already carry
// a classification are returned unchanged. A nil err yields nil.
func Classify(err error, connectionID string, now time.Time) *ConnectionError {
	if err == nil {
		return nil
	}
	if ce, ok := AsConnectionError(err); ok {
		return ce
	}

	errType, message := Unknown, "Unexpected connection error"
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		if r.matches(msg) {
			errType, message = r.errType, r.message
			break
		}
	}

	return &ConnectionError{
		Type:         errType,
		Message:      message + ": " + err.Error(),
		Cause:        err,
		Timestamp:    now,
		ConnectionID: connectionID,
		Steps:        TroubleshootingSteps(errType),
	}
}

// ClassifyType returns only the error type for err.
func ClassifyType(err error) ErrorType {
	if ce := Classify(err, "", time.Time{}); ce != nil {
		return ce.Type
	}
	return Unknown
}
