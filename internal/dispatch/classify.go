package dispatch

import (
	"strings"

	gateway "github.com/amppool/gateway/internal"
)

// Classify maps a raw upstream error message to a gateway.ErrorType by
// case-insensitive substring match, in the fixed priority order below. It
// never returns ErrorTypeNone; an unrecognized message classifies as Other.
func Classify(msg string) gateway.ErrorType {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "unauthorized", "401", "authentication", "invalid api key", "invalid_api_key"):
		return gateway.ErrorTypeAuth
	case containsAny(lower, "rate limit", "429"):
		return gateway.ErrorTypeRateLimit
	case containsAny(lower, "insufficient", "quota", "balance"):
		return gateway.ErrorTypeQuota
	case containsAny(lower, "timeout"):
		return gateway.ErrorTypeTimeout
	case containsAny(lower, "connection", "connect"):
		return gateway.ErrorTypeConnection
	case containsAny(lower, "404", "not found"):
		return gateway.ErrorTypeNotFound
	case containsAny(lower, "500", "502", "503", "server error"):
		return gateway.ErrorTypeServer
	default:
		return gateway.ErrorTypeOther
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
