package agent

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Advisory classes for upstream failures.
const (
	ClassTimeout   = "timeout"
	ClassRateLimit = "rate_limit"
	ClassAuth      = "auth"
	ClassUpstream  = "upstream"
	ClassNetwork   = "network"
	ClassExhausted = "exhausted"
	ClassUnknown   = "unknown"
)

var advisories = map[string]string{
	ClassTimeout:   "⏳ The model took too long to answer. Please try again in a moment.",
	ClassRateLimit: "🚦 Too many requests right now. Please wait a minute and try again.",
	ClassAuth:      "🔑 The assistant is not authorized with its model provider. Please contact the operator.",
	ClassUpstream:  "☁️ The model provider is having trouble right now. Please try again later.",
	ClassNetwork:   "📡 Could not reach the model provider. Please try again shortly.",
	ClassExhausted: "🔁 I could not finish this request within the allowed number of steps. Please try a simpler request.",
	ClassUnknown:   "⚠️ Something went wrong while preparing the answer. Please try again.",
}

// ErrToolRoundsExhausted is wrapped by the exhausted advisory.
var ErrToolRoundsExhausted = errors.New("tool round limit reached")

// AdvisoryError is a model failure mapped to a user-facing message.
type AdvisoryError struct {
	Class    string
	Advisory string
	Err      error
}

func (e *AdvisoryError) Error() string {
	return e.Class + ": " + e.Err.Error()
}

func (e *AdvisoryError) Unwrap() error { return e.Err }

// Advisory returns the user-facing text for err: the advisory for an
// AdvisoryError, otherwise the generic one.
func Advisory(err error) string {
	var ae *AdvisoryError
	if errors.As(err, &ae) {
		return ae.Advisory
	}
	return advisories[ClassUnknown]
}

func newAdvisory(class string, err error) *AdvisoryError {
	return &AdvisoryError{Class: class, Advisory: advisories[class], Err: err}
}

// Classify wraps err in an AdvisoryError chosen from its type and text.
func Classify(err error) *AdvisoryError {
	var ae *AdvisoryError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newAdvisory(ClassTimeout, err)
	}
	if errors.Is(err, ErrToolRoundsExhausted) {
		return newAdvisory(ClassExhausted, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return newAdvisory(ClassTimeout, err)
	case hasStatus(msg, 429) || containsAny(msg, "rate limit", "rate_limit", "resource_exhausted", "quota", "too many requests"):
		return newAdvisory(ClassRateLimit, err)
	case hasStatus(msg, 401, 403) || containsAny(msg, "unauthorized", "unauthenticated", "permission_denied", "forbidden", "api key", "api_key"):
		return newAdvisory(ClassAuth, err)
	case hasStatus(msg, 500, 502, 503, 504) || containsAny(msg, "internal error", "bad gateway", "unavailable", "overloaded"):
		return newAdvisory(ClassUpstream, err)
	case containsAny(msg, "connection refused", "connection reset", "no such host", "network is unreachable", "dial tcp", "eof", "tls handshake"):
		return newAdvisory(ClassNetwork, err)
	default:
		return newAdvisory(ClassUnknown, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var statusRe = regexp.MustCompile(`\b[1-5]\d\d\b`)

// hasStatus reports whether msg carries one of codes as a standalone number.
func hasStatus(msg string, codes ...int) bool {
	for _, m := range statusRe.FindAllString(msg, -1) {
		n, _ := strconv.Atoi(m)
		for _, c := range codes {
			if n == c {
				return true
			}
		}
	}
	return false
}
