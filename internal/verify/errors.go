package verify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorKind classifies a verification failure for user display.
type ErrorKind string

const (
	// KindValidation is a missing/invalid local input; never reaches the network.
	KindValidation ErrorKind = "validation"
	// KindExtraction means OCR produced text but no reference matched.
	KindExtraction ErrorKind = "extraction"
	KindCancelled  ErrorKind = "cancelled"
	KindTimeout    ErrorKind = "timeout"
	// KindOffline is a connection-level failure (DNS, refused, unreachable).
	KindOffline     ErrorKind = "offline"
	KindRateLimited ErrorKind = "rate_limited"
	// KindUpstreamUnavailable means the verification service's own upstream
	// dependency looks down (detected heuristically from the response body).
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindNotFound            ErrorKind = "not_found"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindServerError         ErrorKind = "server_error"
	KindUnknown             ErrorKind = "unknown"
)

// Error is a classified verification failure. Message is safe to show to the
// user; Detail carries the full diagnostic text and is only surfaced in a
// debug view.
type Error struct {
	Kind       ErrorKind
	Message    string
	Detail     string
	Field      string
	Status     int
	RequestID  string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// Transient reports whether the failure may be retried automatically:
// timeouts, connection-level failures, and upstream server errors.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindOffline, KindServerError, KindUpstreamUnavailable:
		return true
	}
	return false
}

// AsError converts any error into a classified *Error. Already-classified
// errors pass through; context errors map to cancelled/timeout; net errors to
// offline; everything else to unknown with the original text kept in Detail.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Message: "Cancelled"}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "The request timed out. Please try again.", Detail: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Message: "The request timed out. Please try again.", Detail: err.Error()}
		}
		return &Error{Kind: KindOffline, Message: "Cannot reach the verification service. Check your connection.", Detail: err.Error()}
	}
	return &Error{Kind: KindUnknown, Message: "Something went wrong. Please try again.", Detail: err.Error()}
}

// infraLeakSignatures are substrings that identify diagnostic output from
// third-party hosting/tunnel tooling leaking through the upstream response.
// Matching is brittle by nature; keep every signature here and nowhere else.
var infraLeakSignatures = []string{
	"ngrok",
	"cloudflare",
	"tunnel not found",
	"connection refused",
	"econnrefused",
	"bad gateway",
	"application failed to respond",
	"traceback (most recent call last)",
}

// looksLikeInfraLeak reports whether s appears to be internal infrastructure
// diagnostics rather than a message meant for end users.
func looksLikeInfraLeak(s string) bool {
	l := strings.ToLower(s)
	for _, sig := range infraLeakSignatures {
		if strings.Contains(l, sig) {
			return true
		}
	}
	return false
}

// rateLimitMessage renders the human guidance for a 429: an approximate
// minute count plus the clock time the window resets, when a reset time is
// known.
func rateLimitMessage(reset time.Time, now time.Time) string {
	if reset.IsZero() || !reset.After(now) {
		return "Too many requests. Please wait a moment and try again."
	}
	wait := reset.Sub(now)
	minutes := int((wait + time.Minute - 1) / time.Minute)
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Too many requests. Try again in about %d %s (at %s).", minutes, unit, reset.Format("15:04"))
}
