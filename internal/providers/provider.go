package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FailureKind is the closed taxonomy of send failures. Callers dispatch on
// the kind, never on the detail string; the detail is kept for operator
// diagnosis and monitoring pattern-matching.
type FailureKind string

const (
	// FailureNone marks a successful result.
	FailureNone FailureKind = ""
	// NotConfigured means required credentials are absent. Permanent.
	NotConfigured FailureKind = "not_configured"
	// Transport is a network-level failure before an HTTP status was seen.
	// Retryable.
	Transport FailureKind = "transport_error"
	// ProviderHTTP is a non-2xx provider response with captured status and
	// body. Retryable unless the status indicates a validation problem.
	ProviderHTTP FailureKind = "provider_http_error"
	// Timeout is an expired deadline. Retryable; the provider-side operation
	// may still have completed, so no message id is available.
	Timeout FailureKind = "timeout"
	// Logical means the provider returned 2xx with an embedded failure
	// field. Generally not retryable.
	Logical FailureKind = "logical_failure"
)

// SendResult is the uniform outcome of every adapter call. Adapters never
// raise through their public boundary; all failures are values.
type SendResult struct {
	OK                bool
	Provider          string
	ProviderMessageID string
	Kind              FailureKind
	HTTPStatus        int
	Detail            string
}

// Retryable reports whether the failure is worth a deferred re-attempt.
// Unparsable success bodies never reach here: they are surfaced as OK=true
// with an empty message id.
func (r SendResult) Retryable() bool {
	switch r.Kind {
	case Transport, Timeout:
		return true
	case ProviderHTTP:
		return r.HTTPStatus >= 500 || r.HTTPStatus == 429
	default:
		return false
	}
}

// Success builds an OK result.
func Success(provider, messageID string) SendResult {
	return SendResult{OK: true, Provider: provider, ProviderMessageID: messageID}
}

// Failure builds a failed result.
func Failure(provider string, kind FailureKind, detail string) SendResult {
	return SendResult{Provider: provider, Kind: kind, Detail: detail}
}

// HTTPFailure builds a failed result carrying the provider's status code.
func HTTPFailure(provider string, status int, detail string) SendResult {
	return SendResult{Provider: provider, Kind: ProviderHTTP, HTTPStatus: status, Detail: detail}
}

// Typing states accepted by SendTyping.
const (
	TypingOn  = "typing_on"
	TypingOff = "typing_off"
)

// Sender is the uniform send contract every channel adapter implements.
type Sender interface {
	Send(ctx context.Context, to, body string, mediaURLs []string, metadata map[string]string) SendResult
	Configured() bool
	Name() string
}

// TypingSender is implemented by adapters with a presence channel.
type TypingSender interface {
	SendTyping(ctx context.Context, to, state string) SendResult
}

// AttachmentType classifies a media URL for providers that distinguish
// image and video payloads. Extensions .mp4/.mov/.webm (case-insensitive)
// are video, everything else image.
func AttachmentType(mediaURL string) string {
	u := strings.ToLower(mediaURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	switch {
	case strings.HasSuffix(u, ".mp4"), strings.HasSuffix(u, ".mov"), strings.HasSuffix(u, ".webm"):
		return "video"
	default:
		return "image"
	}
}

// classifyTransportError maps a resty-level error to Timeout or Transport.
func classifyTransportError(provider, op string, err error) SendResult {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Failure(provider, Timeout, fmt.Sprintf("%s_timeout:%s", op, err.Error()))
	}
	return Failure(provider, Transport, fmt.Sprintf("%s_transport:%s", op, err.Error()))
}

// snippet bounds provider response bodies captured into detail strings.
func snippet(body string, max int) string {
	body = strings.TrimSpace(body)
	if len(body) > max {
		return body[:max]
	}
	return body
}
