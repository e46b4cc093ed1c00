package httputil

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds every outbound provider call. Token- and
// auth-dependent requests treat expiry as a retryable timeout failure.
const DefaultTimeout = 8 * time.Second

// NewClient returns a Resty client with the shared provider-call defaults.
func NewClient() *resty.Client {
	return resty.New().
		SetTimeout(DefaultTimeout).
		SetHeader("User-Agent", "leadrelay/1.0")
}

// NewClientWithBase returns a client bound to a provider base URL.
func NewClientWithBase(baseURL string) *resty.Client {
	return NewClient().SetBaseURL(baseURL)
}
