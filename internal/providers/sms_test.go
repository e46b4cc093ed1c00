package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadrelay/pkg/httputil"
)

func TestSMSNotConfiguredMakesNoNetworkCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	p := NewSMSProvider("", "", "", srv.URL, httputil.NewClient())
	res := p.Send(context.Background(), "+15551234567", "hi", nil, nil)

	assert.False(t, res.OK)
	assert.Equal(t, NotConfigured, res.Kind)
	assert.Equal(t, "sms_not_configured", res.Detail)
	assert.Zero(t, calls)
}

func TestSMSSendSuccess(t *testing.T) {
	var gotForm map[string][]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	p := NewSMSProvider("AC1", "secret", "+15550001111", srv.URL, httputil.NewClient())
	res := p.Send(context.Background(), "+15551234567", "hello there",
		[]string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"}, nil)

	assert.True(t, res.OK)
	assert.Equal(t, "sms", res.Provider)
	assert.Equal(t, "SM123", res.ProviderMessageID)

	assert.Equal(t, []string{"+15551234567"}, gotForm["To"])
	assert.Equal(t, []string{"+15550001111"}, gotForm["From"])
	assert.Equal(t, []string{"hello there"}, gotForm["Body"])
	assert.Len(t, gotForm["MediaUrl"], 2)
	assert.True(t, strings.HasPrefix(gotAuth, "Basic "))
}

func TestSMSCarrierErrorCapturedVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	p := NewSMSProvider("AC1", "secret", "+15550001111", srv.URL, httputil.NewClient())
	res := p.Send(context.Background(), "+15551234567", "hi", nil, nil)

	assert.False(t, res.OK)
	assert.Equal(t, ProviderHTTP, res.Kind)
	assert.Equal(t, 429, res.HTTPStatus)
	assert.True(t, strings.HasPrefix(res.Detail, "sms_failed:429:"))
	assert.Contains(t, res.Detail, "rate limited")
	assert.True(t, res.Retryable())
}

func TestSMSUnparsableSuccessBodyStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer srv.Close()

	p := NewSMSProvider("AC1", "secret", "+15550001111", srv.URL, httputil.NewClient())
	res := p.Send(context.Background(), "+15551234567", "hi", nil, nil)

	assert.True(t, res.OK)
	assert.Empty(t, res.ProviderMessageID)
}

func TestSMSTransportFailure(t *testing.T) {
	// Point at a closed server so the dial fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewSMSProvider("AC1", "secret", "+15550001111", srv.URL, httputil.NewClient())
	res := p.Send(context.Background(), "+15551234567", "hi", nil, nil)

	assert.False(t, res.OK)
	assert.Equal(t, Transport, res.Kind)
	assert.True(t, res.Retryable())
}
