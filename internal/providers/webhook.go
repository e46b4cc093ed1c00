package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const webhookProviderName = "dm_webhook"

// WebhookProvider forwards sends as JSON to a configured endpoint with
// optional bearer auth. When configured it takes precedence over the social
// adapter for the dm channel.
type WebhookProvider struct {
	url    string
	token  string
	from   string
	client *resty.Client
}

func NewWebhookProvider(url, token, from string, client *resty.Client) *WebhookProvider {
	return &WebhookProvider{url: url, token: token, from: from, client: client}
}

func (p *WebhookProvider) Name() string { return webhookProviderName }

func (p *WebhookProvider) Configured() bool { return p.url != "" }

// webhookRequest is the outbound wire format.
type webhookRequest struct {
	Action    string            `json:"action"`
	To        string            `json:"to"`
	Body      string            `json:"body,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	MediaURLs []string          `json:"mediaUrls,omitempty"`
	From      string            `json:"from,omitempty"`
}

// webhookResponse tolerates the id field under any of its accepted names.
type webhookResponse struct {
	OK                *bool  `json:"ok"`
	ID                string `json:"id"`
	MessageID         string `json:"messageId"`
	ProviderMessageID string `json:"providerMessageId"`
	Error             string `json:"error"`
}

func (r webhookResponse) messageID() string {
	switch {
	case r.ID != "":
		return r.ID
	case r.MessageID != "":
		return r.MessageID
	default:
		return r.ProviderMessageID
	}
}

func (p *WebhookProvider) Send(ctx context.Context, to, body string, mediaURLs []string, metadata map[string]string) SendResult {
	return p.post(ctx, webhookRequest{
		Action:    "message",
		To:        to,
		Body:      body,
		Metadata:  metadata,
		MediaURLs: mediaURLs,
		From:      p.from,
	})
}

func (p *WebhookProvider) SendTyping(ctx context.Context, to, state string) SendResult {
	if state != TypingOn && state != TypingOff {
		return Failure(webhookProviderName, Logical, fmt.Sprintf("dm_webhook_bad_action:%s", state))
	}
	return p.post(ctx, webhookRequest{Action: state, To: to, From: p.from})
}

func (p *WebhookProvider) post(ctx context.Context, payload webhookRequest) SendResult {
	if !p.Configured() {
		return Failure(webhookProviderName, NotConfigured, "dm_webhook_not_configured")
	}

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload)
	if p.token != "" {
		req.SetAuthToken(p.token)
	}

	resp, err := req.Post(p.url)
	if err != nil {
		log.Error().Err(err).Str("to", payload.To).Str("action", payload.Action).Msg("DM webhook request failed")
		return classifyTransportError(webhookProviderName, "dm_webhook", err)
	}

	if resp.IsError() {
		detail := fmt.Sprintf("dm_webhook_failed:%d:%s", resp.StatusCode(), snippet(resp.String(), 200))
		log.Error().Int("status", resp.StatusCode()).Str("to", payload.To).Str("detail", detail).Msg("DM webhook returned an error")
		return HTTPFailure(webhookProviderName, resp.StatusCode(), detail)
	}

	var parsed webhookResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		// Unparsable success bodies are accepted without a message id.
		return Success(webhookProviderName, "")
	}

	// An explicit ok:false (or an error field) on a 2xx response is a
	// logical failure, not a success.
	if (parsed.OK != nil && !*parsed.OK) || parsed.Error != "" {
		detail := fmt.Sprintf("dm_webhook_rejected:%s", snippet(parsed.Error, 200))
		log.Warn().Str("to", payload.To).Str("detail", detail).Msg("DM webhook rejected the message")
		return Failure(webhookProviderName, Logical, detail)
	}

	return Success(webhookProviderName, parsed.messageID())
}
