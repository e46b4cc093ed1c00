package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"leadrelay/internal/pagetoken"
)

const messengerProviderName = "messenger"

// MessengerProvider sends direct messages through the social platform's
// graph API. Every call resolves a per-recipient page access token first.
type MessengerProvider struct {
	pageID    string
	graphBase string
	tokens    pagetoken.Source
	client    *resty.Client
}

// NewMessengerProvider builds the social-DM adapter. A nil token source
// (no system token configured) leaves the adapter permanently
// not-configured.
func NewMessengerProvider(pageID, graphBase string, tokens pagetoken.Source, client *resty.Client) *MessengerProvider {
	return &MessengerProvider{pageID: pageID, graphBase: graphBase, tokens: tokens, client: client}
}

func (p *MessengerProvider) Name() string { return messengerProviderName }

func (p *MessengerProvider) Configured() bool {
	return p.pageID != "" && p.tokens != nil
}

// Send delivers body text and media as an ordered chain of provider calls:
// text first when non-empty, then one message per media URL. The chain stops
// at the first failure and returns it; an empty send returns a synthetic
// success with no message id.
func (p *MessengerProvider) Send(ctx context.Context, to, body string, mediaURLs []string, metadata map[string]string) SendResult {
	if !p.Configured() {
		return Failure(messengerProviderName, NotConfigured, "messenger_not_configured")
	}

	last := Success(messengerProviderName, "")
	if body != "" {
		last = p.sendPayload(ctx, to, map[string]interface{}{
			"recipient": map[string]string{"id": to},
			"message":   map[string]string{"text": body},
		})
		if !last.OK {
			return last
		}
	}
	for _, mediaURL := range mediaURLs {
		last = p.sendPayload(ctx, to, map[string]interface{}{
			"recipient": map[string]string{"id": to},
			"message": map[string]interface{}{
				"attachment": map[string]interface{}{
					"type": AttachmentType(mediaURL),
					"payload": map[string]interface{}{
						"url":         mediaURL,
						"is_reusable": true,
					},
				},
			},
		})
		if !last.OK {
			return last
		}
	}
	return last
}

// SendTyping posts a typing_on/typing_off sender action with no message body.
func (p *MessengerProvider) SendTyping(ctx context.Context, to, state string) SendResult {
	if !p.Configured() {
		return Failure(messengerProviderName, NotConfigured, "messenger_not_configured")
	}
	if state != TypingOn && state != TypingOff {
		return Failure(messengerProviderName, Logical, fmt.Sprintf("messenger_bad_sender_action:%s", state))
	}
	return p.sendPayload(ctx, to, map[string]interface{}{
		"recipient":     map[string]string{"id": to},
		"sender_action": state,
	})
}

func (p *MessengerProvider) sendPayload(ctx context.Context, to string, payload map[string]interface{}) SendResult {
	token, err := p.tokens.PageToken(ctx, p.pageID)
	if err != nil {
		if errors.Is(err, pagetoken.ErrTokenMissing) {
			return Failure(messengerProviderName, NotConfigured, pagetoken.ErrTokenMissing.Error())
		}
		return classifyTransportError(messengerProviderName, "messenger_token", err)
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(fmt.Sprintf("%s/me/messages", p.graphBase))
	if err != nil {
		log.Error().Err(err).Str("to", to).Msg("Messenger send request failed")
		return classifyTransportError(messengerProviderName, "messenger", err)
	}

	if resp.IsError() {
		detail := fmt.Sprintf("messenger_failed:%d:%s", resp.StatusCode(), snippet(resp.String(), 200))
		log.Error().Int("status", resp.StatusCode()).Str("to", to).Str("detail", detail).Msg("Messenger API returned an error")
		return HTTPFailure(messengerProviderName, resp.StatusCode(), detail)
	}

	var parsed struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return Success(messengerProviderName, "")
	}
	return Success(messengerProviderName, parsed.MessageID)
}
