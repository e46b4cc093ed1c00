package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const smsProviderName = "sms"

// SMSProvider sends through the carrier's message endpoint with HTTP Basic
// auth over the account id / auth secret pair.
type SMSProvider struct {
	accountID  string
	authSecret string
	from       string
	baseURL    string
	client     *resty.Client
}

// NewSMSProvider builds the SMS adapter. An incomplete credential set
// yields a permanently not-configured adapter rather than an error.
func NewSMSProvider(accountID, authSecret, from, baseURL string, client *resty.Client) *SMSProvider {
	return &SMSProvider{
		accountID:  accountID,
		authSecret: authSecret,
		from:       from,
		baseURL:    baseURL,
		client:     client,
	}
}

func (p *SMSProvider) Name() string { return smsProviderName }

func (p *SMSProvider) Configured() bool {
	return p.accountID != "" && p.authSecret != "" && p.from != ""
}

// Send posts a form-encoded message to the carrier. Media URLs ride along
// as repeated MediaUrl fields. A 2xx body that fails to parse still counts
// as success, with no provider message id.
func (p *SMSProvider) Send(ctx context.Context, to, body string, mediaURLs []string, metadata map[string]string) SendResult {
	if !p.Configured() {
		return Failure(smsProviderName, NotConfigured, "sms_not_configured")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", p.from)
	form.Set("Body", body)
	for _, u := range mediaURLs {
		form.Add("MediaUrl", u)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", p.baseURL, p.accountID)

	resp, err := p.client.R().
		SetContext(ctx).
		SetBasicAuth(p.accountID, p.authSecret).
		SetFormDataFromValues(form).
		Post(endpoint)
	if err != nil {
		log.Error().Err(err).Str("to", to).Msg("SMS send request failed")
		return classifyTransportError(smsProviderName, "sms", err)
	}

	if resp.IsError() {
		detail := fmt.Sprintf("sms_failed:%d:%s", resp.StatusCode(), snippet(resp.String(), 200))
		log.Error().Int("status", resp.StatusCode()).Str("to", to).Str("detail", detail).Msg("SMS carrier returned an error")
		return HTTPFailure(smsProviderName, resp.StatusCode(), detail)
	}

	var parsed struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		// Unparsable success bodies are still a success.
		log.Warn().Str("to", to).Msg("SMS carrier success body did not parse, no message id recorded")
		return Success(smsProviderName, "")
	}

	log.Info().Str("to", to).Str("sid", parsed.Sid).Msg("SMS sent")
	return Success(smsProviderName, parsed.Sid)
}
