package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"

	"leadrelay/pkg/httputil"
)

const emailProviderName = "email"

// EmailProvider sends over SMTP. The dialer is constructed lazily once and
// reused for the life of the process; port 465 switches to implicit TLS.
type EmailProvider struct {
	host string
	port int
	user string
	pass string
	from string

	once   sync.Once
	dialer *gomail.Dialer
}

func NewEmailProvider(host string, port int, user, pass, from string) *EmailProvider {
	return &EmailProvider{host: host, port: port, user: user, pass: pass, from: from}
}

func (p *EmailProvider) Name() string { return emailProviderName }

func (p *EmailProvider) Configured() bool {
	return p.host != "" && p.port != 0 && p.user != "" && p.pass != "" && p.from != ""
}

func (p *EmailProvider) getDialer() *gomail.Dialer {
	p.once.Do(func() {
		d := gomail.NewDialer(p.host, p.port, p.user, p.pass)
		d.SSL = p.port == 465
		p.dialer = d
		log.Info().Str("host", p.host).Int("port", p.port).Bool("ssl", d.SSL).Msg("SMTP dialer initialized")
	})
	return p.dialer
}

// Send delivers the body as a plain-text email. Media URLs are appended as
// links; no binary attachment handling happens here. SMTP exposes no
// provider message id. gomail sets no read/write deadlines of its own, so
// the dial-and-send runs under the shared provider deadline and a server
// that accepts and stalls yields a Timeout result instead of a hung caller.
func (p *EmailProvider) Send(ctx context.Context, to, body string, mediaURLs []string, metadata map[string]string) SendResult {
	if !p.Configured() {
		return Failure(emailProviderName, NotConfigured, "email_not_configured")
	}

	subject := metadata["subject"]
	if subject == "" {
		subject = "New message"
	}

	text := body
	if len(mediaURLs) > 0 {
		text = text + "\n\n" + strings.Join(mediaURLs, "\n")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", p.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if replyTo := metadata["reply_to"]; replyTo != "" {
		m.SetHeader("Reply-To", replyTo)
	}
	m.SetBody("text/plain", text)

	done := make(chan error, 1)
	go func() { done <- p.getDialer().DialAndSend(m) }()

	timer := time.NewTimer(httputil.DefaultTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Str("to", to).Msg("SMTP send failed")
			return classifyTransportError(emailProviderName, "email", err)
		}
	case <-ctx.Done():
		log.Error().Str("to", to).Msg("SMTP send canceled before the server answered")
		return Failure(emailProviderName, Timeout, fmt.Sprintf("email_timeout:%s", ctx.Err()))
	case <-timer.C:
		log.Error().Str("to", to).Msg("SMTP send exceeded the provider deadline")
		return Failure(emailProviderName, Timeout, "email_timeout:deadline exceeded")
	}

	log.Info().Str("to", to).Str("subject", subject).Msg("Email sent")
	return Success(emailProviderName, "")
}

// ValidateAddress is a cheap sanity check used before queueing an email send.
func ValidateAddress(addr string) error {
	if !strings.Contains(addr, "@") || strings.ContainsAny(addr, " \t\n") {
		return fmt.Errorf("invalid email address: %q", addr)
	}
	return nil
}
