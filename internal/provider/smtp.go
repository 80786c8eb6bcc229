package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	appErrors "github.com/mailkite/mailkite-backend/internal/errors"
)

// SMTPConfig holds relay connection details.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration

	// InsecureSkipVerify disables certificate verification on the STARTTLS
	// handshake, for relays with self-signed certificates in development.
	InsecureSkipVerify bool
}

// SMTPProvider relays messages through a configured SMTP server.
type SMTPProvider struct {
	cfg SMTPConfig
}

func NewSMTPProvider(cfg SMTPConfig) *SMTPProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) IsConfigured() bool {
	return p.cfg.Host != ""
}

// Send relays one message. The context deadline is honoured through the dial
// timeout and a connection deadline; a stuck relay resolves to an error for
// this entry instead of hanging the worker.
func (p *SMTPProvider) Send(ctx context.Context, msg *Message) error {
	if !p.IsConfigured() {
		return appErrors.NewProviderUnconfigured(p.Name())
	}

	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	dialer := &net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return appErrors.NewProviderSend(p.Name(), err.Error())
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(p.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		conn.Close()
		return appErrors.NewProviderSend(p.Name(), err.Error())
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(p.tlsConfig()); err != nil {
			return appErrors.NewProviderSend(p.Name(), err.Error())
		}
	}
	if p.cfg.Username != "" {
		auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return appErrors.NewProviderSend(p.Name(), err.Error())
		}
	}

	if err := client.Mail(msg.FromEmail); err != nil {
		return appErrors.NewProviderSend(p.Name(), err.Error())
	}
	if err := client.Rcpt(msg.To); err != nil {
		return appErrors.NewProviderSend(p.Name(), err.Error())
	}
	w, err := client.Data()
	if err != nil {
		return appErrors.NewProviderSend(p.Name(), err.Error())
	}
	if _, err := w.Write([]byte(buildRFC822(msg))); err != nil {
		w.Close()
		return appErrors.NewProviderSend(p.Name(), err.Error())
	}
	if err := w.Close(); err != nil {
		return appErrors.NewProviderSend(p.Name(), err.Error())
	}
	return client.Quit()
}

// Test dials the relay and quits without sending.
func (p *SMTPProvider) Test(ctx context.Context) error {
	if !p.IsConfigured() {
		return appErrors.NewProviderUnconfigured(p.Name())
	}

	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	dialer := &net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return appErrors.NewProviderSend(p.Name(), err.Error())
	}
	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		conn.Close()
		return appErrors.NewProviderSend(p.Name(), err.Error())
	}
	return client.Quit()
}

// tlsConfig names the relay host so the STARTTLS handshake can verify its
// certificate; without a ServerName the handshake is rejected outright.
func (p *SMTPProvider) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         p.cfg.Host,
		InsecureSkipVerify: p.cfg.InsecureSkipVerify,
	}
}

func buildRFC822(msg *Message) string {
	var b strings.Builder
	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}
	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", msg.ToName, msg.To)
	}

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	if msg.ID != "" {
		fmt.Fprintf(&b, "Message-ID: <%s@mailkite>\r\n", msg.ID)
	}
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return b.String()
}
