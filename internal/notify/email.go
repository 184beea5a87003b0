package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"clawkeeper/internal/config"
)

// EmailNotifier sends notifications over SMTP. One instance holds the server
// configuration; To binds it to a recipient for a single dispatch.
type EmailNotifier struct {
	host     string
	port     string
	username string
	password string
	from     string
	to       string
}

// NewEmailNotifier creates an email notifier from SMTP configuration.
// Returns nil when no SMTP host is configured, disabling the channel.
func NewEmailNotifier(cfg *config.Config) *EmailNotifier {
	if cfg.SMTPHost == "" {
		return nil
	}
	return &EmailNotifier{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.SMTPFrom,
	}
}

// To returns a copy of the notifier bound to one recipient address
func (e *EmailNotifier) To(address string) *EmailNotifier {
	bound := *e
	bound.to = address
	return &bound
}

// Name returns "email"
func (e *EmailNotifier) Name() string { return "email" }

// Send delivers one message to the bound recipient
func (e *EmailNotifier) Send(ctx context.Context, msg *Message) error {
	if e.to == "" {
		return fmt.Errorf("email notifier has no recipient")
	}

	subject := fmt.Sprintf("[%s] Clawkeeper: %s", strings.ToUpper(msg.Severity), msg.Title)
	return e.sendMail(ctx, e.buildMessage(subject, msg))
}

// buildMessage renders the plain-text email body
func (e *EmailNotifier) buildMessage(subject string, msg *Message) []byte {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("From: %s\r\n", e.from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", e.to))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")

	b.WriteString(msg.Description)
	b.WriteString("\r\n")
	if msg.Hostname != "" {
		b.WriteString(fmt.Sprintf("\r\nHost: %s\r\n", msg.Hostname))
	}
	if msg.Remediation != "" {
		b.WriteString(fmt.Sprintf("\r\nRemediation: %s\r\n", msg.Remediation))
	}
	b.WriteString(fmt.Sprintf("\r\nEvent: %s\r\nTime: %s\r\n", msg.Event, msg.Timestamp.Format(time.RFC3339)))

	return []byte(b.String())
}

// sendMail sends the email via SMTP, honoring the context deadline for the
// initial dial.
func (e *EmailNotifier) sendMail(ctx context.Context, body []byte) error {
	addr := net.JoinHostPort(e.host, e.port)

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	client, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: e.host}); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if e.username != "" && e.password != "" {
		auth := smtp.PlainAuth("", e.username, e.password, e.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(e.to); err != nil {
		return fmt.Errorf("failed to add recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data: %w", err)
	}

	return client.Quit()
}
