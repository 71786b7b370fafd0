// Package mail delivers outgoing email.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// SMTPMailer sends multipart (text + HTML) mail through an SMTP relay.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates an SMTP mailer. Auth is PLAIN when a user is set.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// Send implements port.Mailer. smtp.SendMail has no context, so the call
// runs in a goroutine and ctx only bounds how long we wait for it.
func (m *SMTPMailer) Send(ctx context.Context, msg domain.MailMessage) error {
	body, err := buildMessage(m.cfg.From, msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	done := make(chan error, 1)
	go func() { done <- m.send(addr, auth, m.cfg.From, []string{msg.To}, body) }()

	select {
	case err := <-done:
		if err != nil {
			return &domain.ErrExternalService{Service: "smtp", Err: err}
		}
		return nil
	case <-ctx.Done():
		return &domain.ErrTimeout{Operation: "smtp send"}
	}
}

func buildMessage(from string, msg domain.MailMessage) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nMessage-ID: <%s@budget>\r\nMIME-Version: 1.0\r\nContent-Type: multipart/alternative; boundary=%q\r\n\r\n",
		from, msg.To, msg.Subject, time.Now().UTC().Format(time.RFC1123Z), uuid.NewString(), mw.Boundary())

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	return append([]byte(header), buf.Bytes()...), nil
}

// LogMailer writes mail to the log instead of sending it. Used when no SMTP
// host is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a log mailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send implements port.Mailer.
func (m *LogMailer) Send(_ context.Context, msg domain.MailMessage) error {
	m.logger.Info("mail not sent, no SMTP host configured",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return nil
}
