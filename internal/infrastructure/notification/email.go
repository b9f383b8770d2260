package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/th1s9uy/saas-billing/internal/config"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
)

// SMTPSender delivers email through an SMTP relay.
type SMTPSender struct {
	cfg    config.EmailConfig
	dialer *gomail.Dialer
	logger *zap.Logger
}

// NewSMTPSender creates a sender from the email configuration.
func NewSMTPSender(cfg config.EmailConfig, logger *zap.Logger) *SMTPSender {
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.SMTPHost, MinVersion: tls.VersionTLS12}
	return &SMTPSender{
		cfg:    cfg,
		dialer: d,
		logger: logger,
	}
}

// Send delivers an HTML message and returns its Message-ID.
func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) (string, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.domain())

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.cfg.FromEmail, s.cfg.FromName))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", html)

	timeout := s.cfg.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// the send goroutine is abandoned on timeout; gomail bounds its own dial
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn("SMTP delivery failed", zap.String("to", to), zap.Error(err))
			return "", domainErrors.NewExternalServiceError("smtp", "send", err)
		}
		return messageID, nil
	case <-time.After(timeout):
		return "", domainErrors.NewExternalServiceError("smtp", "send", fmt.Errorf("timed out after %s", timeout))
	case <-ctx.Done():
		return "", domainErrors.NewExternalServiceError("smtp", "send", ctx.Err())
	}
}

func (s *SMTPSender) domain() string {
	if i := strings.LastIndex(s.cfg.FromEmail, "@"); i >= 0 {
		return s.cfg.FromEmail[i+1:]
	}
	return s.cfg.SMTPHost
}
