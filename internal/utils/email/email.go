package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/Dan9191/card-service/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// sendFunc delivers a prepared message; replaced in tests
type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   sendFunc
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Enabled reports whether SMTP and an admin mailbox are configured
func (s *Sender) Enabled() bool {
	return s.cfg.SMTPHost != "" && s.cfg.AdminEmail != ""
}

// BlockRequestMessage builds the admin notification for a pending block
func (s *Sender) BlockRequestMessage(cardID, userID int64, maskedNumber string, requestedAt time.Time) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{s.cfg.AdminEmail}
	e.Subject = fmt.Sprintf("Card %d block request awaiting approval", cardID)

	body := "Hello,\n\n"
	body += fmt.Sprintf(
		"User %d has requested to block card %d (%s).\n"+
			"Request time: %s\n"+
			"The card stays in PENDING_BLOCK until the request is approved or rejected.\n",
		userID, cardID, maskedNumber, requestedAt.Format("2006-01-02 15:04:05"),
	)
	body += "\nBest regards,\nCard Service"
	e.Text = []byte(body)
	return e
}

// NotifyBlockRequested emails the admin mailbox about a new block request
func (s *Sender) NotifyBlockRequested(cardID, userID int64, maskedNumber string) error {
	if !s.Enabled() {
		s.logger.Debugf("Email disabled, skipping block request notification for card %d", cardID)
		return nil
	}

	e := s.BlockRequestMessage(cardID, userID, maskedNumber, time.Now())

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send block request notification for card %d: %v", cardID, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", s.cfg.AdminEmail, e.Subject)
	return nil
}
