package email

import (
	"errors"
	"io"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/Dan9191/card-service/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

func newTestSender(cfg *config.Config) *Sender {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewSender(cfg, logger)
}

func TestNotifyBlockRequestedDisabled(t *testing.T) {
	s := newTestSender(&config.Config{})
	s.send = func(*email.Email, string, smtp.Auth) error {
		t.Fatal("send called while email is disabled")
		return nil
	}
	if err := s.NotifyBlockRequested(1, 2, "**** **** **** 1234"); err != nil {
		t.Fatalf("NotifyBlockRequested: %v", err)
	}
}

func TestNotifyBlockRequestedSends(t *testing.T) {
	cfg := &config.Config{
		SMTPHost:    "smtp.example.com",
		SMTPPort:    "587",
		SenderEmail: "cards@example.com",
		AdminEmail:  "admin@example.com",
	}
	s := newTestSender(cfg)

	var gotAddr string
	var got *email.Email
	s.send = func(e *email.Email, addr string, _ smtp.Auth) error {
		got, gotAddr = e, addr
		return nil
	}

	if err := s.NotifyBlockRequested(7, 3, "**** **** **** 4321"); err != nil {
		t.Fatalf("NotifyBlockRequested: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if len(got.To) != 1 || got.To[0] != "admin@example.com" {
		t.Errorf("to = %v", got.To)
	}
	if !strings.Contains(string(got.Text), "**** **** **** 4321") {
		t.Errorf("body does not contain masked number: %s", got.Text)
	}
}

func TestNotifyBlockRequestedSendError(t *testing.T) {
	s := newTestSender(&config.Config{SMTPHost: "smtp.example.com", AdminEmail: "admin@example.com"})
	s.send = func(*email.Email, string, smtp.Auth) error { return errors.New("connection refused") }
	if err := s.NotifyBlockRequested(1, 1, "**** **** **** 0000"); err == nil {
		t.Fatal("expected error")
	}
}

func TestBlockRequestMessage(t *testing.T) {
	s := newTestSender(&config.Config{SenderEmail: "cards@example.com", AdminEmail: "admin@example.com"})
	at := time.Date(2025, time.May, 4, 10, 30, 0, 0, time.UTC)
	e := s.BlockRequestMessage(12, 5, "**** **** **** 9999", at)
	if !strings.Contains(e.Subject, "12") {
		t.Errorf("subject = %q", e.Subject)
	}
	if !strings.Contains(string(e.Text), "2025-05-04 10:30:00") {
		t.Errorf("body missing timestamp: %s", e.Text)
	}
}
