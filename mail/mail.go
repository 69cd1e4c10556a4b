// Package mail sends transactional email (email verification, password
// reset, new-device login notices). Grounded
// on dexidp/dex's email/smtp.go: a gomail.Dialer built from host/port with
// SSL inferred from the port, wrapped behind a small Emailer interface so
// tests can swap in a no-op implementation.
package mail

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"gopkg.in/gomail.v2"
)

// Emailer sends a single templated message to one or more recipients.
type Emailer interface {
	Send(subject, text, html string, to ...string) error
}

// Config is an SMTP emailer configuration, matching dex's SmtpEmailerConfig.
type Config struct {
	Host     string
	Port     int // if zero, parsed out of Host as "host:port"
	Username string
	Password string
	From     string
}

// New builds an SMTP-backed Emailer from cfg.
func New(cfg Config) (Emailer, error) {
	if cfg.From == "" {
		return nil, errors.New(`mail: missing "from" address`)
	}

	host, port := cfg.Host, cfg.Port
	if port == 0 {
		hostStr, portStr, err := net.SplitHostPort(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("mail: host must be in \"host:port\" form: %w", err)
		}
		host = hostStr
		if port, err = strconv.Atoi(portStr); err != nil {
			return nil, fmt.Errorf("mail: failed to parse port out of %q: %w", cfg.Host, err)
		}
	}

	if (cfg.Username == "") != (cfg.Password == "") {
		return nil, errors.New("mail: must provide both username and password, or neither")
	}

	var dialer *gomail.Dialer
	if cfg.Username == "" {
		// Guess SSL the same way gomail itself does when a username is absent.
		dialer = &gomail.Dialer{Host: host, Port: port, SSL: port == 465}
	} else {
		dialer = gomail.NewPlainDialer(host, port, cfg.Username, cfg.Password)
	}

	return &smtpEmailer{dialer: dialer, from: cfg.From}, nil
}

type smtpEmailer struct {
	dialer *gomail.Dialer
	from   string
}

func (e *smtpEmailer) Send(subject, text, html string, to ...string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", e.from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", text)
	if html != "" {
		msg.AddAlternative("text/html", html)
	}
	return e.dialer.DialAndSend(msg)
}

// NoopEmailer discards every message; used in tests and local development
// where no SMTP relay is configured.
type NoopEmailer struct {
	Sent []SentMessage
}

type SentMessage struct {
	Subject, Text, HTML string
	To                   []string
}

func (n *NoopEmailer) Send(subject, text, html string, to ...string) error {
	n.Sent = append(n.Sent, SentMessage{Subject: subject, Text: text, HTML: html, To: to})
	return nil
}

// Templates renders the fixed set of transactional emails this system
// sends. Kept deliberately plain (fmt.Sprintf, not html/template) since
// every body here is a short, static, non-user-controlled string.
type Templates struct {
	ProductName string
}

func (t Templates) VerifyEmail(confirmURL string) (subject, text, html string) {
	subject = fmt.Sprintf("Verify your %s email", t.ProductName)
	text = fmt.Sprintf("Confirm your email address by visiting: %s\n\nIf you didn't request this, you can ignore this email.", confirmURL)
	html = fmt.Sprintf(`<p>Confirm your email address by <a href="%s">clicking here</a>.</p><p>If you didn't request this, you can ignore this email.</p>`, confirmURL)
	return subject, text, html
}

func (t Templates) ResetPassword(resetURL string) (subject, text, html string) {
	subject = fmt.Sprintf("Reset your %s password", t.ProductName)
	text = fmt.Sprintf("Reset your password by visiting: %s\n\nIf you didn't request this, you can ignore this email.", resetURL)
	html = fmt.Sprintf(`<p>Reset your password by <a href="%s">clicking here</a>.</p><p>If you didn't request this, you can ignore this email.</p>`, resetURL)
	return subject, text, html
}

func (t Templates) NewLoginNotice(ip, userAgent string) (subject, text, html string) {
	subject = fmt.Sprintf("New login to your %s account", t.ProductName)
	text = fmt.Sprintf("A new login to your account occurred from %s (%s).\n\nIf this wasn't you, reset your password immediately.", ip, userAgent)
	html = fmt.Sprintf(`<p>A new login to your account occurred from %s (%s).</p><p>If this wasn't you, reset your password immediately.</p>`, ip, userAgent)
	return subject, text, html
}
