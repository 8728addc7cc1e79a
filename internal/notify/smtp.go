package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/vzahanych/violence-watch/internal/logger"
)

// SMTPConfig contains the settings for SMTPSender
type SMTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	Timeout        time.Duration
	AllowPlaintext bool
	TLSConfig      *tls.Config // nil uses ServerName=Host
}

// SMTPSender sends mail through a submission server with STARTTLS and login
type SMTPSender struct {
	config SMTPConfig
	logger *logger.Logger
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(config SMTPConfig, log *logger.Logger) *SMTPSender {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &SMTPSender{
		config: config,
		logger: log.Named("smtp"),
	}
}

// Addr returns host:port of the submission server
func (s *SMTPSender) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Send delivers msg in a single SMTP session
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if s.config.Host == "" || msg.From == "" || msg.To == "" {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.Addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer client.Close()

	if err := s.deliver(client, msg); err != nil {
		return err
	}

	if err := client.Quit(); err != nil {
		// the message was accepted at DATA; a failed QUIT is not a delivery failure
		s.logger.Debug("SMTP quit failed", "error", err)
	}

	s.logger.Info("Email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

func (s *SMTPSender) deliver(client *smtp.Client, msg Message) error {
	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := s.config.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: s.config.Host, MinVersion: tls.VersionTLS12}
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	} else if !s.config.AllowPlaintext {
		return errors.New("server does not support STARTTLS")
	}

	if s.config.Username != "" {
		auth, err := s.pickAuth(client)
		if err != nil {
			return err
		}
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("RCPT TO rejected: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(msg.Bytes(time.Now())); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}
	return nil
}

// pickAuth prefers PLAIN and falls back to LOGIN, which Office 365 requires
func (s *SMTPSender) pickAuth(client *smtp.Client) (smtp.Auth, error) {
	ok, mechs := client.Extension("AUTH")
	if !ok {
		return nil, errors.New("server does not support AUTH")
	}

	for _, m := range strings.Fields(strings.ToUpper(mechs)) {
		if m == "PLAIN" {
			return smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host), nil
		}
	}
	for _, m := range strings.Fields(strings.ToUpper(mechs)) {
		if m == "LOGIN" {
			return &loginAuth{username: s.config.Username, password: s.config.Password}, nil
		}
	}
	return nil, fmt.Errorf("no supported AUTH mechanism in %q", mechs)
}

// loginAuth implements the LOGIN SASL mechanism
type loginAuth struct {
	username string
	password string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("unencrypted connection")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	prompt := strings.ToLower(strings.TrimSpace(string(fromServer)))
	switch {
	case strings.HasPrefix(prompt, "username"):
		return []byte(a.username), nil
	case strings.HasPrefix(prompt, "password"):
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected LOGIN challenge %q", fromServer)
	}
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}
