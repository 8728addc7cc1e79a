// Package notify delivers alert emails.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"
)

const (
	// AlertSubject is the subject of every violence alert
	AlertSubject = "Violence Detected Alert"

	// AlertBody is the body of every violence alert
	AlertBody = "Violence has been detected in the live CCTV feed. Please take immediate action."
)

// ErrNotConfigured is returned by a sender that has no transport configured
var ErrNotConfigured = errors.New("notify: email sender not configured")

// Message is a single plain-text email
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// DefaultAlertMessage builds the standard violence alert
func DefaultAlertMessage(from, to string) Message {
	return Message{
		From:    from,
		To:      to,
		Subject: AlertSubject,
		Body:    AlertBody,
	}
}

// Sender delivers messages. Implementations make one attempt per call.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Bytes renders msg as an RFC 5322 message with CRLF line endings
func (m Message) Bytes(now time.Time) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "To: %s\r\n", m.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")

	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// Disabled is a sender used when SMTP is switched off
type Disabled struct{}

// Send always fails with ErrNotConfigured
func (Disabled) Send(context.Context, Message) error {
	return ErrNotConfigured
}
