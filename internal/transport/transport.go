// Package transport delivers composed messages to a mail provider.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoSecret is returned when credentials carry no transport secret.
var ErrNoSecret = errors.New("transport secret is empty")

// Credentials identify the sender and authenticate against the provider.
// Host and Port optionally override the configured SMTP endpoint.
type Credentials struct {
	FromEmail string
	FromName  string
	Secret    string
	Host      string
	Port      int
}

// Message is one personalized email.
type Message struct {
	FromName    string
	FromEmail   string
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Attachment is a decoded file sent base64-encoded on the wire.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Transport sends messages over one provider session.
type Transport interface {
	// Send delivers msg and returns the provider message identifier.
	Send(ctx context.Context, msg *Message) (string, error)
	Close() error
}

// Factory opens a provider session for a job.
type Factory interface {
	Open(ctx context.Context, creds Credentials) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, creds Credentials) (Transport, error)

func (f FactoryFunc) Open(ctx context.Context, creds Credentials) (Transport, error) {
	return f(ctx, creds)
}

// FormatAddress renders "Name <email>", or just email without a name.
func FormatAddress(name, email string) string {
	name = sanitizeHeader(name)
	email = sanitizeHeader(email)
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

func senderDomain(email string) string {
	if idx := strings.LastIndex(email, "@"); idx >= 0 && idx < len(email)-1 {
		return email[idx+1:]
	}
	return "batchmail.local"
}

func sanitizeHeader(value string) string {
	cleaned := strings.ReplaceAll(value, "\r", "")
	cleaned = strings.ReplaceAll(cleaned, "\n", "")
	return strings.TrimSpace(cleaned)
}
