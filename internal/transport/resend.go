package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v3"
)

// ResendFactory sends through the Resend HTTP API. The credential secret
// is the API key.
type ResendFactory struct {
	baseURL string
}

// NewResendFactory returns a factory for the public API, or for baseURL
// when it is set.
func NewResendFactory(baseURL string) *ResendFactory {
	return &ResendFactory{baseURL: baseURL}
}

func (f *ResendFactory) Open(_ context.Context, creds Credentials) (Transport, error) {
	if strings.TrimSpace(creds.Secret) == "" {
		return nil, ErrNoSecret
	}
	client := resend.NewClient(creds.Secret)
	if f.baseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(f.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse resend base url: %w", err)
		}
		client.BaseURL = base
	}
	return &resendTransport{client: client}, nil
}

type resendTransport struct {
	client *resend.Client
}

func (t *resendTransport) Send(ctx context.Context, msg *Message) (string, error) {
	req := &resend.SendEmailRequest{
		From:    FormatAddress(msg.FromName, msg.FromEmail),
		To:      []string{msg.To},
		Subject: sanitizeHeader(msg.Subject),
		Html:    msg.HTML,
	}
	if len(msg.Attachments) > 0 {
		req.Attachments = make([]*resend.Attachment, len(msg.Attachments))
		for i, a := range msg.Attachments {
			req.Attachments[i] = &resend.Attachment{
				Filename:    a.Filename,
				Content:     a.Content,
				ContentType: a.ContentType,
			}
		}
	}
	sent, err := t.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("resend: %w", err)
	}
	return sent.Id, nil
}

func (t *resendTransport) Close() error {
	return nil
}
