package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTP connection security modes.
const (
	SecurityStartTLS = "starttls"
	SecurityTLS      = "tls"
	SecurityNone     = "none"
)

type SMTPConfig struct {
	Host               string
	Port               int
	Security           string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// SMTPFactory opens authenticated submission sessions.
type SMTPFactory struct {
	cfg    SMTPConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewSMTPFactory(cfg SMTPConfig, logger *slog.Logger) *SMTPFactory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Security == "" {
		cfg.Security = SecurityStartTLS
	}
	return &SMTPFactory{cfg: cfg, logger: logger, now: time.Now}
}

// Open dials and authenticates. The returned session is reused for every
// message of a job.
func (f *SMTPFactory) Open(ctx context.Context, creds Credentials) (Transport, error) {
	if strings.TrimSpace(creds.Secret) == "" {
		return nil, ErrNoSecret
	}
	host := f.cfg.Host
	if creds.Host != "" {
		host = creds.Host
	}
	port := f.cfg.Port
	if creds.Port > 0 {
		port = creds.Port
	}
	t := &smtpTransport{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		host:     host,
		security: f.cfg.Security,
		timeout:  f.cfg.Timeout,
		insecure: f.cfg.InsecureSkipVerify,
		creds:    creds,
		logger:   f.logger,
		now:      f.now,
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

type smtpTransport struct {
	addr     string
	host     string
	security string
	timeout  time.Duration
	insecure bool
	creds    Credentials
	logger   *slog.Logger
	now      func() time.Time
	client   *smtp.Client
}

func (t *smtpTransport) connect(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: t.timeout}
	tlsConfig := &tls.Config{ServerName: t.host, InsecureSkipVerify: t.insecure}

	var client *smtp.Client
	switch t.security {
	case SecurityTLS:
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err := tlsDialer.DialContext(ctx, "tcp", t.addr)
		if err != nil {
			return fmt.Errorf("dial smtp %s: %w", t.addr, err)
		}
		client = smtp.NewClient(conn)
	case SecurityNone:
		conn, err := dialer.DialContext(ctx, "tcp", t.addr)
		if err != nil {
			return fmt.Errorf("dial smtp %s: %w", t.addr, err)
		}
		client = smtp.NewClient(conn)
	default:
		conn, err := dialer.DialContext(ctx, "tcp", t.addr)
		if err != nil {
			return fmt.Errorf("dial smtp %s: %w", t.addr, err)
		}
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("starttls %s: %w", t.addr, err)
		}
	}
	client.CommandTimeout = t.timeout
	client.SubmissionTimeout = t.timeout

	if err := client.Auth(sasl.NewPlainClient("", t.creds.FromEmail, t.creds.Secret)); err != nil {
		_ = client.Close()
		return fmt.Errorf("smtp auth: %w", err)
	}
	t.client = client
	return nil
}

func (t *smtpTransport) Send(ctx context.Context, msg *Message) (string, error) {
	raw, messageID, err := Compose(msg, t.now())
	if err != nil {
		return "", err
	}
	if t.client == nil {
		if err := t.connect(ctx); err != nil {
			return "", err
		}
	}
	if err := t.submit(msg.FromEmail, msg.To, raw); err != nil {
		t.recover(err)
		return "", err
	}
	return messageID, nil
}

func (t *smtpTransport) submit(from, to string, raw []byte) error {
	if err := t.client.Mail(from, nil); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := t.client.Rcpt(to, nil); err != nil {
		return fmt.Errorf("smtp rcpt to %s: %w", to, err)
	}
	w, err := t.client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	return nil
}

// recover keeps the session after a provider rejection and drops it after
// a connection failure so the next Send redials.
func (t *smtpTransport) recover(err error) {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		if resetErr := t.client.Reset(); resetErr == nil {
			return
		}
	}
	t.logger.Warn("smtp session dropped", "addr", t.addr, "error", err)
	_ = t.client.Close()
	t.client = nil
}

func (t *smtpTransport) Close() error {
	if t.client == nil {
		return nil
	}
	client := t.client
	t.client = nil
	if err := client.Quit(); err != nil {
		return client.Close()
	}
	return nil
}
