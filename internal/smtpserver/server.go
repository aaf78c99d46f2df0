// Package smtpserver runs a local SMTP endpoint that captures submitted
// messages in memory. It backs rehearsal runs and transport tests.
package smtpserver

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

const defaultDomain = "batchmail.capture"

// AuthConfig controls PLAIN authentication. An empty Username accepts any
// username with the configured password.
type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

type Config struct {
	Addr string
	Auth AuthConfig
	// RejectRecipient makes RCPT TO fail with a 550 for matching addresses.
	RejectRecipient func(addr string) bool
}

type Server struct {
	smtp   *smtp.Server
	inbox  *Inbox
	logger *slog.Logger
}

func New(inbox *Inbox, logger *slog.Logger, cfg Config) *Server {
	backend := &backend{
		inbox:  inbox,
		logger: logger,
		auth:   cfg.Auth,
		reject: cfg.RejectRecipient,
	}
	server := smtp.NewServer(backend)
	server.Addr = cfg.Addr
	server.Domain = defaultDomain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = 64 << 20

	return &Server{smtp: server, inbox: inbox, logger: logger}
}

func (s *Server) Inbox() *Inbox {
	return s.inbox
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("capture smtp listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

// Serve accepts connections on l until Close.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("capture smtp listening", "addr", l.Addr().String())
	return s.smtp.Serve(l)
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	inbox  *Inbox
	logger *slog.Logger
	auth   AuthConfig
	reject func(string) bool
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.auth.Enabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.auth.Enabled {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		userOK := s.backend.auth.Username == "" || username == s.backend.auth.Username
		if userOK && password == s.backend.auth.Password {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.auth.Enabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.auth.Enabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	addr := normalizeEmail(to)
	if s.backend.reject != nil && s.backend.reject(addr) {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable",
		}
	}
	s.to = append(s.to, addr)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	msg, err := parseMessage(s.from, s.to, data)
	if err != nil {
		s.backend.logger.Warn("parse captured message", "error", err)
	}
	s.backend.inbox.add(msg)
	s.backend.logger.Debug("message captured", "id", msg.ID, "from", msg.From, "to", strings.Join(msg.To, ","))
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

func parseMessage(envelopeFrom string, envelopeTo []string, raw []byte) (Message, error) {
	msg := Message{
		ID:         uuid.NewString(),
		From:       envelopeFrom,
		To:         append([]string(nil), envelopeTo...),
		Raw:        raw,
		Size:       int64(len(raw)),
		ReceivedAt: time.Now(),
	}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return msg, err
	}

	if subject, err := reader.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if id, err := reader.Header.MessageID(); err == nil {
		msg.MessageID = id
	}
	if fromList, err := reader.Header.AddressList("From"); err == nil && len(fromList) > 0 {
		msg.FromName = fromList[0].Name
		if msg.From == "" {
			msg.From = normalizeEmail(fromList[0].Address)
		}
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return msg, err
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/html"):
				msg.HTMLBody += string(body)
			default:
				msg.TextBody += string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if strings.TrimSpace(filename) == "" {
				filename = "attachment"
			}
			contentType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				Data:        body,
			})
		}
	}
	return msg, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
