package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

const (
	cookieName = "batchmail_session"

	DefaultMaxAge = 7 * 24 * time.Hour
)

var (
	ErrNotConfigured      = errors.New("admin credentials not configured")
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

type Manager struct {
	secret []byte
	maxAge time.Duration
}

func New(secret string, maxAge time.Duration) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		generated := make([]byte, 32)
		if _, err := rand.Read(generated); err != nil {
			return nil, fmt.Errorf("generate auth secret: %w", err)
		}
		secret = base64.RawURLEncoding.EncodeToString(generated)
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Manager{secret: []byte(secret), maxAge: maxAge}, nil
}

func (m *Manager) CookieName() string {
	return cookieName
}

func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

func (m *Manager) Issue(email string, now time.Time) (string, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	payload := normalized + "|" + strconv.FormatInt(now.Unix(), 10)
	token := payload + "|" + m.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

// Parse verifies a session token and returns the operator email it was
// issued for.
func (m *Manager) Parse(token string, now time.Time) (string, error) {
	if token == "" {
		return "", errors.New("missing session token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", errors.New("invalid session token")
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return "", errors.New("invalid session token")
	}
	payload := parts[0] + "|" + parts[1]
	if !m.verify(payload, parts[2]) {
		return "", errors.New("invalid session token")
	}
	timestamp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", errors.New("invalid session token")
	}
	if now.Sub(time.Unix(timestamp, 0)) > m.maxAge {
		return "", errors.New("session expired")
	}
	return NormalizeEmail(parts[0])
}

// Admin holds the single operator login.
type Admin struct {
	Email    string
	Password string
}

// Missing lists the unset admin settings by env key.
func (a Admin) Missing() []string {
	missing := []string{}
	if strings.TrimSpace(a.Email) == "" {
		missing = append(missing, "ADMIN_EMAIL")
	}
	if strings.TrimSpace(a.Password) == "" {
		missing = append(missing, "ADMIN_PASSWORD")
	}
	return missing
}

// Check compares a login attempt against the configured admin. The email is
// matched case-insensitively and both values are trimmed.
func (a Admin) Check(email, password string) (string, error) {
	if len(a.Missing()) > 0 {
		return "", ErrNotConfigured
	}
	email = strings.ToLower(strings.TrimSpace(email))
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return "", ErrMissingCredentials
	}
	wantEmail := strings.ToLower(strings.TrimSpace(a.Email))
	wantPassword := strings.TrimSpace(a.Password)
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(wantEmail)) == 1
	passwordOK := subtle.ConstantTimeCompare([]byte(password), []byte(wantPassword)) == 1
	if !emailOK || !passwordOK {
		return "", ErrInvalidCredentials
	}
	return email, nil
}

func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", errors.New("email must be valid")
	}
	return strings.ToLower(addr.Address), nil
}

func (m *Manager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *Manager) verify(payload, signature string) bool {
	expected := m.sign(payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
