// Package profile resolves the sender identity used for a job from uploaded
// env profiles, the selected system variant, and the process environment.
package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.io/infrasutra/batchmail/internal/transport"
)

const (
	KeySenderEmail = "SENDER_EMAIL"
	KeyAppPassword = "SENDER_APP_PASSWORD"
	KeySenderName  = "SENDER_NAME"
	KeyHostDomain  = "HOST_DOMAIN"
	KeyPort        = "PORT"
)

const DefaultVariant = "default"

// Required lists the keys reported by Status.
var Required = []string{KeySenderEmail, KeyAppPassword, KeySenderName}

// Keys lists every key a profile can carry.
var Keys = []string{KeySenderEmail, KeyAppPassword, KeySenderName, KeyHostDomain, KeyPort}

var (
	ErrInvalidName    = errors.New("profile name is required")
	ErrUnknownProfile = errors.New("unknown profile")
	ErrUnknownVariant = errors.New("unknown variant")
	ErrEmptyEnv       = errors.New("no env content provided")
)

// MissingError names the sender settings that could not be resolved.
type MissingError struct {
	Fields []string
}

func (e *MissingError) Error() string {
	return "sender credentials missing: " + strings.Join(e.Fields, ", ")
}

type Env struct {
	SenderEmail    string `json:"SENDER_EMAIL,omitempty"`
	SenderPassword string `json:"SENDER_APP_PASSWORD,omitempty"`
	SenderName     string `json:"SENDER_NAME,omitempty"`
	HostDomain     string `json:"HOST_DOMAIN,omitempty"`
	Port           string `json:"PORT,omitempty"`
}

func (e Env) get(key string) string {
	switch key {
	case KeySenderEmail:
		return e.SenderEmail
	case KeyAppPassword:
		return e.SenderPassword
	case KeySenderName:
		return e.SenderName
	case KeyHostDomain:
		return e.HostDomain
	case KeyPort:
		return e.Port
	}
	return ""
}

// Missing returns the Required keys that are empty.
func (e Env) Missing() []string {
	missing := []string{}
	for _, key := range Required {
		if e.get(key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Present returns the keys of e that hold a value, in Keys order.
func (e Env) Present() []string {
	present := []string{}
	for _, key := range Keys {
		if e.get(key) != "" {
			present = append(present, key)
		}
	}
	return present
}

// ParseEnv reads dotenv text and keeps the sender keys.
func ParseEnv(text string) (Env, error) {
	if strings.TrimSpace(text) == "" {
		return Env{}, ErrEmptyEnv
	}
	values, err := godotenv.Unmarshal(text)
	if err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return Env{
		SenderEmail:    strings.TrimSpace(values[KeySenderEmail]),
		SenderPassword: strings.TrimSpace(values[KeyAppPassword]),
		SenderName:     strings.TrimSpace(values[KeySenderName]),
		HostDomain:     strings.TrimSpace(values[KeyHostDomain]),
		Port:           strings.TrimSpace(values[KeyPort]),
	}, nil
}

// Lookup reads one environment variable.
type Lookup func(key string) (string, bool)

// Store holds uploaded profiles in memory. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]Env
	order    []string
	active   string
	variant  string
	variants []string
	lookup   Lookup
}

// NewStore allows the default variant plus variants. A nil lookup reads
// the process environment.
func NewStore(variants []string, lookup Lookup) *Store {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	allowed := []string{DefaultVariant}
	for _, v := range variants {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" && !slices.Contains(allowed, v) {
			allowed = append(allowed, v)
		}
	}
	return &Store{
		profiles: map[string]Env{},
		variant:  DefaultVariant,
		variants: allowed,
		lookup:   lookup,
	}
}

// Set stores env under name and makes it the active profile.
func (s *Store) Set(name string, env Env) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[name]; !ok {
		s.order = append(s.order, name)
	}
	s.profiles[name] = env
	s.active = name
	return nil
}

func (s *Store) Profiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.order...)
}

func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActive selects a stored profile. An empty name falls back to the
// system variant.
func (s *Store) SetActive(name string) error {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		s.active = ""
		return nil
	}
	if _, ok := s.profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	s.active = name
	return nil
}

// Remove deletes one profile. If it was active, the oldest remaining
// profile becomes active.
func (s *Store) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[name]; !ok {
		return
	}
	delete(s.profiles, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	if s.active == name {
		s.active = ""
		if len(s.order) > 0 {
			s.active = s.order[0]
		}
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = map[string]Env{}
	s.order = nil
	s.active = ""
}

func (s *Store) Variant() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.variant
}

func (s *Store) Variants() []string {
	return append([]string{}, s.variants...)
}

func (s *Store) SetVariant(variant string) error {
	variant = strings.ToLower(strings.TrimSpace(variant))
	if variant == "" {
		variant = DefaultVariant
	}
	if !slices.Contains(s.variants, variant) {
		return fmt.Errorf("%w: %s", ErrUnknownVariant, variant)
	}
	s.mu.Lock()
	s.variant = variant
	s.mu.Unlock()
	return nil
}

// Resolve returns the effective sender settings. Each field comes from the
// active profile, else the selected variant, else the default environment.
func (s *Store) Resolve() Env {
	env, _ := s.resolve()
	return env
}

func (s *Store) resolve() (Env, map[string]string) {
	s.mu.RLock()
	profile, hasProfile := s.profiles[s.active]
	variant := s.variant
	s.mu.RUnlock()

	layers := []Env{}
	if hasProfile {
		layers = append(layers, profile)
	}
	if variant != DefaultVariant {
		layers = append(layers, s.variantEnv(variant))
	}
	layers = append(layers, s.defaultEnv())

	sources := map[string]string{}
	pick := func(key string) string {
		for i, layer := range layers {
			if value := layer.get(key); value != "" {
				if hasProfile && i == 0 {
					sources[key] = "profile"
				} else {
					sources[key] = "env"
				}
				return value
			}
		}
		sources[key] = "missing"
		return ""
	}

	env := Env{
		SenderEmail:    pick(KeySenderEmail),
		SenderPassword: pick(KeyAppPassword),
		SenderName:     pick(KeySenderName),
		HostDomain:     pick(KeyHostDomain),
		Port:           pick(KeyPort),
	}
	return env, sources
}

func (s *Store) variantEnv(variant string) Env {
	prefix := strings.ToUpper(variant) + "_"
	return Env{
		SenderEmail:    s.env(prefix + "SENDER_EMAIL"),
		SenderPassword: s.env(prefix + "SENDER_PASSWORD"),
		SenderName:     s.env(prefix + "SENDER_NAME"),
		HostDomain:     s.env(prefix + "HOST_DOMAIN"),
		Port:           s.env(prefix + "PORT"),
	}
}

func (s *Store) defaultEnv() Env {
	return Env{
		SenderEmail:    s.env(KeySenderEmail),
		SenderPassword: s.env(KeyAppPassword),
		SenderName:     s.env(KeySenderName),
	}
}

func (s *Store) env(key string) string {
	value, _ := s.lookup(key)
	return strings.TrimSpace(value)
}

// Credentials snapshots the resolved settings for one job. The display
// name falls back to the email.
func (s *Store) Credentials(_ context.Context) (transport.Credentials, error) {
	env := s.Resolve()
	var missing []string
	if env.SenderEmail == "" {
		missing = append(missing, KeySenderEmail)
	}
	if env.SenderPassword == "" {
		missing = append(missing, KeyAppPassword)
	}
	if len(missing) > 0 {
		return transport.Credentials{}, &MissingError{Fields: missing}
	}
	name := env.SenderName
	if name == "" {
		name = env.SenderEmail
	}
	creds := transport.Credentials{
		FromEmail: env.SenderEmail,
		FromName:  name,
		Secret:    env.SenderPassword,
		Host:      env.HostDomain,
	}
	if port, err := strconv.Atoi(env.Port); err == nil && port > 0 {
		creds.Port = port
	}
	return creds, nil
}

type Status struct {
	OK            bool              `json:"ok"`
	Present       map[string]bool   `json:"present"`
	Missing       []string          `json:"missing"`
	Source        map[string]string `json:"source"`
	ActiveProfile *string           `json:"activeProfile"`
	Profiles      []string          `json:"profiles"`
	Variant       string            `json:"systemVariant"`
	Variants      []string          `json:"variants"`
}

// Status reports which Required keys resolve and where they come from.
func (s *Store) Status() Status {
	env, sources := s.resolve()
	status := Status{
		Present:  map[string]bool{},
		Missing:  env.Missing(),
		Source:   map[string]string{},
		Profiles: s.Profiles(),
		Variant:  s.Variant(),
		Variants: s.Variants(),
	}
	for _, key := range Required {
		status.Present[key] = env.get(key) != ""
		status.Source[key] = sources[key]
	}
	if active := s.Active(); active != "" {
		status.ActiveProfile = &active
	}
	status.OK = len(status.Missing) == 0
	return status
}
