package api

import (
	"errors"
	"net/http"
	"time"

	"github.io/infrasutra/batchmail/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	email, err := s.admin.Check(payload.Email, payload.Password)
	switch {
	case errors.Is(err, auth.ErrNotConfigured):
		s.respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "admin credentials not configured",
			Missing: s.admin.Missing(),
		})
		return
	case errors.Is(err, auth.ErrMissingCredentials):
		s.fail(w, http.StatusBadRequest, "email and password are required")
		return
	case err != nil:
		s.logger.Warn("login rejected", "email", payload.Email)
		s.fail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := time.Now()
	token, err := s.auth.Issue(email, now)
	if err != nil {
		s.logger.Error("issue session", "error", err)
		s.fail(w, http.StatusInternalServerError, "unable to create session")
		return
	}
	s.setSessionCookie(w, r, token, now)
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "email": email})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	email, err := s.sessionEmail(r)
	if err != nil {
		s.fail(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "email": email})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthRequired {
			if _, err := s.sessionEmail(r); err != nil {
				s.fail(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sessionEmail(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.auth.CookieName())
	if err != nil {
		return "", errors.New("missing session")
	}
	return s.auth.Parse(cookie.Value, time.Now())
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, value string, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.auth.MaxAge().Seconds()),
		Expires:  now.Add(s.auth.MaxAge()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
