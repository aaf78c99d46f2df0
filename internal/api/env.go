package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.io/infrasutra/batchmail/internal/attachment"
	"github.io/infrasutra/batchmail/internal/profile"
)

const defaultProfileName = "custom"

func (s *Server) handleEnv(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.profiles.Status())
}

type uploadResponse struct {
	OK      bool     `json:"ok"`
	Stored  []string `json:"stored"`
	Missing []string `json:"missing"`
	Profile string   `json:"profile"`
}

func (s *Server) handleEnvUpload(w http.ResponseWriter, r *http.Request) {
	envText, name, err := s.readEnvUpload(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "invalid upload body")
		return
	}
	env, err := profile.ParseEnv(envText)
	if err != nil {
		if errors.Is(err, profile.ErrEmptyEnv) {
			s.fail(w, http.StatusBadRequest, "no env content provided")
			return
		}
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.profiles.Set(name, env); err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}

	missing := env.Missing()
	s.logger.Info("env profile stored", "profile", name, "missing", missing)
	s.respondJSON(w, http.StatusOK, uploadResponse{
		OK:      len(missing) == 0,
		Stored:  env.Present(),
		Missing: missing,
		Profile: name,
	})
}

// readEnvUpload accepts a multipart "file" with optional "profile", or a
// JSON body {envText, profile}.
func (s *Server) readEnvUpload(r *http.Request) (string, string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return "", "", err
		}
		name := strings.TrimSpace(r.FormValue("profile"))
		file, header, err := r.FormFile("file")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return "", name, nil
			}
			return "", "", err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", "", err
		}
		if name == "" {
			name = attachment.BaseName(header.Filename)
		}
		if name == "" {
			name = defaultProfileName
		}
		return string(data), name, nil
	}

	var body struct {
		EnvText string `json:"envText"`
		Profile string `json:"profile"`
	}
	if err := decodeBody(r, &body); err != nil {
		return "", "", err
	}
	name := strings.TrimSpace(body.Profile)
	if name == "" {
		name = defaultProfileName
	}
	return body.EnvText, name, nil
}

func (s *Server) handleEnvActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Profile *string `json:"profile"`
	}
	if !s.decodeJSON(w, r, &body) {
		return
	}
	name := ""
	if body.Profile != nil {
		name = strings.TrimSpace(*body.Profile)
	}
	if err := s.profiles.SetActive(name); err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	var active *string
	if name != "" {
		active = &name
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "active": active})
}

func (s *Server) handleEnvVariant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Variant string `json:"variant"`
	}
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if err := s.profiles.SetVariant(body.Variant); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid variant")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "variant": s.profiles.Variant()})
}

func (s *Server) handleEnvClear(w http.ResponseWriter, _ *http.Request) {
	s.profiles.Clear()
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
