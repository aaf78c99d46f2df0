package api

import (
	"net/http"

	"github.io/infrasutra/batchmail/internal/smtpserver"
)

func (s *Server) handleCaptureMessages(w http.ResponseWriter, _ *http.Request) {
	messages := s.inbox.Messages()
	if messages == nil {
		messages = []smtpserver.Message{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"messages": messages,
	})
}

func (s *Server) handleCaptureClear(w http.ResponseWriter, _ *http.Request) {
	s.inbox.Clear()
	w.WriteHeader(http.StatusNoContent)
}
