package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.io/infrasutra/batchmail/internal/pagination"
	"github.io/infrasutra/batchmail/internal/sse"
	"github.io/infrasutra/batchmail/internal/store"
	"github.io/infrasutra/batchmail/internal/stream"
)

const pingInterval = 20 * time.Second

type jobView struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	From       string `json:"from"`
	DryRun     bool   `json:"dryRun"`
	Total      int    `json:"total"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Batches    int    `json:"batches"`
	BatchSize  int    `json:"batchSize"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

type outcomeView struct {
	Index       int    `json:"index"`
	Batch       int    `json:"batch"`
	To          string `json:"to"`
	Status      string `json:"status"`
	Subject     string `json:"subject"`
	MessageID   string `json:"messageId,omitempty"`
	Error       string `json:"error,omitempty"`
	Attachments int    `json:"attachments"`
	Timestamp   string `json:"timestamp"`
}

func toJobView(j store.Job) jobView {
	view := jobView{
		ID:        j.ID,
		Status:    j.Status,
		From:      j.FromEmail,
		DryRun:    j.DryRun,
		Total:     j.Total,
		Sent:      j.Sent,
		Failed:    j.Failed,
		Batches:   j.Batches,
		BatchSize: j.BatchSize,
		StartedAt: j.StartedAt.UTC().Format(time.RFC3339),
	}
	if !j.FinishedAt.IsZero() {
		view.FinishedAt = j.FinishedAt.UTC().Format(time.RFC3339)
	}
	return view
}

func toOutcomeView(o store.Outcome) outcomeView {
	return outcomeView{
		Index:       o.Index,
		Batch:       o.Batch,
		To:          o.Recipient,
		Status:      o.Status,
		Subject:     o.Subject,
		MessageID:   o.MessageID,
		Error:       o.Error,
		Attachments: o.Attachments,
		Timestamp:   o.SentAt.UTC().Format(stream.TimestampLayout),
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromQuery(r.URL.Query())
	jobs, total, err := s.history.ListJobs(r.Context(), params.Sort, params.Offset, params.Limit)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.fail(w, http.StatusInternalServerError, "unable to list jobs")
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toJobView(j))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"jobs":    views,
		"total":   total,
		"page":    params.Page,
		"limit":   params.Limit,
		"hasNext": params.HasNext(total),
	})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	j, outcomes, err := s.history.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondHistoryError(w, err)
		return
	}
	views := make([]outcomeView, 0, len(outcomes))
	for _, o := range outcomes {
		views = append(views, toOutcomeView(o))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"job":      toJobView(j),
		"outcomes": views,
	})
}

// handleJobFailed lists the recipients that did not receive the message,
// for re-running a job against that subset.
func (s *Server) handleJobFailed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	recipients, err := s.history.FailedRecipients(r.Context(), id)
	if err != nil {
		s.respondHistoryError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"jobId":      id,
		"recipients": recipients,
	})
}

func (s *Server) respondHistoryError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.fail(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Error("load job", "error", err)
	s.fail(w, http.StatusInternalServerError, "unable to load job")
}

// handleJobEvents follows a job as server-sent events. A job that is no
// longer running gets a single done event built from its stored counts.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	id := chi.URLParam(r, "id")

	ch, unsubscribe := s.hub.Subscribe(id)
	defer unsubscribe()

	current, _, err := s.history.GetJob(r.Context(), id)
	if err != nil {
		s.respondHistoryError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if current.Status != store.JobRunning {
		s.writeStoredDone(w, current)
		flusher.Flush()
		return
	}
	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_, _ = ev.WriteTo(w)
			flusher.Flush()
			if ev.Name == stream.TypeDone {
				return
			}
		case <-ticker.C:
			latest, _, err := s.history.GetJob(r.Context(), id)
			if err == nil && latest.Status != store.JobRunning {
				s.writeStoredDone(w, latest)
				flusher.Flush()
				return
			}
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) writeStoredDone(w http.ResponseWriter, j store.Job) {
	data, err := json.Marshal(stream.NewDone(j.Sent, j.Failed))
	if err != nil {
		return
	}
	_, _ = sse.Event{Name: stream.TypeDone, Data: data}.WriteTo(w)
}
