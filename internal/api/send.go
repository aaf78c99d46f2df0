package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.io/infrasutra/batchmail/internal/attachment"
	"github.io/infrasutra/batchmail/internal/job"
	"github.io/infrasutra/batchmail/internal/recipient"
	"github.io/infrasutra/batchmail/internal/sender"
	"github.io/infrasutra/batchmail/internal/sse"
	"github.io/infrasutra/batchmail/internal/stream"
)

type sendRequest struct {
	Rows              []recipient.Row   `json:"rows"`
	Mapping           recipient.Mapping `json:"mapping"`
	Template          string            `json:"template"`
	SubjectTemplate   string            `json:"subjectTemplate"`
	AttachmentsByName attachment.Index  `json:"attachmentsByName"`
	BatchSize         int               `json:"batchSize"`
	DelayMs           int               `json:"delayMs"`
	JitterMs          *int              `json:"jitterMs"`
	DryRun            bool              `json:"dryRun"`
}

func (p sendRequest) jobRequest(id string) job.Request {
	jitter := -1
	if p.JitterMs != nil && *p.JitterMs >= 0 {
		jitter = *p.JitterMs
	}
	return job.Request{
		ID:              id,
		Rows:            p.Rows,
		Mapping:         p.Mapping,
		Template:        p.Template,
		SubjectTemplate: p.SubjectTemplate,
		Attachments:     normalizeIndex(p.AttachmentsByName),
		BatchSize:       p.BatchSize,
		DelayMs:         p.DelayMs,
		JitterMs:        jitter,
		DryRun:          p.DryRun,
	}
}

// publisher mirrors job frames to SSE observers of jobID.
func (s *Server) publisher(jobID string) stream.Sink {
	return stream.SinkFunc(func(frame stream.Frame) error {
		data, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		s.hub.Publish(jobID, sse.Event{Name: frame.Kind(), Data: data})
		return nil
	})
}

type sendResult struct {
	To          string `json:"to"`
	Subject     string `json:"subject"`
	MessageID   string `json:"messageId,omitempty"`
	Error       string `json:"error,omitempty"`
	Attachments int    `json:"attachments"`
}

type sendResponse struct {
	OK        bool         `json:"ok"`
	JobID     string       `json:"jobId"`
	Sent      int          `json:"sent"`
	Failed    int          `json:"failed"`
	Successes []sendResult `json:"successes"`
	Failures  []sendResult `json:"failures"`
}

// handleSend runs a job to completion and answers with the collected
// results.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	id := s.jobs.NewID()

	resp := sendResponse{JobID: id, Successes: []sendResult{}, Failures: []sendResult{}}
	collect := stream.SinkFunc(func(frame stream.Frame) error {
		item, ok := frame.(stream.Item)
		if !ok {
			return nil
		}
		result := sendResult{
			To:          item.To,
			Subject:     item.Subject,
			MessageID:   item.MessageID,
			Error:       item.Error,
			Attachments: item.Attachments,
		}
		if item.Status == string(sender.StatusSent) {
			resp.Successes = append(resp.Successes, result)
		} else {
			resp.Failures = append(resp.Failures, result)
		}
		return nil
	})

	summary, err := s.jobs.Run(r.Context(), payload.jobRequest(id), stream.Tee(collect, s.publisher(id)))
	if err != nil {
		if errors.Is(err, job.ErrDisconnected) {
			return
		}
		s.respondError(w, err)
		return
	}
	resp.Sent = summary.Sent
	resp.Failed = summary.Failed
	resp.OK = summary.Failed == 0
	s.respondJSON(w, http.StatusOK, resp)
}

// handleSendStream runs a job and streams its frames as NDJSON. Start
// failures are answered as JSON errors since nothing has been written yet.
func (s *Server) handleSendStream(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	id := s.jobs.NewID()

	enc := stream.NewResponseEncoder(w)
	started := false
	primary := stream.SinkFunc(func(frame stream.Frame) error {
		if !started {
			stream.SetHeaders(w.Header())
			w.Header().Set("X-Job-ID", id)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		return enc.Write(frame)
	})

	_, err := s.jobs.Run(r.Context(), payload.jobRequest(id), stream.Tee(primary, s.publisher(id)))
	if err == nil {
		return
	}
	if !started {
		s.respondError(w, err)
		return
	}
	s.logger.Warn("streaming job ended early", "job_id", id, "error", err)
}
