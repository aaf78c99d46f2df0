package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"github.io/infrasutra/batchmail/internal/attachment"
	"github.io/infrasutra/batchmail/internal/batch"
	"github.io/infrasutra/batchmail/internal/library"
	"github.io/infrasutra/batchmail/internal/recipient"
	"github.io/infrasutra/batchmail/internal/render"
)

const multipartMemory = 32 << 20

var (
	previewPolicy     *bluemonday.Policy
	previewPolicyOnce sync.Once
)

// sanitizePreview strips scripts and event handlers while keeping the
// layout markup email templates rely on.
func sanitizePreview(html string) string {
	previewPolicyOnce.Do(func() {
		previewPolicy = bluemonday.UGCPolicy()
		previewPolicy.AllowStyling()
		previewPolicy.AllowElements("center", "font", "span", "div", "table", "thead", "tbody", "tr", "td", "th")
		previewPolicy.AllowAttrs("align", "valign", "width", "height", "bgcolor", "border", "cellpadding", "cellspacing").Globally()
	})
	return previewPolicy.Sanitize(html)
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// normalizeIndex re-keys an index received from a client so lookups match
// attachment.Resolve.
func normalizeIndex(in attachment.Index) attachment.Index {
	if len(in) == 0 {
		return nil
	}
	keys := make([]string, 0, len(in))
	for key := range in {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := attachment.Index{}
	for _, key := range keys {
		normalized := attachment.NormalizeKey(key)
		out[normalized] = append(out[normalized], in[key]...)
	}
	return out
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	names, err := s.library.List()
	if err != nil {
		s.logger.Error("list templates", "error", err)
		s.fail(w, http.StatusInternalServerError, "failed to read templates directory")
		return
	}
	s.respondJSON(w, http.StatusOK, names)
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	html, err := s.library.Get(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, library.ErrInvalidName):
		s.fail(w, http.StatusBadRequest, "invalid template id")
		return
	case errors.Is(err, library.ErrNotFound):
		s.fail(w, http.StatusNotFound, "template not found")
		return
	case err != nil:
		s.logger.Error("read template", "error", err)
		s.fail(w, http.StatusInternalServerError, "failed to read template")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"html": html})
}

type attachmentsResponse struct {
	OK                bool             `json:"ok"`
	AttachmentsByName attachment.Index `json:"attachmentsByName"`
	Count             int              `json:"count"`
	Matched           int              `json:"matched"`
	Unmatched         []string         `json:"unmatched"`
}

// handleAttachments builds an attachment index from multipart "files". When
// "names" values are given the response reports which files match them.
func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.fail(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	index := attachment.Index{}
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			s.fail(w, http.StatusBadRequest, "unable to read "+header.Filename)
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			s.fail(w, http.StatusBadRequest, "unable to read "+header.Filename)
			return
		}
		index.Add(header.Filename, data, header.Header.Get("Content-Type"))
	}

	resp := attachmentsResponse{
		OK:                true,
		AttachmentsByName: index,
		Count:             index.Count(),
		Unmatched:         []string{},
	}
	if names := r.MultipartForm.Value["names"]; len(names) > 0 {
		resp.Matched, resp.Unmatched = index.Match(names)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type previewRequest struct {
	Row               recipient.Row     `json:"row"`
	Mapping           recipient.Mapping `json:"mapping"`
	Template          string            `json:"template"`
	SubjectTemplate   string            `json:"subjectTemplate"`
	AttachmentsByName attachment.Index  `json:"attachmentsByName"`
	Sanitize          bool              `json:"sanitize"`
}

type previewResponse struct {
	OK          bool     `json:"ok"`
	To          string   `json:"to"`
	Subject     string   `json:"subject"`
	HTML        string   `json:"html"`
	Attachments []string `json:"attachments"`
	RenderError string   `json:"renderError,omitempty"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Template) == "" {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required fields", Fields: []string{"template"}})
		return
	}

	html, err := render.Body(req.Template, recipient.Context(req.Row, req.Mapping))
	resp := previewResponse{
		OK:          true,
		To:          req.Mapping.Address(req.Row),
		Subject:     render.Subject(req.SubjectTemplate, req.Row, req.Mapping),
		Attachments: []string{},
	}
	if err != nil {
		resp.RenderError = err.Error()
	}
	if req.Sanitize {
		html = sanitizePreview(html)
	}
	resp.HTML = html
	for _, entry := range attachment.Resolve(req.Row, req.Mapping, normalizeIndex(req.AttachmentsByName)) {
		resp.Attachments = append(resp.Attachments, entry.Filename)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type planRequest struct {
	Rows              []recipient.Row   `json:"rows"`
	Mapping           recipient.Mapping `json:"mapping"`
	AttachmentsByName attachment.Index  `json:"attachmentsByName"`
	BatchSize         int               `json:"batchSize"`
}

type plannedBatch struct {
	Number     int      `json:"number"`
	Start      int      `json:"start"`
	Size       int      `json:"size"`
	Recipients []string `json:"recipients"`
}

type planResponse struct {
	OK        bool           `json:"ok"`
	Total     int            `json:"total"`
	BatchSize int            `json:"batchSize"`
	Limit     int            `json:"limit"`
	LargePDF  bool           `json:"largePdf"`
	Batches   []plannedBatch `json:"batches"`
}

func (s *Server) handlePreviewBatches(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	var fields []string
	if req.Rows == nil {
		fields = append(fields, "rows")
	}
	fields = append(fields, req.Mapping.Validate(req.Rows)...)
	if len(fields) > 0 {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required fields", Fields: fields})
		return
	}

	index := normalizeIndex(req.AttachmentsByName)
	eligible := recipient.Eligible(req.Rows, req.Mapping)
	limit := batch.Limit(index)
	resp := planResponse{
		OK:        true,
		Total:     len(eligible),
		BatchSize: batch.Clamp(req.BatchSize, limit),
		Limit:     limit,
		LargePDF:  batch.HasLargePDF(index),
		Batches:   []plannedBatch{},
	}
	for _, b := range batch.Plan(eligible, index, req.BatchSize) {
		resp.Batches = append(resp.Batches, plannedBatch{
			Number:     b.Number,
			Start:      b.Start,
			Size:       len(b.Rows),
			Recipients: recipient.Addresses(b.Rows, req.Mapping),
		})
	}
	s.respondJSON(w, http.StatusOK, resp)
}
