package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/batchmail/internal/api"
	"github.io/infrasutra/batchmail/internal/auth"
	"github.io/infrasutra/batchmail/internal/config"
	"github.io/infrasutra/batchmail/internal/job"
	"github.io/infrasutra/batchmail/internal/library"
	"github.io/infrasutra/batchmail/internal/profile"
	"github.io/infrasutra/batchmail/internal/smtpserver"
	"github.io/infrasutra/batchmail/internal/sse"
	"github.io/infrasutra/batchmail/internal/store"
	"github.io/infrasutra/batchmail/internal/stream"
	"github.io/infrasutra/batchmail/internal/transport"
)

var senderEnv = map[string]string{
	"SENDER_EMAIL":        "team@org.example",
	"SENDER_APP_PASSWORD": "app-password",
	"SENDER_NAME":         "Org Team",
}

type harness struct {
	handler  http.Handler
	store    *store.Store
	profiles *profile.Store
	hub      *sse.Hub
	inbox    *smtpserver.Inbox
}

type harnessOptions struct {
	env     map[string]string
	cfg     func(*config.Config)
	capture bool
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(ctx, "")
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema(ctx))
	t.Cleanup(func() { _ = st.Close() })

	env := opts.env
	profiles := profile.NewStore([]string{"icpep"}, func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	})

	orchestrator := job.New(profiles, transport.DryRun{}, logger,
		job.Config{BatchPause: time.Millisecond, DefaultDelayMs: 1, DefaultJitterMs: 0},
		job.WithRecorder(st),
		job.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	manager, err := auth.New("test-secret", 0)
	require.NoError(t, err)

	cfg := config.Config{
		MaxRequestBytes: 1 << 20,
		AdminEmail:      "ops@example.com",
		AdminPassword:   "hunter2",
	}
	if opts.cfg != nil {
		opts.cfg(&cfg)
	}

	h := &harness{store: st, profiles: profiles, hub: sse.NewHub()}
	if opts.capture {
		h.inbox = smtpserver.NewInbox(10)
	}
	h.handler = api.NewServer(cfg, api.Deps{
		Profiles: profiles,
		Library: library.New(fstest.MapFS{
			"welcome.html": {Data: []byte("<p>Hi {{ name }}</p>")},
			"notes.txt":    {Data: []byte("not a template")},
		}),
		Jobs:    orchestrator,
		History: st,
		Auth:    manager,
		Hub:     h.hub,
		Inbox:   h.inbox,
	}, logger)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var scenarioA = map[string]any{
	"rows": []map[string]string{
		{"email": "a@x.com", "name": "A"},
		{"email": "", "name": "B"},
		{"email": "c@x.com", "name": "C"},
	},
	"mapping":  map[string]string{"recipient": "email", "name": "name"},
	"template": "Hi {{ name }}",
	"dryRun":   true,
}

func TestHealthAndReady(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv})

	rec := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = h.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestSessionGate(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv, cfg: func(c *config.Config) { c.AuthRequired = true }})

	rec := h.do(t, http.MethodGet, "/api/env", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "ops@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "  OPS@example.com", "password": "hunter2 "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	session := cookies[0]
	assert.Equal(t, "batchmail_session", session.Name)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), session.MaxAge)
	assert.True(t, session.HttpOnly)

	rec = h.do(t, http.MethodGet, "/api/env", nil, session)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/auth/me", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops@example.com", decode(t, rec)["email"])

	rec = h.do(t, http.MethodPost, "/api/auth/logout", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, "", cleared[0].Value)
	assert.Negative(t, cleared[0].MaxAge)

	rec = h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginErrors(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv, cfg: func(c *config.Config) { c.AdminPassword = "" }})

	rec := h.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "ops@example.com", "password": "x"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []any{"ADMIN_PASSWORD"}, decode(t, rec)["missing"])

	h = newHarness(t, harnessOptions{env: senderEnv})
	rec = h.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "ops@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnvUploadJSON(t *testing.T) {
	h := newHarness(t, harnessOptions{env: map[string]string{"SENDER_NAME": "Fallback"}})

	rec := h.do(t, http.MethodPost, "/api/env/upload", map[string]string{
		"envText": "SENDER_EMAIL=club@org.example\nSENDER_APP_PASSWORD=secret\n",
		"profile": "club",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "club", body["profile"])
	assert.Equal(t, []any{"SENDER_EMAIL", "SENDER_APP_PASSWORD"}, body["stored"])
	assert.Equal(t, []any{"SENDER_NAME"}, body["missing"])
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = h.do(t, http.MethodGet, "/api/env", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, true, status["ok"])
	assert.Equal(t, "club", status["activeProfile"])
	source := status["source"].(map[string]any)
	assert.Equal(t, "profile", source["SENDER_EMAIL"])
	assert.Equal(t, "env", source["SENDER_NAME"])

	rec = h.do(t, http.MethodPost, "/api/env/upload", map[string]string{"envText": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/env/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.profiles.Profiles())
}

func TestEnvUploadMultipartNamesProfileAfterFile(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "icpep.env")
	require.NoError(t, err)
	_, err = part.Write([]byte("SENDER_EMAIL=icpep@org.example\nSENDER_APP_PASSWORD=pw\nSENDER_NAME=ICPEP\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/env/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "icpep", body["profile"])
	assert.Equal(t, "icpep", h.profiles.Active())
}

func TestEnvActiveAndVariant(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv})

	rec := h.do(t, http.MethodPost, "/api/env/active", map[string]string{"profile": "ghost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/env/active", map[string]any{"profile": nil})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body, "active")
	assert.Nil(t, body["active"])

	rec = h.do(t, http.MethodPost, "/api/env/variant", map[string]string{"variant": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid variant", decode(t, rec)["error"])

	rec = h.do(t, http.MethodPost, "/api/env/variant", map[string]string{"variant": "ICPEP"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "icpep", decode(t, rec)["variant"])
	assert.Equal(t, "icpep", h.profiles.Variant())
}

func TestTemplates(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv})

	rec := h.do(t, http.MethodGet, "/api/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["welcome.html"]`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/templates/welcome.html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<p>Hi {{ name }}</p>", decode(t, rec)["html"])

	rec = h.do(t, http.MethodGet, "/api/templates/missing.html", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/templates/..", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttachmentsUpload(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"Ana.pdf", "Bob.pdf"} {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("names", "ana"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 1, body["matched"])
	assert.Equal(t, []any{"Bob.pdf"}, body["unmatched"])
	index := body["attachmentsByName"].(map[string]any)
	assert.Contains(t, index, "ana")
	assert.Contains(t, index, "bob")
}

func TestPreview(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv})

	rec := h.do(t, http.MethodPost, "/api/preview", map[string]any{
		"row":             map[string]string{"email": "ana@x.com", "name": "Ana"},
		"mapping":         map[string]string{"recipient": "email", "name": "name"},
		"template":        `<p>Hi {{ name }}</p><script>alert(1)</script>`,
		"subjectTemplate": "{{ name }} Invoice",
		"sanitize":        true,
		"attachmentsByName": map[string]any{
			"ANA ": []map[string]string{{"filename": "Ana.pdf", "contentBase64": "JVBERi0xLjQ="}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "ana@x.com", body["to"])
	assert.Equal(t, "Ana Invoice", body["subject"])
	assert.Contains(t, body["html"], "Hi Ana")
	assert.NotContains(t, body["html"], "<script")
	assert.Equal(t, []any{"Ana.pdf"}, body["attachments"])
	assert.NotContains(t, body, "renderError")

	rec = h.do(t, http.MethodPost, "/api/preview", map[string]any{
		"row":      map[string]string{"name": "Ana"},
		"mapping":  map[string]string{"recipient": "email", "name": "name"},
		"template": "{% if %}",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.NotEmpty(t, body["renderError"])
	assert.Contains(t, body["html"], "{% if %}")
}

func TestPreviewDoesNotReadServerFiles(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv})

	rec := h.do(t, http.MethodPost, "/api/preview", map[string]any{
		"row":      map[string]string{"email": "ana@x.com", "name": "Ana"},
		"mapping":  map[string]string{"recipient": "email", "name": "name"},
		"template": `<p>{% ssi '/etc/passwd' %}</p>`,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.NotEmpty(t, body["renderError"])
	assert.Contains(t, body["html"], "{% ssi '/etc/passwd' %}")
	assert.NotContains(t, body["html"], "root:")
}

func TestPreviewBatches(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv})

	rec := h.do(t, http.MethodPost, "/api/preview/batches", map[string]any{
		"rows": []map[string]string{
			{"email": "a@x.com", "name": "A"},
			{"email": "", "name": "B"},
			{"email": "c@x.com", "name": "C"},
			{"email": "d@x.com", "name": "D"},
		},
		"mapping":   map[string]string{"recipient": "email", "name": "name"},
		"batchSize": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 3, body["total"])
	assert.EqualValues(t, 2, body["batchSize"])
	batches := body["batches"].([]any)
	require.Len(t, batches, 2)
	first := batches[0].(map[string]any)
	assert.Equal(t, []any{"a@x.com", "c@x.com"}, first["recipients"])
	second := batches[1].(map[string]any)
	assert.EqualValues(t, 2, second["start"])

	rec = h.do(t, http.MethodPost, "/api/preview/batches", map[string]any{
		"rows":    []map[string]string{{"email": "a@x.com"}},
		"mapping": map[string]string{"recipient": "email", "name": "name"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []any{"mapping.name"}, decode(t, rec)["fields"])
}

func TestSendRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv})

	rec := h.do(t, http.MethodPost, "/api/send", map[string]any{
		"rows":    []map[string]string{{"email": "a@x.com", "name": "A"}},
		"mapping": map[string]string{"recipient": "email", "name": "name"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []any{"template"}, decode(t, rec)["fields"])

	rec = h.do(t, http.MethodPost, "/api/send/stream", map[string]any{"template": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, decode(t, rec)["fields"], "rows")
}

func TestSendReportsMissingCredentials(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	rec := h.do(t, http.MethodPost, "/api/send/stream", scenarioA)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "sender credentials missing", body["error"])
	assert.Equal(t, []any{"SENDER_EMAIL", "SENDER_APP_PASSWORD"}, body["missing"])
	assert.Empty(t, rec.Header().Get("X-Job-ID"))
}

func TestSendCollectsResults(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv})

	rec := h.do(t, http.MethodPost, "/api/send", scenarioA)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		OK        bool   `json:"ok"`
		JobID     string `json:"jobId"`
		Sent      int    `json:"sent"`
		Failed    int    `json:"failed"`
		Successes []struct {
			To        string `json:"to"`
			MessageID string `json:"messageId"`
		} `json:"successes"`
		Failures []any `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, 2, resp.Sent)
	assert.Zero(t, resp.Failed)
	require.Len(t, resp.Successes, 2)
	assert.Equal(t, "a@x.com", resp.Successes[0].To)
	assert.Equal(t, "c@x.com", resp.Successes[1].To)
	assert.True(t, strings.HasPrefix(resp.Successes[0].MessageID, "dry-run-"))
	assert.Empty(t, resp.Failures)

	rec = h.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.EqualValues(t, 1, list["total"])
	assert.Equal(t, false, list["hasNext"])
	jobs := list["jobs"].([]any)
	require.Len(t, jobs, 1)
	recorded := jobs[0].(map[string]any)
	assert.Equal(t, resp.JobID, recorded["id"])
	assert.Equal(t, store.JobCompleted, recorded["status"])
	assert.Equal(t, true, recorded["dryRun"])
}

func TestSendStream(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv})

	rec := h.do(t, http.MethodPost, "/api/send/stream", scenarioA)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stream.ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	jobID := rec.Header().Get("X-Job-ID")
	require.NotEmpty(t, jobID)

	dec := stream.NewDecoder(rec.Body)
	var records []stream.Record
	for {
		record, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		records = append(records, record)
	}
	require.Len(t, records, 4)
	assert.Equal(t, stream.TypeStart, records[0].Type)
	assert.Equal(t, 2, records[0].Total)
	assert.Equal(t, "a@x.com", records[1].To)
	assert.Equal(t, "c@x.com", records[2].To)
	assert.Equal(t, stream.TypeDone, records[3].Type)
	assert.Equal(t, 2, records[3].Sent+records[3].Failed)

	rec = h.do(t, http.MethodGet, "/api/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode(t, rec)
	assert.Len(t, detail["outcomes"].([]any), 2)

	rec = h.do(t, http.MethodGet, "/api/jobs/"+jobID+"/failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["recipients"])

	rec = h.do(t, http.MethodGet, "/api/jobs/"+jobID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: done\ndata: {\"type\":\"done\",\"sent\":2,\"failed\":0}\n\n", rec.Body.String())
}

func TestJobLookupErrors(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv})

	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/failed", "/api/jobs/nope/events"} {
		rec := h.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestJobEventsFollowRunningJob(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv})
	require.NoError(t, h.store.CreateJob(context.Background(), store.Job{
		ID:        "live",
		Status:    store.JobRunning,
		FromEmail: "team@org.example",
		Total:     1,
		Batches:   1,
		BatchSize: 1,
		StartedAt: time.Now().UTC(),
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/live/events", nil)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		h.handler.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool { return h.hub.Subscribers("live") == 1 }, 2*time.Second, 5*time.Millisecond)
	h.hub.Publish("live", sse.Event{Name: stream.TypeItem, Data: []byte(`{"type":"item","index":0}`)})
	h.hub.Publish("live", sse.Event{Name: stream.TypeDone, Data: []byte(`{"type":"done","sent":1,"failed":0}`)})

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("events handler did not stop after done")
	}
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: ready\n"))
	assert.Contains(t, body, "event: item\ndata: {\"type\":\"item\",\"index\":0}\n\n")
	assert.True(t, strings.HasSuffix(body, "event: done\ndata: {\"type\":\"done\",\"sent\":1,\"failed\":0}\n\n"))
	assert.Zero(t, h.hub.Subscribers("live"))
}

func TestCaptureMessages(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv, capture: true})

	rec := h.do(t, http.MethodGet, "/api/capture/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["messages"])

	rec = h.do(t, http.MethodDelete, "/api/capture/messages", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	h = newHarness(t, harnessOptions{env: senderEnv})
	rec = h.do(t, http.MethodGet, "/api/capture/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestBodyLimit(t *testing.T) {
	h := newHarness(t, harnessOptions{env: senderEnv, cfg: func(c *config.Config) { c.MaxRequestBytes = 64 }})

	rec := h.do(t, http.MethodPost, "/api/send", map[string]any{"template": strings.Repeat("x", 256)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
