// Package job runs a send job end to end: it validates the request, plans
// batches, sends them one after another and reports progress to a sink.
package job

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.io/infrasutra/batchmail/internal/attachment"
	"github.io/infrasutra/batchmail/internal/recipient"
	"github.io/infrasutra/batchmail/internal/sender"
	"github.io/infrasutra/batchmail/internal/store"
	"github.io/infrasutra/batchmail/internal/transport"
)

// ErrDisconnected is returned when the consumer went away mid-job.
var ErrDisconnected = errors.New("consumer disconnected")

const DefaultBatchPause = 200 * time.Millisecond

// ValidationError lists the request fields that prevent a job from
// starting.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid send request: " + strings.Join(e.Fields, ", ")
}

type Request struct {
	// ID is assigned when empty.
	ID              string
	Rows            []recipient.Row
	Mapping         recipient.Mapping
	Template        string
	SubjectTemplate string
	Attachments     attachment.Index
	BatchSize       int
	DelayMs         int
	// JitterMs below zero selects the configured default.
	JitterMs int
	DryRun   bool
}

// Validate reports missing rows or template and mapping columns that do
// not exist in the rows.
func (r Request) Validate() error {
	var fields []string
	if r.Rows == nil {
		fields = append(fields, "rows")
	}
	if strings.TrimSpace(r.Template) == "" {
		fields = append(fields, "template")
	}
	fields = append(fields, r.Mapping.Validate(r.Rows)...)
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

type Summary struct {
	JobID     string `json:"jobId"`
	Total     int    `json:"total"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Batches   int    `json:"batches"`
	BatchSize int    `json:"batchSize"`
}

// CredentialSource resolves the sender identity at job start.
type CredentialSource interface {
	Credentials(ctx context.Context) (transport.Credentials, error)
}

// Recorder keeps job history.
type Recorder interface {
	CreateJob(ctx context.Context, job store.Job) error
	RecordOutcome(ctx context.Context, outcome store.Outcome) error
	FinishJob(ctx context.Context, id, status string, sent, failed int, finishedAt time.Time) error
}

type Config struct {
	BatchPause      time.Duration
	DefaultDelayMs  int
	DefaultJitterMs int
}

type Option func(*Orchestrator)

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithDryRunFactory(f transport.Factory) Option {
	return func(o *Orchestrator) { o.dryRun = f }
}

func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) { o.now = fn }
}

func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

type Orchestrator struct {
	creds    CredentialSource
	live     transport.Factory
	dryRun   transport.Factory
	recorder Recorder
	logger   *slog.Logger
	cfg      Config
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
	newID    func() string
}

func New(creds CredentialSource, factory transport.Factory, logger *slog.Logger, cfg Config, opts ...Option) *Orchestrator {
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = DefaultBatchPause
	}
	o := &Orchestrator{
		creds:  creds,
		live:   factory,
		dryRun: transport.DryRun{},
		logger: logger,
		cfg:    cfg,
		sleep:  sender.Sleep,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewID returns an identifier suitable for Request.ID.
func (o *Orchestrator) NewID() string {
	return o.newID()
}
