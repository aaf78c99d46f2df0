// Package sender delivers one batch of personalized messages, one row at a
// time, with a randomized pause between rows.
package sender

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.io/infrasutra/batchmail/internal/attachment"
	"github.io/infrasutra/batchmail/internal/batch"
	"github.io/infrasutra/batchmail/internal/recipient"
	"github.io/infrasutra/batchmail/internal/render"
	"github.io/infrasutra/batchmail/internal/transport"
)

const (
	DefaultDelay  = 2000 * time.Millisecond
	DefaultJitter = 250 * time.Millisecond
)

type Status string

const (
	StatusSent  Status = "sent"
	StatusError Status = "error"
)

// Outcome is the result of one attempted row. Index is the row position
// among eligible rows.
type Outcome struct {
	Index       int
	Batch       int
	Recipient   string
	Status      Status
	Subject     string
	MessageID   string
	Error       string
	Attachments int
	Timestamp   time.Time
}

// Content is what every message of a job is built from.
type Content struct {
	Template        string
	SubjectTemplate string
	Mapping         recipient.Mapping
	Attachments     attachment.Index
	FromName        string
	FromEmail       string
}

// Throttle is the pause between consecutive rows of a batch.
type Throttle struct {
	Delay  time.Duration
	Jitter time.Duration
}

// NewThrottle builds a throttle from millisecond settings. A delay of zero
// or less and a negative jitter select the defaults.
func NewThrottle(delayMs, jitterMs int) Throttle {
	t := Throttle{Delay: DefaultDelay, Jitter: DefaultJitter}
	if delayMs > 0 {
		t.Delay = time.Duration(delayMs) * time.Millisecond
	}
	if jitterMs >= 0 {
		t.Jitter = time.Duration(jitterMs) * time.Millisecond
	}
	return t
}

// Wait returns delay plus a uniform offset in [-jitter, +jitter], truncated
// to whole milliseconds and never negative. r is a sample from [0, 1).
func (t Throttle) Wait(r float64) time.Duration {
	jitterMs := float64(t.Jitter.Milliseconds())
	offset := time.Duration(math.Floor((r*2-1)*jitterMs)) * time.Millisecond
	if wait := t.Delay + offset; wait > 0 {
		return wait
	}
	return 0
}

// Emit receives outcomes in row order. A non-nil error stops the batch.
type Emit func(Outcome) error

type Sender struct {
	throttle Throttle
	logger   *slog.Logger
	rand     func() float64
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
}

type Option func(*Sender)

func WithRand(fn func() float64) Option {
	return func(s *Sender) { s.rand = fn }
}

func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Sender) { s.sleep = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(s *Sender) { s.now = fn }
}

func New(throttle Throttle, logger *slog.Logger, opts ...Option) *Sender {
	s := &Sender{
		throttle: throttle,
		logger:   logger,
		rand:     rand.Float64,
		sleep:    Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendBatch sends every row of b through tr and emits one outcome per row.
// Per-row failures become error outcomes. It stops early, returning the
// cause, only when ctx is done or emit fails. A send already handed to the
// transport is allowed to finish.
func (s *Sender) SendBatch(ctx context.Context, b batch.Batch, tr transport.Transport, content Content, emit Emit) error {
	for i, row := range b.Rows {
		if i > 0 {
			if err := s.sleep(ctx, s.throttle.Wait(s.rand())); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome := s.sendRow(ctx, tr, content, row, b.Number, b.Start+i)
		if err := emit(outcome); err != nil {
			return err
		}
	}
	return nil
}

// FailBatch emits an error outcome for every row of b with the same reason.
func (s *Sender) FailBatch(b batch.Batch, content Content, reason error, emit Emit) error {
	for i, row := range b.Rows {
		outcome := s.prepare(content, row, b.Number, b.Start+i)
		outcome.Status = StatusError
		outcome.Error = reason.Error()
		outcome.Timestamp = s.now().UTC()
		if err := emit(outcome); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) prepare(content Content, row recipient.Row, batchNumber, index int) Outcome {
	return Outcome{
		Index:       index,
		Batch:       batchNumber,
		Recipient:   content.Mapping.Address(row),
		Subject:     render.Subject(content.SubjectTemplate, row, content.Mapping),
		Attachments: len(attachment.Resolve(row, content.Mapping, content.Attachments)),
	}
}

func (s *Sender) sendRow(ctx context.Context, tr transport.Transport, content Content, row recipient.Row, batchNumber, index int) Outcome {
	outcome := s.prepare(content, row, batchNumber, index)

	html, err := render.Body(content.Template, recipient.Context(row, content.Mapping))
	if err != nil {
		s.logger.Warn("template render failed, sending annotated body", "to", outcome.Recipient, "error", err)
	}

	files, err := decodeAttachments(attachment.Resolve(row, content.Mapping, content.Attachments))
	if err != nil {
		return s.fail(outcome, err)
	}

	msg := &transport.Message{
		FromName:    content.FromName,
		FromEmail:   content.FromEmail,
		To:          outcome.Recipient,
		Subject:     outcome.Subject,
		HTML:        html,
		Attachments: files,
	}
	messageID, err := tr.Send(context.WithoutCancel(ctx), msg)
	if err != nil {
		return s.fail(outcome, err)
	}
	outcome.Status = StatusSent
	outcome.MessageID = messageID
	outcome.Timestamp = s.now().UTC()
	s.logger.Debug("message sent", "index", index, "to", outcome.Recipient, "message_id", messageID)
	return outcome
}

func (s *Sender) fail(outcome Outcome, err error) Outcome {
	outcome.Status = StatusError
	outcome.Error = err.Error()
	outcome.Timestamp = s.now().UTC()
	s.logger.Warn("message failed", "index", outcome.Index, "to", outcome.Recipient, "error", err)
	return outcome
}

func decodeAttachments(entries []attachment.Entry) ([]transport.Attachment, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	files := make([]transport.Attachment, 0, len(entries))
	for _, entry := range entries {
		data, err := entry.Decode()
		if err != nil {
			return nil, err
		}
		files = append(files, transport.Attachment{
			Filename:    entry.Filename,
			ContentType: entry.MediaType(),
			Content:     data,
		})
	}
	return files, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
