package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.io/infrasutra/batchmail/internal/batch"
	"github.io/infrasutra/batchmail/internal/recipient"
	"github.io/infrasutra/batchmail/internal/sender"
	"github.io/infrasutra/batchmail/internal/store"
	"github.io/infrasutra/batchmail/internal/stream"
	"github.io/infrasutra/batchmail/internal/transport"
)

// Run executes req and writes start, item and done frames to sink.
// Validation and credential errors are returned before anything is
// written. Per-recipient and per-batch failures are reported as error
// items and never end the job early. If ctx is done or sink fails, no
// further rows are started and ErrDisconnected is returned with the
// counts reached so far.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink stream.Sink) (Summary, error) {
	if err := req.Validate(); err != nil {
		return Summary{}, err
	}
	creds, err := o.creds.Credentials(ctx)
	if err != nil {
		return Summary{}, err
	}

	id := req.ID
	if id == "" {
		id = o.newID()
	}
	eligible := recipient.Eligible(req.Rows, req.Mapping)
	batches := batch.Plan(eligible, req.Attachments, req.BatchSize)
	summary := Summary{
		JobID:     id,
		Total:     len(eligible),
		Batches:   len(batches),
		BatchSize: batch.Clamp(req.BatchSize, batch.Limit(req.Attachments)),
	}

	factory := o.live
	if req.DryRun {
		factory = o.dryRun
	}

	r := &run{
		orchestrator: o,
		id:           id,
		logger:       o.logger.With("job_id", id),
		factory:      factory,
		creds:        creds,
		sink:         sink,
		summary:      &summary,
		content: sender.Content{
			Template:        req.Template,
			SubjectTemplate: req.SubjectTemplate,
			Mapping:         req.Mapping,
			Attachments:     req.Attachments,
			FromName:        creds.FromName,
			FromEmail:       creds.FromEmail,
		},
		sender: sender.New(
			o.throttle(req),
			o.logger.With("job_id", id),
			sender.WithSleep(o.sleep),
			sender.WithClock(o.now),
		),
	}

	r.logger.Info("job started",
		"total", summary.Total,
		"batches", summary.Batches,
		"batch_size", summary.BatchSize,
		"dry_run", req.DryRun,
		"from", creds.FromEmail,
	)
	r.record(func(ctx context.Context, rec Recorder) error {
		return rec.CreateJob(ctx, store.Job{
			ID:        id,
			Status:    store.JobRunning,
			FromEmail: creds.FromEmail,
			DryRun:    req.DryRun,
			Total:     summary.Total,
			Batches:   summary.Batches,
			BatchSize: summary.BatchSize,
			StartedAt: o.now().UTC(),
		})
	})

	runErr := r.execute(ctx, batches)

	status := store.JobCompleted
	if runErr != nil {
		status = store.JobDisconnected
		r.logger.Warn("job stopped, consumer disconnected",
			"sent", summary.Sent,
			"failed", summary.Failed,
			"remaining", summary.Total-summary.Sent-summary.Failed,
			"error", runErr,
		)
	} else {
		r.logger.Info("job completed", "sent", summary.Sent, "failed", summary.Failed)
	}
	r.record(func(ctx context.Context, rec Recorder) error {
		return rec.FinishJob(ctx, id, status, summary.Sent, summary.Failed, o.now().UTC())
	})

	if runErr != nil {
		return summary, ErrDisconnected
	}
	return summary, nil
}

func (o *Orchestrator) throttle(req Request) sender.Throttle {
	delay := req.DelayMs
	if delay <= 0 {
		delay = o.cfg.DefaultDelayMs
	}
	jitter := req.JitterMs
	if jitter < 0 {
		jitter = o.cfg.DefaultJitterMs
	}
	return sender.NewThrottle(delay, jitter)
}

type run struct {
	orchestrator *Orchestrator
	id           string
	logger       *slog.Logger
	factory      transport.Factory
	creds        transport.Credentials
	sink         stream.Sink
	summary      *Summary
	content      sender.Content
	sender       *sender.Sender
	transport    transport.Transport
}

func (r *run) execute(ctx context.Context, batches []batch.Batch) error {
	if err := r.sink.Write(stream.NewStart(r.summary.Total)); err != nil {
		return err
	}
	defer r.closeTransport()

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			if err := r.orchestrator.sleep(ctx, r.orchestrator.cfg.BatchPause); err != nil {
				return err
			}
		}
		r.logger.Debug("batch started", "batch", b.Number, "size", len(b.Rows), "start", b.Start)

		tr, err := r.openTransport(ctx)
		if err != nil {
			r.logger.Warn("transport unavailable, failing batch", "batch", b.Number, "error", err)
			if err := r.sender.FailBatch(b, r.content, err, r.emit); err != nil {
				return err
			}
			continue
		}
		if err := r.sender.SendBatch(ctx, b, tr, r.content, r.emit); err != nil {
			return err
		}
	}

	return r.sink.Write(stream.NewDone(r.summary.Sent, r.summary.Failed))
}

// openTransport opens the job's transport on first use and reuses it.
// A failed open is retried by the next batch.
func (r *run) openTransport(ctx context.Context) (transport.Transport, error) {
	if r.transport != nil {
		return r.transport, nil
	}
	tr, err := r.factory.Open(ctx, r.creds)
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}
	r.transport = tr
	return tr, nil
}

func (r *run) closeTransport() {
	if r.transport == nil {
		return
	}
	if err := r.transport.Close(); err != nil {
		r.logger.Debug("close transport", "error", err)
	}
}

func (r *run) emit(outcome sender.Outcome) error {
	if outcome.Status == sender.StatusSent {
		r.summary.Sent++
	} else {
		r.summary.Failed++
	}
	r.record(func(ctx context.Context, rec Recorder) error {
		return rec.RecordOutcome(ctx, store.Outcome{
			JobID:       r.id,
			Index:       outcome.Index,
			Batch:       outcome.Batch,
			Recipient:   outcome.Recipient,
			Status:      string(outcome.Status),
			Subject:     outcome.Subject,
			MessageID:   outcome.MessageID,
			Error:       outcome.Error,
			Attachments: outcome.Attachments,
			SentAt:      outcome.Timestamp,
		})
	})
	return r.sink.Write(stream.NewItem(outcome))
}

// record writes history without letting a history failure affect the job.
func (r *run) record(fn func(context.Context, Recorder) error) {
	rec := r.orchestrator.recorder
	if rec == nil {
		return
	}
	if err := fn(context.Background(), rec); err != nil {
		r.logger.Warn("record job history", "error", err)
	}
}
