// Package archive implements the save-and-archive pipeline: flush the
// replay buffer, wait for the file to settle, find it, upload it, and drop
// the local copy only after the sink confirmed the upload.
//
// Every blocking step runs on the bridge pool. A run always finishes with
// exactly one Outcome; failures are reported on the Run, never as a panic
// or a half-finished state.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/obs-relay/artifact"
	"github.com/onnwee/obs-relay/bridge"
	"github.com/onnwee/obs-relay/fault"
	"github.com/onnwee/obs-relay/telemetry"
)

// Stage is a pipeline step.
type Stage int

const (
	Idle Stage = iota
	Saving
	Settling
	Locating
	Uploading
	Deciding
	Done
)

func (s Stage) String() string {
	switch s {
	case Saving:
		return "saving"
	case Settling:
		return "settling"
	case Locating:
		return "locating"
	case Uploading:
		return "uploading"
	case Deciding:
		return "deciding"
	case Done:
		return "done"
	default:
		return "idle"
	}
}

// Outcome is the terminal classification of a run.
type Outcome int

const (
	// Pending means the run has not finished.
	Pending Outcome = iota
	// Success means the sink confirmed the upload.
	Success
	// SavedOnly means the replay was saved but no sink is configured.
	SavedOnly
	// UploadFailed covers a failed save and a failed upload; Saved tells them apart.
	UploadFailed
	// LocateFailed means the replay was saved but no file could be found.
	LocateFailed
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case SavedOnly:
		return "saved_only"
	case UploadFailed:
		return "upload_failed"
	case LocateFailed:
		return "locate_failed"
	default:
		return "pending"
	}
}

// Upload is what the sink returns for a stored file.
type Upload struct {
	ID   string
	Link string
}

// Sink stores one local file remotely.
type Sink interface {
	Upload(ctx context.Context, path string) (Upload, error)
}

// Capture is the subset of the control connection the pipeline needs.
type Capture interface {
	SaveReplayBuffer(ctx context.Context) error
	GetRecordDirectory(ctx context.Context) (string, error)
}

// Run records one pipeline execution. It is not persisted by this package.
type Run struct {
	RequestedAt  time.Time
	FinishedAt   time.Time
	Stage        Stage
	Saved        bool
	ArtifactPath string
	ArtifactSize int64
	UploadID     string
	UploadLink   string
	Deleted      bool
	Outcome      Outcome
	Err          error // cause of a non-success outcome
	DeleteErr    error // cleanup failure after a successful upload
}

// Options tunes a Pipeline.
type Options struct {
	// RecordDir overrides the directory reported by the capture application.
	RecordDir     string
	Extensions    []string
	SettleDelay   time.Duration
	UploadTimeout time.Duration
	// OnStage, if set, is called on the pipeline goroutine at each transition.
	OnStage func(Run)
	// Remove deletes the local artifact; defaults to artifact.Remove.
	Remove func(path string) error
}

// Pipeline runs save-and-archive requests.
type Pipeline struct {
	capture Capture
	sink    Sink
	pool    *bridge.Pool
	opts    Options
}

// New returns a pipeline. sink may be nil, in which case runs end SavedOnly.
func New(capture Capture, sink Sink, pool *bridge.Pool, opts Options) *Pipeline {
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 10 * time.Minute
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = artifact.DefaultExtensions
	}
	if opts.Remove == nil {
		opts.Remove = artifact.Remove
	}
	return &Pipeline{capture: capture, sink: sink, pool: pool, opts: opts}
}

// SinkConfigured reports whether runs attempt an upload.
func (p *Pipeline) SinkConfigured() bool { return p.sink != nil }

// Run executes one save-and-archive request to completion.
func (p *Pipeline) Run(ctx context.Context) *Run { return p.RunNotify(ctx, nil) }

// RunNotify is Run with an extra per-run stage hook.
func (p *Pipeline) RunNotify(ctx context.Context, onStage func(Run)) *Run {
	ctx, span := telemetry.StartSpan(ctx, "archive", "archive.run")
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "archive"))

	r := &Run{RequestedAt: time.Now()}
	n := &notifier{global: p.opts.OnStage, local: onStage}
	p.run(ctx, r, n, logger)
	span.SetAttributes(telemetry.StageAttr(r.Stage.String())) // last stage reached
	r.FinishedAt = time.Now()
	n.advance(r, Done)

	telemetry.RecordArchiveOutcome(r.Outcome.String())
	span.SetAttributes(telemetry.OutcomeAttr(r.Outcome.String()))
	if r.Err != nil {
		telemetry.RecordError(span, r.Err)
	} else {
		telemetry.SetSpanSuccess(span)
	}
	attrs := []any{
		slog.String("outcome", r.Outcome.String()),
		slog.String("artifact", r.ArtifactPath),
		slog.String("upload_id", r.UploadID),
		slog.Duration("took", r.FinishedAt.Sub(r.RequestedAt)),
	}
	if r.Err != nil {
		attrs = append(attrs, slog.Any("err", r.Err))
		logger.Warn("archive run finished", attrs...)
	} else {
		logger.Info("archive run finished", attrs...)
	}
	return r
}

func (p *Pipeline) run(ctx context.Context, r *Run, n *notifier, logger *slog.Logger) {
	n.advance(r, Saving)
	if err := bridge.Exec(ctx, p.pool, "save_replay", func() error {
		return p.capture.SaveReplayBuffer(ctx)
	}); err != nil {
		r.Outcome, r.Err = UploadFailed, err
		return
	}
	r.Saved = true

	// Without a sink the run is archived locally once the save succeeded;
	// locating only fills in the path for the reply.
	failed := LocateFailed
	if p.sink == nil {
		failed = SavedOnly
	}

	n.advance(r, Settling)
	if err := sleep(ctx, p.opts.SettleDelay); err != nil {
		r.Outcome, r.Err = failed, err
		return
	}

	n.advance(r, Locating)
	found, err := p.locate(ctx)
	if err != nil {
		r.Outcome = failed
		if p.sink == nil {
			logger.Warn("saved replay not located", slog.Any("err", err))
		} else {
			r.Err = err
		}
		return
	}
	r.ArtifactPath, r.ArtifactSize = found.Path, found.Size

	n.advance(r, Uploading)
	if p.sink == nil {
		r.Outcome = SavedOnly
		return
	}
	up, err := p.upload(ctx, found.Path)
	if err != nil {
		r.Outcome, r.Err = UploadFailed, err
		return
	}
	r.UploadID, r.UploadLink = up.ID, up.Link

	n.advance(r, Deciding)
	r.Outcome = Success
	if err := bridge.Exec(ctx, p.pool, "delete_artifact", func() error {
		return p.opts.Remove(found.Path)
	}); err != nil {
		r.DeleteErr = err
		logger.Warn("uploaded artifact could not be deleted", slog.String("path", found.Path), slog.Any("err", err))
		return
	}
	r.Deleted = true
}

func (p *Pipeline) locate(ctx context.Context) (artifact.Artifact, error) {
	dir := p.opts.RecordDir
	if dir == "" {
		d, err := bridge.Do(ctx, p.pool, "record_directory", func() (string, error) {
			return p.capture.GetRecordDirectory(ctx)
		})
		if err != nil {
			return artifact.Artifact{}, fmt.Errorf("resolve record directory: %w", err)
		}
		dir = d
	}
	return bridge.Do(ctx, p.pool, "locate_artifact", func() (artifact.Artifact, error) {
		return artifact.LocateLatest(dir, p.opts.Extensions)
	})
}

func (p *Pipeline) upload(ctx context.Context, path string) (Upload, error) {
	uctx, cancel := context.WithTimeout(ctx, p.opts.UploadTimeout)
	defer cancel()
	up, err := bridge.Do(uctx, p.pool, "upload", func() (Upload, error) {
		return p.sink.Upload(uctx, path)
	})
	if err != nil {
		if fault.KindOf(err) == fault.KindUnknown {
			err = fault.New(fault.UploadFailed, "archive.upload", err)
		}
		return Upload{}, err
	}
	if up.ID == "" {
		return Upload{}, fault.Newf(fault.UploadFailed, "archive.upload", "sink returned no file id")
	}
	return up, nil
}

type notifier struct {
	global, local func(Run)
}

func (n *notifier) advance(r *Run, s Stage) {
	r.Stage = s
	if n.global != nil {
		n.global(*r)
	}
	if n.local != nil {
		n.local(*r)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
