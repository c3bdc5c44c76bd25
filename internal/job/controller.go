package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/engine"
	"github.com/fmueller/voxserve/internal/source"
	"github.com/fmueller/voxserve/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	// SilenceGate skips the engine for WAV artifacts quieter than SilenceDBFS.
	// SilenceDBFS is used as given, so 0 means full scale; config.Default
	// carries the usual threshold.
	SilenceGate bool
	SilenceDBFS float64
	Logger      *zap.Logger
	Now         func() time.Time
}

type Request struct {
	Language string
	Source   source.Source
}

// Controller sequences store, source, engine and sink for every job. It is
// safe for concurrent use; each job gets its own slot and goroutine.
type Controller struct {
	store       store.Store
	transcriber engine.Transcriber
	opts        Options
	logger      *zap.Logger

	wg sync.WaitGroup
}

func NewController(st store.Store, transcriber engine.Transcriber, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		store:       st,
		transcriber: transcriber,
		opts:        opts,
		logger:      logger,
	}
}

// Start runs the job on its own goroutine and returns it in the created state.
func (c *Controller) Start(ctx context.Context, req Request, sink Sink) Job {
	r := c.newRun(req, sink)
	created := *r.job

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		r.run(context.WithoutCancel(ctx))
	}()
	return created
}

// Run executes the job on the calling goroutine and returns it in its
// terminal state.
func (c *Controller) Run(ctx context.Context, req Request, sink Sink) Job {
	r := c.newRun(req, sink)

	c.wg.Add(1)
	defer c.wg.Done()
	r.run(context.WithoutCancel(ctx))
	return *r.job
}

// Wait blocks until every started job has reached a terminal state.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) newRun(req Request, sink Sink) *jobRun {
	j := &Job{
		ID:        uuid.NewString(),
		Language:  req.Language,
		State:     StateCreated,
		CreatedAt: c.opts.Now(),
	}
	if req.Source != nil {
		j.Kind = req.Source.Kind()
		if timed, ok := req.Source.(interface{ Duration() time.Duration }); ok {
			j.Duration = timed.Duration()
		}
	}
	return &jobRun{
		c:      c,
		job:    j,
		src:    req.Source,
		sink:   sink,
		logger: c.logger.With(zap.String("job", j.ID)),
	}
}

type jobRun struct {
	c      *Controller
	job    *Job
	src    source.Source
	sink   Sink
	logger *zap.Logger
	seq    int
}

type failure struct {
	kind   Kind
	detail string
}

func (r *jobRun) run(ctx context.Context) {
	started := r.c.opts.Now()
	result, fail := r.execute(ctx)

	if fail != nil {
		r.job.State = StateFailed
		r.logger.Warn("job failed",
			zap.String("kind", string(fail.kind)),
			zap.String("detail", fail.detail),
			zap.Duration("elapsed", r.c.opts.Now().Sub(started)))
		r.emit(Failed(fail.kind, fail.detail))
		return
	}

	r.job.State = StateCompleted
	r.logger.Info("job completed", zap.Duration("elapsed", r.c.opts.Now().Sub(started)))
	r.emit(Completed(result))
}

// execute walks the job through its stages. The slot is released in the
// deferred cleanup, so it is gone before run emits the terminal event.
func (r *jobRun) execute(ctx context.Context) (result Result, fail *failure) {
	var slot *store.Slot
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job panicked",
				zap.String("state", string(r.job.State)),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			fail = &failure{kind: stageKind(r.job.State), detail: fmt.Sprintf("internal error during %s: %v", r.job.State, p)}
		}
		if slot != nil {
			r.release(slot)
		}
	}()

	if r.src == nil {
		return Result{}, r.failWith(errors.New("job has no audio source"), KindCaptureInterrupted)
	}
	if r.c.store == nil {
		return Result{}, r.failWith(errors.New("no store configured"), KindStorageUnavailable)
	}

	acquired, err := r.c.store.Acquire(r.job.ID)
	if err != nil {
		return Result{}, r.failWith(err, KindStorageUnavailable)
	}
	slot = acquired

	if f := r.advance(StateCapturing); f != nil {
		return Result{}, f
	}
	r.progress(captureMessage(r.job))

	meta, err := r.src.Produce(ctx, slot, r.progress)
	if err != nil {
		return Result{}, r.failWith(err, KindCaptureInterrupted)
	}

	if f := r.advance(StateStoring); f != nil {
		return Result{}, f
	}
	art, err := r.c.store.Commit(slot, meta)
	if err != nil {
		return Result{}, r.failWith(err, KindWriteFailed)
	}
	r.logger.Debug("artifact committed",
		zap.String("format", art.Format),
		zap.Int64("bytes", art.Size),
		zap.Int("sample_rate", art.SampleRate))

	if f := r.advance(StateTranscribing); f != nil {
		return Result{}, f
	}
	r.progress("transcribing…")

	if r.silent(art) {
		return Result{Text: NoSpeechText, Language: r.job.Language}, nil
	}
	if r.c.transcriber == nil {
		return Result{}, r.failWith(errors.New("no transcription engine configured"), KindEngineNotReady)
	}

	res, err := r.c.transcriber.Transcribe(ctx, art, r.job.Language)
	if err != nil {
		return Result{}, r.failWith(err, KindTranscriptionFailed)
	}
	res.Text = normalizeText(res.Text)
	if res.Language == "" {
		res.Language = r.job.Language
	}
	return res, nil
}

// release never lets a store failure escape the job goroutine.
func (r *jobRun) release(slot *store.Slot) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("slot release panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
		}
	}()
	if err := r.c.store.Release(slot); err != nil {
		r.logger.Warn("failed to release slot", zap.Error(err))
	}
}

func (r *jobRun) advance(to State) *failure {
	from := r.job.State
	if !validTransition(from, to) {
		return &failure{kind: stageKind(from), detail: fmt.Sprintf("invalid transition %s -> %s", from, to)}
	}
	r.job.State = to
	r.logger.Debug("job state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

func (r *jobRun) failWith(err error, fallback Kind) *failure {
	return &failure{kind: Classify(err, fallback), detail: err.Error()}
}

func (r *jobRun) progress(message string) {
	r.emit(Progress(message))
}

func (r *jobRun) emit(ev Event) {
	if r.sink == nil {
		return
	}
	r.seq++
	ev.JobID = r.job.ID
	ev.Seq = r.seq
	ev.Time = r.c.opts.Now()
	r.sink.Accept(ev)
}

// silent applies the optional silence gate. Analysis errors let the engine
// decide.
func (r *jobRun) silent(art store.Artifact) bool {
	if !r.c.opts.SilenceGate || art.Format != audio.FormatWAV {
		return false
	}

	reader, err := art.Open()
	if err != nil {
		r.logger.Warn("silence gate could not open artifact; continuing transcription", zap.Error(err))
		return false
	}
	defer reader.Close()

	silent, metrics, err := audio.IsSilentWAV(reader, r.c.opts.SilenceDBFS)
	if err != nil {
		r.logger.Warn("silence gate analysis failed; continuing transcription", zap.Error(err))
		return false
	}
	if !silent {
		return false
	}

	r.logger.Info("audio considered silent; skipping transcription",
		zap.Float64("rms_dbfs", metrics.RMSdBFS),
		zap.Float64("peak_dbfs", metrics.PeakdBFS),
		zap.Float64("threshold_dbfs", r.c.opts.SilenceDBFS))
	return true
}

func captureMessage(j *Job) string {
	if j.Kind != source.KindMicrophone {
		return "receiving upload…"
	}
	seconds := int(j.Duration.Round(time.Second) / time.Second)
	if seconds == 1 {
		return "recording 1 second…"
	}
	return fmt.Sprintf("recording %d seconds…", seconds)
}
