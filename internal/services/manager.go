package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coah80/enhancer/internal/jobs"
	"github.com/coah80/enhancer/internal/storage"
)

const (
	msgStarting    = "Starting video processing..."
	msgCompleted   = "Video processing completed successfully"
	msgInterrupted = "interrupted by server restart"
	errorPrefix    = "Error processing video: "

	finalizeTimeout = 30 * time.Second
	estimateTimeout = 5 * time.Second
)

var errStale = errors.New("stale update")

// JobRunner executes one enhancement run.
type JobRunner interface {
	Run(ctx context.Context, req RunRequest, updates chan<- Update) error
	Estimate(ctx context.Context, input string, opts Options) int
}

// Mirror receives finished outputs. Failures never fail a run.
type Mirror interface {
	Put(ctx context.Context, id, path string) error
	RemovePrefix(ctx context.Context, id string) (int, error)
}

type Notifier interface {
	RunFailed(id, filename, message string)
}

// Observer is told about job lifecycle events, mostly for metrics.
type Observer interface {
	UploadAccepted(bytes int64)
	RunStarted()
	RunFinished(outcome string, elapsed time.Duration)
	Rejected(op, kind string)
}

type UploadResult struct {
	UploadID string `json:"upload_id"`
	Filename string `json:"filename"`
	Message  string `json:"message"`
}

type ProcessResult struct {
	Message          string  `json:"message"`
	UploadID         string  `json:"upload_id"`
	Options          Options `json:"options"`
	EstimatedSeconds int     `json:"estimated_seconds"`
}

type DownloadInfo struct {
	Path string
	Name string
}

// Manager drives jobs through uploaded, processing, completed and error. It
// owns the only writers of a record while a run is in flight.
type Manager struct {
	registry jobs.Registry
	store    *storage.Local
	runner   JobRunner
	pool     *WorkerPool

	runTimeout      time.Duration
	estimateTimeout time.Duration
	maxScale        int
	instance        string

	mirror   Mirror
	notifier Notifier
	observer Observer
	logger   zerolog.Logger

	mu      sync.Mutex
	running map[string]*runHandle
}

type runHandle struct {
	cancel context.CancelFunc
}

type ManagerOption func(*Manager)

func WithMirror(m Mirror) ManagerOption     { return func(mg *Manager) { mg.mirror = m } }
func WithNotifier(n Notifier) ManagerOption { return func(mg *Manager) { mg.notifier = n } }
func WithObserver(o Observer) ManagerOption { return func(mg *Manager) { mg.observer = o } }

func WithManagerLogger(l zerolog.Logger) ManagerOption {
	return func(mg *Manager) { mg.logger = l }
}

func WithRunTimeout(d time.Duration) ManagerOption {
	return func(mg *Manager) {
		if d > 0 {
			mg.runTimeout = d
		}
	}
}

// WithInstanceID names this process in records it starts runs for. Recover
// only fails runs carrying this name, so instances sharing a registry need
// distinct names that stay stable across restarts.
func WithInstanceID(id string) ManagerOption {
	return func(mg *Manager) { mg.instance = id }
}

func WithMaxScale(n int) ManagerOption {
	return func(mg *Manager) {
		if n > 0 {
			mg.maxScale = n
		}
	}
}

func NewManager(registry jobs.Registry, store *storage.Local, runner JobRunner, pool *WorkerPool, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:        registry,
		store:           store,
		runner:          runner,
		pool:            pool,
		runTimeout:      2 * time.Hour,
		estimateTimeout: estimateTimeout,
		maxScale:        4,
		observer:        nopObserver{},
		logger:          zerolog.Nop(),
		running:         make(map[string]*runHandle),
	}
	for _, o := range opts {
		o(m)
	}
	if m.instance == "" {
		m.instance, _ = os.Hostname()
	}
	return m
}

// Upload stores body under a fresh job id and registers the job.
func (m *Manager) Upload(ctx context.Context, filename string, body io.Reader) (UploadResult, error) {
	if filename == "" {
		return UploadResult{}, m.reject("upload", Wrap(ErrValidation, "upload", "No file selected", nil))
	}
	ext, err := m.store.Extension(filename)
	if err != nil {
		return UploadResult{}, m.reject("upload", Wrap(ErrValidation, "upload", "File type not supported", err))
	}

	safeName := storage.SanitizeFilename(filename)
	id := uuid.NewString()

	path, n, err := m.store.SaveUpload(id, ext, body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return UploadResult{}, m.reject("upload", Wrap(ErrTooLarge, "upload", "File too large", err))
		}
		return UploadResult{}, Wrap(ErrTransient, "upload", "Could not store upload", err)
	}

	if _, err := m.registry.Create(ctx, id, safeName); err != nil {
		_ = os.Remove(path)
		return UploadResult{}, Wrap(ErrTransient, "upload", "Could not register upload", err)
	}

	m.observer.UploadAccepted(n)
	m.logger.Info().Str("job_id", id).Str("filename", safeName).Int64("bytes", n).Msg("upload stored")

	return UploadResult{UploadID: id, Filename: safeName, Message: jobs.UploadedMessage}, nil
}

// Process accepts a run for id and returns once it is queued.
func (m *Manager) Process(ctx context.Context, id string, opts Options) (ProcessResult, error) {
	if err := opts.Validate(m.maxScale); err != nil {
		return ProcessResult{}, m.reject("process", Wrap(ErrValidation, "process", err.Error(), err))
	}

	var before jobs.Record
	_, err := m.registry.Update(ctx, id, func(r *jobs.Record) error {
		switch r.State {
		case jobs.StateProcessing:
			return Wrap(ErrConflict, "process", "Video is already being processed", nil)
		case jobs.StateCompleted:
			return Wrap(ErrConflict, "process", "Video has already been processed", nil)
		}
		before = *r
		r.State = jobs.StateProcessing
		r.Progress = 10
		r.Message = msgStarting
		r.CompletionTime = nil
		r.ErrorTime = nil
		r.Instance = m.instance
		return nil
	})
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return ProcessResult{}, m.reject("process", Wrap(ErrNotFound, "process", "Upload ID not found", err))
		}
		return ProcessResult{}, m.reject("process", err)
	}

	// The run timeout starts in execute; this context only carries cancellation.
	runCtx, cancel := context.WithCancel(context.Background())
	handle := &runHandle{cancel: cancel}
	m.track(id, handle)

	estimate := defaultEstimateSeconds
	if input, err := m.store.FindInput(id); err == nil {
		ectx, ecancel := context.WithTimeout(ctx, m.estimateTimeout)
		estimate = m.runner.Estimate(ectx, input, opts)
		ecancel()
	}

	if err := m.pool.Submit(func() { m.execute(runCtx, handle, id, opts) }); err != nil {
		m.untrack(id, handle)
		cancel()
		revertCtx, revertCancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer revertCancel()
		if _, rerr := m.registry.Update(revertCtx, id, func(r *jobs.Record) error {
			*r = before
			return nil
		}); rerr != nil {
			m.logger.Warn().Err(rerr).Str("job_id", id).Msg("could not restore record after rejection")
		}
		return ProcessResult{}, m.reject("process", err)
	}

	m.logger.Info().Str("job_id", id).Int("scale", opts.Scale).Int("estimate_s", estimate).Msg("run queued")
	return ProcessResult{
		Message:          "Processing started",
		UploadID:         id,
		Options:          opts,
		EstimatedSeconds: estimate,
	}, nil
}

func (m *Manager) execute(parent context.Context, handle *runHandle, id string, opts Options) {
	defer handle.cancel()
	defer m.untrack(id, handle)

	ctx, cancel := context.WithTimeout(parent, m.runTimeout)
	defer cancel()

	log := m.logger.With().Str("job_id", id).Logger()
	start := time.Now()
	m.observer.RunStarted()

	input, err := m.store.FindInput(id)
	if err != nil {
		m.finishFailed(id, "Input file not found", "missing_input", start)
		return
	}
	output := m.store.OutputPath(id)

	updates := make(chan Update, 8)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for u := range updates {
			m.applyUpdate(id, u)
		}
	}()

	runErr := m.runner.Run(ctx, RunRequest{JobID: id, InputPath: input, OutputPath: output, Options: opts}, updates)
	close(updates)
	<-drained

	if runErr != nil {
		log.Warn().Err(runErr).Str("kind", Kind(runErr)).Msg("run failed")
		m.finishFailed(id, runErr.Error(), Kind(runErr), start)
		return
	}

	if m.mirror != nil {
		putCtx, putCancel := context.WithTimeout(context.Background(), m.runTimeout)
		if err := m.mirror.Put(putCtx, id, output); err != nil {
			log.Warn().Err(err).Msg("mirror upload failed")
		}
		putCancel()
	}

	fctx, fcancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer fcancel()
	_, err = m.registry.Update(fctx, id, func(r *jobs.Record) error {
		if r.State != jobs.StateProcessing {
			return errStale
		}
		t := time.Now().UTC()
		r.State = jobs.StateCompleted
		r.Progress = 100
		r.Message = msgCompleted
		r.CompletionTime = &t
		return nil
	})
	if errors.Is(err, jobs.ErrNotFound) {
		m.purge(id)
		return
	}
	if errors.Is(err, errStale) {
		log.Warn().Msg("record left processing during the run, keeping its state")
		m.observer.RunFinished("stale", time.Since(start))
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("could not record completion")
	}

	m.observer.RunFinished("ok", time.Since(start))
	log.Info().Dur("elapsed", time.Since(start)).Msg("run completed")
}

// applyUpdate writes one progress step. Steps that would move progress
// backwards, or that arrive after the run left processing, are dropped.
func (m *Manager) applyUpdate(id string, u Update) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	_, err := m.registry.Update(ctx, id, func(r *jobs.Record) error {
		if r.State != jobs.StateProcessing || u.Progress < r.Progress {
			return errStale
		}
		r.Progress = u.Progress
		r.Message = u.Message
		return nil
	})
	if err != nil && !errors.Is(err, errStale) && !errors.Is(err, jobs.ErrNotFound) {
		m.logger.Warn().Err(err).Str("job_id", id).Int("progress", u.Progress).Msg("progress update failed")
	}
}

func (m *Manager) finishFailed(id, detail, outcome string, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	message := errorPrefix + detail
	rec, err := m.registry.Update(ctx, id, func(r *jobs.Record) error {
		if r.State != jobs.StateProcessing {
			return errStale
		}
		t := time.Now().UTC()
		r.State = jobs.StateError
		r.Message = message
		r.ErrorTime = &t
		return nil
	})
	m.observer.RunFinished(outcome, time.Since(start))
	if errors.Is(err, jobs.ErrNotFound) {
		m.purge(id)
		return
	}
	if errors.Is(err, errStale) {
		m.logger.Warn().Str("job_id", id).Msg("record left processing during the run, dropping failure")
		return
	}
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", id).Msg("could not record failure")
		return
	}
	if m.notifier != nil && outcome != "transient" {
		m.notifier.RunFailed(id, rec.OriginalFilename, message)
	}
}

// purge removes what a run left behind after its record was cleaned up
// mid-run.
func (m *Manager) purge(id string) {
	n, err := m.store.RemoveJobFiles(id)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", id).Msg("could not remove files of deleted job")
	}
	if m.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()
		if _, err := m.mirror.RemovePrefix(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("job_id", id).Msg("could not remove mirrored objects")
		}
	}
	m.logger.Debug().Str("job_id", id).Int("files", n).Msg("purged files of deleted job")
}

func (m *Manager) Status(ctx context.Context, id string) (jobs.Record, error) {
	rec, err := m.registry.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return jobs.Record{}, Wrap(ErrNotFound, "status", "Upload ID not found", err)
		}
		return jobs.Record{}, Wrap(ErrTransient, "status", "", err)
	}
	return rec, nil
}

// Download resolves the output file of a completed job.
func (m *Manager) Download(ctx context.Context, id string) (DownloadInfo, error) {
	rec, err := m.registry.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return DownloadInfo{}, m.reject("download", Wrap(ErrNotFound, "download", "Upload ID not found", err))
		}
		return DownloadInfo{}, Wrap(ErrTransient, "download", "", err)
	}
	if rec.State != jobs.StateCompleted {
		return DownloadInfo{}, m.reject("download", Wrap(ErrConflict, "download", "Video processing not completed", nil))
	}

	path := m.store.OutputPath(id)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return DownloadInfo{}, m.reject("download", Wrap(ErrNotFound, "download", "Processed file not found", err))
	}
	return DownloadInfo{Path: path, Name: "enhanced_" + rec.OriginalFilename}, nil
}

// Cleanup stops any run for id, removes its files and forgets the record.
// File removal is best effort.
func (m *Manager) Cleanup(ctx context.Context, id string) error {
	if _, err := m.registry.Get(ctx, id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return m.reject("cleanup", Wrap(ErrNotFound, "cleanup", "Upload ID not found", err))
		}
		return Wrap(ErrTransient, "cleanup", "", err)
	}

	m.mu.Lock()
	handle, running := m.running[id]
	m.mu.Unlock()
	if running {
		m.logger.Info().Str("job_id", id).Msg("cancelling run before cleanup")
		handle.cancel()
	}

	removed, err := m.store.RemoveJobFiles(id)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", id).Msg("some job files could not be removed")
	}
	if m.mirror != nil {
		if _, err := m.mirror.RemovePrefix(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("job_id", id).Msg("could not remove mirrored objects")
		}
	}

	if err := m.registry.Delete(ctx, id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return m.reject("cleanup", Wrap(ErrNotFound, "cleanup", "Upload ID not found", err))
		}
		return Wrap(ErrTransient, "cleanup", "", err)
	}

	m.logger.Info().Str("job_id", id).Int("files", removed).Msg("job cleaned up")
	return nil
}

// Recover fails records a previous process of this instance left in
// processing. Records owned by another instance are left alone. It returns
// how many it changed.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	records, err := m.registry.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range records {
		if rec.State != jobs.StateProcessing || !m.owns(rec) || m.isRunning(rec.ID) {
			continue
		}
		_, err := m.registry.Update(ctx, rec.ID, func(r *jobs.Record) error {
			if r.State != jobs.StateProcessing || !m.owns(*r) {
				return errStale
			}
			t := time.Now().UTC()
			r.State = jobs.StateError
			r.Message = errorPrefix + msgInterrupted
			r.ErrorTime = &t
			return nil
		})
		switch {
		case err == nil:
			n++
		case errors.Is(err, errStale), errors.Is(err, jobs.ErrNotFound):
		default:
			return n, err
		}
	}
	if n > 0 {
		m.logger.Warn().Int("jobs", n).Msg("marked interrupted runs as failed")
	}
	return n, nil
}

// Shutdown drains the pool. Runs still active when ctx ends are cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.pool.Shutdown(ctx)
	if err != nil {
		m.mu.Lock()
		for id, handle := range m.running {
			m.logger.Warn().Str("job_id", id).Msg("cancelling run on shutdown")
			handle.cancel()
		}
		m.mu.Unlock()
	}
	return err
}

func (m *Manager) Stats() PoolStats {
	return m.pool.Stats()
}

func (m *Manager) track(id string, h *runHandle) {
	m.mu.Lock()
	m.running[id] = h
	m.mu.Unlock()
}

// untrack forgets h only if a later run has not replaced it.
func (m *Manager) untrack(id string, h *runHandle) {
	m.mu.Lock()
	if m.running[id] == h {
		delete(m.running, id)
	}
	m.mu.Unlock()
}

// owns reports whether rec's run was started by this instance. Records that
// predate instance names count as owned.
func (m *Manager) owns(rec jobs.Record) bool {
	return rec.Instance == "" || rec.Instance == m.instance
}

func (m *Manager) isRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

func (m *Manager) reject(op string, err error) error {
	m.observer.Rejected(op, Kind(err))
	return err
}

type nopObserver struct{}

func (nopObserver) UploadAccepted(int64)              {}
func (nopObserver) RunStarted()                       {}
func (nopObserver) RunFinished(string, time.Duration) {}
func (nopObserver) Rejected(string, string)           {}
