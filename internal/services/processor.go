package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const stderrTailBytes = 500

// RunError is the single failure value a run produces. Kind is one of the
// package markers.
type RunError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *RunError) Error() string {
	return "Video processing failed: " + e.Detail
}

func (e *RunError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

type RunRequest struct {
	JobID      string
	InputPath  string
	OutputPath string
	Options    Options
}

// Runner drives one ffmpeg invocation per request.
type Runner struct {
	ffmpegPath string
	prober     *Prober
	reporter   ProgressReporter
	logger     zerolog.Logger
}

type RunnerOption func(*Runner)

func WithReporter(r ProgressReporter) RunnerOption {
	return func(rn *Runner) {
		if r != nil {
			rn.reporter = r
		}
	}
}

func WithRunnerLogger(l zerolog.Logger) RunnerOption {
	return func(rn *Runner) { rn.logger = l }
}

func NewRunner(ffmpegPath string, prober *Prober, opts ...RunnerOption) *Runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	r := &Runner{
		ffmpegPath: ffmpegPath,
		prober:     prober,
		reporter:   NewPollingReporter(2 * time.Second),
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Estimate returns the expected run time in seconds for input.
func (r *Runner) Estimate(ctx context.Context, input string, opts Options) int {
	if r.prober == nil {
		return EstimateProcessingTime(nil, opts)
	}
	info, err := r.prober.Info(ctx, input)
	if err != nil {
		return EstimateProcessingTime(nil, opts)
	}
	return EstimateProcessingTime(info, opts)
}

// Run encodes req.InputPath into req.OutputPath, sending progress to updates.
// It returns nil or a *RunError.
func (r *Runner) Run(ctx context.Context, req RunRequest, updates chan<- Update) error {
	log := r.logger.With().Str("job_id", req.JobID).Logger()
	publish := func(u Update) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	}

	publish(Update{Progress: 30, Message: "Analyzing video..."})
	publish(Update{Progress: 50, Message: "Enhancing video quality..."})

	var prober DimensionProber
	if r.prober != nil {
		prober = r.prober
	}
	filters := BuildFilterChain(ctx, prober, req.InputPath, req.Options)
	args := EncoderArgs(req.InputPath, req.OutputPath, filters)

	publish(Update{Progress: 60, Message: "Processing video with FFmpeg..."})
	log.Info().Strs("filters", filters).Msg("starting encoder")

	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return &RunError{Kind: ErrTransient, Detail: "FFmpeg could not be started: " + err.Error(), Err: err}
	}

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()

	r.reporter.Track(ctx, exited, publish)
	<-exited

	if waitErr != nil || ctx.Err() != nil {
		return r.classify(ctx, log, waitErr, stderr.String(), time.Since(start))
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil || info.Size() == 0 {
		return &RunError{Kind: ErrProcessing, Detail: "Output file was not created or is empty", Err: err}
	}

	publish(Update{Progress: 98, Message: "Finalizing..."})
	log.Info().Dur("elapsed", time.Since(start)).Int64("bytes", info.Size()).Msg("encoder finished")
	return nil
}

func (r *Runner) classify(ctx context.Context, log zerolog.Logger, waitErr error, tail string, elapsed time.Duration) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Warn().Dur("elapsed", elapsed).Msg("encoder timed out")
		return &RunError{Kind: ErrTimeout, Detail: fmt.Sprintf("FFmpeg timed out after %s", elapsed.Round(time.Second)), Err: ctx.Err()}
	case errors.Is(ctx.Err(), context.Canceled):
		log.Info().Msg("encoder cancelled")
		return &RunError{Kind: ErrTransient, Detail: "processing was cancelled", Err: ctx.Err()}
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		log.Warn().Int("code", exitErr.ExitCode()).Str("stderr", tail).Msg("encoder failed")
		detail := "FFmpeg error: " + strings.TrimSpace(tail)
		if strings.TrimSpace(tail) == "" {
			detail = fmt.Sprintf("FFmpeg error: exit code %d", exitErr.ExitCode())
		}
		return &RunError{Kind: ErrProcessing, Detail: detail, Err: waitErr}
	}
	return &RunError{Kind: ErrTransient, Detail: "FFmpeg error: " + waitErr.Error(), Err: waitErr}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		// Never start the tail inside a multi-byte rune.
		for over < len(t.buf) && !utf8.RuneStart(t.buf[over]) {
			over++
		}
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
