package services

import (
	"context"
	"fmt"
	"time"
)

// Update is one progress step published by a run.
type Update struct {
	Progress int
	Message  string
}

// ProgressReporter publishes progress while the encoder is running. Track
// returns once exited is closed or ctx is done.
type ProgressReporter interface {
	Track(ctx context.Context, exited <-chan struct{}, publish func(Update))
}

var defaultProgressSteps = []int{70, 80, 90, 95}

// PollingReporter approximates encoder progress by advancing one fixed step
// per poll interval and holding at the last step.
type PollingReporter struct {
	interval time.Duration
	steps    []int
}

func NewPollingReporter(interval time.Duration) *PollingReporter {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollingReporter{interval: interval, steps: defaultProgressSteps}
}

func (p *PollingReporter) Track(ctx context.Context, exited <-chan struct{}, publish func(Update)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-exited:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case <-exited:
				return
			default:
			}
			if next < len(p.steps) {
				step := p.steps[next]
				publish(Update{Progress: step, Message: fmt.Sprintf("Processing... %d%%", step)})
				next++
			}
		}
	}
}
