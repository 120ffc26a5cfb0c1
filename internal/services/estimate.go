package services

const (
	defaultEstimateSeconds = 60
	minEstimateSeconds     = 30
	secondsPerVideoMinute  = 30.0
)

// EstimateProcessingTime guesses the run time in seconds from the video
// duration and the enabled filters. A nil info yields the default guess.
func EstimateProcessingTime(info *MediaInfo, opts Options) int {
	if info == nil {
		return defaultEstimateSeconds
	}
	duration := info.Duration()
	if duration <= 0 {
		duration = 60
	}

	base := secondsPerVideoMinute
	switch {
	case opts.Scale > 2:
		base *= 2
	case opts.Scale > 1:
		base *= 1.5
	}
	if opts.Denoise {
		base *= 1.2
	}
	if opts.Sharpen {
		base *= 1.1
	}

	estimate := int(duration / 60 * base)
	if estimate < minEstimateSeconds {
		return minEstimateSeconds
	}
	return estimate
}
