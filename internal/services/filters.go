package services

import (
	"context"
	"fmt"
	"strings"
)

const (
	denoiseFilter = "hqdn3d=4:3:6:4.5"
	sharpenFilter = "unsharp=5:5:1.0:5:5:0.0"
	colorFilter   = "eq=contrast=1.1:brightness=0.02:saturation=1.2"
)

// DimensionProber reports the native frame size of a video file.
type DimensionProber interface {
	Dimensions(ctx context.Context, path string) (width, height int, err error)
}

// BuildFilterChain returns the video filters for opts in application order.
// Upscaling targets the probed size when probing works and falls back to a
// relative scale expression otherwise.
func BuildFilterChain(ctx context.Context, prober DimensionProber, input string, opts Options) []string {
	var filters []string

	if opts.Scale > 1 {
		filters = append(filters, scaleFilter(ctx, prober, input, opts.Scale))
	}
	if opts.Denoise {
		filters = append(filters, denoiseFilter)
	}
	if opts.Sharpen {
		filters = append(filters, sharpenFilter)
	}
	if opts.EnhanceColors {
		filters = append(filters, colorFilter)
	}
	return filters
}

func scaleFilter(ctx context.Context, prober DimensionProber, input string, scale int) string {
	if prober != nil {
		w, h, err := prober.Dimensions(ctx, input)
		if err == nil && w > 0 && h > 0 {
			return fmt.Sprintf("scale=%d:%d:flags=lanczos", w*scale, h*scale)
		}
	}
	return fmt.Sprintf("scale=iw*%d:ih*%d:flags=lanczos", scale, scale)
}

// EncoderArgs builds the ffmpeg argument list. Codec settings are fixed.
func EncoderArgs(input, output string, filters []string) []string {
	args := []string{"-i", input, "-y"}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	return append(args,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "18",
		"-c:a", "aac",
		"-b:a", "128k",
		output,
	)
}
