package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

const probeTimeout = 30 * time.Second

var errNoVideoStream = errors.New("no video stream")

type Prober struct {
	path string
}

func NewProber(path string) *Prober {
	if path == "" {
		path = "ffprobe"
	}
	return &Prober{path: path}
}

type MediaStream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FrameRate string `json:"r_frame_rate"`
}

type MediaInfo struct {
	Streams []MediaStream `json:"streams"`
	Format  struct {
		Filename   string `json:"filename"`
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// FirstVideo returns the first video stream, or nil.
func (m *MediaInfo) FirstVideo() *MediaStream {
	for i := range m.Streams {
		if m.Streams[i].CodecType == "video" {
			return &m.Streams[i]
		}
	}
	return nil
}

// Duration returns the container duration in seconds, or 0 when unknown.
func (m *MediaInfo) Duration() float64 {
	d, err := strconv.ParseFloat(m.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return d
}

func (p *Prober) probe(ctx context.Context, path string, withFormat bool) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{"-v", "quiet", "-print_format", "json", "-show_streams"}
	if withFormat {
		args = append(args, "-show_format")
	}
	args = append(args, path)

	out, err := exec.CommandContext(ctx, p.path, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var info MediaInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &info, nil
}

func (p *Prober) Dimensions(ctx context.Context, path string) (int, int, error) {
	info, err := p.probe(ctx, path, false)
	if err != nil {
		return 0, 0, err
	}
	v := info.FirstVideo()
	if v == nil {
		return 0, 0, errNoVideoStream
	}
	return v.Width, v.Height, nil
}

// Info returns the format and stream details of path.
func (p *Prober) Info(ctx context.Context, path string) (*MediaInfo, error) {
	return p.probe(ctx, path, true)
}
