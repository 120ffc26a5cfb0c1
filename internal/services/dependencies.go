package services

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

type Dependency struct {
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Version  string `json:"version,omitempty"`
	Required bool   `json:"required"`
	Found    bool   `json:"found"`
}

// CheckDependencies looks up the encoder binaries and reads the first line
// of their -version output.
func CheckDependencies(ctx context.Context, ffmpegPath, ffprobePath string) []Dependency {
	deps := []Dependency{
		{Name: orDefault(ffmpegPath, "ffmpeg"), Required: true},
		{Name: orDefault(ffprobePath, "ffprobe"), Required: false},
	}

	for i := range deps {
		path, err := exec.LookPath(deps[i].Name)
		if err != nil {
			continue
		}
		deps[i].Found = true
		deps[i].Path = path
		deps[i].Version = binaryVersion(ctx, path)
	}
	return deps
}

// MissingRequired reports the required dependencies that were not found.
func MissingRequired(deps []Dependency) []string {
	var missing []string
	for _, d := range deps {
		if d.Required && !d.Found {
			missing = append(missing, d.Name)
		}
	}
	return missing
}

func binaryVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
