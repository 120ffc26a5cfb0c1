package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

const (
	lockFileName   = ".enhancer.lock"
	enhancedSuffix = "_enhanced.mp4"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrInputMissing    = errors.New("input file not found")
	ErrLocked          = errors.New("storage directory is locked by another instance")
)

var (
	unsafeFilenameRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// Local keeps raw uploads and enhanced outputs in two directories. Files are
// named after the job id, which is the only link between a job and its
// artifacts.
type Local struct {
	uploadDir    string
	processedDir string
	allowed      map[string]bool
	lock         *flock.Flock
	logger       zerolog.Logger
}

func NewLocal(uploadDir, processedDir string, allowedExts []string, logger zerolog.Logger) *Local {
	allowed := make(map[string]bool, len(allowedExts))
	for _, ext := range allowedExts {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &Local{
		uploadDir:    uploadDir,
		processedDir: processedDir,
		allowed:      allowed,
		lock:         flock.New(filepath.Join(uploadDir, lockFileName)),
		logger:       logger.With().Str("component", "storage").Logger(),
	}
}

func (l *Local) UploadDir() string    { return l.uploadDir }
func (l *Local) ProcessedDir() string { return l.processedDir }

func (l *Local) Prepare() error {
	for _, dir := range []string{l.uploadDir, l.processedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if err := checkWritable(dir); err != nil {
			return fmt.Errorf("%s is not writable: %w", dir, err)
		}
	}
	return nil
}

// Lock takes an advisory lock on the upload directory so two servers never
// share the same id-prefixed files.
func (l *Local) Lock() error {
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire storage lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

func (l *Local) Unlock() error {
	return l.lock.Unlock()
}

// Extension returns the lower-cased extension of name if it is accepted.
func (l *Local) Extension(name string) (string, error) {
	if !strings.Contains(name, ".") {
		return "", ErrUnsupportedType
	}
	ext := strings.ToLower(name[strings.LastIndex(name, ".")+1:])
	if !l.allowed[ext] {
		return "", ErrUnsupportedType
	}
	return ext, nil
}

// SaveUpload writes src to <upload_dir>/<id>.<ext>. A failed copy leaves no
// file behind.
func (l *Local) SaveUpload(id, ext string, src io.Reader) (string, int64, error) {
	path := filepath.Join(l.uploadDir, id+"."+ext)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create upload: %w", err)
	}

	n, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("write upload: %w", err)
	}
	return path, n, nil
}

// FindInput returns the stored upload for id.
func (l *Local) FindInput(id string) (string, error) {
	matches, err := l.matching(l.uploadDir, id)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrInputMissing
	}
	return filepath.Join(l.uploadDir, matches[0]), nil
}

func (l *Local) OutputPath(id string) string {
	return filepath.Join(l.processedDir, id+enhancedSuffix)
}

// RemoveJobFiles deletes every file prefixed by id in both directories. It
// keeps going after a failed removal and reports all failures together.
func (l *Local) RemoveJobFiles(id string) (int, error) {
	removed := 0
	var errs []error
	for _, dir := range []string{l.uploadDir, l.processedDir} {
		names, err := l.matching(dir, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, name := range names {
			p := filepath.Join(dir, name)
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			l.logger.Debug().Str("job_id", id).Str("file", name).Msg("removed job file")
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

func (l *Local) matching(dir, id string) ([]string, error) {
	if id == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), id) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// SanitizeFilename reduces a client-supplied name to a safe single path
// component.
func SanitizeFilename(filename string) string {
	s := strings.ReplaceAll(filename, "\\", "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	s = unsafeFilenameRe.ReplaceAllString(s, "_")
	s = whitespaceRe.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.TrimLeft(s, "._")
	if len(s) > 200 {
		ext := filepath.Ext(s)
		if len(ext) > 16 {
			ext = ""
		}
		s = s[:200-len(ext)] + ext
	}
	return s
}
