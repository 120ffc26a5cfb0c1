package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/coah80/enhancer/internal/config"
	"github.com/coah80/enhancer/internal/jobs"
	"github.com/coah80/enhancer/internal/services"
	"github.com/coah80/enhancer/internal/storage"
)

type stubRunner struct {
	err error
}

func (s stubRunner) Run(ctx context.Context, req services.RunRequest, updates chan<- services.Update) error {
	if s.err != nil {
		return s.err
	}
	updates <- services.Update{Progress: 98, Message: "Finalizing..."}
	return os.WriteFile(req.OutputPath, []byte("enhanced video"), 0o644)
}

func (stubRunner) Estimate(context.Context, string, services.Options) int { return 60 }

func newTestServer(t *testing.T, runner services.JobRunner, tweak func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	root := t.TempDir()
	cfg.UploadDir = filepath.Join(root, "uploads")
	cfg.ProcessedDir = filepath.Join(root, "processed")
	cfg.DiskSpaceMinGB = 0
	if tweak != nil {
		tweak(&cfg)
	}

	store := storage.NewLocal(cfg.UploadDir, cfg.ProcessedDir, cfg.AllowedExtensions, zerolog.Nop())
	if err := store.Prepare(); err != nil {
		t.Fatal(err)
	}
	pool := services.NewWorkerPool(services.WithWorkers(2), services.WithQueueSize(4))
	mgr := services.NewManager(jobs.NewMemoryRegistry(), store, runner, pool, services.WithMaxScale(cfg.MaxScale))

	api := &API{Manager: mgr, Config: &cfg, Logger: zerolog.Nop()}
	r := chi.NewRouter()
	CoreRoutes(r, api)
	VideoRoutes(r, api)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})
	return srv
}

func uploadFile(t *testing.T, srv *httptest.Server, field, name string, content []byte) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/video/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %d response: %v", resp.StatusCode, err)
	}
	return out
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func waitStatus(t *testing.T, srv *httptest.Server, id, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		body := decode(t, do(t, "GET", srv.URL+"/api/video/status/"+id, ""))
		if body["status"] == want {
			return body
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never became %s: %v", want, body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRootBanner(t *testing.T) {
	srv := newTestServer(t, stubRunner{}, nil)
	body := decode(t, do(t, "GET", srv.URL+"/", ""))
	if body["message"] != "Video Enhancer API running" {
		t.Fatalf("unexpected banner %v", body)
	}
}

func TestUploadThenStatus(t *testing.T) {
	srv := newTestServer(t, stubRunner{}, nil)

	resp, body := uploadFile(t, srv, "video", "clip.mp4", []byte("frames"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload = %d %v", resp.StatusCode, body)
	}
	id, _ := body["upload_id"].(string)
	if id == "" || body["filename"] != "clip.mp4" || body["message"] != "File uploaded successfully" {
		t.Fatalf("unexpected upload body %v", body)
	}

	status := decode(t, do(t, "GET", srv.URL+"/api/video/status/"+id, ""))
	if status["status"] != "uploaded" || status["progress"] != float64(0) || status["upload_id"] != id {
		t.Fatalf("unexpected status %v", status)
	}
}

func TestUploadValidation(t *testing.T) {
	srv := newTestServer(t, stubRunner{}, func(c *config.Config) { c.MaxUploadSize = 1024 })

	tests := []struct {
		name   string
		field  string
		file   string
		size   int
		status int
		msg    string
	}{
		{"wrong field", "file", "clip.mp4", 10, 400, "No video file provided"},
		{"empty filename", "video", "", 10, 400, "No file selected"},
		{"unsupported type", "video", "clip.txt", 10, 400, "File type not supported"},
		{"too large", "video", "clip.mp4", 4096, 413, "File too large (max 1.0 KiB)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := uploadFile(t, srv, tt.field, tt.file, bytes.Repeat([]byte("x"), tt.size))
			if resp.StatusCode != tt.status || body["error"] != tt.msg {
				t.Fatalf("got %d %v, want %d %q", resp.StatusCode, body, tt.status, tt.msg)
			}
		})
	}

	resp := do(t, "POST", srv.URL+"/api/video/upload", `{"video":"x"}`)
	if body := decode(t, resp); resp.StatusCode != 400 || body["error"] != "No video file provided" {
		t.Fatalf("non-multipart upload = %d %v", resp.StatusCode, body)
	}
}

func TestUnknownIDIs404(t *testing.T) {
	srv := newTestServer(t, stubRunner{}, nil)
	for _, c := range []struct{ method, path string }{
		{"POST", "/api/video/process/nope"},
		{"GET", "/api/video/status/nope"},
		{"GET", "/api/video/download/nope"},
		{"DELETE", "/api/video/cleanup/nope"},
	} {
		resp := do(t, c.method, srv.URL+c.path, "")
		body := decode(t, resp)
		if resp.StatusCode != http.StatusNotFound || body["error"] != "Upload ID not found" {
			t.Fatalf("%s %s = %d %v", c.method, c.path, resp.StatusCode, body)
		}
	}
}

func TestProcessEchoesOptionsAndDownloads(t *testing.T) {
	srv := newTestServer(t, stubRunner{}, nil)
	_, up := uploadFile(t, srv, "video", "clip.mp4", []byte("frames"))
	id := up["upload_id"].(string)

	resp := do(t, "POST", srv.URL+"/api/video/process/"+id, `{"scale":1,"denoise":false,"sharpen":false,"enhance_colors":false}`)
	body := decode(t, resp)
	if resp.StatusCode != http.StatusOK || body["message"] != "Processing started" || body["upload_id"] != id {
		t.Fatalf("process = %d %v", resp.StatusCode, body)
	}
	opts := body["options"].(map[string]interface{})
	if opts["scale"] != float64(1) || opts["denoise"] != false || opts["sharpen"] != false || opts["enhance_colors"] != false {
		t.Fatalf("options not echoed: %v", opts)
	}

	status := waitStatus(t, srv, id, "completed")
	if status["progress"] != float64(100) {
		t.Fatalf("completed progress = %v", status["progress"])
	}
	if _, ok := status["instance"]; ok {
		t.Fatalf("status leaks the instance name: %v", status)
	}

	dl := do(t, "GET", srv.URL+"/api/video/download/"+id, "")
	defer dl.Body.Close()
	data, _ := io.ReadAll(dl.Body)
	if dl.StatusCode != http.StatusOK || string(data) != "enhanced video" {
		t.Fatalf("download = %d %q", dl.StatusCode, data)
	}
	if cd := dl.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="enhanced_clip.mp4"`) {
		t.Fatalf("Content-Disposition = %q", cd)
	}

	resp = do(t, "POST", srv.URL+"/api/video/process/"+id, "")
	if body := decode(t, resp); resp.StatusCode != 400 {
		t.Fatalf("reprocessing completed job = %d %v", resp.StatusCode, body)
	}
}

func TestProcessDefaultsAndInvalidOptions(t *testing.T) {
	srv := newTestServer(t, stubRunner{}, nil)
	_, up := uploadFile(t, srv, "video", "clip.mov", []byte("frames"))
	id := up["upload_id"].(string)

	resp := do(t, "POST", srv.URL+"/api/video/process/"+id, `{"scale":9}`)
	if body := decode(t, resp); resp.StatusCode != 400 {
		t.Fatalf("scale 9 = %d %v", resp.StatusCode, body)
	}
	resp = do(t, "POST", srv.URL+"/api/video/process/"+id, `{"scale":"big"}`)
	if body := decode(t, resp); resp.StatusCode != 400 {
		t.Fatalf("scale string = %d %v", resp.StatusCode, body)
	}

	resp = do(t, "POST", srv.URL+"/api/video/process/"+id, "")
	body := decode(t, resp)
	opts := body["options"].(map[string]interface{})
	if resp.StatusCode != 200 || opts["scale"] != float64(2) || opts["denoise"] != true || opts["enhance_colors"] != true {
		t.Fatalf("default options = %d %v", resp.StatusCode, body)
	}
}

func TestFailedRunBlocksDownload(t *testing.T) {
	failure := &services.RunError{Kind: services.ErrProcessing, Detail: "FFmpeg error: broken stream"}
	srv := newTestServer(t, stubRunner{err: failure}, nil)
	_, up := uploadFile(t, srv, "video", "clip.mp4", []byte("frames"))
	id := up["upload_id"].(string)

	decode(t, do(t, "POST", srv.URL+"/api/video/process/"+id, ""))
	status := waitStatus(t, srv, id, "error")
	if msg, _ := status["message"].(string); !strings.Contains(msg, "failed") {
		t.Fatalf("error message = %q", msg)
	}

	resp := do(t, "GET", srv.URL+"/api/video/download/"+id, "")
	body := decode(t, resp)
	if resp.StatusCode != 400 || body["error"] != "Video processing not completed" {
		t.Fatalf("download = %d %v", resp.StatusCode, body)
	}
}

func TestCleanup(t *testing.T) {
	srv := newTestServer(t, stubRunner{}, nil)
	_, up := uploadFile(t, srv, "video", "clip.mp4", []byte("frames"))
	id := up["upload_id"].(string)

	resp := do(t, "DELETE", srv.URL+"/api/video/cleanup/"+id, "")
	body := decode(t, resp)
	if resp.StatusCode != 200 || body["message"] != "Files cleaned up successfully" {
		t.Fatalf("cleanup = %d %v", resp.StatusCode, body)
	}
	if resp := do(t, "GET", srv.URL+"/api/video/status/"+id, ""); resp.StatusCode != 404 {
		t.Fatalf("status after cleanup = %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, stubRunner{}, nil)
	body := decode(t, do(t, "GET", srv.URL+"/health", ""))
	if body["status"] != "ok" {
		t.Fatalf("health = %v", body)
	}
	queue := body["queue"].(map[string]interface{})
	if queue["workers"] != float64(2) || queue["queue_capacity"] != float64(4) {
		t.Fatalf("queue = %v", queue)
	}
}

func TestAttachmentEncodesNonASCII(t *testing.T) {
	if got := attachment("enhanced_clip.mp4"); got != `attachment; filename="enhanced_clip.mp4"` {
		t.Fatalf("ascii = %q", got)
	}
	got := attachment("enhanced_vidéo.mp4")
	if !strings.Contains(got, "filename*=utf-8''") || !strings.Contains(got, `filename="enhanced_vid_o.mp4"`) {
		t.Fatalf("non-ascii = %q", got)
	}
}
