package bot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/coah80/enhancer/internal/services"
)

// fakeAPI serves a Discord attachment plus the enhancer endpoints the bot
// drives.
type fakeAPI struct {
	mu          sync.Mutex
	uploadedAs  string
	uploadBody  string
	options     services.Options
	polls       atomic.Int32
	cleaned     atomic.Bool
	finalState  string
	finalMsg    string
	resultBytes string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cdn/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "raw video")
	})
	mux.HandleFunc("POST /api/video/upload", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("video")
		if err != nil {
			t.Errorf("upload without video field: %v", err)
			http.Error(w, `{"error":"No video file provided"}`, http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		f.mu.Lock()
		f.uploadedAs = header.Filename
		f.uploadBody = string(data)
		f.mu.Unlock()
		io.WriteString(w, `{"upload_id":"abc","filename":"abc_clip.mp4","message":"File uploaded successfully"}`)
	})
	mux.HandleFunc("POST /api/video/process/abc", func(w http.ResponseWriter, r *http.Request) {
		var opts services.Options
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			t.Errorf("decode options: %v", err)
		}
		f.mu.Lock()
		f.options = opts
		f.mu.Unlock()
		io.WriteString(w, `{"message":"Video processing started","upload_id":"abc","estimated_seconds":42}`)
	})
	mux.HandleFunc("GET /api/video/status/abc", func(w http.ResponseWriter, r *http.Request) {
		if f.polls.Add(1) == 1 {
			io.WriteString(w, `{"upload_id":"abc","status":"processing","progress":70,"message":"Processing... 70%","original_filename":"clip.mp4"}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"upload_id":         "abc",
			"status":            f.finalState,
			"progress":          100,
			"message":           f.finalMsg,
			"original_filename": "clip.mp4",
		})
	})
	mux.HandleFunc("GET /api/video/download/abc", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="enhanced_clip.mp4"`)
		w.Header().Set("Content-Type", "video/mp4")
		io.WriteString(w, f.resultBytes)
	})
	mux.HandleFunc("DELETE /api/video/cleanup/abc", func(w http.ResponseWriter, r *http.Request) {
		f.cleaned.Store(true)
		io.WriteString(w, `{"message":"Files cleaned up successfully"}`)
	})
	return mux
}

func newTestBot(t *testing.T, f *fakeAPI) (*Bot, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	b := &Bot{
		cfg: Config{
			APIURL:        srv.URL,
			PublicURL:     "https://enhance.example",
			MaxScale:      4,
			MaxAttachment: 1 << 20,
		},
		api:         newAPIClient(srv.URL, "/api/video"),
		logger:      zerolog.Nop(),
		maxFileSize: maxDiscordFileSize,
	}
	return b, srv
}

type recorder struct {
	edits []*discordgo.WebhookEdit
}

func (r *recorder) edit(e *discordgo.WebhookEdit) { r.edits = append(r.edits, e) }

func (r *recorder) last(t *testing.T) *discordgo.WebhookEdit {
	t.Helper()
	if len(r.edits) == 0 {
		t.Fatal("no edits recorded")
	}
	return r.edits[len(r.edits)-1]
}

func firstEmbed(t *testing.T, e *discordgo.WebhookEdit) *discordgo.MessageEmbed {
	t.Helper()
	if e.Embeds == nil || len(*e.Embeds) == 0 {
		t.Fatalf("edit has no embeds: %+v", e)
	}
	return (*e.Embeds)[0]
}

func TestProcessEnhanceAttachesResult(t *testing.T) {
	f := &fakeAPI{finalState: "completed", finalMsg: "Video processing completed successfully", resultBytes: "enhanced video"}
	b, srv := newTestBot(t, f)

	rec := &recorder{}
	opts := services.Options{Scale: 3, Denoise: true}
	b.processEnhance(context.Background(), attachmentRef{URL: srv.URL + "/cdn/clip.mp4", Filename: "clip.mp4", Size: 9}, opts, rec.edit)

	f.mu.Lock()
	if f.uploadedAs != "clip.mp4" || f.uploadBody != "raw video" {
		t.Errorf("upload = %q %q", f.uploadedAs, f.uploadBody)
	}
	if f.options != opts {
		t.Errorf("options = %+v", f.options)
	}
	f.mu.Unlock()

	last := rec.last(t)
	if len(last.Files) != 1 || last.Files[0].Name != "enhanced_clip.mp4" {
		t.Fatalf("expected attached result, got %+v", last.Files)
	}
	data, _ := io.ReadAll(last.Files[0].Reader)
	if string(data) != "enhanced video" {
		t.Fatalf("attached %q", data)
	}
	if embed := firstEmbed(t, last); embed.Title != "Enhanced" || embed.Color != colorSuccess {
		t.Fatalf("unexpected embed %+v", embed)
	}
	if !f.cleaned.Load() {
		t.Fatal("attached results should be cleaned up")
	}

	sawPoll := false
	for _, e := range rec.edits {
		if strings.Contains(firstEmbed(t, e).Description, "Processing... 70%") {
			sawPoll = true
		}
	}
	if !sawPoll {
		t.Fatal("expected a progress edit from polling")
	}
}

func TestProcessEnhanceLinksLargeResult(t *testing.T) {
	f := &fakeAPI{finalState: "completed", resultBytes: strings.Repeat("x", 64)}
	b, srv := newTestBot(t, f)
	b.maxFileSize = 16

	rec := &recorder{}
	b.processEnhance(context.Background(), attachmentRef{URL: srv.URL + "/cdn/clip.mp4", Filename: "clip.mp4"}, services.DefaultOptions(), rec.edit)

	last := rec.last(t)
	if len(last.Files) != 0 {
		t.Fatal("oversized result must not be attached")
	}
	embed := firstEmbed(t, last)
	var link string
	for _, field := range embed.Fields {
		if field.Name == "Download" {
			link = field.Value
		}
	}
	if link != "[Click here](https://enhance.example/api/video/download/abc)" {
		t.Fatalf("download field = %q", link)
	}
	if f.cleaned.Load() {
		t.Fatal("linked results must stay on the server")
	}
}

func TestProcessEnhanceReportsRunError(t *testing.T) {
	f := &fakeAPI{finalState: "error", finalMsg: "Error processing video: Video processing failed: FFmpeg error: boom"}
	b, srv := newTestBot(t, f)

	rec := &recorder{}
	b.processEnhance(context.Background(), attachmentRef{URL: srv.URL + "/cdn/clip.mp4", Filename: "clip.mp4"}, services.DefaultOptions(), rec.edit)

	embed := firstEmbed(t, rec.last(t))
	if embed.Color != colorError || !strings.Contains(embed.Description, "FFmpeg error: boom") {
		t.Fatalf("unexpected embed %+v", embed)
	}
}

func TestProcessEnhanceRejectsBeforeNetwork(t *testing.T) {
	b := &Bot{
		cfg:    Config{MaxScale: 4, MaxAttachment: 10},
		api:    newAPIClient("http://127.0.0.1:1", ""),
		logger: zerolog.Nop(),
	}

	rec := &recorder{}
	b.processEnhance(context.Background(), attachmentRef{Filename: "big.mp4", Size: 11}, services.DefaultOptions(), rec.edit)
	if d := firstEmbed(t, rec.last(t)).Description; d != "File too large (max 10 B)" {
		t.Fatalf("description = %q", d)
	}

	rec = &recorder{}
	b.processEnhance(context.Background(), attachmentRef{Filename: "clip.mp4"}, services.Options{Scale: 9}, rec.edit)
	if d := firstEmbed(t, rec.last(t)).Description; !strings.HasPrefix(d, "Invalid options: ") {
		t.Fatalf("description = %q", d)
	}
	if len(rec.edits) != 1 {
		t.Fatalf("expected a single edit, got %d", len(rec.edits))
	}
}

func TestAPIClientSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"Server is busy, try again later"}`)
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL, "").process(context.Background(), "abc", services.DefaultOptions())
	if err == nil || err.Error() != "Server is busy, try again later" {
		t.Fatalf("err = %v", err)
	}
}

func TestParseEnhanceOptions(t *testing.T) {
	id, opts := parseEnhanceOptions([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "file", Type: discordgo.ApplicationCommandOptionAttachment, Value: "att-1"},
		{Name: "scale", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(3)},
		{Name: "sharpen", Type: discordgo.ApplicationCommandOptionBoolean, Value: false},
	})
	want := services.Options{Scale: 3, Denoise: true, Sharpen: false, EnhanceColors: true}
	if id != "att-1" || opts != want {
		t.Fatalf("parse = %q %+v", id, opts)
	}
}

func TestEmbeds(t *testing.T) {
	if got := progressBar(45); got != "▓▓▓▓░░░░░░" {
		t.Fatalf("progressBar = %q", got)
	}
	if got := progressBar(150); got != strings.Repeat("▓", 10) {
		t.Fatalf("progressBar clamp = %q", got)
	}
	if got := formatSize(1536); got != "1.5 KiB" {
		t.Fatalf("formatSize = %q", got)
	}
	if got := formatSize(0); got != "Unknown" {
		t.Fatalf("formatSize(0) = %q", got)
	}
	if got := describeOptions(services.Options{Scale: 2, Sharpen: true}); got != "2x · sharpen" {
		t.Fatalf("describeOptions = %q", got)
	}
	if e := errorEmbed("Oops", ""); e.Description != "Something went wrong" {
		t.Fatalf("errorEmbed = %+v", e)
	}
}

func TestStatusMonitorBroadcastsTransitions(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "status.json")
	m := newStatusMonitor(nil, srv.URL, path, zerolog.Nop())
	var sent []*discordgo.MessageEmbed
	m.send = func(channelID string, embed *discordgo.MessageEmbed) error {
		if channelID != "chan-1" {
			t.Errorf("sent to %q", channelID)
		}
		sent = append(sent, embed)
		return nil
	}
	if err := m.setChannel("guild-1", "chan-1"); err != nil {
		t.Fatal(err)
	}

	if m.tick() {
		t.Fatal("first check only records state")
	}
	if m.tick() {
		t.Fatal("unchanged state should not broadcast")
	}
	healthy.Store(false)
	if !m.tick() {
		t.Fatal("expected transition to down")
	}
	if len(sent) != 1 || sent[0].Title != "Enhancer API is down" || !strings.Contains(sent[0].Description, "HTTP 503") {
		t.Fatalf("sent = %+v", sent)
	}

	saved, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(saved), `"guild-1": "chan-1"`) {
		t.Fatalf("saved config = %s, %v", saved, err)
	}
	reloaded := newStatusMonitor(nil, srv.URL, path, zerolog.Nop())
	if reloaded.config.GuildChannels["guild-1"] != "chan-1" {
		t.Fatalf("reloaded = %+v", reloaded.config)
	}
}
