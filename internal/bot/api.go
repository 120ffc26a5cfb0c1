package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/coah80/enhancer/internal/jobs"
	"github.com/coah80/enhancer/internal/services"
)

type apiClient struct {
	baseURL string
	prefix  string
	client  *http.Client
	// transfers covers attachment fetches, uploads and downloads.
	transfers *http.Client
}

type uploadResponse struct {
	UploadID string `json:"upload_id"`
	Filename string `json:"filename"`
	Message  string `json:"message"`
}

type processResponse struct {
	Message          string `json:"message"`
	UploadID         string `json:"upload_id"`
	EstimatedSeconds int    `json:"estimated_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newAPIClient(baseURL, prefix string) *apiClient {
	if prefix == "" {
		prefix = "/api/video"
	}
	return &apiClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		prefix:    "/" + strings.Trim(prefix, "/"),
		client:    &http.Client{Timeout: 30 * time.Second},
		transfers: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (a *apiClient) url(path string) string {
	return a.baseURL + a.prefix + path
}

// decode reads a JSON body into out, turning non-2xx answers into errors that
// carry the API's own message.
func decode(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return errors.New(e.Error)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (a *apiClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.url(path), reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

// fetchAttachment pulls a Discord attachment into memory, refusing anything
// above limit bytes.
func (a *apiClient) fetchAttachment(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.transfers.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch failed: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errors.New("attachment is too large")
	}
	return data, nil
}

func (a *apiClient) upload(ctx context.Context, filename string, data []byte) (*uploadResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("video", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url("/upload"), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := a.transfers.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *apiClient) process(ctx context.Context, id string, opts services.Options) (*processResponse, error) {
	var out processResponse
	if err := a.doJSON(ctx, http.MethodPost, "/process/"+id, opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *apiClient) status(ctx context.Context, id string) (*jobs.Record, error) {
	var out jobs.Record
	if err := a.doJSON(ctx, http.MethodGet, "/status/"+id, nil, &out); err != nil {
		return nil, fmt.Errorf("status check failed: %w", err)
	}
	return &out, nil
}

func (a *apiClient) cleanup(ctx context.Context, id string) error {
	return a.doJSON(ctx, http.MethodDelete, "/cleanup/"+id, nil, nil)
}

// download fetches the enhanced file. errTooLargeForDiscord is returned when
// it exceeds limit so callers can fall back to a link.
func (a *apiClient) download(ctx context.Context, id string, limit int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url("/download/"+id), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := a.transfers.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", decode(resp, nil)
	}
	if resp.ContentLength > limit {
		return nil, "", errTooLargeForDiscord
	}

	filename := ""
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			filename = params["filename"]
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > limit {
		return nil, "", errTooLargeForDiscord
	}
	return data, filename, nil
}

var errTooLargeForDiscord = errors.New("file exceeds Discord upload limit")
