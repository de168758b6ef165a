// Package pellet talks to the image inference service that counts pellets.
package pellet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	logx "feedbot/pkg/logx"
)

const (
	DefaultTimeout = 30 * time.Second
	maxImageBytes  = 10 << 20
)

var (
	ErrNotConfigured = errors.New("pellet counter not configured")
	ErrEmptyImage    = errors.New("empty image")
	ErrImageTooLarge = errors.New("image too large")
)

type Counter interface {
	Count(ctx context.Context, image io.Reader, filename string) (int, error)
}

// HTTP posts the image as multipart field "image" and reads
// {"pellet_count": n} or {"error": "..."}.
type HTTP struct {
	url     string
	client  *http.Client
	timeout time.Duration
	log     logx.Logger
}

func NewHTTP(endpoint string, timeout time.Duration, client *http.Client, log logx.Logger) (*HTTP, error) {
	endpoint = strings.TrimSpace(endpoint)
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("pellet url %q: must be an absolute http(s) url", endpoint)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTP{url: endpoint, client: client, timeout: timeout, log: log}, nil
}

type countResponse struct {
	PelletCount *int   `json:"pellet_count"`
	Error       string `json:"error"`
}

func (h *HTTP) Count(ctx context.Context, image io.Reader, filename string) (int, error) {
	data, err := io.ReadAll(io.LimitReader(image, maxImageBytes+1))
	if err != nil {
		return 0, fmt.Errorf("read image: %w", err)
	}
	switch {
	case len(data) == 0:
		return 0, ErrEmptyImage
	case len(data) > maxImageBytes:
		return 0, ErrImageTooLarge
	}
	if filename = filepath.Base(strings.TrimSpace(filename)); filename == "." || filename == "/" {
		filename = "image.jpg"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(data); err != nil {
		return 0, err
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, &body)
	if err != nil {
		return 0, fmt.Errorf("build pellet request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("pellet counter: %w", err)
	}
	defer resp.Body.Close()

	var out countResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return 0, fmt.Errorf("pellet counter returned %d: undecodable body: %w", resp.StatusCode, err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("pellet counter: %s", out.Error)
	}
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("pellet counter returned %d", resp.StatusCode)
	}
	if out.PelletCount == nil || *out.PelletCount < 0 {
		return 0, errors.New("pellet counter: missing pellet_count")
	}
	h.log.Debug("pellets counted", logx.Int("count", *out.PelletCount), logx.Int("bytes", len(data)), logx.Duration("took", time.Since(start)))
	return *out.PelletCount, nil
}

// Disabled is used when no inference endpoint is configured.
type Disabled struct{}

func (Disabled) Count(context.Context, io.Reader, string) (int, error) { return 0, ErrNotConfigured }
