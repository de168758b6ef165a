package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "feedbot/pkg/logx"
)

const DefaultTimeout = 10 * time.Second

// HTTP posts {"amount": grams} to the feeder's endpoint. Any 2xx answer is
// a successful dispense; transport errors, timeouts and other statuses are
// reported as failures.
type HTTP struct {
	url     string
	client  *http.Client
	timeout time.Duration
	log     logx.Logger
}

type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client (tests use httptest servers).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

func NewHTTP(endpoint string, timeout time.Duration, log logx.Logger, opts ...HTTPOption) (*HTTP, error) {
	endpoint = strings.TrimSpace(endpoint)
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("device url %q: must be an absolute http(s) url", endpoint)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &HTTP{url: endpoint, client: &http.Client{}, timeout: timeout, log: log}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

type dispenseRequest struct {
	Amount int `json:"amount"`
}

func (h *HTTP) Dispense(ctx context.Context, grams int) (bool, string, error) {
	body, err := json.Marshal(dispenseRequest{Amount: grams})
	if err != nil {
		return false, "", err
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return false, "", fmt.Errorf("build device request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "no response"
		}
		h.log.Warn("device request failed", logx.Int("grams", grams), logx.Duration("took", time.Since(start)), logx.Err(err))
		return false, msg, nil
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode/100 != 2 {
		msg := fmt.Sprintf("device returned %d", resp.StatusCode)
		if s := strings.TrimSpace(string(snippet)); s != "" {
			msg += ": " + s
		}
		h.log.Warn("device rejected dispense", logx.Int("grams", grams), logx.Int("status", resp.StatusCode))
		return false, msg, nil
	}
	h.log.Info("device dispensed", logx.Int("grams", grams), logx.Duration("took", time.Since(start)))
	return true, "", nil
}
