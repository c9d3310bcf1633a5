package keepalive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Invoker calls the remote heartbeat recorder.
type Invoker interface {
	Invoke(ctx context.Context, source string) (*InvokeResult, error)
}

// InvokeResult is the recorder's success body.
type InvokeResult struct {
	OK     bool   `json:"ok"`
	Source string `json:"source"`
}

// ErrRecorder is returned when the recorder answers with a non-2xx status.
var ErrRecorder = errors.New("heartbeat recorder rejected the request")

type recorderError struct {
	Error string `json:"error"`
}

// HTTPInvoker posts {source} to the recorder function URL.
type HTTPInvoker struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPInvoker(url, apiKey string, timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPInvoker{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (i *HTTPInvoker) Invoke(ctx context.Context, source string) (*InvokeResult, error) {
	body, err := json.Marshal(map[string]string{"source": source})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if i.apiKey != "" {
		req.Header.Set("apikey", i.apiKey)
		req.Header.Set("Authorization", "Bearer "+i.apiKey)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach heartbeat recorder: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read recorder response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var re recorderError
		if json.Unmarshal(raw, &re) == nil && re.Error != "" {
			return nil, fmt.Errorf("%w: %d: %s", ErrRecorder, resp.StatusCode, re.Error)
		}
		return nil, fmt.Errorf("%w: %d", ErrRecorder, resp.StatusCode)
	}

	var result InvokeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode recorder response: %w", err)
	}
	return &result, nil
}
