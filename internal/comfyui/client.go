package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"imaginer/internal/config"
	"imaginer/internal/services"
)

const (
	component             = "comfyui"
	defaultRequestTimeout = 30 * time.Second
	defaultGenerationWait = 5 * time.Minute
	defaultHistoryPoll    = time.Second
	maxErrorBody          = 512
)

// Config captures the runtime settings required to talk to ComfyUI.
type Config struct {
	Address               string
	WorkflowPath          string
	ReferenceWorkflowPath string
	ClientID              string
	RequestTimeout        time.Duration
	GenerationTimeout     time.Duration
	HistoryPoll           time.Duration
	Nodes                 config.Nodes
}

// ConfigFrom maps the [comfyui] config section onto client settings.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Address:               cfg.ComfyUI.Address,
		WorkflowPath:          cfg.ComfyUI.WorkflowPath,
		ReferenceWorkflowPath: cfg.ComfyUI.ReferenceWorkflowPath,
		ClientID:              cfg.ComfyUI.ClientID,
		RequestTimeout:        time.Duration(cfg.ComfyUI.RequestTimeout) * time.Second,
		GenerationTimeout:     time.Duration(cfg.ComfyUI.GenerationTimeout) * time.Second,
		HistoryPoll:           time.Duration(cfg.ComfyUI.HistoryPollMillis) * time.Millisecond,
		Nodes:                 cfg.ComfyUI.Nodes,
	}
}

// Client talks to a single ComfyUI server.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	sleeper    func(context.Context, time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleeper overrides how history polling waits (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleeper != nil {
			c.sleeper = sleeper
		}
	}
}

// NewClient constructs a ComfyUI client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.Address = strings.TrimRight(strings.TrimSpace(cfg.Address), "/")
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaultGenerationWait
	}
	if cfg.HistoryPoll <= 0 {
		cfg.HistoryPoll = defaultHistoryPoll
	}
	baseURL := cfg.Address
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	client := &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		sleeper:    sleepContext,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ClientID returns the id sent with every queued prompt.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// BaseURL returns the resolved server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type httpStatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Operation, e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return "", fmt.Errorf("build url: %w", err)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint, nil
}

// do issues one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, contentType string, body io.Reader) ([]byte, error) {
	endpoint, err := c.endpoint(path, query)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, component, operation, "", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, component, operation, "new request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", operation, ctx.Err())
		}
		return nil, services.Wrap(services.ErrTransient, component, operation, fmt.Sprintf("http error (timeout=%s)", c.cfg.RequestTimeout), err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, component, operation, "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet := string(payload)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		marker := services.ErrExternalTool
		if resp.StatusCode == http.StatusNotFound {
			marker = services.ErrNotFound
		}
		return nil, services.Wrap(marker, component, operation, "", &httpStatusError{Operation: operation, StatusCode: resp.StatusCode, Body: snippet})
	}
	return payload, nil
}

func (c *Client) postJSON(ctx context.Context, operation, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return services.Wrap(services.ErrValidation, component, operation, "encode body", err)
		}
		body = bytes.NewReader(encoded)
	}
	raw, err := c.do(ctx, operation, http.MethodPost, path, nil, "application/json", body)
	if err != nil {
		return err
	}
	return decodeResponse(operation, raw, out)
}

func (c *Client) getJSON(ctx context.Context, operation, path string, out any) error {
	raw, err := c.do(ctx, operation, http.MethodGet, path, nil, "", nil)
	if err != nil {
		return err
	}
	return decodeResponse(operation, raw, out)
}

func decodeResponse(operation string, raw []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return services.Wrap(services.ErrExternalTool, component, operation, "decode response", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
