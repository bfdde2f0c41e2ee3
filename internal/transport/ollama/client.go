// Package ollama is a client for the local inference server's /api/generate protocol.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	"github.com/ZaineBoulbahaim/Streamevents/internal/metrics"
	"github.com/ZaineBoulbahaim/Streamevents/internal/tracing"
)

const maxErrorBody = 4 << 10

var _ domain.Generator = (*Client)(nil)

// Config holds the generation knobs. They are fixed per deployment, never per request.
type Config struct {
	BaseURL     string
	Model       string
	Temperature float64
	TopP        float64
	NumCtx      int
	Timeout     time.Duration
	HTTPClient  *http.Client // optional, for tests
}

// Client talks to an Ollama-compatible inference server.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumCtx      int     `json:"num_ctx"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// New creates a generation client.
func New(cfg Config, logger *zap.Logger) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		// No client-wide timeout: streams stay open past it. Deadlines come from contexts.
		hc = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: hc, logger: logger}
}

// Model returns the target model identifier.
func (c *Client) Model() string { return c.cfg.Model }

// Generate blocks until the complete reply is available.
// The configured timeout bounds the whole call.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracing.Start(ctx, "ollama.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.cfg.Model))

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.generate(ctx, prompt)
	metrics.GenerationDuration.WithLabelValues(c.cfg.Model, "blocking").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(c.cfg.Model, "blocking", "error").Inc()
		span.RecordError(err)
		c.logger.Error("Generation failed", zap.String("model", c.cfg.Model), zap.Error(err))
		return "", err
	}
	metrics.GenerationRequestsTotal.WithLabelValues(c.cfg.Model, "blocking", "ok").Inc()
	return text, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.post(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", domain.ErrGenerationFailed, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", domain.ErrGenerationFailed, out.Error)
	}
	return strings.TrimSpace(out.Response), nil
}

// GenerateStream opens a streaming generation. The configured timeout bounds only
// connection setup and response headers; once the stream is returned it runs until
// the server signals completion, the connection closes, or the caller calls Close.
// An unreachable server fails here, before any fragment is produced.
func (c *Client) GenerateStream(ctx context.Context, prompt string) (domain.FragmentStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	var timer *time.Timer
	if c.cfg.Timeout > 0 {
		timer = time.AfterFunc(c.cfg.Timeout, cancel)
	}

	resp, err := c.post(streamCtx, prompt, true)
	if timer != nil && !timer.Stop() && err == nil {
		_ = resp.Body.Close()
		err = fmt.Errorf("%w: response headers not received within %s", domain.ErrGenerationFailed, c.cfg.Timeout)
	}
	if err != nil {
		cancel()
		metrics.GenerationRequestsTotal.WithLabelValues(c.cfg.Model, "stream", "error").Inc()
		c.logger.Error("Generation stream failed to open", zap.String("model", c.cfg.Model), zap.Error(err))
		return nil, err
	}

	s := newStream(streamCtx, cancel, resp.Body, c.cfg.Model, c.logger)
	go s.run()
	return s, nil
}

// HealthCheck verifies the inference server answers GET /api/tags.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inference server unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("inference server health check: status %d", resp.StatusCode)
	}
	return nil
}

// post sends a generate request and returns the response once a 2xx status is received.
func (c *Client) post(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: stream,
		Options: generateOptions{
			Temperature: c.cfg.Temperature,
			TopP:        c.cfg.TopP,
			NumCtx:      c.cfg.NumCtx,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
	}
	if resp.StatusCode/100 != 2 {
		defer func() { _ = resp.Body.Close() }()
		return nil, fmt.Errorf("%w: status %d: %s",
			domain.ErrGenerationFailed, resp.StatusCode, errorDetail(resp.Body))
	}
	return resp, nil
}

// errorDetail extracts {"error": "..."} from an error body, falling back to the raw text.
func errorDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
