package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the connection settings for an OpenAI-compatible
// chat/completions endpoint.
type Config struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
}

// HTTPError is a non-2xx response from the inference API. The status code
// decides whether the failure is retryable.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("inference API returned status %d", e.Status)
}

// Client talks to an OpenAI-compatible API and returns schema-validated
// structured output.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

// ExtractRequest is one structured-extraction call.
type ExtractRequest struct {
	DocumentText string
	SystemPrompt string
	Schema       map[string]any
}

// Extract sends the document text with a JSON-schema constraint, validates
// the model output locally against the same schema, and returns the parsed
// fields plus the raw content for diagnostics.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (map[string]any, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.DocumentText),
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": req.SystemPrompt},
			{"role": "user", "content": req.DocumentText + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(req.Schema)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	raw, err := c.post(ctx, endpoint, body, headers)
	if err != nil {
		c.log.Error("llm.extract.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, raw, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.extract.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return nil, raw, fmt.Errorf("decode inference response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.extract.no_choices", "req_id", rid, "raw", string(raw))
		return nil, raw, fmt.Errorf("no choices in inference response")
	}
	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	if err := ValidateJSONAgainstSchema(req.Schema, content); err != nil {
		c.log.Error("llm.extract.schema_validation_failed",
			"req_id", rid, "error", err, "content", string(content),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, content, fmt.Errorf("schema validation failed: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(content, &fields); err != nil {
		return nil, content, fmt.Errorf("unmarshal fields: %w", err)
	}

	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"fields", len(fields),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return fields, content, nil
}

// post sends a JSON request and returns the raw response body. Non-2xx
// responses come back as *HTTPError.
func (c *Client) post(ctx context.Context, url string, body any, headers map[string]string) ([]byte, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Warn("llm.http.response_body_close_error", "error", cerr)
		}
	}()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return raw, &HTTPError{Status: resp.StatusCode, Body: raw}
	}
	return raw, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
