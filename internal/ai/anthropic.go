package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Iron-Ham/klaus/internal/config"
	"github.com/Iron-Ham/klaus/internal/detect"
	"github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/library"
	"github.com/Iron-Ham/klaus/internal/logging"
	"github.com/Iron-Ham/klaus/internal/retry"
	"github.com/Iron-Ham/klaus/internal/util"
)

const (
	// anthropicAPIURL is the Anthropic Messages API endpoint.
	anthropicAPIURL = "https://api.anthropic.com/v1/messages"

	anthropicVersion = "2023-06-01"

	defaultAPITimeout = 60 * time.Second

	// maxClassifyLogChars bounds the log excerpt sent for classification.
	maxClassifyLogChars = 12000
)

// MessagesClient implements the small sub-agents on the Anthropic Messages
// API: SchemaAnalyzer, TemplateMatcher and LogClassifier.
type MessagesClient struct {
	apiKey     string
	model      string
	endpoint   string
	policy     retry.Policy
	httpClient *http.Client
	logger     *logging.Logger
}

// ClientOption configures a MessagesClient.
type ClientOption func(*MessagesClient)

// WithEndpoint overrides the API endpoint.
func WithEndpoint(url string) ClientOption {
	return func(c *MessagesClient) { c.endpoint = url }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *MessagesClient) { c.httpClient = hc }
}

// WithAPIKey sets the API key instead of reading ANTHROPIC_API_KEY.
func WithAPIKey(key string) ClientOption {
	return func(c *MessagesClient) { c.apiKey = key }
}

// NewMessagesClient creates a client. The API key comes from
// ANTHROPIC_API_KEY unless WithAPIKey is given; without one the client is
// unavailable.
func NewMessagesClient(cfg config.AIConfig, logger *logging.Logger, opts ...ClientOption) (*MessagesClient, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	c := &MessagesClient{
		apiKey:     os.Getenv("ANTHROPIC_API_KEY"),
		model:      cfg.APIModel,
		endpoint:   anthropicAPIURL,
		policy:     retry.AIPolicy(cfg.MaxRetries),
		httpClient: &http.Client{Timeout: defaultAPITimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY environment variable not set", errors.ErrAIUnavailable)
	}
	return c, nil
}

// messagesRequest is the Anthropic Messages API request structure.
type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the Anthropic Messages API response structure.
type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Error   *apiError      `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// complete sends one user message and returns the text reply, retrying
// transient failures.
func (c *MessagesClient) complete(ctx context.Context, op, system, prompt string, maxTokens int) (string, error) {
	return retry.DoValue(ctx, c.policy, func(err error, wait time.Duration) {
		c.logger.Warn("messages API failed, retrying", "op", op, "error", err.Error(), "wait", wait)
	}, func(ctx context.Context) (string, error) {
		return c.send(ctx, op, system, prompt, maxTokens)
	})
}

func (c *MessagesClient) send(ctx context.Context, op, system, prompt string, maxTokens int) (string, error) {
	reqBytes, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.NewAIError(op, err).WithRetryable(ctx.Err() == nil)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewAIError(op, fmt.Errorf("read response: %w", err)).WithRetryable(true)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", errors.NewAIError(op, fmt.Errorf("API error (status %d): %s", resp.StatusCode, util.TruncateString(string(body), 300))).
			WithRetryable(retryable)
	}

	var respData messagesResponse
	if err := json.Unmarshal(body, &respData); err != nil {
		return "", errors.NewAIError(op, fmt.Errorf("unmarshal response: %w", err)).WithRetryable(false)
	}
	if respData.Error != nil {
		return "", errors.NewAIError(op, fmt.Errorf("API error: %s", respData.Error.Message))
	}

	var text strings.Builder
	for _, block := range respData.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", errors.NewAIError(op, fmt.Errorf("empty response from API")).WithRetryable(false)
	}
	return strings.TrimSpace(text.String()), nil
}

const schemaSystem = `You analyze sample messages from a streaming topic and describe their schema in markdown: a short summary, then one bullet per field with its type, an example value, and whether it is always present.`

// AnalyzeSchema implements SchemaAnalyzer.
func (c *MessagesClient) AnalyzeSchema(ctx context.Context, sample, previous, feedback string) (string, error) {
	var b strings.Builder
	b.WriteString("Sample messages:\n```\n")
	b.WriteString(sample)
	b.WriteString("\n```\n")
	if previous != "" {
		b.WriteString("\nYour previous analysis:\n")
		b.WriteString(previous)
		b.WriteString("\n")
	}
	if feedback != "" {
		b.WriteString("\nThe user's feedback on it, which the new analysis must address:\n")
		b.WriteString(feedback)
		b.WriteString("\n")
	}
	return c.complete(ctx, "analyze schema", schemaSystem, b.String(), 2048)
}

// MatchTemplate implements TemplateMatcher.
func (c *MessagesClient) MatchTemplate(ctx context.Context, technology string, candidates []library.Template) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The user wants to connect to: %q\n\nAvailable templates:\n", technology)
	for _, t := range candidates {
		fmt.Fprintf(&b, "- %s: %s %s\n", t.ID, t.Label(), t.Description)
	}
	b.WriteString("\nReply with only the id of the best matching template, or NONE if none fits.")

	reply, err := c.complete(ctx, "match template", "", b.String(), 50)
	if err != nil {
		return "", err
	}
	id := strings.Trim(strings.TrimSpace(reply), "\"'`.")
	for _, t := range candidates {
		if strings.EqualFold(t.ID, id) {
			return t.ID, nil
		}
	}
	return "", nil
}

const classifySystem = `You decide whether the logs of a program run show that the program failed. Warnings and retried operations that later succeed are not failures. Reply with JSON only: {"has_error": true|false, "reason": "<one sentence>"}`

// Classify implements LogClassifier.
func (c *MessagesClient) Classify(ctx context.Context, logs, code string) (detect.Verdict, error) {
	excerpt := logs
	if len(excerpt) > maxClassifyLogChars {
		excerpt = excerpt[len(excerpt)-maxClassifyLogChars:]
	}
	var b strings.Builder
	b.WriteString("Logs:\n```\n")
	b.WriteString(excerpt)
	b.WriteString("\n```\n")
	if code != "" {
		b.WriteString("\nProgram:\n```\n")
		b.WriteString(util.Snippet(code, 4000))
		b.WriteString("\n```\n")
	}

	reply, err := c.complete(ctx, "classify logs", classifySystem, b.String(), 200)
	if err != nil {
		return detect.Verdict{}, err
	}
	return parseVerdict(reply)
}

func parseVerdict(reply string) (detect.Verdict, error) {
	start, end := strings.Index(reply, "{"), strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return detect.Verdict{}, errors.NewAIError("classify logs", fmt.Errorf("no JSON in reply %q", util.TruncateString(reply, 80)))
	}
	var v struct {
		HasError *bool  `json:"has_error"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &v); err != nil || v.HasError == nil {
		return detect.Verdict{}, errors.NewAIError("classify logs", fmt.Errorf("malformed verdict %q", util.TruncateString(reply, 80)))
	}
	return detect.Verdict{HasError: *v.HasError, Reason: v.Reason, Source: detect.SourceAI}, nil
}
