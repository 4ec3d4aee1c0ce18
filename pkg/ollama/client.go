package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/paddy-monitor/pkg/client"
)

// DefaultTimeout bounds a request when the caller's context has no deadline.
// Multi-image prompts on CPU-only hosts are slow.
const DefaultTimeout = 5 * time.Minute

// Client wraps the Ollama API client
type Client struct {
	client  *api.Client
	options map[string]any
}

var _ client.VisionClient = (*Client)(nil)

// NewClient creates a new Ollama client
func NewClient(ollamaURL string) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", ollamaURL)
	}

	// Drop any path like /api/chat; the SDK adds its own
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{
		client:  api.NewClient(baseURL, http.DefaultClient),
		options: map[string]any{"temperature": 0.2},
	}, nil
}

// SetOption sets a model option (temperature, num_ctx, ...) sent with every request
func (c *Client) SetOption(key string, value any) {
	c.options[key] = value
}

// Query sends the prompt and images in one user message and returns the reply text
func (c *Client) Query(ctx context.Context, model, prompt string, images []client.Image) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	imgs := make([]api.ImageData, len(images))
	for i, img := range images {
		imgs[i] = api.ImageData(img.Data)
	}

	options := make(map[string]any, len(c.options)+1)
	for k, v := range c.options {
		options[k] = v
	}
	// The four-image prompt overflows the default 2048 context on most VLMs
	if _, ok := options["num_ctx"]; !ok && len(images) > 1 {
		options["num_ctx"] = 8192
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  imgs,
			},
		},
		Stream:  &streamFalse,
		Options: options,
	}

	var sb strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from ollama")
	}
	return sb.String(), nil
}
