package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	// RequestTimeout bounds every API call to the engine.
	RequestTimeout = 120 * time.Second
	// Temperature biases the engine toward deterministic classification
	// while leaving a little room in the wording of descriptions.
	Temperature = 0.2
	// TopP is the nucleus sampling cutoff.
	TopP = 0.95
	// fallbackModelID is used when the engine lists no models.
	fallbackModelID = "koboldcpp"
)

// Part is one element of a user message: either text or an image data URL.
type Part struct {
	// Text is set for text parts.
	Text string
	// ImageURL is set for image parts, typically a data:image/png;base64 URL.
	ImageURL string
}

// TextPart creates a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart creates an image part from a data URL.
func ImagePart(dataURL string) Part {
	return Part{ImageURL: dataURL}
}

// Client makes typed calls to the engine's OpenAI-compatible API.
type Client struct {
	api *openai.Client

	mu sync.RWMutex
	// model is the model identifier sent with chat completions.
	model string
}

// NewClient creates a Client for the API rooted at baseURL (".../v1"). If
// httpClient is nil, a client with RequestTimeout is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: RequestTimeout}
	}
	conf := openai.DefaultConfig("")
	conf.BaseURL = baseURL
	conf.HTTPClient = httpClient
	return &Client{
		api:   openai.NewClientWithConfig(conf),
		model: fallbackModelID,
	}
}

// SetModel sets the model identifier used for chat completions.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

// Model returns the model identifier used for chat completions.
func (c *Client) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// ListModels returns the identifier of the first model the engine reports.
// An engine that answers but lists nothing yields a generic identifier.
func (c *Client) ListModels(ctx context.Context) (string, error) {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return "", requestError(err)
	}
	if len(list.Models) == 0 || list.Models[0].ID == "" {
		return fallbackModelID, nil
	}
	return list.Models[0].ID, nil
}

// ChatComplete sends a system prompt and an ordered list of user parts and
// returns the content of the first choice.
func (c *Client) ChatComplete(ctx context.Context, systemPrompt string, parts []Part, maxTokens int) (string, error) {
	content := make([]openai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		if p.ImageURL != "" {
			content = append(content, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL},
			})
			continue
		}
		content = append(content, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: p.Text,
		})
	}

	req := openai.ChatCompletionRequest{
		Model: c.Model(),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: content},
		},
		MaxTokens:   maxTokens,
		Temperature: Temperature,
		TopP:        TopP,
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", requestError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrEngineRequestFailed)
	}
	return resp.Choices[0].Message.Content, nil
}

// requestError wraps err in ErrEngineRequestFailed, keeping the HTTP status
// when the engine returned one.
func requestError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return fmt.Errorf("%w: status %d: %w", ErrEngineRequestFailed, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return fmt.Errorf("%w: status %d: %w", ErrEngineRequestFailed, reqErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("%w: %w", ErrEngineRequestFailed, err)
}
