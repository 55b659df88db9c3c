package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"issuetriage/internal/domain"
)

const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"
const defaultOllamaURL = "http://localhost:11434"
const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type Options struct {
	Provider string
	Model    string

	OllamaURL        string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string

	HTTPClient *http.Client
}

// Answer is the outcome of one inference call: the untrusted raw text and
// the label extracted from it.
type Answer struct {
	Raw   string
	Label string
}

type Client struct {
	opts       Options
	httpClient *http.Client
}

func New(opts Options) (*Client, error) {
	opts.Provider = strings.ToLower(strings.TrimSpace(opts.Provider))
	switch opts.Provider {
	case ProviderOllama:
		if opts.Model == "" {
			return nil, fmt.Errorf("llm: model is required for provider ollama")
		}
		if opts.OllamaURL == "" {
			opts.OllamaURL = defaultOllamaURL
		}
	case ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("llm: openai API key is required")
		}
		if opts.Model == "" {
			opts.Model = defaultOpenAIModel
		}
		if opts.OpenAIBaseURL == "" {
			opts.OpenAIBaseURL = defaultOpenAIBaseURL
		}
	case ProviderAnthropic:
		if opts.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("llm: anthropic API key is required")
		}
		if opts.Model == "" {
			opts.Model = defaultAnthropicModel
		}
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", opts.Provider)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{opts: opts, httpClient: httpClient}, nil
}

func (c *Client) Provider() string { return c.opts.Provider }
func (c *Client) Model() string    { return c.opts.Model }

// Infer asks the model once which candidate fits the ticket. There is no
// retry: any transport or service failure is returned wrapping
// domain.ErrInferenceUnavailable.
func (c *Client) Infer(ctx context.Context, req Request) (Answer, error) {
	prompt := BuildPrompt(req)
	log.Printf("llm classify provider=%s model=%s role=%s candidates=%d", c.opts.Provider, c.opts.Model, req.RoleNoun, len(req.Candidates))

	var raw string
	var err error
	switch c.opts.Provider {
	case ProviderOpenAI:
		raw, err = c.callOpenAI(ctx, prompt)
	case ProviderAnthropic:
		raw, err = c.callAnthropic(ctx, prompt)
	default:
		raw, err = c.callOllama(ctx, prompt)
	}
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %s: %w", domain.ErrInferenceUnavailable, c.opts.Provider, err)
	}

	raw = strings.TrimSpace(raw)
	return Answer{Raw: raw, Label: ExtractAnswer(raw)}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// postJSON sends body and decodes a 200 response into out. Other statuses
// return the response body in the error.
func (c *Client) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// --- Ollama ---

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

func (c *Client) callOllama(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaChatRequest{
		Model:    c.opts.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	var resp ollamaChatResponse
	url := strings.TrimRight(c.opts.OllamaURL, "/") + "/api/chat"
	if err := c.postJSON(ctx, url, nil, reqBody, &resp); err != nil {
		log.Printf("llm ollama error: %v", err)
		return "", err
	}
	if resp.Error != "" {
		log.Printf("llm ollama api error: %s", resp.Error)
		return "", fmt.Errorf("ollama: %s", resp.Error)
	}
	log.Printf("llm ollama response size=%d", len(resp.Message.Content))
	return resp.Message.Content, nil
}

// --- OpenAI ---

type openAIRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) callOpenAI(ctx context.Context, prompt string) (string, error) {
	reqBody := openAIRequest{
		Model:    c.opts.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	var resp openAIResponse
	url := strings.TrimRight(c.opts.OpenAIBaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.opts.OpenAIAPIKey}
	if err := c.postJSON(ctx, url, headers, reqBody, &resp); err != nil {
		log.Printf("llm openai error: %v", err)
		return "", err
	}
	if resp.Error != nil {
		log.Printf("llm openai api error: %s", resp.Error.Message)
		return "", fmt.Errorf("openai: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}

	var tokensIn, tokensOut int64
	if resp.Usage != nil {
		tokensIn, tokensOut = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d", len(resp.Choices[0].Message.Content), tokensIn, tokensOut)
	return resp.Choices[0].Message.Content, nil
}

// --- Anthropic ---

func (c *Client) callAnthropic(ctx context.Context, prompt string) (string, error) {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(c.opts.AnthropicAPIKey),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	}
	if c.opts.AnthropicBaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.opts.AnthropicBaseURL))
	}
	client := anthropic.NewClient(reqOpts...)

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.opts.Model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}
