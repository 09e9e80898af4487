package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICaller completes prompts against the OpenAI chat completions API
// (or any compatible endpoint, via baseURL).
type OpenAICaller struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAICaller creates a caller authenticated with the given API key.
func NewOpenAICaller(baseURL, apiKey string, perCallTimeout time.Duration) *OpenAICaller {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAICaller{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: perCallTimeout + 5*time.Second,
		},
	}
}

type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAICaller) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	if strings.TrimSpace(modelID) == "" {
		return "", &Error{Backend: "openai", Msg: "empty model id"}
	}
	if c.apiKey == "" {
		return "", &Error{Backend: "openai", Msg: "missing API key"}
	}

	body, err := json.Marshal(openAIChatRequest{
		Model: strings.TrimSpace(modelID),
		Messages: []openAIChatMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", &Error{Backend: "openai", Msg: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Backend: "openai", Msg: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Backend: "openai", Msg: "request failed", Err: err, Transient: isNetworkErr(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &Error{
			Backend:   "openai",
			Status:    resp.StatusCode,
			Msg:       string(respBody),
			Transient: transientStatus(resp.StatusCode),
		}
	}

	var result openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &Error{Backend: "openai", Msg: "decode response", Err: err}
	}
	if len(result.Choices) == 0 {
		return "", &Error{Backend: "openai", Msg: "empty choices"}
	}
	return result.Choices[0].Message.Content, nil
}
