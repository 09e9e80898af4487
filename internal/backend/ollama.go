package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaCaller completes prompts against a local Ollama server's chat API.
// The model identifier is passed through per call, so one caller serves an
// entire mixed-model panel.
type OllamaCaller struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaCaller creates a caller for the given base URL. perCallTimeout
// bounds each request; the HTTP client timeout sits slightly beyond it so
// the context deadline fires first.
func NewOllamaCaller(baseURL string, perCallTimeout time.Duration) *OllamaCaller {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaCaller{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: perCallTimeout + 5*time.Second,
		},
	}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func (c *OllamaCaller) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	if strings.TrimSpace(modelID) == "" {
		return "", &Error{Backend: "ollama", Msg: "empty model id"}
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model: strings.TrimSpace(modelID),
		Messages: []ollamaChatMessage{
			{Role: "user", Content: prompt},
		},
		Stream: false,
	})
	if err != nil {
		return "", &Error{Backend: "ollama", Msg: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Backend: "ollama", Msg: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Backend: "ollama", Msg: "request failed", Err: err, Transient: isNetworkErr(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &Error{
			Backend:   "ollama",
			Status:    resp.StatusCode,
			Msg:       string(respBody),
			Transient: transientStatus(resp.StatusCode),
		}
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &Error{Backend: "ollama", Msg: "decode response", Err: err}
	}
	return result.Message.Content, nil
}

// isNetworkErr reports whether a transport-level error (no HTTP status) is
// worth retrying. Timeouts and dial failures are; a cancelled context means
// the caller gave up and is not.
func isNetworkErr(err error) bool {
	return !errors.Is(err, context.Canceled)
}
