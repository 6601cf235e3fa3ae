package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/records-inbox/internal/infrastructure/resilience"
)

const ocrPrompt = `Transcribe all legible text in this scanned document image.
Return only the text, preserving line breaks. Do not describe the image.
If there is no readable text, return an empty response.`

// Client runs OCR against an Ollama vision model.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

func (c *Client) RecognizeText(ctx context.Context, image []byte, contentType string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("ocr: empty image")
	}
	request := map[string]any{
		"model":  c.model,
		"prompt": ocrPrompt,
		"images": []string{base64.StdEncoding.EncodeToString(image)},
		"stream": false,
	}

	text, err := resilience.ExecuteValue(ctx, c.executor, "ollama.ocr", func(callCtx context.Context) (string, error) {
		var response struct {
			Response string `json:"response"`
		}
		if err := c.postJSON(callCtx, "/api/generate", request, &response, "ocr"); err != nil {
			return "", err
		}
		return strings.TrimSpace(response.Response), nil
	}, classifyOllamaError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("ollama.ocr", fmt.Errorf("ocr %s: %w", contentType, err))
	}
	return text, nil
}
