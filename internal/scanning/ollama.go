package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ollamaSystemPrompt = "You are an expert at reading and extracting information from receipts and invoices. You must carefully read all text and extract accurate information."

// Ollama implements Recognizer and FieldExtractor using Ollama
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama instance
// Recommended vision models for line transcription:
//   - llava:1.6 (best balance of accuracy and speed)
//   - qwen2-vl:7b (good OCR capabilities)
//   - llava-phi3 (smaller, faster, but less accurate)
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // Ollama can be slower, especially for vision models
		},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Recognize transcribes the lines of a receipt capture
func (o *Ollama) Recognize(ctx context.Context, imageData []byte, contentType string) ([]string, error) {
	finalImageData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}

	text, err := o.chat(ctx, recognizePrompt, base64.StdEncoding.EncodeToString(finalImageData))
	if err != nil {
		return nil, err
	}

	lines, err := parseLinesJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing recognized lines: %w", err)
	}
	return lines, nil
}

// ExtractFields reads the structured record out of merged receipt lines
func (o *Ollama) ExtractFields(ctx context.Context, lines []string) (*Record, error) {
	text, err := o.chat(ctx, fieldsPrompt(lines))
	if err != nil {
		return nil, err
	}

	record, err := parseRecordJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt fields: %w", err)
	}
	return record, nil
}

func (o *Ollama) chat(ctx context.Context, prompt string, images ...string) (string, error) {
	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Options: map[string]any{
			"temperature": 0,
		},
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: ollamaSystemPrompt,
			},
			{
				Role:    "user",
				Content: prompt,
				Images:  images,
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return chatResp.Message.Content, nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
