package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Recognizer and FieldExtractor using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	// Transcription and extraction should be repeatable for the same input
	model.SetTemperature(0)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Recognize transcribes the lines of a receipt capture
func (g *Gemini) Recognize(ctx context.Context, imageData []byte, contentType string) ([]string, error) {
	finalImageData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects just the format suffix, and the data is always PNG here
	text, err := g.generate(ctx, genai.ImageData("png", finalImageData), genai.Text(recognizePrompt))
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
func (g *Gemini) ExtractFields(ctx context.Context, lines []string) (*Record, error) {
	text, err := g.generate(ctx, genai.Text(fieldsPrompt(lines)))
	if err != nil {
		return nil, err
	}

	record, err := parseRecordJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt fields: %w", err)
	}
	return record, nil
}

func (g *Gemini) generate(ctx context.Context, parts ...genai.Part) (string, error) {
	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
