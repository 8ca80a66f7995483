package remedy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const promptTemplate = "Explain the remedies for %s in short with bullet points, dont write big descriptions."

// Prompt builds the fixed remedy instruction for a predicted label.
func Prompt(label string) string {
	return fmt.Sprintf(promptTemplate, label)
}

type Generator struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func New(ctx context.Context, apiKey, modelName string) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Generator{
		client: cl,
		model:  cl.GenerativeModel(strings.TrimSpace(modelName)),
	}, nil
}

// Remedy asks the model for short remedies for label and returns its text verbatim.
func (g *Generator) Remedy(ctx context.Context, label string) (string, error) {
	return g.Generate(ctx, Prompt(label))
}

// Generate sends prompt as a single user turn.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	txt, ok := firstText(resp)
	if !ok {
		return "", errors.New("gemini: empty response")
	}
	return txt, nil
}

func (g *Generator) Close() error {
	return g.client.Close()
}

func firstText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", false
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String(), true
}
