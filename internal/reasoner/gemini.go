package reasoner

import (
	"context"
	"errors"
	"strings"

	genai "google.golang.org/genai"

	"github.com/mohammad-safakhou/cortex/config"
)

// Gemini generates JSON with the Gemini API.
type Gemini struct {
	cli   *genai.Client
	model string
}

// NewGemini builds a client. An empty api key lets genai read
// GOOGLE_API_KEY or GEMINI_API_KEY from the environment.
func NewGemini(ctx context.Context, cfg config.ReasonerConfig) (*Gemini, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Gemini{cli: cli, model: cfg.Model}, nil
}

func (g *Gemini) Name() string { return "gemini:" + g.model }

func (g *Gemini) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
