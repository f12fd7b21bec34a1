package attribution

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// Oracle is the outbound reasoning service used by the AI matching stage.
// The interface exists so tests can substitute a canned response; the real
// implementation is Gemini.
type Oracle interface {
	// GenerateText sends one instruction and returns the model's raw text.
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// GeminiOracle calls Gemini through the GenAI SDK. One call per unmatched
// attempt, no retry; the call runs under an explicit timeout and a timeout
// degrades to an oracle failure upstream.
type GeminiOracle struct {
	model   string
	timeout time.Duration
}

// NewGeminiOracle creates a Gemini-backed oracle. Zero values fall back to
// the package defaults.
func NewGeminiOracle(model string, timeout time.Duration) *GeminiOracle {
	if model == "" {
		model = DefaultModelName
	}
	if timeout <= 0 {
		timeout = DefaultOracleTimeout
	}
	return &GeminiOracle{model: model, timeout: timeout}
}

// GenerateText implements Oracle.
func (o *GeminiOracle) GenerateText(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return "", fmt.Errorf("GeminiOracle.GenerateText: create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, o.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("GeminiOracle.GenerateText: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return "", fmt.Errorf("GeminiOracle.GenerateText: empty response from model")
	}

	return rawText, nil
}
