package llm

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// jsonOnlyInstruction is the fixed system text sent with every completion.
const jsonOnlyInstruction = "You are a helpful assistant that always responds with valid JSON."

// OpenAIConfig configures the OpenAI-backed completion function.
type OpenAIConfig struct {
	APIKey          string
	Model           string
	Temperature     float64
	MaxOutputTokens int64
	// Instructions overrides the default JSON-only system text.
	Instructions string
}

// OpenAI returns a CompleteFunc backed by the OpenAI Responses API. The low
// temperature biases the model toward deterministic, structured output.
func OpenAI(cfg OpenAIConfig) CompleteFunc {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 2000
	}
	if cfg.Instructions == "" {
		cfg.Instructions = jsonOnlyInstruction
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	client := openai.NewClient(opts...)

	return func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Responses.New(ctx, responses.ResponseNewParams{
			Model:           cfg.Model,
			Temperature:     openai.Float(cfg.Temperature),
			MaxOutputTokens: openai.Int(cfg.MaxOutputTokens),
			Instructions:    openai.String(cfg.Instructions),
			Input: responses.ResponseNewParamsInputUnion{
				OfString: openai.String(prompt),
			},
		})
		if err != nil {
			return "", err
		}
		return resp.OutputText(), nil
	}
}
