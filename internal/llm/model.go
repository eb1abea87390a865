package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/noahchander/labtree/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Token limits per backend. Conservative published values.
const (
	openAIMaxInput     = 128000
	openAIMaxOutput    = 16384
	anthropicMaxInput  = 200000
	anthropicMaxOutput = 8192
	ollamaMaxInput     = 8192
	ollamaMaxOutput    = 4096
	bedrockMaxInput    = 200000
	bedrockMaxOutput   = 8192
)

// Model wraps a langchaingo LLM as a Provider.
type Model struct {
	llm       llms.Model
	name      string
	modelName string
	maxIn     int
	maxOut    int
}

var _ Provider = (*Model)(nil)

// NewProvider creates a named provider backend from configuration.
func NewProvider(cfg config.Config, name string) (*Model, error) {
	switch name {
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.OpenAIModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		return &Model{llm: model, name: name, modelName: cfg.OpenAIModel, maxIn: openAIMaxInput, maxOut: openAIMaxOutput}, nil

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err := anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.AnthropicModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
		return &Model{llm: model, name: name, modelName: cfg.AnthropicModel, maxIn: anthropicMaxInput, maxOut: anthropicMaxOutput}, nil

	case config.ProviderOllama:
		model, err := ollama.New(
			ollama.WithModel(cfg.OllamaModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		return &Model{llm: model, name: name, modelName: cfg.OllamaModel, maxIn: ollamaMaxInput, maxOut: ollamaMaxOutput}, nil

	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		model, err := bedrock.New(
			bedrock.WithClient(client),
			bedrock.WithModel(cfg.BedrockModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}
		return &Model{llm: model, name: name, modelName: cfg.BedrockModel, maxIn: bedrockMaxInput, maxOut: bedrockMaxOutput}, nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", name)
	}
}

// Name returns the provider identifier.
func (m *Model) Name() string {
	return m.name
}

// ModelInfo returns the active model name and token limits.
func (m *Model) ModelInfo() ModelInfo {
	return ModelInfo{Name: m.modelName, MaxInputTokens: m.maxIn, MaxOutputTokens: m.maxOut}
}

// GenerateJSON prompts the model and returns the raw JSON document.
// Non-JSON or cut-off output is classified as truncation so callers can
// retry with a fallback provider.
func (m *Model) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	response, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt,
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, Classify(fmt.Errorf("generate: %w", err))
	}

	raw := StripFences(response)
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("%w: model returned invalid JSON (%d chars)", ErrTruncated, len(response))
	}
	return json.RawMessage(raw), nil
}

// StripFences removes a surrounding markdown code fence, which some models
// emit even in JSON mode.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
