package llm

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/ragserve/internal/config"
	"github.com/raphaelgruber/ragserve/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048
)

// Turn is one message of a chat exchange sent to the model.
type Turn struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// Model wraps a langchaingo chat model for generation and streaming. The
// model name is chosen per call so agents configured with different models
// share one client.
type Model struct {
	llm          llms.Model
	defaultModel string
	timeout      time.Duration
	metrics      *metrics.Collector
}

// NewModel creates a chat model client based on configuration.
func NewModel(ctx context.Context, cfg config.Config, mc *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.DefaultModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.DefaultModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("OpenRouter API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenRouterAPIKey),
			openai.WithBaseURL(config.OpenRouterBaseURL),
			openai.WithModel(cfg.DefaultModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openrouter model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, loadErr := awsconfig.LoadDefaultConfig(ctx)
		if loadErr != nil {
			return nil, fmt.Errorf("load aws config: %w", loadErr)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		model, err = bedrock.New(
			bedrock.WithClient(client),
			bedrock.WithModel(cfg.DefaultModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:          model,
		defaultModel: cfg.DefaultModel,
		timeout:      cfg.LLMTimeout,
		metrics:      mc,
	}, nil
}

// NewModelWithClient wires an explicit langchaingo model (used by tests).
func NewModelWithClient(client llms.Model, defaultModel string, timeout time.Duration) *Model {
	return &Model{llm: client, defaultModel: defaultModel, timeout: timeout}
}

// DefaultModel returns the model name used when a call does not pick one.
func (m *Model) DefaultModel() string { return m.defaultModel }

// Generate runs a full completion over the conversation turns.
func (m *Model) Generate(ctx context.Context, model string, turns []Turn) (string, error) {
	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	start := time.Now()
	resp, err := m.llm.GenerateContent(callCtx, toMessages(turns), m.callOptions(model)...)
	if err != nil {
		return "", wrapServiceError("generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", wrapServiceError("generate", fmt.Errorf("no response choices"))
	}

	if m.metrics != nil {
		in, out := usageTokens(resp.Choices[0])
		m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, time.Since(start), in, out)
	}
	return resp.Choices[0].Content, nil
}

// Stream runs a completion, invoking onDelta for each text fragment as it
// arrives. Fragments concatenate to the full response.
func (m *Model) Stream(ctx context.Context, model string, turns []Turn, onDelta func(string) error) error {
	callCtx, cancel := m.callContext(ctx)
	defer cancel()

	opts := append(m.callOptions(model), llms.WithStreamingFunc(
		func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onDelta(string(chunk))
		}))

	start := time.Now()
	resp, err := m.llm.GenerateContent(callCtx, toMessages(turns), opts...)
	if err != nil {
		return wrapServiceError("stream", err)
	}

	if m.metrics != nil {
		var in, out int64
		if len(resp.Choices) > 0 {
			in, out = usageTokens(resp.Choices[0])
		}
		m.metrics.RecordLLMUsage(metrics.OpLLMStream, time.Since(start), in, out)
	}
	return nil
}

func (m *Model) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout > 0 {
		return context.WithTimeout(ctx, m.timeout)
	}
	return context.WithCancel(ctx)
}

func (m *Model) callOptions(model string) []llms.CallOption {
	if model == "" {
		model = m.defaultModel
	}
	return []llms.CallOption{
		llms.WithModel(model),
		llms.WithTemperature(defaultTemperature),
		llms.WithMaxTokens(defaultMaxTokens),
	}
}

func toMessages(turns []Turn) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		var role llms.ChatMessageType
		switch t.Role {
		case "system":
			role = llms.ChatMessageTypeSystem
		case "assistant":
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		msgs = append(msgs, llms.TextParts(role, t.Content))
	}
	return msgs
}

func usageTokens(choice *llms.ContentChoice) (int64, int64) {
	if choice == nil || choice.GenerationInfo == nil {
		return 0, 0
	}
	in := intFromInfo(choice.GenerationInfo, "PromptTokens", "prompt_tokens", "input_tokens")
	out := intFromInfo(choice.GenerationInfo, "CompletionTokens", "completion_tokens", "output_tokens")
	return in, out
}

func intFromInfo(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
