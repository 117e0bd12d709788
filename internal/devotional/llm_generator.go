package devotional

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/hitoshi/devotion/internal/model"
	"github.com/hitoshi/devotion/internal/retry"
)

const systemPrompt = "You write short, warm Christian daily devotionals. " +
	"Include one Bible verse with its reference, a brief reflection, and a closing prayer. " +
	"Reply with plain text only, no markdown."

// LLMGenerator はOpenAI互換のChat Completions API（Ollamaの /v1 など）で本文を生成する。
type LLMGenerator struct {
	client *openai.Client
	model  string
	policy retry.Policy
	logger *slog.Logger
}

// NewLLMGenerator はLLMGeneratorを生成する。baseURLが空の場合はOpenAIの既定エンドポイントを使う。
func NewLLMGenerator(httpClient *http.Client, baseURL, apiKey, modelName string, policy retry.Policy, logger *slog.Logger) *LLMGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &LLMGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
		policy: policy,
		logger: logger,
	}
}

// Generate はユーザーのテーマと長さの希望からプロンプトを組み立てて本文を生成する。
func (g *LLMGenerator) Generate(ctx context.Context, req Request) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(req)},
		},
		MaxTokens:   maxTokensFor(req.Length),
		Temperature: 0.7,
	}

	text, err := retry.Do(ctx, g.policy, g.logger, "devotional.llm", func(ctx context.Context) (string, error) {
		resp, err := g.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return "", classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", retry.Permanent(ErrEmptyContent)
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	return checkContent(text)
}

// BuildPrompt は生成リクエストからユーザープロンプトを組み立てる。
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Write today's devotional")
	if req.Name != "" {
		fmt.Fprintf(&b, " for %s", req.Name)
	}
	b.WriteString(".")
	if len(req.Themes) > 0 {
		fmt.Fprintf(&b, " Focus on these themes: %s.", strings.Join(req.Themes, ", "))
	}
	switch req.Length {
	case model.MessageLengthShort:
		b.WriteString(" Keep it under 80 words.")
	case model.MessageLengthLong:
		b.WriteString(" Use about 400 words.")
	default:
		b.WriteString(" Use about 200 words.")
	}
	return b.String()
}

func maxTokensFor(l model.MessageLength) int {
	switch l {
	case model.MessageLengthShort:
		return 200
	case model.MessageLengthLong:
		return 900
	default:
		return 450
	}
}

// classifyOpenAIError はAPIエラーのステータスから再試行可否を判定する。
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isPermanentStatus(apiErr.HTTPStatusCode) {
			return retry.Permanent(err)
		}
		return err
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if isPermanentStatus(reqErr.HTTPStatusCode) {
			return retry.Permanent(err)
		}
	}
	return err
}

func isPermanentStatus(code int) bool {
	return code >= 400 && retry.ClassifyHTTPStatus(code) == retry.ClassPermanent
}

var _ Generator = (*LLMGenerator)(nil)
