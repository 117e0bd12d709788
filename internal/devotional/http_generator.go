package devotional

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/devotion/internal/retry"
)

// maxResponseSize は生成APIのレスポンスボディの上限。
const maxResponseSize = 1 << 20

// HTTPGenerator は外部のコンテンツ生成APIを呼び出す生成元。
// POST {"userId": "..."} に対して {"prayer": "..."} を受け取る。
type HTTPGenerator struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	policy     retry.Policy
}

// NewHTTPGenerator はHTTPGeneratorを生成する。
func NewHTTPGenerator(httpClient *http.Client, endpoint string, policy retry.Policy, logger *slog.Logger) *HTTPGenerator {
	return &HTTPGenerator{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		policy:     policy,
	}
}

type generateRequest struct {
	UserID string `json:"userId"`
}

type generateResponse struct {
	Prayer string `json:"prayer"`
}

// Generate は生成APIを再試行付きで呼び出す。
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(generateRequest{UserID: req.UserID})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	text, err := retry.Do(ctx, g.policy, g.logger, "devotional.http", func(ctx context.Context) (string, error) {
		return g.call(ctx, payload)
	})
	if err != nil {
		return "", err
	}
	return checkContent(text)
}

func (g *HTTPGenerator) call(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "Devotion/1.0")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := retry.CheckStatus("devotional.http", resp.StatusCode); err != nil {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return out.Prayer, nil
}

var _ Generator = (*HTTPGenerator)(nil)
