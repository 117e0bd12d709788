// Package devotional はユーザーごとのデボーショナル（祈り・黙想）本文を生成する。
// 外部コンテンツ生成API、OpenAI互換LLM、RSSフィードのテンプレートの3つの生成元を持つ。
package devotional

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/devotion/internal/model"
)

// ErrEmptyContent は生成結果が空だったことを表す。
// 配信サイクルはこのユーザーをスキップし、配信レコードを作成しない。
var ErrEmptyContent = errors.New("generated content is empty")

// Request は生成リクエスト。
type Request struct {
	UserID string
	Name   string
	Themes []string
	Length model.MessageLength
}

// Generator はデボーショナル本文の生成元。
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// checkContent は前後の空白を除去し、空であればErrEmptyContentを返す。
func checkContent(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyContent
	}
	return s, nil
}

// Chain は生成元を順に試し、最初に空でない本文を返した結果を採用する。
type Chain struct {
	generators []namedGenerator
	logger     *slog.Logger
}

type namedGenerator struct {
	name string
	gen  Generator
}

// NewChain は空のChainを生成する。
func NewChain(logger *slog.Logger) *Chain {
	return &Chain{logger: logger}
}

// Add は生成元を末尾に追加する。nameはログ出力に使う。
func (c *Chain) Add(name string, g Generator) *Chain {
	c.generators = append(c.generators, namedGenerator{name: name, gen: g})
	return c
}

// Len は登録された生成元の数を返す。
func (c *Chain) Len() int {
	return len(c.generators)
}

// Generate は登録順に生成元を試す。全て失敗した場合は最後のエラーを返す。
func (c *Chain) Generate(ctx context.Context, req Request) (string, error) {
	if len(c.generators) == 0 {
		return "", fmt.Errorf("no content generator configured")
	}

	var lastErr error
	for _, ng := range c.generators {
		text, err := ng.gen.Generate(ctx, req)
		if err == nil {
			text, err = checkContent(text)
		}
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("content generator failed, trying next",
			slog.String("generator", ng.name),
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
		lastErr = err
	}
	return "", lastErr
}

var _ Generator = (*Chain)(nil)
