package devotional

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"text/template"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/devotion/internal/retry"
)

// maxFeedSize はデボーショナルフィードのレスポンス上限。
const maxFeedSize = 5 << 20

// defaultFeedTemplate はフィード記事から本文を組み立てる既定テンプレート。
const defaultFeedTemplate = `{{if .Name}}Good morning, {{.Name}}.

{{end}}{{.Title}}

{{.Body}}{{if .Link}}

Read more: {{.Link}}{{end}}`

// FeedEntry はテンプレートに渡す値。
type FeedEntry struct {
	Name  string
	Title string
	Body  string
	Link  string
}

// FeedGenerator はデボーショナルのRSS/Atomフィードの最新記事をテンプレートで整形する生成元。
type FeedGenerator struct {
	httpClient *http.Client
	feedURL    string
	tmpl       *template.Template
	policy     retry.Policy
	logger     *slog.Logger
}

// NewFeedGenerator はFeedGeneratorを生成する。
func NewFeedGenerator(httpClient *http.Client, feedURL string, policy retry.Policy, logger *slog.Logger) *FeedGenerator {
	return &FeedGenerator{
		httpClient: httpClient,
		feedURL:    feedURL,
		tmpl:       template.Must(template.New("devotional").Parse(defaultFeedTemplate)),
		policy:     policy,
		logger:     logger,
	}
}

// Generate はフィードの最新記事を取得してユーザー向けに整形する。
func (g *FeedGenerator) Generate(ctx context.Context, req Request) (string, error) {
	item, err := g.latest(ctx)
	if err != nil {
		return "", err
	}

	body := item.Description
	if strings.TrimSpace(body) == "" {
		body = item.Content
	}

	var b strings.Builder
	if err := g.tmpl.Execute(&b, FeedEntry{
		Name:  req.Name,
		Title: strings.TrimSpace(item.Title),
		Body:  strings.TrimSpace(body),
		Link:  item.Link,
	}); err != nil {
		return "", fmt.Errorf("failed to render devotional template: %w", err)
	}
	if strings.TrimSpace(item.Title) == "" && strings.TrimSpace(body) == "" {
		return "", ErrEmptyContent
	}
	return checkContent(b.String())
}

func (g *FeedGenerator) latest(ctx context.Context) (*gofeed.Item, error) {
	return retry.Do(ctx, g.policy, g.logger, "devotional.feed", func(ctx context.Context) (*gofeed.Item, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.feedURL, nil)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("User-Agent", "Devotion/1.0")

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := retry.CheckStatus("devotional.feed", resp.StatusCode); err != nil {
			return nil, err
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read feed body: %w", err)
		}

		parsed, err := gofeed.NewParser().ParseString(string(body))
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to parse feed: %w", err))
		}
		if len(parsed.Items) == 0 {
			return nil, retry.Permanent(ErrEmptyContent)
		}
		return newestItem(parsed.Items), nil
	})
}

// newestItem は公開日時が最も新しい記事を返す。日時がない場合は先頭を優先する。
func newestItem(items []*gofeed.Item) *gofeed.Item {
	best := items[0]
	for _, it := range items[1:] {
		if it.PublishedParsed == nil {
			continue
		}
		if best.PublishedParsed == nil || it.PublishedParsed.After(*best.PublishedParsed) {
			best = it
		}
	}
	return best
}

var _ Generator = (*FeedGenerator)(nil)
