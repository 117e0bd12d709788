package devotional

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/devotion/internal/model"
	"github.com/hitoshi/devotion/internal/retry"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		Timeout:         5 * time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

// --- HTTPGenerator ---

func TestHTTPGenerator_Generate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("HTTPメソッド = %s, want POST", r.Method)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("リクエストボディのデコードに失敗: %v", err)
		}
		if body["userId"] != "user-1" {
			t.Errorf("userId = %q, want user-1", body["userId"])
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"prayer": "  Lord, guide my steps today.  "})
	}))
	defer server.Close()

	var buf bytes.Buffer
	g := NewHTTPGenerator(server.Client(), server.URL, testPolicy(), newTestLogger(&buf))

	got, err := g.Generate(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Lord, guide my steps today." {
		t.Errorf("got %q", got)
	}
}

// 空の本文はErrEmptyContentになることを検証
func TestHTTPGenerator_Generate_EmptyPrayer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"prayer": "   "})
	}))
	defer server.Close()

	var buf bytes.Buffer
	g := NewHTTPGenerator(server.Client(), server.URL, testPolicy(), newTestLogger(&buf))

	_, err := g.Generate(context.Background(), Request{UserID: "user-1"})
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("err = %v, want ErrEmptyContent", err)
	}
}

// 5xxは再試行され、回復すれば成功することを検証
func TestHTTPGenerator_Generate_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"prayer": "Peace be with you."})
	}))
	defer server.Close()

	var buf bytes.Buffer
	g := NewHTTPGenerator(server.Client(), server.URL, testPolicy(), newTestLogger(&buf))

	got, err := g.Generate(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Peace be with you." {
		t.Errorf("got %q", got)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// 4xxは再試行せずExhaustedErrorを返すことを検証
func TestHTTPGenerator_Generate_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	var buf bytes.Buffer
	g := NewHTTPGenerator(server.Client(), server.URL, testPolicy(), newTestLogger(&buf))

	_, err := g.Generate(context.Background(), Request{UserID: "user-1"})
	var ex *retry.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want *retry.ExhaustedError", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// --- LLMGenerator ---

func TestLLMGenerator_Generate_UsesChatCompletions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s, want .../chat/completions", r.URL.Path)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("リクエストのデコードに失敗: %v", err)
		}
		if req.Model != "llama3.1" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "hope") {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","created":1,"model":"llama3.1",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Romans 15:13. May the God of hope fill you."},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	var buf bytes.Buffer
	g := NewLLMGenerator(server.Client(), server.URL+"/v1", "ollama", "llama3.1", testPolicy(), newTestLogger(&buf))

	got, err := g.Generate(context.Background(), Request{UserID: "u", Themes: []string{"hope"}, Length: model.MessageLengthShort})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, "Romans 15:13") {
		t.Errorf("got %q", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(Request{Name: "Ruth", Themes: []string{"gratitude", "rest"}, Length: model.MessageLengthLong})
	for _, want := range []string{"for Ruth", "gratitude, rest", "400 words"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt %q should contain %q", p, want)
		}
	}
}

// --- FeedGenerator ---

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Daily Bread</title>
<item><title>Older</title><description>Yesterday's reading</description><pubDate>Sat, 28 Feb 2026 06:00:00 GMT</pubDate></item>
<item><title>Morning Light</title><description>The steadfast love of the Lord never ceases.</description><link>https://example.com/morning-light</link><pubDate>Sun, 01 Mar 2026 06:00:00 GMT</pubDate></item>
</channel></rss>`

func TestFeedGenerator_Generate_RendersNewestItem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testRSS)
	}))
	defer server.Close()

	var buf bytes.Buffer
	g := NewFeedGenerator(server.Client(), server.URL, testPolicy(), newTestLogger(&buf))

	got, err := g.Generate(context.Background(), Request{UserID: "u", Name: "Ruth"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Good morning, Ruth.", "Morning Light", "steadfast love", "https://example.com/morning-light"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q should contain %q", got, want)
		}
	}
	if strings.Contains(got, "Older") {
		t.Error("最新でない記事が使われています")
	}
}

// --- Chain ---

type stubGenerator struct {
	text  string
	err   error
	calls int
}

func (s *stubGenerator) Generate(ctx context.Context, req Request) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestChain_FallsBackToNextGenerator(t *testing.T) {
	var buf bytes.Buffer
	first := &stubGenerator{err: errors.New("llm down")}
	second := &stubGenerator{text: "   "}
	third := &stubGenerator{text: "Grace to you."}
	fourth := &stubGenerator{text: "unused"}

	c := NewChain(newTestLogger(&buf)).Add("llm", first).Add("http", second).Add("feed", third).Add("extra", fourth)

	got, err := c.Generate(context.Background(), Request{UserID: "u"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Grace to you." {
		t.Errorf("got %q", got)
	}
	if fourth.calls != 0 {
		t.Error("成功後の生成元は呼ばれるべきではありません")
	}
	if !strings.Contains(buf.String(), "llm") {
		t.Error("失敗した生成元がログに記録されていません")
	}
}

func TestChain_AllFailReturnsLastError(t *testing.T) {
	var buf bytes.Buffer
	c := NewChain(newTestLogger(&buf)).Add("a", &stubGenerator{text: ""})

	_, err := c.Generate(context.Background(), Request{UserID: "u"})
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("err = %v, want ErrEmptyContent", err)
	}
}

func TestChain_Empty(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewChain(newTestLogger(&buf)).Generate(context.Background(), Request{}); err == nil {
		t.Error("expected error for empty chain")
	}
}
