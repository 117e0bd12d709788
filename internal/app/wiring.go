package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/devotion/internal/config"
	"github.com/hitoshi/devotion/internal/delivery"
	"github.com/hitoshi/devotion/internal/devotional"
	"github.com/hitoshi/devotion/internal/metrics"
	"github.com/hitoshi/devotion/internal/notify"
	"github.com/hitoshi/devotion/internal/repository"
	"github.com/hitoshi/devotion/internal/retry"
	"github.com/hitoshi/devotion/internal/runlock"
	"github.com/hitoshi/devotion/internal/schedule"
	"github.com/hitoshi/devotion/internal/security"
)

// maxGeneratorResponseSize は外部の本文生成元から受け取るレスポンスの上限。
const maxGeneratorResponseSize = 2 << 20

// deliveryStack は配信サイクルに必要な依存をまとめたもの。
// serve/worker/dispatchの各モードで共有する。
type deliveryStack struct {
	service   *delivery.Service
	registry  *prometheus.Registry
	collector *metrics.Collector
	closers   []func() error
}

// Close は保持している外部接続を閉じる。
func (s *deliveryStack) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// retryPolicy は設定値から外部呼び出しの再試行ポリシーを組み立てる。
func retryPolicy(cfg *config.Config) retry.Policy {
	p := retry.DefaultPolicy()
	if cfg.ExternalCallMaxAttempts > 0 {
		p.MaxAttempts = cfg.ExternalCallMaxAttempts
	}
	if cfg.ExternalCallTimeout > 0 {
		p.Timeout = cfg.ExternalCallTimeout
	}
	return p
}

// newMetrics はプロセス単位のレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildGenerator は設定されている本文生成元を優先順に連結する。
// 公開エンドポイント（生成サービス・フィード）はSSRF対策済みのクライアントで呼ぶ。
// LLMはローカルのOllamaを想定するため通常のクライアントを使う。
func buildGenerator(cfg *config.Config, policy retry.Policy, logger *slog.Logger) (*devotional.Chain, error) {
	guard := security.NewSSRFGuard()
	safeClient := guard.NewSafeClient(cfg.ExternalCallTimeout, maxGeneratorResponseSize)

	chain := devotional.NewChain(logger)
	if cfg.ContentGeneratorURL != "" {
		if err := guard.ValidateURL(cfg.ContentGeneratorURL); err != nil {
			return nil, fmt.Errorf("invalid CONTENT_GENERATOR_URL: %w", err)
		}
		chain.Add("http", devotional.NewHTTPGenerator(safeClient, cfg.ContentGeneratorURL, policy, logger))
	}
	if cfg.LLMBaseURL != "" {
		llmClient := &http.Client{Timeout: cfg.ExternalCallTimeout}
		chain.Add("llm", devotional.NewLLMGenerator(llmClient, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, policy, logger))
	}
	if cfg.DevotionalFeedURL != "" {
		if err := guard.ValidateURL(cfg.DevotionalFeedURL); err != nil {
			return nil, fmt.Errorf("invalid DEVOTIONAL_FEED_URL: %w", err)
		}
		chain.Add("feed", devotional.NewFeedGenerator(safeClient, cfg.DevotionalFeedURL, policy, logger))
	}
	if chain.Len() == 0 {
		logger.Warn("no content generator configured; every delivery will be skipped")
	}
	return chain, nil
}

// buildSMSSender はSMS_PROVIDERに応じた送信者を返す。
func buildSMSSender(ctx context.Context, cfg *config.Config, policy retry.Policy, logger *slog.Logger) (notify.SMSSender, error) {
	if cfg.SMSProvider != "sns" {
		return notify.NewLogSender(logger), nil
	}
	s, err := notify.NewSNSSender(ctx, cfg.AWSRegion, cfg.SNSEndpoint, policy, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS sender: %w", err)
	}
	return s, nil
}

// buildEmailSender はResendを主、SMTPを予備とするメール送信者を返す。
// どちらも未設定の場合はnilを返し、メールチャネルは送信不可として扱われる。
func buildEmailSender(cfg *config.Config, policy retry.Policy, logger *slog.Logger) notify.EmailSender {
	var primary, secondary notify.EmailSender
	if cfg.ResendAPIKey != "" {
		client := &http.Client{Timeout: cfg.ExternalCallTimeout}
		primary = notify.NewResendSender(client, cfg.ResendAPIKey, cfg.EmailFrom, policy, logger)
	}
	if cfg.SMTPHost != "" {
		secondary = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
		}, policy, logger)
	}

	switch {
	case primary != nil && secondary != nil:
		return notify.NewFallbackEmailSender(primary, secondary, logger)
	case primary != nil:
		return primary
	case secondary != nil:
		return secondary
	default:
		logger.Warn("no email provider configured; email channel is disabled")
		return nil
	}
}

// buildLocker はREDIS_URLが設定されていればRedisロック、なければプロセス内ロックを返す。
func buildLocker(ctx context.Context, cfg *config.Config) (runlock.Locker, func() error, error) {
	if cfg.RedisURL == "" {
		return runlock.NewLocalLocker(), nil, nil
	}
	l, err := runlock.NewRedisLocker(cfg.RedisURL, cfg.RunLockTTL)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := l.Ping(pingCtx); err != nil {
		l.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return l, l.Close, nil
}

// buildDeliveryStack は配信サイクルのサービスを組み立てる。
func buildDeliveryStack(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (*deliveryStack, error) {
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TIMEZONE %q: %w", cfg.DefaultTimezone, err)
	}

	policy := retryPolicy(cfg)
	registry, collector := newMetrics()

	generator, err := buildGenerator(cfg, policy, logger)
	if err != nil {
		return nil, err
	}

	smsSender, err := buildSMSSender(ctx, cfg, policy, logger)
	if err != nil {
		return nil, err
	}
	emailSender := buildEmailSender(cfg, policy, logger)

	renderer := notify.NewEmailRenderer(security.NewContentSanitizer())
	dispatcher := notify.NewDispatcher(smsSender, emailSender, renderer, notify.DispatcherConfig{
		ChunkLimit: notify.DefaultSMSChunkLimit,
		ChunkDelay: cfg.SMSChunkDelay,
	}, logger)
	dispatcher.SetObserver(collector)

	locker, closeLocker, err := buildLocker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stack := &deliveryStack{
		registry:  registry,
		collector: collector,
	}
	if closeLocker != nil {
		stack.closers = append(stack.closers, closeLocker)
	}

	stack.service = delivery.NewService(
		repository.NewPostgresPreferencesRepo(db),
		repository.NewPostgresDeliveryRepo(db),
		schedule.NewEvaluator(loc),
		generator,
		dispatcher,
		locker,
		collector,
		logger,
	)
	return stack, nil
}
