package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/devotion/internal/auth"
	"github.com/hitoshi/devotion/internal/config"
	"github.com/hitoshi/devotion/internal/database"
	"github.com/hitoshi/devotion/internal/family"
	"github.com/hitoshi/devotion/internal/group"
	"github.com/hitoshi/devotion/internal/handler"
	"github.com/hitoshi/devotion/internal/hub"
	"github.com/hitoshi/devotion/internal/logger"
	"github.com/hitoshi/devotion/internal/metrics"
	"github.com/hitoshi/devotion/internal/middleware"
	"github.com/hitoshi/devotion/internal/repository"
	"github.com/hitoshi/devotion/internal/security"
	"github.com/hitoshi/devotion/internal/user"
	"github.com/hitoshi/devotion/internal/worker/cleanup"
	"github.com/hitoshi/devotion/internal/worker/cron"
)

const (
	// cleanupInterval は削除ジョブの実行間隔。
	cleanupInterval  = 24 * time.Hour
	dbConnectTimeout = 10 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルを反映する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to apply LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandDispatch:
		return runDispatch(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established")

	log := slog.Default()

	// 2. 配信サイクル（外部トリガー用）
	stack, err := buildDeliveryStack(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer stack.Close()

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	prefsRepo := repository.NewPostgresPreferencesRepo(db)
	groupRepo := repository.NewPostgresGroupRepo(db)
	noteRepo := repository.NewPostgresNoteRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	familyRepo := repository.NewPostgresFamilyRepo(db)

	// 4. リアルタイム配信ハブ
	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	groupHub := hub.New(cfg.CORSAllowedOrigin, log)
	go groupHub.Run(hubCtx)

	// 5. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{
			SessionTTL:      time.Duration(cfg.SessionMaxAge) * time.Second,
			DefaultTimezone: cfg.DefaultTimezone,
		},
		log,
	)

	groupService := group.NewService(groupRepo, noteRepo, userRepo, groupHub, security.NewContentSanitizer(), log)
	familyService := family.NewService(familyRepo, subRepo, userRepo, log)
	userService := user.NewService(userRepo, sessionRepo, familyRepo, log)

	// 6. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	}

	deps := &handler.RouterDeps{
		Logger:            log,
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:    middleware.NewRateLimiter(rateLimiterCfg),
		StatusRecorder: stack.collector,
		MetricsHandler: metrics.Handler(stack.registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		CronSecret:  cfg.CronSecret,
		CronHandler: handler.NewCronHandler(stack.service, cfg.RunLockTTL, log),

		PreferencesStore: prefsRepo,
		ContactStore:     userRepo,
		DeliveryService:  stack.service,

		GroupService:    groupService,
		GroupSubscriber: groupHub,

		FamilyService: handler.NewFamilyServiceAdapter(familyService),
		UserService:   handler.NewUserServiceAdapter(userService),
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	cancelHub()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// cron式に従って配信サイクルを実行し、日次の削除ジョブを並行して動かす。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	log := slog.Default()

	stack, err := buildDeliveryStack(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer stack.Close()

	trigger, err := cron.NewTrigger(stack.service, cfg.CronSchedule, cfg.RunLockTTL, log)
	if err != nil {
		return err
	}

	cleanupJob := cleanup.NewCleanupJob(
		repository.NewPostgresSessionRepo(db),
		repository.NewPostgresDeliveryRepo(db),
		log,
	)
	if cfg.DeliveryRetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.DeliveryRetentionDays
	}

	slog.Info("worker starting",
		slog.String("schedule", cfg.CronSchedule),
		slog.Duration("run_lock_ttl", cfg.RunLockTTL),
		slog.Int("retention_days", cleanupJob.RetentionDays),
	)

	// 削除ジョブはバックグラウンド、配信トリガーはメインgoroutineで実行（ブロッキング）
	go cleanupJob.Start(ctx, cleanupInterval)
	trigger.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runDispatch は配信サイクルを1回だけ実行して終了する。
// 外部のスケジューラ（Kubernetes CronJobなど）から起動する用途。
func runDispatch(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	stack, err := buildDeliveryStack(ctx, cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer stack.Close()

	if cfg.RunLockTTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunLockTTL)
		defer cancel()
	}

	summary, err := stack.service.RunCycle(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("delivery cycle failed: %w", err)
	}

	slog.Info("delivery cycle completed",
		slog.Int("candidates", summary.Candidates),
		slog.Int("selected", summary.Selected),
		slog.Int("delivered", summary.Delivered),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("errors", summary.Errors),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.MigrateUp(cfg.DatabaseURL, slog.Default())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("applied", status.Applied),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
