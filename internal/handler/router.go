package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/devotion/internal/middleware"
	"github.com/hitoshi/devotion/internal/model"
)

// HealthChecker はDB接続の死活確認インターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder
	MetricsHandler    http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 配信トリガー
	CronSecret  string
	CycleRunner CycleRunner
	CronHandler *CronHandler

	// 配信設定・履歴
	PreferencesStore PreferencesStore
	ContactStore     ContactStore
	DeliveryService  DeliveryHistoryService

	// グループ
	GroupService    GroupServiceInterface
	GroupSubscriber GroupSubscriber

	// 家族
	FamilyService FamilyServiceInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → Metrics → CORS → SessionMiddleware → CSRF → RateLimit(General)
//
// 認証ルート（/auth/*）、ヘルスチェック、メトリクス、CSRFトークン取得、Cronトリガーはセッションチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	prefsHandler := NewPreferencesHandler(deps.PreferencesStore, deps.ContactStore)
	deliveryHandler := NewDeliveryHandler(deps.DeliveryService)
	groupHandler := NewGroupHandler(deps.GroupService, deps.GroupSubscriber)
	familyHandler := NewFamilyHandler(deps.FamilyService)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)

	cronHandler := deps.CronHandler
	if cronHandler == nil {
		cronHandler = NewCronHandler(deps.CycleRunner, 0, logger)
	}

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// CSRFトークン取得（ログイン前のSPAからも呼ばれる）
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// 外部スケジューラからの配信トリガー（共有シークレットで保護）
	r.With(middleware.NewCronAuthMiddleware(deps.CronSecret)).
		Get("/api/cron/daily-devotional", cronHandler.DailyDevotional)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 配信設定
		r.Route("/api/preferences", func(r chi.Router) {
			r.Get("/", prefsHandler.Get)
			r.Put("/", prefsHandler.Update)
		})

		// 配信履歴
		r.Get("/api/deliveries", deliveryHandler.List)

		// グループ
		r.Route("/api/groups", func(r chi.Router) {
			r.Get("/", groupHandler.ListGroups)
			r.With(deps.RateLimiter.WriteMiddleware()).Post("/", groupHandler.CreateGroup)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", groupHandler.GetGroup)
				r.With(deps.RateLimiter.WriteMiddleware()).Post("/invitations", groupHandler.Invite)
				r.Post("/membership/respond", groupHandler.Respond)
				r.Post("/membership/activate", groupHandler.Activate)

				// ノートと祈りの課題は同じ構造を共有する
				for path, kind := range map[string]model.NoteKind{
					"/notes":   model.NoteKindNote,
					"/prayers": model.NoteKindPrayer,
				} {
					r.Route(path, func(r chi.Router) {
						r.Get("/", groupHandler.ListNotes(kind))
						r.With(deps.RateLimiter.WriteMiddleware()).Post("/", groupHandler.CreateNote(kind))
						r.Delete("/{noteId}", groupHandler.DeleteNote)
						r.With(deps.RateLimiter.WriteMiddleware()).Post("/{noteId}/replies", groupHandler.AddReply)
					})
				}
			})
		})

		// グループのリアルタイム更新
		r.Get("/ws/groups/{id}", groupHandler.Subscribe)

		// 家族アカウント
		r.Route("/api/family/members", func(r chi.Router) {
			r.Get("/", familyHandler.ListMembers)
			r.Post("/", familyHandler.AddMember)
			r.Delete("/{userId}", familyHandler.RemoveMember)
		})

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}

// healthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
