package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/devotion/internal/delivery"
)

// CycleRunner はCronハンドラーが必要とする配信サイクルの実行インターフェース。
type CycleRunner interface {
	RunCycle(ctx context.Context, now time.Time) (delivery.Summary, error)
}

// CronHandler は外部スケジューラから呼ばれる配信トリガーのHTTPハンドラー。
// Bearerトークンの検証はmiddleware.NewCronAuthMiddlewareで行う。
type CronHandler struct {
	runner  CycleRunner
	timeout time.Duration
	logger  *slog.Logger
	clock   func() time.Time
}

// NewCronHandler はCronHandlerを生成する。timeoutが0以下の場合は制限しない。
func NewCronHandler(runner CycleRunner, timeout time.Duration, logger *slog.Logger) *CronHandler {
	return &CronHandler{
		runner:  runner,
		timeout: timeout,
		logger:  logger,
		clock:   time.Now,
	}
}

// cronErrorResponse はCronエンドポイントのエラーレスポンス。
type cronErrorResponse struct {
	Error string `json:"error"`
}

// cronSuccessResponse はCronエンドポイントの成功レスポンス。
type cronSuccessResponse struct {
	Success bool `json:"success"`
	delivery.Summary
}

// DailyDevotional は1回分の配信サイクルを実行する。
// 呼び出し側が切断しても対象ユーザー全員を処理し終えるまで続け、timeoutだけが実行時間を制限する。
// GET /api/cron/daily-devotional
func (h *CronHandler) DailyDevotional(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()

		// サーバー全体のWriteTimeoutより長く走るため、この応答だけ期限を延ばす
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Now().Add(h.timeout + 5*time.Second)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			h.logger.Warn("failed to extend write deadline", slog.String("error", err.Error()))
		}
	}

	summary, err := h.runner.RunCycle(ctx, h.clock())
	if err != nil {
		if errors.Is(err, delivery.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, cronErrorResponse{Error: "Delivery cycle already running"})
			return
		}
		h.logger.Error("daily devotional cycle failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, cronErrorResponse{Error: "Failed to run daily devotional"})
		return
	}

	writeJSON(w, http.StatusOK, cronSuccessResponse{Success: true, Summary: summary})
}
