// Package cron はワーカーモードで配信サイクルを定期実行するトリガーを提供する。
// HTTPの /api/cron/daily-devotional を外部スケジューラから叩く代わりに、プロセス内でcron式に従って起動する。
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/hitoshi/devotion/internal/delivery"
)

// DefaultSchedule は毎時0分。
const DefaultSchedule = "0 * * * *"

// CycleRunner は配信サイクルを1回実行する。
type CycleRunner interface {
	RunCycle(ctx context.Context, now time.Time) (delivery.Summary, error)
}

// Trigger はcron式に従ってCycleRunnerを起動する。
type Trigger struct {
	runner   CycleRunner
	schedule robfig.Schedule
	spec     string
	timeout  time.Duration
	logger   *slog.Logger
	clock    func() time.Time
}

// NewTrigger はTriggerを生成する。specが空の場合はDefaultScheduleを使う。
// timeoutは1回のサイクルの上限時間で、0以下なら上限なし。
func NewTrigger(runner CycleRunner, spec string, timeout time.Duration, logger *slog.Logger) (*Trigger, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := robfig.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return &Trigger{
		runner:   runner,
		schedule: sched,
		spec:     spec,
		timeout:  timeout,
		logger:   logger,
		clock:    time.Now,
	}, nil
}

// Next はtより後の次回実行時刻を返す。
func (t *Trigger) Next(after time.Time) time.Time {
	return t.schedule.Next(after)
}

// Start はctxがキャンセルされるまでスケジュールに従ってサイクルを実行する。
// 前回のサイクルが終わっていない場合、その回はスキップする。
func (t *Trigger) Start(ctx context.Context) {
	c := robfig.New(robfig.WithChain(robfig.SkipIfStillRunning(robfig.DiscardLogger)))
	c.Schedule(t.schedule, robfig.FuncJob(func() { t.RunOnce(ctx) }))

	t.logger.Info("配信トリガーを開始しました",
		slog.String("schedule", t.spec),
		slog.Time("next_run", t.Next(t.clock())),
	)
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	t.logger.Info("配信トリガーを停止しました")
}

// RunOnce はサイクルを1回実行し、結果をログに出す。
func (t *Trigger) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := t.clock()
	summary, err := t.runner.RunCycle(ctx, start)
	switch {
	case errors.Is(err, delivery.ErrRunInProgress):
		t.logger.Warn("別の配信サイクルが実行中のためスキップしました")
	case err != nil:
		t.logger.Error("配信サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	default:
		t.logger.Info("配信サイクルが完了しました",
			slog.Int("selected", summary.Selected),
			slog.Int("delivered", summary.Delivered),
			slog.Int("failed", summary.Failed),
			slog.Int("skipped", summary.Skipped),
			slog.Float64("duration_ms", float64(t.clock().Sub(start).Milliseconds())),
		)
	}
}
