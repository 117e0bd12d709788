// Package delivery は毎時の配信サイクルを提供する。
// 配信対象の選定、本文生成、配信レコードの作成、チャネル送信、終端状態の記録を順に行う。
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/devotion/internal/devotional"
	"github.com/hitoshi/devotion/internal/metrics"
	"github.com/hitoshi/devotion/internal/model"
	"github.com/hitoshi/devotion/internal/notify"
	"github.com/hitoshi/devotion/internal/repository"
	"github.com/hitoshi/devotion/internal/runlock"
	"github.com/hitoshi/devotion/internal/schedule"
)

// LockName は配信サイクルのロック名。
const LockName = "daily-devotional"

// DefaultSubject は配信メールの件名。
const DefaultSubject = "Your daily devotional"

// ErrRunInProgress は別の配信サイクルが実行中であることを表す。
var ErrRunInProgress = errors.New("delivery cycle is already running")

// Dispatcher はメッセージをユーザーのチャネルに送信する。
type Dispatcher interface {
	Dispatch(ctx context.Context, msg notify.Message, dest notify.Destination) notify.Outcome
}

// Summary は1回のサイクルの集計結果。
type Summary struct {
	Candidates int `json:"candidates"`
	Selected   int `json:"selected"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// Service は配信サイクルを実行する。
// ユーザーは1人ずつ順番に処理し、あるユーザーの失敗は他のユーザーの処理に影響しない。
type Service struct {
	prefsRepo    repository.PreferencesRepository
	deliveryRepo repository.DeliveryRepository
	evaluator    *schedule.Evaluator
	generator    devotional.Generator
	dispatcher   Dispatcher
	locker       runlock.Locker
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	clock        func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	prefsRepo repository.PreferencesRepository,
	deliveryRepo repository.DeliveryRepository,
	evaluator *schedule.Evaluator,
	generator devotional.Generator,
	dispatcher Dispatcher,
	locker runlock.Locker,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		prefsRepo:    prefsRepo,
		deliveryRepo: deliveryRepo,
		evaluator:    evaluator,
		generator:    generator,
		dispatcher:   dispatcher,
		locker:       locker,
		metrics:      collector,
		logger:       logger,
		clock:        time.Now,
	}
}

// RunCycle は現在時刻nowを基準に1回分の配信を行う。
// 実行中のサイクルがある場合は何も送信せずErrRunInProgressを返す。
// 個々のユーザーの失敗はログに記録してSummaryに数え、エラーとしては返さない。
func (s *Service) RunCycle(ctx context.Context, now time.Time) (Summary, error) {
	start := s.clock()

	release, err := s.locker.Acquire(ctx, LockName)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			s.metrics.RecordCycleRun(metrics.CycleResultLocked)
			s.logger.WarnContext(ctx, "配信サイクルは既に実行中のためスキップします")
			return Summary{}, ErrRunInProgress
		}
		s.metrics.RecordCycleRun(metrics.CycleResultError)
		return Summary{}, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.ErrorContext(ctx, "配信サイクルのロック解放に失敗しました", slog.String("error", err.Error()))
		}
	}()

	candidates, err := s.prefsRepo.ListDeliveryCandidates(ctx)
	if err != nil {
		s.metrics.RecordCycleRun(metrics.CycleResultError)
		return Summary{}, fmt.Errorf("failed to list delivery candidates: %w", err)
	}

	selected := s.evaluator.Select(now, candidates)
	summary := Summary{Candidates: len(candidates), Selected: len(selected)}

	s.logger.InfoContext(ctx, "配信サイクルを開始します",
		slog.Time("now", now),
		slog.Int("candidates", len(candidates)),
		slog.Int("selected", len(selected)),
	)

	for _, r := range selected {
		if ctx.Err() != nil {
			s.logger.WarnContext(ctx, "配信サイクルが中断されました", slog.String("error", ctx.Err().Error()))
			break
		}
		switch s.deliverTo(ctx, r) {
		case resultDelivered:
			summary.Delivered++
		case resultFailed:
			summary.Failed++
		case resultSkipped:
			summary.Skipped++
		case resultError:
			summary.Errors++
		}
	}

	duration := s.clock().Sub(start)
	s.metrics.RecordCycleRun(metrics.CycleResultSuccess)
	s.metrics.RecordCycleDuration(duration)
	s.logger.InfoContext(ctx, "配信サイクルが完了しました",
		slog.Int("selected", summary.Selected),
		slog.Int("delivered", summary.Delivered),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("errors", summary.Errors),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return summary, nil
}

type userResult int

const (
	resultDelivered userResult = iota
	resultFailed
	resultSkipped
	resultError
)

// deliverTo は1人分の 生成 → PENDING作成 → 送信 → 終端状態の記録 を行う。
func (s *Service) deliverTo(ctx context.Context, r model.Recipient) userResult {
	logger := s.logger.With(slog.String("user_id", r.User.ID))

	content, err := s.generator.Generate(ctx, devotional.Request{
		UserID: r.User.ID,
		Name:   r.User.Name,
		Themes: r.Preferences.Themes,
		Length: r.Preferences.MessageLength,
	})
	if err != nil {
		s.metrics.RecordGenerationFailure()
		logger.WarnContext(ctx, "本文の生成に失敗したためスキップします", slog.String("error", err.Error()))
		return resultSkipped
	}

	created := s.clock()
	rec := &model.DeliveryRecord{
		ID:             uuid.New().String(),
		UserID:         r.User.ID,
		MessageContent: content,
		MessageType:    model.MessageTypeDailyDevotional,
		DeliveryStatus: model.DeliveryStatusPending,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	if err := s.deliveryRepo.Create(ctx, rec); err != nil {
		logger.ErrorContext(ctx, "配信レコードの作成に失敗しました", slog.String("error", err.Error()))
		return resultError
	}
	logger = logger.With(slog.String("record_id", rec.ID))

	outcome := s.dispatcher.Dispatch(ctx, notify.Message{
		Subject: DefaultSubject,
		Body:    content,
	}, notify.Destination{
		Email:        r.User.Email,
		Phone:        r.User.Phone,
		EmailEnabled: r.Preferences.EmailEnabled,
		SMSEnabled:   r.Preferences.SMSEnabled,
	})

	status := outcome.Status()
	if !outcome.Attempted() {
		logger.WarnContext(ctx, "送信可能なチャネルがありません")
	} else if err := outcome.Err(); err != nil {
		logger.WarnContext(ctx, "一部のチャネルで送信に失敗しました", slog.String("error", err.Error()))
	}

	// 送信後の終端状態は呼び出し元のキャンセルに関係なく記録する
	if err := s.deliveryRepo.MarkTerminal(context.WithoutCancel(ctx), rec.ID, status, s.clock()); err != nil {
		if errors.Is(err, repository.ErrAlreadyTerminal) {
			logger.WarnContext(ctx, "配信レコードは既に終端状態です")
		} else {
			logger.ErrorContext(ctx, "配信レコードの状態更新に失敗しました", slog.String("error", err.Error()))
			return resultError
		}
	}
	s.metrics.RecordDelivery(string(status))

	logger.InfoContext(ctx, "配信を記録しました",
		slog.String("status", string(status)),
		slog.Bool("email", outcome.Email.Attempted),
		slog.Int("sms_chunks", outcome.SMS.Sent),
	)
	if status == model.DeliveryStatusDelivered {
		return resultDelivered
	}
	return resultFailed
}

// History はユーザーの配信履歴を新しい順に返す。
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*model.DeliveryRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	records, err := s.deliveryRepo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery records: %w", err)
	}
	return records, nil
}
