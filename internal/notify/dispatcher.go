package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/devotion/internal/model"
)

// Channel は配信チャネル名。
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// ErrSMSNotConfigured はSMS送信先が構成されていない場合のエラー。
var ErrSMSNotConfigured = errors.New("sms sender is not configured")

// Message は配信する1件のメッセージ。
type Message struct {
	Subject  string
	Greeting string
	Body     string
}

// Destination はユーザーの宛先とチャネルごとの有効フラグ。
type Destination struct {
	Email        string
	Phone        string
	EmailEnabled bool
	SMSEnabled   bool
}

// ChannelResult はチャネル1つ分の送信結果。
// Attemptedがfalseの場合、そのチャネルは無効または宛先なしで送信しなかった。
type ChannelResult struct {
	Channel    Channel
	Attempted  bool
	Success    bool
	Sent       int
	Total      int
	ProviderID string
	Err        error
}

// Outcome は全チャネルの送信結果をまとめたもの。
type Outcome struct {
	Email ChannelResult
	SMS   ChannelResult
}

// Attempted は1つ以上のチャネルで送信を試みたかどうかを返す。
func (o Outcome) Attempted() bool {
	return o.Email.Attempted || o.SMS.Attempted
}

// Status は配信レコードの終端状態を返す。
// 試行した全チャネルが成功した場合のみDELIVERED、それ以外（何も試行しなかった場合を含む）はFAILED。
func (o Outcome) Status() model.DeliveryStatus {
	if !o.Attempted() {
		return model.DeliveryStatusFailed
	}
	for _, r := range []ChannelResult{o.Email, o.SMS} {
		if r.Attempted && !r.Success {
			return model.DeliveryStatusFailed
		}
	}
	return model.DeliveryStatusDelivered
}

// Err は失敗したチャネルのエラーをまとめて返す。失敗がなければnil。
func (o Outcome) Err() error {
	var errs []error
	for _, r := range []ChannelResult{o.Email, o.SMS} {
		if r.Attempted && !r.Success && r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Channel, r.Err))
		}
	}
	return errors.Join(errs...)
}

// SendObserver はチャネルごとの送信結果を受け取る（メトリクス用）。
type SendObserver interface {
	ObserveChannelSend(channel string, success bool)
}

// DispatcherConfig はDispatcherの設定。
type DispatcherConfig struct {
	ChunkLimit int
	ChunkDelay time.Duration
}

// Dispatcher は1件のメッセージをユーザーの有効なチャネルへ送信する。
type Dispatcher struct {
	sms      SMSSender
	email    EmailSender
	renderer *EmailRenderer
	cfg      DispatcherConfig
	observer SendObserver
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewDispatcher はDispatcherを生成する。smsまたはemailがnilのチャネルは試行時に失敗扱いになる。
func NewDispatcher(sms SMSSender, email EmailSender, renderer *EmailRenderer, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = DefaultSMSChunkLimit
	}
	return &Dispatcher{
		sms:      sms,
		email:    email,
		renderer: renderer,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// SetObserver は送信結果の通知先を設定する。
func (d *Dispatcher) SetObserver(o SendObserver) {
	d.observer = o
}

// Dispatch はメッセージをメールとSMSへ送信する。チャネル同士は独立しており、
// 片方の失敗がもう片方の送信を妨げない。無効または宛先のないチャネルはエラーなしで飛ばす。
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, dest Destination) Outcome {
	out := Outcome{
		Email: ChannelResult{Channel: ChannelEmail},
		SMS:   ChannelResult{Channel: ChannelSMS},
	}

	if dest.EmailEnabled && strings.TrimSpace(dest.Email) != "" {
		out.Email = d.sendEmail(ctx, msg, dest.Email)
		d.observe(out.Email)
	}
	if dest.SMSEnabled && strings.TrimSpace(dest.Phone) != "" {
		out.SMS = d.sendSMS(ctx, msg, dest.Phone)
		d.observe(out.SMS)
	}
	return out
}

func (d *Dispatcher) sendEmail(ctx context.Context, msg Message, to string) ChannelResult {
	res := ChannelResult{Channel: ChannelEmail, Attempted: true, Total: 1}
	if d.email == nil {
		res.Err = errors.New("email sender is not configured")
		return res
	}

	html, err := d.renderer.Render(msg.Subject, msg.Greeting, msg.Body)
	if err != nil {
		res.Err = err
		return res
	}

	sent := d.email.SendEmail(ctx, to, msg.Subject, html)
	if !sent.Success {
		res.Err = sent.Err
		if res.Err == nil {
			res.Err = errors.New("email provider reported failure")
		}
		d.logger.WarnContext(ctx, "email send failed", slog.String("channel", string(ChannelEmail)), slog.String("error", res.Err.Error()))
		return res
	}
	res.Success = true
	res.Sent = 1
	res.ProviderID = sent.ID
	return res
}

// sendSMS はチャンクを順番に送信する。途中で失敗した場合、残りのチャンクは送らない。
func (d *Dispatcher) sendSMS(ctx context.Context, msg Message, to string) ChannelResult {
	res := ChannelResult{Channel: ChannelSMS, Attempted: true}
	if d.sms == nil {
		res.Err = ErrSMSNotConfigured
		return res
	}

	chunks := SplitIntoChunks(msg.Body, d.cfg.ChunkLimit)
	res.Total = len(chunks)
	if len(chunks) == 0 {
		res.Err = errors.New("message body is empty")
		return res
	}

	for i, chunk := range chunks {
		if i > 0 && d.cfg.ChunkDelay > 0 {
			if err := d.sleep(ctx, d.cfg.ChunkDelay); err != nil {
				res.Err = err
				return res
			}
		}
		if err := d.sms.SendSMS(ctx, to, chunk); err != nil {
			res.Err = fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			d.logger.WarnContext(ctx, "sms send failed",
				slog.String("channel", string(ChannelSMS)),
				slog.Int("chunk", i+1),
				slog.Int("chunks", len(chunks)),
				slog.String("error", err.Error()),
			)
			return res
		}
		res.Sent++
	}
	res.Success = true
	return res
}

func (d *Dispatcher) observe(r ChannelResult) {
	if d.observer != nil {
		d.observer.ObserveChannelSend(string(r.Channel), r.Success)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
