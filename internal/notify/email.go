package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/devotion/internal/retry"
)

// DefaultResendEndpoint はResendのメール送信API。
const DefaultResendEndpoint = "https://api.resend.com/emails"

// EmailResult はメール送信結果。Successがfalseの場合はErrに理由が入る。
type EmailResult struct {
	Success bool
	ID      string
	Err     error
}

// EmailSender はHTMLメールを1通送信する。
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, html string) EmailResult
}

// ResendSender はResendのHTTP APIでメールを送信する。
type ResendSender struct {
	httpClient *http.Client
	apiKey     string
	from       string
	endpoint   string
	policy     retry.Policy
	logger     *slog.Logger
}

// NewResendSender はResendSenderを生成する。
func NewResendSender(httpClient *http.Client, apiKey, from string, policy retry.Policy, logger *slog.Logger) *ResendSender {
	return &ResendSender{
		httpClient: httpClient,
		apiKey:     apiKey,
		from:       from,
		endpoint:   DefaultResendEndpoint,
		policy:     policy,
		logger:     logger,
	}
}

// SetEndpoint はAPIエンドポイントを差し替える（テスト用）。
func (s *ResendSender) SetEndpoint(endpoint string) {
	s.endpoint = endpoint
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID string `json:"id"`
}

// SendEmail はメールを送信する。APIキー未設定の場合は失敗として返す。
func (s *ResendSender) SendEmail(ctx context.Context, to, subject, html string) EmailResult {
	if s.apiKey == "" {
		return EmailResult{Err: errors.New("resend api key is not configured")}
	}
	payload, err := json.Marshal(resendRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return EmailResult{Err: fmt.Errorf("failed to encode email: %w", err)}
	}

	id, err := retry.Do(ctx, s.policy, s.logger, "email.resend", func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
		if err != nil {
			return "", retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if err := retry.CheckStatus("email.resend", resp.StatusCode); err != nil {
			return "", err
		}

		var body resendResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
			return "", retry.Permanent(fmt.Errorf("failed to decode resend response: %w", err))
		}
		return body.ID, nil
	})
	if err != nil {
		return EmailResult{Err: err}
	}
	return EmailResult{Success: true, ID: id}
}

// SMTPConfig はSMTP送信の接続設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender はSMTPサーバー経由でメールを送信する。
type SMTPSender struct {
	cfg    SMTPConfig
	policy retry.Policy
	logger *slog.Logger
}

// NewSMTPSender はSMTPSenderを生成する。
func NewSMTPSender(cfg SMTPConfig, policy retry.Policy, logger *slog.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, policy: policy, logger: logger}
}

// SendEmail はSTARTTLSが使えれば使ってメールを送信する。
func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, html string) EmailResult {
	if s.cfg.Host == "" {
		return EmailResult{Err: errors.New("smtp host is not configured")}
	}
	id := uuid.New().String() + "@" + s.cfg.Host
	msg := buildMIMEMessage(s.cfg.From, to, subject, html, id, time.Now())

	_, err := retry.Do(ctx, s.policy, s.logger, "email.smtp", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.send(ctx, to, msg)
	})
	if err != nil {
		return EmailResult{Err: err}
	}
	return EmailResult{Success: true, ID: id}
}

func (s *SMTPSender) send(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return retry.Permanent(fmt.Errorf("SMTP authentication failed: %w", err))
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return retry.Permanent(fmt.Errorf("failed to set recipient: %w", err))
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close message writer: %w", err)
	}
	return client.Quit()
}

// buildMIMEMessage はHTML本文のMIMEメッセージを組み立てる。
func buildMIMEMessage(from, to, subject, html, messageID string, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: <" + messageID + ">\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(html, "\n", "\r\n"))
	return []byte(b.String())
}

// FallbackEmailSender は主の送信先が失敗した場合に予備の送信先で再送する。
type FallbackEmailSender struct {
	primary   EmailSender
	secondary EmailSender
	logger    *slog.Logger
}

// NewFallbackEmailSender はFallbackEmailSenderを生成する。secondaryはnilでもよい。
func NewFallbackEmailSender(primary, secondary EmailSender, logger *slog.Logger) *FallbackEmailSender {
	return &FallbackEmailSender{primary: primary, secondary: secondary, logger: logger}
}

// SendEmail は主、予備の順に送信を試みる。
func (s *FallbackEmailSender) SendEmail(ctx context.Context, to, subject, html string) EmailResult {
	res := s.primary.SendEmail(ctx, to, subject, html)
	if res.Success || s.secondary == nil {
		return res
	}
	s.logger.WarnContext(ctx, "primary email sender failed, trying fallback",
		slog.String("error", fmt.Sprint(res.Err)),
	)
	return s.secondary.SendEmail(ctx, to, subject, html)
}

var (
	_ EmailSender = (*ResendSender)(nil)
	_ EmailSender = (*SMTPSender)(nil)
	_ EmailSender = (*FallbackEmailSender)(nil)
)
