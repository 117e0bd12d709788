package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/hitoshi/devotion/internal/retry"
)

// e164Pattern はE.164形式の電話番号（+と国番号から始まる最大15桁）。
var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// ValidPhone は電話番号がE.164形式かどうかを返す。
func ValidPhone(phone string) bool {
	return e164Pattern.MatchString(phone)
}

// SMSSender はSMSを1通送信する。
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// snsPublisher はSNSクライアントのうちSMS送信に使う部分。テストで差し替える。
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender はAmazon SNSでSMSを送信する。
type SNSSender struct {
	client snsPublisher
	policy retry.Policy
	logger *slog.Logger
}

// NewSNSSender はAWSの既定の認証情報チェーンからSNSクライアントを生成する。
// endpointを指定するとLocalStackなどに接続する。
func NewSNSSender(ctx context.Context, region, endpoint string, policy retry.Policy, logger *slog.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		// 再試行はretry.Doで行う
		o.RetryMaxAttempts = 1
	})

	return newSNSSenderWithClient(client, policy, logger), nil
}

func newSNSSenderWithClient(client snsPublisher, policy retry.Policy, logger *slog.Logger) *SNSSender {
	return &SNSSender{client: client, policy: policy, logger: logger}
}

// SendSMS はトランザクションSMSとして本文を送信する。
func (s *SNSSender) SendSMS(ctx context.Context, to, body string) error {
	if !ValidPhone(to) {
		return fmt.Errorf("invalid phone number %q", to)
	}
	input := &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	}

	_, err := retry.Do(ctx, s.policy, s.logger, "sms.sns", func(ctx context.Context) (string, error) {
		out, err := s.client.Publish(ctx, input)
		if err != nil {
			return "", classifyAWSError(err)
		}
		return aws.ToString(out.MessageId), nil
	})
	return err
}

// classifyAWSError はHTTPステータスを持つエラーのうち再試行しても無駄なものを永続エラーにする。
func classifyAWSError(err error) error {
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatusCode()
		if code >= 400 && retry.ClassifyHTTPStatus(code) == retry.ClassPermanent {
			return retry.Permanent(err)
		}
	}
	return err
}

// LogSender は実際には送信せずログに記録するだけのSMS送信先（開発用）。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// SendSMS は送信内容をログに出力する。
func (s *LogSender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.InfoContext(ctx, "sms dry run",
		slog.String("to", to),
		slog.Int("length", utf8.RuneCountInString(body)),
		slog.String("body", body),
	)
	return nil
}

var (
	_ SMSSender = (*SNSSender)(nil)
	_ SMSSender = (*LogSender)(nil)
)
