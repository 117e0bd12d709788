package retry

import (
	"fmt"
	"net/http"
)

// Class はHTTPステータスコードに基づく呼び出し結果の分類。
type Class int

const (
	// ClassOK は成功（2xx）。
	ClassOK Class = iota
	// ClassRetryable は再試行で回復しうる失敗（408/429/5xx）。
	ClassRetryable
	// ClassPermanent は再試行しても回復しない失敗（その他の4xxなど）。
	ClassPermanent
)

// ClassifyHTTPStatus はHTTPステータスコードを分類する。
func ClassifyHTTPStatus(statusCode int) Class {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return ClassOK
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return ClassRetryable
	case statusCode >= 500:
		return ClassRetryable
	default:
		return ClassPermanent
	}
}

// StatusError は外部APIが成功以外のステータスを返したことを表す。
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code: %d", e.Op, e.StatusCode)
}

// CheckStatus はステータスコードを検査し、失敗の場合は分類に応じたエラーを返す。
// 恒久的な失敗はPermanentで包まれ、Doの再試行を打ち切る。
func CheckStatus(op string, statusCode int) error {
	switch ClassifyHTTPStatus(statusCode) {
	case ClassOK:
		return nil
	case ClassRetryable:
		return &StatusError{Op: op, StatusCode: statusCode}
	default:
		return Permanent(&StatusError{Op: op, StatusCode: statusCode})
	}
}
