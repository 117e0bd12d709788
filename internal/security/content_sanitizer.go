// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer は外部の生成元から届いたデボーショナル本文や、グループのノート・返信など
// ユーザーが入力したHTMLをbluemondayの許可リストで無害化する。
//
// SSRFGuard はオペレーターが設定した外部URL（生成サービス、フィード）の接続先を検証する。
package security

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var httpsOnly = regexp.MustCompile(`^https://`)

// ContentSanitizer はHTMLを許可リストに従って無害化する。並行に使ってよい。
//
// 許可する要素:
//   - 段落と改行、見出し(h2, h3)、リスト、引用、整形済みテキスト、強調
//   - a（hrefは絶対URLのみ。target="_blank"とrel="nofollow noreferrer noopener"を付ける）
//   - img（srcはhttpsのみ、altを保持）
//
// script, style, iframeやon*属性、style属性はすべて除去する。
type ContentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "h2", "h3",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	// メールや通知の中では相対URLは解決できない
	p.AllowStandardURLs()
	p.AllowRelativeURLs(false)
	p.AllowAttrs("href").OnElements("a")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("alt").OnElements("img")
	p.AllowURLSchemes("https", "http", "mailto")
	p.AllowAttrs("src").Matching(httpsOnly).OnElements("img")

	return &ContentSanitizer{policy: p}
}

// Sanitize は無害化したHTMLを返す。空文字列には空文字列を返し、同じ入力には常に同じ出力を返す。
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}
