package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// Sanitizer は信頼できないHTMLを安全なHTMLにする。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

const emailTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: Georgia, serif; line-height: 1.6; max-width: 600px; margin: 0 auto; padding: 24px; color: #222;">
{{- if .Greeting}}
<p>{{.Greeting}}</p>
{{- end}}
{{- if .RawHTML}}
{{.RawHTML}}
{{- else}}
{{- range .Paragraphs}}
<p>{{.}}</p>
{{- end}}
{{- end}}
<hr style="border: none; border-top: 1px solid #ddd; margin-top: 32px;">
<p style="font-size: 12px; color: #888;">You are receiving this because daily devotionals are enabled in your Devotion preferences.</p>
</body>
</html>
`

// EmailRenderer はメッセージ本文をHTMLメールに変換する。
type EmailRenderer struct {
	tmpl      *template.Template
	sanitizer Sanitizer
}

// NewEmailRenderer はEmailRendererを生成する。
func NewEmailRenderer(sanitizer Sanitizer) *EmailRenderer {
	return &EmailRenderer{
		tmpl:      template.Must(template.New("email").Parse(emailTemplate)),
		sanitizer: sanitizer,
	}
}

type emailView struct {
	Subject    string
	Greeting   string
	Paragraphs []string
	RawHTML    template.HTML
}

// Render は本文をHTMLに描画する。本文がHTMLを含む場合はサニタイズして埋め込み、
// プレーンテキストの場合は空行で段落に分けてエスケープする。
func (r *EmailRenderer) Render(subject, greeting, body string) (string, error) {
	view := emailView{Subject: subject, Greeting: greeting}
	if looksLikeHTML(body) {
		view.RawHTML = template.HTML(r.sanitizer.Sanitize(body))
	} else {
		view.Paragraphs = paragraphs(body)
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render email: %w", err)
	}
	return buf.String(), nil
}

func looksLikeHTML(s string) bool {
	i := strings.IndexByte(s, '<')
	return i >= 0 && strings.IndexByte(s[i:], '>') > 0
}

func paragraphs(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(body, "\n\n") {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
