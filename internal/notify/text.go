package notify

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// CleanText はメッセージ本文をSMS送信用のプレーンテキストに整える。
// HTMLタグを除去し、NFC正規化した上で連続する空白を1つにまとめる。
func CleanText(s string) string {
	if strings.ContainsRune(s, '<') {
		s = htmlToText(s)
	}
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// htmlToText はHTMLからテキストノードのみを取り出す。script/styleは捨てる。
// パースできない場合は入力をそのまま返す。
func htmlToText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			case "br", "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteByte(' ')
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && n.Data == "p" {
			b.WriteByte(' ')
		}
	}
	walk(doc)
	return b.String()
}

// endsSentence は単語が文末（. ! ?）で終わるかを返す。閉じ引用符や括弧は無視する。
func endsSentence(word string) bool {
	trimmed := strings.TrimRightFunc(word, func(r rune) bool {
		return r == '"' || r == '\'' || r == ')' || r == ']' || r == '’' || r == '”' || r == '」'
	})
	if trimmed == "" {
		return false
	}
	last := []rune(trimmed)
	switch last[len(last)-1] {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// sentences は空白区切り済みの本文を文単位の単語列に分ける。
func sentences(text string) [][]string {
	var out [][]string
	var cur []string
	for _, w := range strings.FieldsFunc(text, unicode.IsSpace) {
		cur = append(cur, w)
		if endsSentence(w) {
			out = append(out, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
