// Package notify はメールとSMSによるメッセージ配信を提供する。
// SMS本文の分割、各チャネルの送信クライアント、チャネル横断のディスパッチャを含む。
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultSMSChunkLimit はSMS1通あたりの最大文字数。
const DefaultSMSChunkLimit = 1500

// minChunkLimit は番号付けの余白を確保した上で本文を入れられる最小の上限。
const minChunkLimit = 16

// SplitIntoChunks は本文を上限文字数（rune数）以下のチャンクに分割する。
//
// 本文はCleanTextで整えた後、文の境界で分割し、1文が上限を超える場合のみ単語の境界で分割する。
// 単語の途中では分割しない。ただし1単語だけで上限を超える場合に限り、その単語を上限で切る。
// 2つ以上に分かれた場合は各チャンクの先頭に "(i/n) " を付け、番号を含めても上限を超えない。
// 空の本文に対しては空スライスを返す。
func SplitIntoChunks(text string, limit int) []string {
	if limit < minChunkLimit {
		limit = minChunkLimit
	}
	text = CleanText(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	// 番号の桁数を仮定して分割し、チャンク数の桁数が仮定を超えたら予約を増やしてやり直す。
	digits := 1
	for {
		budget := limit - prefixWidth(digits)
		chunks := pack(sentences(text), budget)
		if len(strconv.Itoa(len(chunks))) <= digits {
			n := len(chunks)
			for i := range chunks {
				chunks[i] = fmt.Sprintf("(%d/%d) %s", i+1, n, chunks[i])
			}
			return chunks
		}
		digits++
	}
}

// prefixWidth は "(i/n) " の最大幅。iとnはdigits桁まで。
func prefixWidth(digits int) int {
	return len("(/) ") + 2*digits
}

// pack は文の列をbudget以下のチャンクに詰める。
func pack(sents [][]string, budget int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	add := func(s string, n int) {
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(s)
		curLen += n
	}
	fits := func(n int) bool {
		if curLen == 0 {
			return n <= budget
		}
		return curLen+1+n <= budget
	}

	for _, words := range sents {
		sentence := strings.Join(words, " ")
		n := utf8.RuneCountInString(sentence)
		if n <= budget {
			if !fits(n) {
				flush()
			}
			add(sentence, n)
			continue
		}

		// 1文が上限を超える場合は単語単位で詰める
		for _, w := range words {
			wn := utf8.RuneCountInString(w)
			if wn > budget {
				flush()
				pieces := hardCut(w, budget)
				for _, p := range pieces[:len(pieces)-1] {
					chunks = append(chunks, p)
				}
				last := pieces[len(pieces)-1]
				add(last, utf8.RuneCountInString(last))
				continue
			}
			if !fits(wn) {
				flush()
			}
			add(w, wn)
		}
	}
	flush()
	return chunks
}

// hardCut は単語をsize文字ごとに切る。
func hardCut(w string, size int) []string {
	runes := []rune(w)
	var out []string
	for len(runes) > size {
		out = append(out, string(runes[:size]))
		runes = runes[size:]
	}
	return append(out, string(runes))
}
