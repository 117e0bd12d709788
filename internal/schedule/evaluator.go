// Package schedule は配信ウィンドウの判定を提供する。
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/devotion/internal/model"
)

// Evaluator は現在時刻とユーザーのリマインダー時刻から配信対象を選ぶ。
// 副作用を持たない。
type Evaluator struct {
	defaultLoc *time.Location
}

// NewEvaluator はEvaluatorを生成する。
// defaultLocはユーザーのタイムゾーンが未設定または不正な場合に用いる。nilの場合はUTC。
func NewEvaluator(defaultLoc *time.Location) *Evaluator {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &Evaluator{defaultLoc: defaultLoc}
}

// Select は今回のサイクルで配信すべき受信者を入力順のまま返す。
// 少なくとも1つのチャネルが有効で、かつリマインダー時刻のいずれかが
// ユーザーのタイムゾーンに変換した現在時刻の「時」と一致する場合に選ばれる。
func (e *Evaluator) Select(now time.Time, candidates []model.Recipient) []model.Recipient {
	var selected []model.Recipient
	for _, c := range candidates {
		if e.IsDue(now, c) {
			selected = append(selected, c)
		}
	}
	return selected
}

// IsDue は単一の受信者が配信対象かどうかを返す。
func (e *Evaluator) IsDue(now time.Time, r model.Recipient) bool {
	if !r.Preferences.HasEnabledChannel() {
		return false
	}
	localHour := now.In(e.Location(r.User.Timezone)).Hour()
	for _, h := range r.Preferences.ReminderHours {
		hour, ok := ParseHour(h)
		if ok && hour == localHour {
			return true
		}
	}
	return false
}

// Location はIANAタイムゾーン名を解決する。空または不正な場合はデフォルトを返す。
func (e *Evaluator) Location(name string) *time.Location {
	if name == "" {
		return e.defaultLoc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return e.defaultLoc
	}
	return loc
}

// ParseHour はリマインダー時刻の文字列を0〜23の時に変換する。
// "9"、"09"、"09:00" の形式を受け付ける。分は00のみ許可する。
func ParseHour(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if hh, mm, found := strings.Cut(s, ":"); found {
		if mm != "00" {
			return 0, false
		}
		s = hh
	}
	if s == "" || len(s) > 2 || s[0] < '0' || s[0] > '9' {
		return 0, false
	}
	h, err := strconv.Atoi(s)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	return h, true
}

// FormatHour は時を "HH" 形式に変換する。
func FormatHour(h int) string {
	if h < 10 {
		return "0" + strconv.Itoa(h)
	}
	return strconv.Itoa(h)
}
