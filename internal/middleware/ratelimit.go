package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/devotion/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	WriteRate       rate.Limit    // 投稿系（グループ作成・招待・ノート・返信）のレート（req/sec）。30/60
	WriteBurst      int           // 投稿系のバーストサイズ
	CleanupInterval time.Duration // 使われなくなったリミッターを掃除する間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、投稿系 30 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0),
		GeneralBurst:    120,
		WriteRate:       rate.Limit(30.0 / 60.0),
		WriteBurst:      30,
		CleanupInterval: 5 * time.Minute,
	}
}

// limiterPool はユーザーIDごとのトークンバケットを保持する。
type limiterPool struct {
	name  string
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(name string, limit rate.Limit, burst int) *limiterPool {
	return &limiterPool{name: name, limit: limit, burst: burst, buckets: make(map[string]*bucket)}
}

// allow はuserIDのバケットからトークンを1つ消費できたかを返す。
func (p *limiterPool) allow(userID string, now time.Time) bool {
	p.mu.Lock()
	b, ok := p.buckets[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.buckets[userID] = b
	}
	b.lastSeen = now
	p.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// evictIdle はlastSeenがcutoffより前のバケットを捨てる。
func (p *limiterPool) evictIdle(cutoff time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, b := range p.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(p.buckets, id)
		}
	}
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets)
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般と投稿系の2つのプールは独立しており、投稿系のリクエストは両方を消費する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterPool
	write   *limiterPool
	clock   func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成し、バックグラウンドの掃除を開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterPool("general", config.GeneralRate, config.GeneralBurst),
		write:   newLimiterPool("write", config.WriteRate, config.WriteBurst),
		clock:   time.Now,
		stopCh:  make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// Stop はバックグラウンドの掃除を停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。SessionMiddlewareの後に置く。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general)
}

// WriteMiddleware は投稿系のレート制限ミドルウェアを返す。
func (rl *RateLimiter) WriteMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.write)
}

// GeneralLimiterCount はAPI全般のプールが保持しているユーザー数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int { return rl.general.size() }

// WriteLimiterCount は投稿系のプールが保持しているユーザー数を返す。
func (rl *RateLimiter) WriteLimiterCount() int { return rl.write.size() }

func (rl *RateLimiter) middleware(pool *limiterPool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !pool.allow(userID, rl.clock()) {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", pool.name),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(pool.limit)))
				WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup はCleanupIntervalの2倍以上アクセスのないユーザーのバケットを捨てる。
// 捨てたバケットは次のアクセスで満杯の状態から作り直される。
func (rl *RateLimiter) cleanup() {
	cutoff := rl.clock().Add(-2 * rl.config.CleanupInterval)
	rl.general.evictIdle(cutoff)
	rl.write.evictIdle(cutoff)
}

// retryAfterSeconds はトークンが1つ補充されるまでの秒数（切り上げ、最低1秒）。
func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 {
		return 60
	}
	return max(1, int(math.Ceil(1/float64(limit))))
}
