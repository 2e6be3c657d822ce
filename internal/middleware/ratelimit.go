package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/brewfeed/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	LikeRate        rate.Limit    // いいね/いいね取り消しのレート（req/sec）
	LikeBurst       int           // いいね/いいね取り消しのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/token、いいね 30 req/min/token。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteConfig(120, 30)
}

// PerMinuteConfig はトークンあたりの毎分リクエスト数から設定を生成する。
// 0以下の値は1として扱う。
func PerMinuteConfig(general, like int) RateLimiterConfig {
	general = max(general, 1)
	like = max(like, 1)
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(general) / 60.0),
		GeneralBurst:    general,
		LikeRate:        rate.Limit(float64(like) / 60.0),
		LikeBurst:       like,
		CleanupInterval: 5 * time.Minute,
	}
}

// tokenLimiter はトークンごとのレートリミッターとアクセス時刻を保持する。
type tokenLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は1種類のレート制限についてトークンごとのリミッターを管理する。
type limiterSet struct {
	name  string
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*tokenLimiter
}

func newLimiterSet(name string, limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		name:     name,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*tokenLimiter),
	}
}

func (s *limiterSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	tl, ok := s.limiters[key]
	if !ok {
		tl = &tokenLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = tl
	}
	tl.lastAccess = now
	s.mu.Unlock()
	return tl.limiter.AllowN(now, 1)
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// evict は最終アクセスがttlより古いエントリを削除する。
func (s *limiterSet) evict(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, tl := range s.limiters {
		if now.Sub(tl.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

// middleware はBearerトークンをキーとしてレート制限を行うミドルウェアを返す。
// Bearerミドルウェアの後に配置する。
func (s *limiterSet) middleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := TokenFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, model.NewUnauthenticatedError("Missing or invalid Authorization header"))
				return
			}

			if !s.allow(token, time.Now()) {
				writeRateLimitResponse(w, s.limit)
				logger.Warn("rate limit exceeded",
					slog.String("limit_type", s.name),
					slog.String("path", r.URL.Path),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter はトークンごとのレート制限を管理する。
// API全般のレート制限といいね操作専用のレート制限の2種類を提供する。
type RateLimiter struct {
	config  RateLimiterConfig
	logger  *slog.Logger
	general *limiterSet
	like    *limiterSet

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		logger:  logger,
		general: newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		like:    newLimiterSet("like", config.LikeRate, config.LikeBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.general.middleware(rl.logger)
}

// LikeMiddleware はいいね/いいね取り消し専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) LikeMiddleware() func(next http.Handler) http.Handler {
	return rl.like.middleware(rl.logger)
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// LikeLimiterCount は現在管理されているいいね操作リミッターのエントリ数を返す。
func (rl *RateLimiter) LikeLimiterCount() int {
	return rl.like.len()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.evict(now, ttl)
	rl.like.evict(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = max(int(math.Ceil(1.0/float64(r))), 1)
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, &model.APIError{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
		Status:   http.StatusTooManyRequests,
	})
}
