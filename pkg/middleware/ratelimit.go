package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// visitor はクライアントIPごとの固定ウィンドウのカウンター。
type visitor struct {
	count       int
	windowStart time.Time
}

// RateLimiter はクライアントIP単位でリクエスト数を制限する。
// 最初のリクエストから始まるwindowの間にmax回までのリクエストを許可し、
// windowが終わるとカウンターをリセットする。
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	max      int
	window   time.Duration
	// sweeper は期限切れカウンターの掃除をwindowに1回に間引く。
	sweeper rate.Sometimes
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// NewRateLimiter は新しいRateLimiterを生成する。
// maxRequestsは1以上であること。
func NewRateLimiter(window time.Duration, maxRequests int) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		max:      maxRequests,
		window:   window,
		sweeper:  rate.Sometimes{Interval: window},
		now:      time.Now,
	}
}

// Handler はレート制限を適用するGinミドルウェアを返す。
// 上限を超えたリクエストには429を返し、Retry-Afterにはウィンドウが終わるまでの秒数を設定する。
func (l *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, reset := l.take(c.ClientIP())
		resetSeconds := strconv.Itoa(int(math.Ceil(reset.Seconds())))

		c.Header("RateLimit-Limit", strconv.Itoa(l.max))
		c.Header("RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("RateLimit-Reset", resetSeconds)
		if !allowed {
			c.Header("Retry-After", resetSeconds)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too Many Requests",
				"message": "Too many requests from this IP, please try again later.",
			})
			return
		}
		c.Next()
	}
}

// take はipのカウンターを1つ進め、許可するかどうかとウィンドウの残り時間を返す。
func (l *RateLimiter) take(ip string) (allowed bool, remaining int, reset time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweeper.Do(func() { l.sweep(now) })

	v, ok := l.visitors[ip]
	if !ok || !now.Before(v.windowStart.Add(l.window)) {
		v = &visitor{windowStart: now}
		l.visitors[ip] = v
	}
	reset = v.windowStart.Add(l.window).Sub(now)

	if v.count >= l.max {
		return false, 0, reset
	}
	v.count++
	return true, l.max - v.count, reset
}

// sweep はウィンドウが終わったカウンターを削除する。呼び出し側でロックを保持すること。
func (l *RateLimiter) sweep(now time.Time) {
	for ip, v := range l.visitors {
		if !now.Before(v.windowStart.Add(l.window)) {
			delete(l.visitors, ip)
		}
	}
}
