package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"mailq/backend/internal/monitoring"
)

// RateLimiter 按客户端 IP 的令牌桶限流
type RateLimiter struct {
	name    string
	limit   rate.Limit
	burst   int
	metrics *monitoring.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter 创建限流器
//
// 参数:
//   - name: 指标中的限流名称
//   - perSecond: 每秒允许的请求数，小于等于 0 表示不限制
//   - burst: 突发请求数
func NewRateLimiter(name string, perSecond float64, burst int, metrics *monitoring.Metrics) *RateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		name:     name,
		limit:    limit,
		burst:    burst,
		metrics:  metrics,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// Allow 判断 key 的请求是否放行
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

// Middleware 返回 gin 中间件
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		l := rl.limiter(c.ClientIP())
		if !l.Allow() {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitBlock(rl.name)
			}
			retry := time.Second
			if rl.limit != rate.Inf && rl.limit > 0 {
				retry = time.Duration(float64(time.Second) / float64(rl.limit))
			}
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds()+0.999)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  "请求过于频繁，请稍后重试",
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		c.Next()
	}
}
