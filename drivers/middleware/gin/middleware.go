// Package gin adapts a ratelimiter.Limiter into gin.HandlerFunc host
// glue. This is the thin "host framework integration" the core itself
// stays agnostic of — everything here is wiring, not rate-limiting
// logic.
package gin

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	ratelimiter "github.com/ratelimitcore/go-ratelimiter"
)

// Middleware 限流中间件：对每个请求应用同一条 Policy。
type Middleware struct {
	Limiter    *ratelimiter.Limiter
	Policy     ratelimiter.Policy
	OnError    func(*gin.Context, error)
	OnExceeded func(*gin.Context, ratelimiter.Decision)
	KeyGetter  func(*gin.Context) string
}

// NewMiddleware 创建Gin限流中间件，所有请求共用 policy。
func NewMiddleware(limiter *ratelimiter.Limiter, policy ratelimiter.Policy, options ...Option) gin.HandlerFunc {
	m := &Middleware{
		Limiter:    limiter,
		Policy:     policy,
		OnError:    DefaultErrorHandler,
		OnExceeded: DefaultExceededHandler,
		KeyGetter:  DefaultKeyGetter,
	}

	for _, opt := range options {
		opt(m)
	}

	return func(c *gin.Context) {
		m.Handle(c)
	}
}

// keySpec fingerprints the plain string KeyGetter produces — the
// facade never sees a *gin.Context, only the string it resolved to.
var keySpec = ratelimiter.NewFuncKey(func(ctx any) string {
	return ctx.(string)
})

// Handle 处理请求
func (m *Middleware) Handle(c *gin.Context) {
	key := m.KeyGetter(c)

	decision, err := m.Limiter.Check(c.Request.Context(), m.Policy, keySpec, key)
	if err != nil {
		m.OnError(c, err)
		return
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	if m.Policy.Algorithm == ratelimiter.TokenBucket {
		c.Header("X-RateLimit-Bucket-Capacity", strconv.Itoa(decision.BucketCapacity))
		c.Header("X-RateLimit-Bucket-Refill-Rate", fmt.Sprintf("%g", decision.BucketRefillRate))
	}

	if !decision.Allowed {
		c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSec))
		m.OnExceeded(c, decision)
		return
	}

	c.Next()
}

// Option 中间件选项
type Option func(*Middleware)

// WithErrorHandler 自定义错误处理
func WithErrorHandler(handler func(*gin.Context, error)) Option {
	return func(m *Middleware) {
		m.OnError = handler
	}
}

// WithExceededHandler 自定义限流超出处理
func WithExceededHandler(handler func(*gin.Context, ratelimiter.Decision)) Option {
	return func(m *Middleware) {
		m.OnExceeded = handler
	}
}

// WithKeyGetter 自定义key获取
func WithKeyGetter(getter func(*gin.Context) string) Option {
	return func(m *Middleware) {
		m.KeyGetter = getter
	}
}

// DefaultErrorHandler 默认错误处理 — only BAD_CONFIG (malformed key
// spec or policy) reaches here;
// backend errors never escape Limiter.Check.
func DefaultErrorHandler(c *gin.Context, err error) {
	c.JSON(500, gin.H{
		"error": "限流检查失败",
		"msg":   err.Error(),
	})
	c.Abort()
}

// DefaultExceededHandler 默认限流超出处理
func DefaultExceededHandler(c *gin.Context, decision ratelimiter.Decision) {
	c.JSON(429, gin.H{
		"error":     "请求过于频繁",
		"limit":     decision.Limit,
		"remaining": decision.Remaining,
		"reset":     decision.ResetAt.Unix(),
	})
	c.Abort()
}

// DefaultKeyGetter 默认key获取：按路径、方法、客户端地址、用户ID组合。
func DefaultKeyGetter(c *gin.Context) string {
	userID := c.GetString("user_id")
	return c.Request.URL.Path + "|" + c.Request.Method + "|" + c.ClientIP() + "|" + userID
}
