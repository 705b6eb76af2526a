package middleware

import (
	"sync"
	"time"

	"PPChat/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	globalMgr *MiddlewareManager
	once      sync.Once
)

// MiddlewareManager holds engine-wide middlewares that can be added at boot.
// Registered handlers run in order and must not call c.Next.
type MiddlewareManager struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// Manager returns the process-wide instance.
func Manager() *MiddlewareManager {
	once.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}

func (m *MiddlewareManager) Add(h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h)
}

func (m *MiddlewareManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = nil
}

// Use mounts a snapshot of the registered middlewares as one handler.
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, m.mids...)
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}

// AccessLog logs one line per request. Websocket requests are logged when
// the connection ends.
func AccessLog() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("remote", c.ClientIP()))
	}
}

// Recovery converts a handler panic into a 500 and logs it.
func Recovery() gin.HandlerFunc {
	log := logger.Named("http")
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		log.Error("handler panic", zap.Any("panic", err), zap.Stack("stack"))
		c.AbortWithStatus(500)
	})
}
