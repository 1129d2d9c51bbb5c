package middleware

import (
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a 500 carrying the trace ID. Panics
// caused by a client that already hung up are logged and the response is
// left unwritten.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			traceID := GetTraceID(c)
			fields := []zap.Field{
				zap.Any("error", r),
				zap.String("trace_id", traceID),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Int64("account_id", GetAccountID(c)),
			}
			if err, ok := r.(error); ok && clientGone(err) {
				log.Warn("client disconnected", fields...)
				c.Abort()
				return
			}
			log.Error("panic recovered", append(fields, zap.Stack("stack"))...)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":    "internal error",
				"code":     "unknown",
				"trace_id": traceID,
			})
		}()
		c.Next()
	}
}

func clientGone(err error) bool {
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		return errors.As(opErr, &sysErr)
	}
	return false
}
