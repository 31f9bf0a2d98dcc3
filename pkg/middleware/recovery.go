package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/konversi/pkg/common"
	"github.com/richxcame/konversi/pkg/logger"
	"go.uber.org/zap"
)

// Recovery middleware recovers from panics. Register it before the Sentry
// middleware so Sentry sees the panic and re-panics into it.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithContext(c.Request.Context()).Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.Stack("stack"),
				)

				common.ErrorResponse(c, http.StatusInternalServerError, "internal server error")
				c.Abort()
			}
		}()

		c.Next()
	}
}
