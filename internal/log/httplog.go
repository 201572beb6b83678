package log

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

// HTTPMiddleware logs one structured line per request served by h.
func HTTPMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return handlers.CustomLoggingHandler(io.Discard, h, func(_ io.Writer, p handlers.LogFormatterParams) {
			fields := []interface{}{
				"method", p.Request.Method,
				"path", p.URL.Path,
				"status", p.StatusCode,
				"size", p.Size,
				"remote_addr", p.Request.RemoteAddr,
			}
			if p.StatusCode >= http.StatusInternalServerError {
				logger.Errorw("http request", fields...)
				return
			}
			logger.Debugw("http request", fields...)
		})
	}
}
