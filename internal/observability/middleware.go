package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	ctxCommandKey = "bittyctl.command"
	ctxLinksKey   = "bittyctl.links"
)

// TagRequest attaches the command and target links of a control request so
// RequestLogger can report them.
func TagRequest(c *gin.Context, command string, links []string) {
	if command != "" {
		c.Set(ctxCommandKey, command)
	}
	if len(links) > 0 {
		c.Set(ctxLinksKey, append([]string(nil), links...))
	}
}

// RequestLogger logs reads at debug and link-affecting requests at info.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case c.Request.Method != http.MethodGet:
			event = logger.Info()
		default:
			event = logger.Debug()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start))
		if cmd := c.GetString(ctxCommandKey); cmd != "" {
			event = event.Str("command", cmd)
		}
		if links := c.GetStringSlice(ctxLinksKey); len(links) > 0 {
			event = event.Strs("links", links)
		}
		event.Str("client_ip", c.ClientIP()).Msg("control_request")
	}
}

func RequestMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
