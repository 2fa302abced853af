package middleware

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"github.com/mikeydub/comment-references/service/logger"
	sentryutil "github.com/mikeydub/comment-references/service/sentry"
	"github.com/mikeydub/comment-references/service/tracing"
	"github.com/mikeydub/comment-references/util"
)

// ErrLogger is a middleware that logs errors
func ErrLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.For(c.Request.Context()).Errorf("%s %s %s %s %s", c.Request.Method, c.Request.URL, c.ClientIP(), c.Request.Header.Get("User-Agent"), c.Errors.JSON())
		}
	}
}

func Sentry(reportGinErrors bool) gin.HandlerFunc {
	handler := sentrygin.New(sentrygin.Options{Repanic: true})

	return func(c *gin.Context) {
		// Clone a new hub for each request
		hub := sentry.CurrentHub().Clone()

		// Add the cloned hub to the request context so sentrygin will find it
		c.Request = c.Request.WithContext(sentry.SetHubOnContext(c.Request.Context(), hub))

		// Invoke the sentrygin handler. We don't call c.Next() here because sentrygin does it for us.
		handler(c)

		if reportGinErrors {
			for _, err := range c.Errors {
				sentryutil.ReportError(c.Request.Context(), err)
			}
		}
	}
}

func Tracing() gin.HandlerFunc {
	// Trace outgoing HTTP requests
	http.DefaultTransport = tracing.NewTracingTransport(http.DefaultTransport, true)
	http.DefaultClient = &http.Client{Transport: http.DefaultTransport}

	return func(c *gin.Context) {
		description := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		span, ctx := tracing.StartSpan(c.Request.Context(), "gin.server", description,
			sentry.WithTransactionName(description),
			sentry.ContinueFromRequest(c.Request),
		)
		defer tracing.FinishSpan(span)

		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RateLimited rejects requests from clients that exceed lim
func RateLimited(lim *KeyRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ok, wait := lim.ForKey(c.ClientIP()); !ok {
			c.Header("Retry-After", fmt.Sprintf("%.0f", wait.Seconds()+0.5))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, util.ErrorResponse{Error: "rate limited, try again later"})
			return
		}
		c.Next()
	}
}
