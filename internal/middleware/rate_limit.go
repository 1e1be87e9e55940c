package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/osvaldoandrade/ebookpdf/internal/metrics"
	"github.com/osvaldoandrade/ebookpdf/internal/ratelimit"
)

// AdmitConversions gates POST /create on the client's conversion budget and
// holds a slot for the lifetime of the streamed job. It runs after auth so a
// signed-in caller is budgeted by principal across addresses; anonymous
// callers are budgeted by client IP.
func AdmitConversions(adm ratelimit.Admitter, policy ratelimit.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adm == nil || !policy.Enabled() {
			c.Next()
			return
		}

		client := "ip:" + c.ClientIP()
		if p := c.GetString("principal"); p != "" {
			client = "user:" + p
		}
		slot := c.GetString("request_id")
		if slot == "" {
			slot = uuid.NewString()
		}

		res, err := adm.Admit(c.Request.Context(), client, slot, policy)
		if err != nil {
			// Fail open: a Redis outage must not block conversions.
			slog.Default().Warn("conversion admission failed", "client", client, "err", err)
			c.Next()
			return
		}
		if !res.Allowed {
			reject(c, res)
			return
		}

		defer func() {
			// The request context is usually cancelled by now.
			if err := adm.Release(context.WithoutCancel(c.Request.Context()), client, slot); err != nil {
				slog.Default().Warn("conversion slot release failed", "client", client, "slot", slot, "err", err)
			}
		}()
		c.Next()
	}
}

func reject(c *gin.Context, res ratelimit.Admission) {
	retryAfterSeconds := int(res.RetryAfter.Seconds())
	if retryAfterSeconds <= 0 {
		retryAfterSeconds = 1
	}
	msg := "rate limit exceeded"
	if res.Reason == ratelimit.ReasonBusy {
		msg = "too many conversions running"
	}
	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	metrics.AdmissionRejectionsTotal.WithLabelValues(string(res.Reason)).Inc()
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":             msg,
		"reason":            res.Reason,
		"running":           res.Running,
		"retryAfterSeconds": retryAfterSeconds,
	})
}

func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
