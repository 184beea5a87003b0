package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"clawkeeper/internal/config"
	"clawkeeper/internal/logger"
)

// extractAPIKey pulls the API key from X-API-Key or a bearer-style
// Authorization header. Shared with AuthMiddleware so rate limiting and
// authentication key on the same credential.
func extractAPIKey(c *gin.Context) string {
	apiKey := c.GetHeader("X-API-Key")
	if apiKey != "" {
		return apiKey
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 {
			return parts[1]
		}
	}
	return ""
}

// parseRate extracts the rate from a rate string (e.g., "100-M" -> 100 requests per minute)
func parseRate(rateStr string) limiter.Rate {
	rate, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		logger.Logger.Warn().
			Err(err).
			Str("rate_string", rateStr).
			Msg("Failed to parse rate limit, using default 100-M")
		rate, _ = limiter.NewRateFromFormatted("100-M")
	}
	return rate
}

// IPRateLimitMiddleware creates middleware for IP-based rate limiting
func IPRateLimitMiddleware(rateStr string) gin.HandlerFunc {
	rate := parseRate(rateStr)
	store := memory.NewStore()
	instance := limiter.New(store, rate)

	return mgin.NewMiddleware(instance, mgin.WithLimitReachedHandler(func(c *gin.Context) {
		c.Header("Retry-After", strconv.Itoa(int(rate.Period.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate limit exceeded",
			"message":     "Too many requests from this IP address",
			"retry_after": int(rate.Period.Seconds()),
			"limit":       rate.Limit,
			"period":      rate.Period.String(),
			"reset_time":  time.Now().Add(rate.Period).Format(time.RFC3339),
		})
		c.Abort()
	}))
}

// APIKeyRateLimitMiddleware creates middleware for API key-based rate limiting.
// Falls back to the client IP when no key is present.
func APIKeyRateLimitMiddleware(rateStr string) gin.HandlerFunc {
	rate := parseRate(rateStr)
	store := memory.NewStore()
	instance := limiter.New(store, rate)

	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			key = c.ClientIP()
		}

		context, err := instance.Get(c, key)
		if err != nil {
			logger.Logger.Error().Err(err).Msg("Rate limit check failed")
			c.Next() // Allow request on error
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(context.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(context.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(context.Reset, 10))

		if context.Reached {
			c.Header("Retry-After", strconv.Itoa(int(rate.Period.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"message":     "Too many requests",
				"retry_after": int(rate.Period.Seconds()),
				"limit":       rate.Limit,
				"period":      rate.Period.String(),
				"reset_time":  time.Now().Add(rate.Period).Format(time.RFC3339),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// InitRateLimitMiddleware builds the limiters used by the router: one for
// general authenticated reads and a stricter one for scan ingestion.
func InitRateLimitMiddleware(cfg *config.Config) (general gin.HandlerFunc, ingest gin.HandlerFunc) {
	logger.Logger.Info().
		Str("general_limit", cfg.RateLimitGeneral).
		Str("ingest_limit", cfg.RateLimitIngest).
		Msg("Initializing rate limiting middleware")

	general = APIKeyRateLimitMiddleware(cfg.RateLimitGeneral)
	ingest = APIKeyRateLimitMiddleware(cfg.RateLimitIngest)
	return general, ingest
}
