package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clawkeeper/internal/auth"
	"clawkeeper/internal/models"
	"clawkeeper/internal/storage"
)

// OrgIDKey is the context key under which the authenticated organization ID
// is stored.
const OrgIDKey = "org_id"

// AuthMiddleware validates API keys from the X-API-Key header and resolves
// the owning organization. Every authenticated request is scoped to exactly
// one org.
func AuthMiddleware(store storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := extractAPIKey(c)
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "missing API key",
				"message": "Please provide an API key in the X-API-Key header",
			})
			c.Abort()
			return
		}

		keyPrefix := auth.GetKeyPrefix(apiKey)

		apiKeys, err := store.GetAPIKeysByPrefix(keyPrefix)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "authentication error",
			})
			c.Abort()
			return
		}

		// Verify against all candidates with the same prefix
		var matchedKey *models.APIKey
		for _, key := range apiKeys {
			if auth.VerifyAPIKey(apiKey, key.KeyHash) {
				matchedKey = key
				break
			}
		}

		if matchedKey == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid API key",
			})
			c.Abort()
			return
		}

		c.Set(OrgIDKey, matchedKey.OrgID)
		c.Set("api_key_id", matchedKey.ID)

		// Update last used timestamp (async, don't wait)
		go store.UpdateAPIKeyLastUsed(matchedKey.ID)

		c.Next()
	}
}

// OrgID returns the authenticated organization ID from the Gin context.
func OrgID(c *gin.Context) string {
	return c.GetString(OrgIDKey)
}
