package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"unilink_server/server/common/transport/httpresp"
)

type tokenAuth interface {
	VerifyUser(token string) (userID string, err error)
}

func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		userID, err := auth.VerifyUser(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set("auth_user_id", userID)
		c.Next()
	}
}

// UserID pulls the authenticated user id set by AuthRequired.
func UserID(c *gin.Context) (string, bool) {
	raw, ok := c.Get("auth_user_id")
	if !ok {
		return "", false
	}
	userID, ok := raw.(string)
	if !ok || strings.TrimSpace(userID) == "" {
		return "", false
	}
	return userID, true
}
