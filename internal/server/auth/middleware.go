package auth

import (
	"net/http"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/dmitrijs2005/taskvault/internal/logging"
	"github.com/dmitrijs2005/taskvault/internal/server/models"
	"github.com/gin-gonic/gin"
)

const userKey = "auth.user"

// RequireUser rejects requests without a valid session token. The token is
// read from the access_token header, then from the cookie of the same name.
func RequireUser(secretKey []byte, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(common.AccessTokenHeaderName)
		if token == "" {
			token, _ = c.Cookie(common.AccessTokenHeaderName)
		}
		if token == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		user, err := GetUserFromToken(token, secretKey)
		if err != nil {
			logger.Warn(c.Request.Context(), "session rejected", "error", err)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// CurrentUser returns the user stored by RequireUser.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*models.User)
	return u, ok
}
