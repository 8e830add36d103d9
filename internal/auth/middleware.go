package auth

import (
	"net/http"
	"strings"

	"homepro/internal/api"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
)

const principalKey = "auth_principal"

// AuthMiddleware requires a valid access token and stores its principal on the
// request context.
func AuthMiddleware(accessTokenSecret string) gin.HandlerFunc {
	issuer := NewIssuer(accessTokenSecret)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) != "Bearer" {
			unauthorized(c, "Invalid authorization header format")
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			unauthorized(c, "Token is empty")
			return
		}

		claims, err := issuer.Verify(tokenString, KindAccess)
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenExpired):
				unauthorized(c, "Token expired")
			case errors.Is(err, ErrInvalidTokenType):
				unauthorized(c, "Access token required")
			case errors.Is(err, ErrInvalidPrincipal):
				unauthorized(c, "Token does not name an account")
			default:
				unauthorized(c, "Invalid or malformed token")
			}
			return
		}

		SetPrincipal(c, claims.Principal())
		c.Next()
	}
}

func RequireRole(required Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok {
			unauthorized(c, "User not authenticated")
			return
		}
		if p.Role != required {
			forbidden(c)
			return
		}
		c.Next()
	}
}

// RequireAccountAccess lets a request through when the account named by the
// path parameter belongs to the caller, or the caller is an admin.
func RequireAccountAccess(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok {
			unauthorized(c, "User not authenticated")
			return
		}
		if p.Role != RoleAdmin && c.Param(param) != p.AccountID {
			forbidden(c)
			return
		}
		c.Next()
	}
}

func SetPrincipal(c *gin.Context, p Principal) {
	c.Set(principalKey, p)
}

func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	if !ok || p.AccountID == "" {
		return Principal{}, false
	}
	return p, true
}

// AccountID returns the caller's account id.
func AccountID(c *gin.Context) (string, bool) {
	p, ok := CurrentPrincipal(c)
	return p.AccountID, ok
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, api.NewErrorResponse(api.KindUnauthorized, message, nil))
}

func forbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, api.NewErrorResponse("permission_denied", "Insufficient permissions", nil))
}
