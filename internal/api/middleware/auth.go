package middleware

import (
	"net/http"
	"strings"

	"github.com/example/ec-stock-reservation/internal/auth"
	"github.com/gin-gonic/gin"
)

const CustomerContextKey = "customer"

// ExtractToken extracts JWT token from cookie or Authorization header
func ExtractToken(c *gin.Context) string {
	if cookie, err := c.Cookie("access_token"); err == nil && cookie != "" {
		return cookie
	}
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// AuthMiddleware validates JWT tokens and stores the claims on the context
func AuthMiddleware(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(CustomerContextKey, claims)
		c.Next()
	}
}

// GetClaims retrieves the token claims set by AuthMiddleware
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(CustomerContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// GetCustomerID returns the authenticated customer, or "" without auth
func GetCustomerID(c *gin.Context) string {
	claims, ok := GetClaims(c)
	if !ok {
		return ""
	}
	return claims.Subject
}
