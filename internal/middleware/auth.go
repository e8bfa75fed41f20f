package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jwalitptl/authz-api/internal/handler"
	"github.com/jwalitptl/authz-api/internal/model"
)

const ContextClaims = "principal_claims"

type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// Authenticate decodes the gateway-verified bearer token and puts the
// principal claims in the request context. A token that does not parse,
// or that carries an invalid role or missing tenant, never reaches a
// handler.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid authorization format"))
			return
		}

		claims := &model.PrincipalClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token"))
			return
		}

		if claims.PrincipalID == uuid.Nil || claims.TenantID == uuid.Nil || !claims.Role.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid principal claims"))
			return
		}

		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// Claims pulls the authenticated principal out of the gin context.
func Claims(c *gin.Context) (*model.PrincipalClaims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*model.PrincipalClaims)
	return claims, ok
}
