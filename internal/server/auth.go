package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/studypair/callkit/internal/domain"
)

const tokenTTL = 24 * time.Hour

// Claims carries the authenticated user identity.
type Claims struct {
	jwt.RegisteredClaims
	UserID   domain.UserID `json:"uid"`
	Username string        `json:"username,omitempty"`
}

type AuthManager struct {
	secret []byte
}

func NewAuthManager(secret string) (*AuthManager, error) {
	if secret == "" {
		return nil, errors.New("secret is required")
	}
	return &AuthManager{secret: []byte(secret)}, nil
}

func (m *AuthManager) Issue(now time.Time, uid domain.UserID, username string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		UserID:   uid,
		Username: username,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *AuthManager) Verify(tokenString string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return Claims{}, err
	}
	if claims.UserID == "" {
		return Claims{}, errors.New("uid missing")
	}
	return claims, nil
}

// RequireAuth verifies a bearer token and injects the user id into the gin
// context. WebSocket upgrades from browsers cannot set headers, so a "token"
// query parameter is accepted as a fallback.
func RequireAuth(m *AuthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := m.Verify(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("user_id", string(claims.UserID))
		c.Set("username", claims.Username)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	raw := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(raw, "Bearer ") {
		return strings.TrimPrefix(raw, "Bearer ")
	}
	return c.Query("token")
}
