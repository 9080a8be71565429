package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/health-ledger/internal/handler"
	"github.com/jwalitptl/health-ledger/internal/model"
	"github.com/jwalitptl/health-ledger/pkg/auth"
)

const ContextPrincipal = "principal"

// TokenValidator checks a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

type cachedToken struct {
	principal model.Principal
	expiresAt time.Time
}

// AuthMiddleware authenticates callers by bearer token. Validated tokens are
// cached until they expire or the cache TTL elapses, whichever comes first.
type AuthMiddleware struct {
	tokens TokenValidator
	cache  *cache.Cache
	ttl    time.Duration
}

func NewAuthMiddleware(tokens TokenValidator, cacheTTL time.Duration) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		cache:  cache.New(cacheTTL, 2*cacheTTL),
		ttl:    cacheTTL,
	}
}

// Authenticate resolves the caller principal and stores it in the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid authorization format"))
			return
		}

		principal, ok := m.principal(parts[1])
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token"))
			return
		}

		c.Set(ContextPrincipal, principal)
		c.Next()
	}
}

func (m *AuthMiddleware) principal(token string) (model.Principal, bool) {
	if v, found := m.cache.Get(token); found {
		entry := v.(cachedToken)
		if time.Now().Before(entry.expiresAt) {
			return entry.principal, true
		}
		m.cache.Delete(token)
	}

	claims, err := m.tokens.ValidateToken(token)
	if err != nil {
		return "", false
	}

	entry := cachedToken{principal: model.Principal(claims.Subject), expiresAt: time.Now().Add(m.ttl)}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(entry.expiresAt) {
		entry.expiresAt = claims.ExpiresAt.Time
	}
	m.cache.Set(token, entry, time.Until(entry.expiresAt))
	return entry.principal, true
}

// Caller returns the authenticated principal, or "" outside Authenticate.
func Caller(c *gin.Context) model.Principal {
	if v, ok := c.Get(ContextPrincipal); ok {
		if p, ok := v.(model.Principal); ok {
			return p
		}
	}
	return ""
}
