package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/config"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/httputil"
)

const ContextCaller = "caller"

// Claims are the bearer token claims. The subject is the user id.
type Claims struct {
	Role       string     `json:"role"`
	FacilityID *uuid.UUID `json:"facility_id,omitempty"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

func NewAuthMiddleware(cfg config.JWTConfig) *AuthMiddleware {
	return &AuthMiddleware{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}
}

// Authenticate verifies the bearer token and stores the resolved Caller in the
// request context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithError(c, errors.Unauthorized(fmt.Errorf("missing authorization header")))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.RespondWithError(c, errors.Unauthorized(fmt.Errorf("invalid authorization format")))
			return
		}

		caller, err := m.ParseToken(parts[1])
		if err != nil {
			httputil.RespondWithError(c, errors.Unauthorized(err))
			return
		}
		caller.IPAddress = c.ClientIP()
		caller.RequestID = c.GetString(ContextRequestID)

		c.Set(ContextCaller, caller)
		c.Request = c.Request.WithContext(authz.WithCaller(c.Request.Context(), caller))
		c.Next()
	}
}

// ParseToken validates an HS256 token and resolves its claims into a Caller.
func (m *AuthMiddleware) ParseToken(raw string) (authz.Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...); err != nil {
		return authz.Caller{}, fmt.Errorf("invalid token: %w", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return authz.Caller{}, fmt.Errorf("invalid token subject: %w", err)
	}
	role, err := authz.ParseRole(claims.Role)
	if err != nil {
		return authz.Caller{}, err
	}
	if role != authz.RoleAdmin && claims.FacilityID == nil {
		return authz.Caller{}, fmt.Errorf("role %s requires a facility_id claim", role)
	}
	return authz.NewCaller(userID, role, claims.FacilityID), nil
}

// IssueToken signs a token for the given identity. Used by the ops CLI and tests.
func (m *AuthMiddleware) IssueToken(userID uuid.UUID, role authz.Role, facilityID *uuid.UUID, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		Role:       string(role),
		FacilityID: facilityID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if m.issuer != "" {
		claims.Issuer = m.issuer
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// CallerFrom returns the authenticated caller, or false outside Authenticate.
func CallerFrom(c *gin.Context) (authz.Caller, bool) {
	v, ok := c.Get(ContextCaller)
	if !ok {
		return authz.Caller{}, false
	}
	caller, ok := v.(authz.Caller)
	return caller, ok
}
