package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const actorKey = "actor"

// Claims are issued by the marketplace's auth service. Subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTIdentity validates an HS256 bearer token and stores the caller as a
// domain.Actor on the gin context.
func JWTIdentity(secret, issuer string) gin.HandlerFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}

		var claims Claims
		tok, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !tok.Valid || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}

		role := domain.Role(claims.Role)
		switch role {
		case domain.RoleClient, domain.RoleGuard, domain.RoleOperator:
		case "":
			role = domain.RoleClient
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "unknown role"})
			return
		}
		c.Set(actorKey, domain.Actor{ID: claims.Subject, Role: role})
		c.Next()
	}
}

// IssueToken signs claims for sub. Used by tests and local tooling.
func IssueToken(secret, issuer, sub string, role domain.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

var errNoActor = errors.New("no authenticated actor on request")

func actorFrom(c *gin.Context) (domain.Actor, error) {
	v, ok := c.Get(actorKey)
	if !ok {
		return domain.Actor{}, errNoActor
	}
	a, ok := v.(domain.Actor)
	if !ok {
		return domain.Actor{}, errNoActor
	}
	return a, nil
}

// RateLimitByIP admits requests under action keyed by the client address.
// Webhook deliveries are unauthenticated until their signature is checked, so
// this is the only identity available.
func RateLimitByIP(limiter Limiter, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := limiter.Admit(c.Request.Context(), "ip:"+c.ClientIP(), action)
		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: "too many requests", Code: string(domain.KindThrottled)})
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"ip":       c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Debug("request")
	}
}
