// Package auth guards the comparison API with HMAC-signed bearer tokens.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const subjectKey contextKey = "authSubject"

var (
	errHeaderRequired = errors.New("authorization header required")
	errInvalidHeader  = errors.New("invalid authorization header")
	errTokenMissing   = errors.New("token missing")
	errInvalidToken   = errors.New("invalid token")
	errInvalidAud     = errors.New("invalid audience")
	errMissingSubject = errors.New("missing subject")
)

// Subject retrieves the authenticated token subject from context.
func Subject(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(subjectKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// Verifier validates HS256/384/512 tokens against one secret and an optional audience.
type Verifier struct {
	secret   []byte
	audience string
}

// NewVerifier returns nil when secret is blank, meaning authentication is off.
func NewVerifier(secret, audience string) *Verifier {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret), audience: strings.TrimSpace(audience)}
}

// Verify parses an Authorization header value and returns the token subject.
func (v *Verifier) Verify(header string) (string, error) {
	tokenString, err := extractBearerToken(header)
	if err != nil {
		return "", err
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}

	if v.audience != "" && !containsAudience(claims.Audience, v.audience) {
		return "", errInvalidAud
	}
	if claims.Subject == "" {
		return "", errMissingSubject
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token. A nil Verifier
// yields a pass-through handler.
func Middleware(v *Verifier, logger *zap.Logger) gin.HandlerFunc {
	if v == nil {
		return func(c *gin.Context) { c.Next() }
	}
	logger = logger.Named("auth")

	return func(c *gin.Context) {
		subject, err := v.Verify(c.Request.Header.Get("Authorization"))
		if err != nil {
			logger.Debug("rejected request", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		ctx := context.WithValue(c.Request.Context(), subjectKey, subject)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(subjectKey), subject)

		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errHeaderRequired
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errInvalidHeader
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errTokenMissing
	}
	return token, nil
}

func containsAudience(claims jwt.ClaimStrings, expected string) bool {
	for _, aud := range claims {
		if aud == expected {
			return true
		}
	}
	return false
}
