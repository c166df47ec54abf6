package server

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// subjectContextKey holds the verified token subject on the echo context.
const subjectContextKey = "intentgate.subject"

// bearerAuth requires an HS256 token signed with secret in the Authorization
// header. Tokens must carry an expiry.
func bearerAuth(secret []byte) echo.MiddlewareFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorResponse{Message: "missing bearer token"})
			}
			claims := &jwt.RegisteredClaims{}
			if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
				return c.JSON(http.StatusUnauthorized, errorResponse{Message: "invalid bearer token"})
			}
			c.Set(subjectContextKey, claims.Subject)
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// tokenSubject returns the verified subject, or "" when auth is disabled.
func tokenSubject(c echo.Context) string {
	sub, _ := c.Get(subjectContextKey).(string)
	return sub
}
