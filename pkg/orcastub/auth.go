package orcastub

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	apierr "github.com/opst/taskmon/pkg/api/types/errors"
	"k8s.io/utils/clock"
)

const claimsKey = "orcastub.claims"

// Claims of bearer tokens accepted by the stub.
type Claims struct {
	// when not empty, the token can submit tasks only for this application.
	Application string `json:"app,omitempty"`

	jwt.RegisteredClaims
}

// IssueToken signs a token with HS256.
//
// # Args
//
// - secret: key to sign.
//
// - application: restricts the token to the application. Empty means no restriction.
//
// - ttl: lifetime of the token. Non-positive value means no expiry.
//
// - clk: clock to stamp the token.
func IssueToken(secret []byte, application string, ttl time.Duration, clk clock.PassiveClock) (string, error) {
	now := clk.Now()
	claims := Claims{
		Application: application,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "orcastub",
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if 0 < ttl {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyToken parses and verifies a token signed by IssueToken.
func VerifyToken(secret []byte, token string, clk clock.PassiveClock) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(
		token, claims,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(clk.Now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Authenticate is a middleware requiring a bearer token signed with secret.
func Authenticate(secret []byte, clk clock.PassiveClock) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(h, "Bearer ")
			if !ok || token == "" {
				return apierr.Unauthorized("set bearer token to Authorization header", nil)
			}

			claims, err := VerifyToken(secret, token, clk)
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				return apierr.Unauthorized("token is expired. issue new one", err)
			case err != nil:
				return apierr.Unauthorized("token is not valid", err)
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}
