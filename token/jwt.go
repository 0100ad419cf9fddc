package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryFromJWT reads the "exp" claim of an access token without verifying it.
// Providers that issue opaque tokens return ok == false.
// The signature is not checked, so the result is only an expiry hint.
func ExpiryFromJWT(accessToken string) (time.Time, bool) {
	if strings.Count(accessToken, ".") != 2 {
		return time.Time{}, false
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time.UTC(), true
}
