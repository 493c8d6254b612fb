package channel

import (
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// warnIfExpired inspects a JWT without verifying its signature (the server is
// the authority) purely to surface an expired credential before dialing.
// Opaque tokens are passed through silently.
func warnIfExpired(logger *slog.Logger, token string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if exp.Before(time.Now()) {
		logger.Warn("auth token is expired",
			slog.Time("expired_at", exp.Time))
	}
}
