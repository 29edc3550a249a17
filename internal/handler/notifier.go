package handler

import (
	"context"
	"strings"
	"time"

	"github.com/helpinghands/auth-service/internal/util/logger"
)

// Notifier delivers an issued code to the identity's registered channel.
// Delivery transport lives outside this service.
type Notifier interface {
	SendOTP(ctx context.Context, email, code string, ttl time.Duration) error
}

// LogNotifier is the development stand-in: it logs a masked line instead
// of sending anything.
type LogNotifier struct{}

func (LogNotifier) SendOTP(ctx context.Context, email, code string, ttl time.Duration) error {
	logger.Infof("OTP for %s: ****%s (valid %s)", maskEmail(email), code[len(code)-2:], ttl)
	return nil
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
