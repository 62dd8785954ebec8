// Package gateway delivers one notification to a batch of device tokens
// through a push provider.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"signalpush/pkg/config"
)

const (
	DriverLegacy   = "legacy"
	DriverFirebase = "firebase"
	DriverNoop     = "noop"
)

// Message is the provider-neutral notification body.
type Message struct {
	Title string
	Body  string
	// Data is forwarded to the device untouched.
	Data json.RawMessage
}

// Client sends one message to tokens in a single best-effort attempt.
// Callers must not pass an empty token list.
type Client interface {
	Send(ctx context.Context, tokens []string, msg Message) error
}

// SendError is a delivery failure. Its text carries the transport status
// and response body.
type SendError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SendError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("FCM request failed: %d %s: %v", e.StatusCode, e.Body, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("FCM request failed: %d %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("FCM request failed: %v", e.Err)
	}
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// HTTPStatus exposes the upstream status to the retry classifier.
func (e *SendError) HTTPStatus() int {
	return e.StatusCode
}

// Unconfigured reports whether c only pretends to deliver.
func Unconfigured(c Client) bool {
	u, ok := c.(interface{ Unconfigured() bool })
	return ok && u.Unconfigured()
}

// New builds the client selected by cfg.Driver. A missing credential
// yields Noop rather than an error.
func New(ctx context.Context, cfg config.GatewayConfig, logger *zap.Logger) (Client, error) {
	var (
		client Client
		driver = cfg.Driver
	)

	switch driver {
	case "", DriverLegacy:
		driver = DriverLegacy
		if cfg.ServerKey == "" {
			logger.Warn("FCM server key not configured, push delivery disabled")
			return Instrument(Noop{}, DriverNoop, logger), nil
		}
		client = NewLegacy(cfg)
	case DriverFirebase:
		if cfg.CredentialsFile == "" {
			logger.Warn("Firebase credentials not configured, push delivery disabled")
			return Instrument(Noop{}, DriverNoop, logger), nil
		}
		fb, err := NewFirebase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client = fb
	case DriverNoop:
		return Instrument(Noop{}, DriverNoop, logger), nil
	default:
		return nil, fmt.Errorf("unknown gateway driver %q", cfg.Driver)
	}

	logger.Info("Push gateway configured", zap.String("driver", driver))
	return Instrument(client, driver, logger), nil
}

// ttlSeconds renders ttl the way webpush TTL headers expect.
func ttlSeconds(ttl time.Duration) string {
	return strconv.FormatInt(int64(ttl/time.Second), 10)
}
