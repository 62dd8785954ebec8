package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"signalpush/pkg/config"
)

// multicastLimit is the most tokens the Admin SDK accepts per multicast.
const multicastLimit = 500

// Firebase delivers through the Firebase Admin SDK.
type Firebase struct {
	client  *messaging.Client
	ttl     time.Duration
	icon    string
	badge   string
	timeout time.Duration
}

func NewFirebase(ctx context.Context, cfg config.GatewayConfig) (*Firebase, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase: error initializing app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: error getting Messaging client: %w", err)
	}

	return &Firebase{
		client:  client,
		ttl:     config.Duration(cfg.TTL, 24*time.Hour),
		icon:    cfg.Icon,
		badge:   cfg.Badge,
		timeout: config.Duration(cfg.Timeout, 5*time.Second),
	}, nil
}

func (f *Firebase) multicast(tokens []string, msg Message) *messaging.MulticastMessage {
	ttl := f.ttl
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: FlattenData(msg.Data),
		Android: &messaging.AndroidConfig{
			TTL: &ttl,
		},
		Webpush: &messaging.WebpushConfig{
			Headers: map[string]string{"TTL": ttlSeconds(f.ttl)},
			Notification: &messaging.WebpushNotification{
				Icon:  f.icon,
				Badge: f.badge,
			},
		},
	}
}

// Send fails only when no token at all was accepted.
func (f *Firebase) Send(ctx context.Context, tokens []string, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var (
		success  int
		failure  int
		firstErr error
	)
	for start := 0; start < len(tokens); start += multicastLimit {
		end := min(start+multicastLimit, len(tokens))

		resp, err := f.client.SendEachForMulticast(ctx, f.multicast(tokens[start:end], msg))
		if err != nil {
			return &SendError{Err: err}
		}
		success += resp.SuccessCount
		failure += resp.FailureCount
		for _, r := range resp.Responses {
			if r.Error != nil && firstErr == nil {
				firstErr = r.Error
			}
		}
	}

	if success == 0 && failure > 0 {
		return &SendError{Err: fmt.Errorf("all %d tokens rejected: %w", failure, firstErr)}
	}
	return nil
}

// FlattenData converts a JSON object into the string map FCM data messages
// require. Non-string values are kept as their JSON text; a non-object
// payload is carried under the "data" key.
func FlattenData(raw json.RawMessage) map[string]string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return map[string]string{"data": string(raw)}
	}

	out := make(map[string]string, len(fields))
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out
}
