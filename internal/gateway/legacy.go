package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"signalpush/pkg/config"
)

const maxResponseBody = 1 << 20

var errMalformedResponse = errors.New("malformed response body")

// Legacy posts to the FCM legacy HTTP endpoint, addressing every token in
// one registration_ids request.
type Legacy struct {
	endpoint  string
	serverKey string
	ttl       time.Duration
	icon      string
	badge     string
	http      *http.Client
}

func NewLegacy(cfg config.GatewayConfig) *Legacy {
	return &Legacy{
		endpoint:  cfg.Endpoint,
		serverKey: cfg.ServerKey,
		ttl:       config.Duration(cfg.TTL, 24*time.Hour),
		icon:      cfg.Icon,
		badge:     cfg.Badge,
		http:      &http.Client{Timeout: config.Duration(cfg.Timeout, 5*time.Second)},
	}
}

type legacyNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
}

type legacyWebpush struct {
	Headers      map[string]string `json:"headers"`
	Notification struct {
		Icon  string `json:"icon"`
		Badge string `json:"badge"`
	} `json:"notification"`
}

type legacyRequest struct {
	RegistrationIDs []string           `json:"registration_ids"`
	Notification    legacyNotification `json:"notification"`
	Data            json.RawMessage    `json:"data"`
	Webpush         legacyWebpush      `json:"webpush"`
}

type legacyResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

func (l *Legacy) request(tokens []string, msg Message) legacyRequest {
	data := msg.Data
	if len(bytes.TrimSpace(data)) == 0 || string(data) == "null" {
		data = json.RawMessage(`{}`)
	}

	req := legacyRequest{
		RegistrationIDs: tokens,
		Notification: legacyNotification{
			Title: msg.Title,
			Body:  msg.Body,
			Icon:  l.icon,
		},
		Data: data,
	}
	req.Webpush.Headers = map[string]string{"TTL": ttlSeconds(l.ttl)}
	req.Webpush.Notification.Icon = l.icon
	req.Webpush.Notification.Badge = l.badge
	return req
}

func (l *Legacy) Send(ctx context.Context, tokens []string, msg Message) error {
	body, err := json.Marshal(l.request(tokens, msg))
	if err != nil {
		return &SendError{Err: fmt.Errorf("failed to encode message: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return &SendError{Err: err}
	}
	req.Header.Set("Authorization", "key="+l.serverKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return &SendError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &SendError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &SendError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result legacyResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return &SendError{StatusCode: resp.StatusCode, Body: string(respBody), Err: errMalformedResponse}
	}
	// same rule as the Admin SDK driver: fail only when nothing was accepted
	if result.Success == 0 && result.Failure > 0 {
		return &SendError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        fmt.Errorf("all %d tokens rejected", result.Failure),
		}
	}
	return nil
}
