package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("notification not found")

// Kind is the category of a notification.
type Kind string

const (
	KindSignal       Kind = "signal"
	KindAchievement  Kind = "achievement"
	KindAnnouncement Kind = "announcement"
	KindAlert        Kind = "alert"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSignal, KindAchievement, KindAnnouncement, KindAlert:
		return true
	}
	return false
}

// Status is the delivery state stored on a notification record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transitions may follow s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// NotificationRequest is the inbound dispatch request.
type NotificationRequest struct {
	Type    Kind   `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
	// Data is attached verbatim for client-side handling and never inspected.
	Data       json.RawMessage `json:"data,omitempty"`
	TargetUser string          `json:"target_user,omitempty"`
	// TargetDeviceIDs is ignored when TargetUser is set.
	TargetDeviceIDs []string `json:"target_device_ids,omitempty"`
}

// ValidationError is returned for requests that must not be persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Validate checks the request before anything is stored.
func (r NotificationRequest) Validate() error {
	if !r.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "must be one of signal, achievement, announcement, alert"}
	}
	if strings.TrimSpace(r.Title) == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if strings.TrimSpace(r.Message) == "" {
		return &ValidationError{Field: "message", Reason: "is required"}
	}
	return nil
}

// Notification is a persisted notification record.
type Notification struct {
	ID         string          `json:"id"`
	Type       Kind            `json:"type"`
	Title      string          `json:"title"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	TargetUser *string         `json:"target_user"`
	Status     Status          `json:"status"`
	Error      *string         `json:"error"`
	Recipients int             `json:"recipients"`
	CreatedAt  time.Time       `json:"created_at"`
	SentAt     *time.Time      `json:"sent_at"`
}

// NewNotification copies the request fields into a pending record.
func NewNotification(req NotificationRequest) *Notification {
	n := &Notification{
		Type:    req.Type,
		Title:   req.Title,
		Message: req.Message,
		Data:    req.Data,
		Status:  StatusPending,
	}
	if req.TargetUser != "" {
		target := req.TargetUser
		n.TargetUser = &target
	}
	return n
}

// StatusUpdate holds the fields written once when a record is finalized.
type StatusUpdate struct {
	Status     Status
	SentAt     time.Time
	Reason     string
	Recipients int
}

// GatewayResult is the delivery outcome reported to the caller.
type GatewayResult struct {
	Success    bool   `json:"success"`
	TokensSent *int   `json:"tokens_sent,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Sent builds a successful result.
func Sent(tokens int) *GatewayResult {
	return &GatewayResult{Success: true, TokensSent: &tokens}
}

// Failed builds a failed result.
func Failed(reason string) *GatewayResult {
	return &GatewayResult{Success: false, Error: reason}
}

// DispatchResponse is the body returned for a completed dispatch.
// FCMResult is nil when the gateway was not invoked.
type DispatchResponse struct {
	Success        bool           `json:"success"`
	NotificationID string         `json:"notification_id"`
	Recipients     int            `json:"recipients"`
	FCMResult      *GatewayResult `json:"fcm_result"`
}
