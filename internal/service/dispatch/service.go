// Package dispatch runs one notification through
// persist -> resolve -> send -> finalize.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"signalpush/internal/gateway"
	"signalpush/internal/model"
	"signalpush/pkg/logger"
	"signalpush/pkg/metrics"
	"signalpush/pkg/util"
)

// State is a step of the dispatch lifecycle.
type State string

const (
	StateReceived    State = "RECEIVED"
	StatePersisted   State = "PERSISTED"
	StateResolved    State = "RESOLVED"
	StateSent        State = "SENT"
	StateSendSkipped State = "SEND_SKIPPED"
	StateSendFailed  State = "SEND_FAILED"
	StateFinalized   State = "FINALIZED"
)

// ReasonNoRecipients is recorded when nothing could be addressed.
const ReasonNoRecipients = "no recipients"

// MaxRecent caps Recent.
const MaxRecent = 50

// Store persists notification records.
type Store interface {
	Insert(ctx context.Context, n *model.Notification) error
	UpdateStatus(ctx context.Context, id string, u model.StatusUpdate) error
	GetByID(ctx context.Context, id string) (*model.Notification, error)
	ListRecent(ctx context.Context, limit int) ([]model.Notification, error)
}

// Resolver turns a request into delivery tokens. It never fails.
type Resolver interface {
	Resolve(ctx context.Context, req model.NotificationRequest) []string
}

// FinalizeError means the record was created but its terminal status could
// not be written.
type FinalizeError struct {
	NotificationID string
	Err            error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("failed to finalize notification %s: %v", e.NotificationID, e.Err)
}

func (e *FinalizeError) Unwrap() error {
	return e.Err
}

type Service struct {
	store      Store
	resolver   Resolver
	gateway    gateway.Client
	logger     *zap.Logger
	retryMax   int
	retryDelay time.Duration
	now        func() time.Time
}

func NewService(store Store, resolver Resolver, gw gateway.Client, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		gateway:  gw,
		logger:   logger,
		now:      time.Now,
	}
}

// WithRetry allows up to maxRetries extra gateway attempts for retryable failures.
func (s *Service) WithRetry(maxRetries int, delay time.Duration) *Service {
	if maxRetries > 0 {
		s.retryMax = maxRetries
	}
	if delay > 0 {
		s.retryDelay = delay
	}
	return s
}

// Dispatch validates, stores, resolves, sends and finalizes req. Only
// validation and storage failures are returned as errors; delivery
// problems are recorded on the notification and reported in the response.
func (s *Service) Dispatch(ctx context.Context, req model.NotificationRequest) (*model.DispatchResponse, error) {
	log := logger.WithTrace(ctx, s.logger).With(zap.String("type", string(req.Type)))
	log.Debug("Dispatch state", zap.String("state", string(StateReceived)))

	if err := req.Validate(); err != nil {
		metrics.IncrementDispatch(string(req.Type), "rejected")
		log.Info("Rejected notification request", zap.Error(err))
		return nil, err
	}

	n := model.NewNotification(req)
	if err := s.store.Insert(ctx, n); err != nil {
		metrics.IncrementDispatch(string(req.Type), "error")
		return nil, err
	}
	log = log.With(zap.String("notification_id", n.ID))
	log.Debug("Dispatch state", zap.String("state", string(StatePersisted)))

	// A persisted record is always finalized, even if the caller goes away.
	// The gateway keeps its own request timeout.
	ctx = context.WithoutCancel(ctx)

	tokens := s.resolver.Resolve(ctx, req)
	metrics.ObserveRecipients(len(tokens))
	log.Debug("Dispatch state",
		zap.String("state", string(StateResolved)),
		zap.Int("recipients", len(tokens)),
	)

	state, result := s.send(ctx, log, tokens, req)

	update := model.StatusUpdate{
		Status:     model.StatusFailed,
		SentAt:     s.now().UTC(),
		Recipients: len(tokens),
	}
	switch state {
	case StateSent:
		update.Status = model.StatusSent
	case StateSendSkipped:
		update.Reason = ReasonNoRecipients
	case StateSendFailed:
		update.Reason = result.Error
	}

	if err := s.store.UpdateStatus(ctx, n.ID, update); err != nil {
		metrics.IncrementDispatch(string(req.Type), "error")
		log.Error("Failed to finalize notification",
			zap.String("state", string(state)),
			zap.Error(err),
		)
		return nil, &FinalizeError{NotificationID: n.ID, Err: err}
	}

	metrics.IncrementDispatch(string(req.Type), outcome(state))
	log.Info("Notification dispatched",
		zap.String("state", string(StateFinalized)),
		zap.String("outcome", string(state)),
		zap.String("status", string(update.Status)),
		zap.Int("recipients", len(tokens)),
	)

	return &model.DispatchResponse{
		Success:        true,
		NotificationID: n.ID,
		Recipients:     len(tokens),
		FCMResult:      result,
	}, nil
}

// send decides SENT, SEND_SKIPPED or SEND_FAILED. The result is nil when
// the gateway was not called.
func (s *Service) send(ctx context.Context, log *zap.Logger, tokens []string, req model.NotificationRequest) (State, *model.GatewayResult) {
	if len(tokens) == 0 {
		log.Info("No recipients resolved, skipping send", zap.String("state", string(StateSendSkipped)))
		return StateSendSkipped, nil
	}

	msg := gateway.Message{Title: req.Title, Body: req.Message, Data: req.Data}

	var err error
	for attempt := 1; ; attempt++ {
		err = s.gateway.Send(ctx, tokens, msg)
		if err == nil {
			break
		}

		retryable, kind := util.IsRetryableError(err)
		if !util.ShouldRetry(attempt, s.retryMax, retryable) {
			break
		}
		log.Warn("Gateway send failed, retrying",
			zap.Int("attempt", attempt),
			zap.String("error_type", kind),
			zap.Error(err),
		)
		if !sleep(ctx, s.retryDelay) {
			break
		}
	}

	if err != nil {
		log.Warn("Gateway send failed", zap.String("state", string(StateSendFailed)), zap.Error(err))
		return StateSendFailed, model.Failed(err.Error())
	}

	sent := len(tokens)
	if gateway.Unconfigured(s.gateway) {
		sent = 0
	}
	return StateSent, model.Sent(sent)
}

// Recent lists the latest records, newest first. limit is clamped to 1..MaxRecent.
func (s *Service) Recent(ctx context.Context, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}
	return s.store.ListRecent(ctx, limit)
}

// Get returns one record, or model.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*model.Notification, error) {
	return s.store.GetByID(ctx, id)
}

func outcome(state State) string {
	switch state {
	case StateSent:
		return "sent"
	case StateSendSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// IsValidation reports whether err rejected the request before persistence.
func IsValidation(err error) bool {
	var verr *model.ValidationError
	return errors.As(err, &verr)
}
