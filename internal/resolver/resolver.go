package resolver

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"signalpush/internal/model"
	"signalpush/pkg/logger"
)

// Filter selects directory rows. An empty filter selects every row.
type Filter struct {
	UserID    string
	DeviceIDs []string
}

// Directory returns the delivery token column of the selected rows.
// A nil entry is a row without a registered token.
type Directory interface {
	Tokens(ctx context.Context, filter Filter) ([]*string, error)
}

type Resolver struct {
	directory Directory
	logger    *zap.Logger
}

func New(directory Directory, logger *zap.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		logger:    logger,
	}
}

// FilterFor picks the recipient selector of req. TargetUser wins over
// TargetDeviceIDs.
func FilterFor(req model.NotificationRequest) Filter {
	if req.TargetUser != "" {
		return Filter{UserID: req.TargetUser}
	}
	if len(req.TargetDeviceIDs) > 0 {
		return Filter{DeviceIDs: req.TargetDeviceIDs}
	}
	return Filter{}
}

// Resolve returns the deduplicated delivery tokens for req. A directory
// failure yields no tokens; Resolve itself never fails.
func (r *Resolver) Resolve(ctx context.Context, req model.NotificationRequest) []string {
	log := logger.WithTrace(ctx, r.logger)
	filter := FilterFor(req)

	rows, err := r.directory.Tokens(ctx, filter)
	if err != nil {
		log.Warn("Recipient lookup failed, treating as zero recipients",
			zap.String("target_user", filter.UserID),
			zap.Int("target_devices", len(filter.DeviceIDs)),
			zap.Error(err),
		)
		return []string{}
	}

	tokens := Dedupe(rows)
	log.Debug("Recipients resolved",
		zap.Int("rows", len(rows)),
		zap.Int("tokens", len(tokens)),
	)
	return tokens
}

// Dedupe drops nil and blank tokens and keeps the first occurrence of each.
func Dedupe(rows []*string) []string {
	seen := make(map[string]struct{}, len(rows))
	tokens := make([]string, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		token := strings.TrimSpace(*row)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	return tokens
}
