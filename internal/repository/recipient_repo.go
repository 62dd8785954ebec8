package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"signalpush/internal/resolver"
	"signalpush/pkg/otel"
)

// RecipientRepository reads delivery tokens from user_profiles.
type RecipientRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewRecipientRepository(db *pgxpool.Pool, logger *zap.Logger) *RecipientRepository {
	return &RecipientRepository{
		db:     db,
		logger: logger,
	}
}

// Tokens implements resolver.Directory. Rows are read fresh on every call.
func (r *RecipientRepository) Tokens(ctx context.Context, filter resolver.Filter) ([]*string, error) {
	query, args := tokenQuery(filter)

	var tokens []*string
	err := otel.Observe(ctx, "select", "user_profiles", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var token *string
			if err := rows.Scan(&token); err != nil {
				return err
			}
			tokens = append(tokens, token)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query recipient tokens: %w", err)
	}
	return tokens, nil
}

func tokenQuery(filter resolver.Filter) (string, []any) {
	const base = `SELECT fcm_token FROM user_profiles WHERE fcm_token IS NOT NULL`
	const order = ` ORDER BY updated_at DESC`

	switch {
	case filter.UserID != "":
		return base + ` AND user_id = $1` + order, []any{filter.UserID}
	case len(filter.DeviceIDs) > 0:
		return base + ` AND device_id = ANY($1)` + order, []any{filter.DeviceIDs}
	default:
		return base + order, nil
	}
}
