package repository

import (
	"context"
	"fmt"

	"github.com/kkkkikiki/promo/internal/model"
)

// RedemptionRepository handles redemption log rows
type RedemptionRepository struct{}

// NewRedemptionRepository creates a new redemption repository
func NewRedemptionRepository() *RedemptionRepository {
	return &RedemptionRepository{}
}

// InsertRedemption stores a logged redemption
func (r *RedemptionRepository) InsertRedemption(ctx context.Context, db DBExecutor, redemption model.Redemption) error {
	query := `
		INSERT INTO redemptions (id, code_id, code, agent_id, customer_name, customer_phone, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := db.ExecContext(ctx, query,
		redemption.ID, redemption.CodeID, redemption.Code, redemption.AgentID,
		redemption.CustomerName, redemption.CustomerPhone, redemption.RedeemedAt)
	if err != nil {
		return fmt.Errorf("failed to insert redemption: %w", err)
	}
	return nil
}

// ListRedemptions returns redemptions matching filter, newest first
func (r *RedemptionRepository) ListRedemptions(ctx context.Context, db DBExecutor, filter model.RedemptionFilter) ([]model.Redemption, error) {
	query := `
		SELECT id, code_id, code, agent_id, customer_name, customer_phone, redeemed_at
		FROM redemptions
		WHERE ($1 = '' OR code = $1)
		  AND ($2 = '' OR agent_id = $2)
		ORDER BY redeemed_at DESC, id ASC
		LIMIT $3
	`

	redemptions := []model.Redemption{}
	if err := db.SelectContext(ctx, &redemptions, query, filter.Code, filter.AgentID, filter.Limit); err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}
	return redemptions, nil
}
