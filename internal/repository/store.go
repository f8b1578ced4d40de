package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/promo/internal/model"
)

// PostgresStore persists registry mutations, one transaction per operation
type PostgresStore struct {
	db             *sqlx.DB
	codeRepo       *PromoCodeRepository
	redemptionRepo *RedemptionRepository
}

// NewPostgresStore creates a registry store backed by PostgreSQL
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:             db,
		codeRepo:       NewPromoCodeRepository(),
		redemptionRepo: NewRedemptionRepository(),
	}
}

// SaveCodes inserts a generated batch atomically
func (s *PostgresStore) SaveCodes(ctx context.Context, codes []model.PromoCode) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.codeRepo.InsertCodes(ctx, tx, codes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AssignCodes updates every listed code or none of them
func (s *PostgresStore) AssignCodes(ctx context.Context, ids []int64, agent model.Agent, at time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updated, err := s.codeRepo.AssignCodes(ctx, tx, ids, agent, at)
	if err != nil {
		return err
	}
	if updated != int64(len(ids)) {
		return fmt.Errorf("assigned %d of %d codes: %w", updated, len(ids), ErrRowsMismatch)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveRedemption logs the redemption and bumps the code counter together
func (s *PostgresStore) SaveRedemption(ctx context.Context, redemption model.Redemption) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.redemptionRepo.InsertRedemption(ctx, tx, redemption); err != nil {
		return err
	}
	if err := s.codeRepo.IncrementRedemptions(ctx, tx, redemption.CodeID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadCodes reads the full collection
func (s *PostgresStore) LoadCodes(ctx context.Context) ([]model.PromoCode, error) {
	return s.codeRepo.ListCodes(ctx, s.db)
}

// ListRedemptions reads the redemption log, newest first
func (s *PostgresStore) ListRedemptions(ctx context.Context, filter model.RedemptionFilter) ([]model.Redemption, error) {
	return s.redemptionRepo.ListRedemptions(ctx, s.db, filter)
}
