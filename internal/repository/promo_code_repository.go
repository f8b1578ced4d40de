package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/kkkkikiki/promo/internal/model"
)

// insertBatchSize keeps a multi-row INSERT well under the PostgreSQL parameter limit
const insertBatchSize = 1000

// ErrRowsMismatch is returned when an update touched fewer rows than requested
var ErrRowsMismatch = errors.New("updated row count does not match request")

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type promoCodeRow struct {
	ID          int64          `db:"id"`
	Code        string         `db:"code"`
	Prefix      string         `db:"prefix"`
	Sequence    int            `db:"sequence"`
	Status      string         `db:"status"`
	AgentID     sql.NullString `db:"agent_id"`
	AgentName   sql.NullString `db:"agent_name"`
	Redemptions int            `db:"redemptions"`
	CreatedAt   time.Time      `db:"created_at"`
	AssignedAt  sql.NullTime   `db:"assigned_at"`
}

func (r promoCodeRow) toModel() model.PromoCode {
	code := model.PromoCode{
		ID:          r.ID,
		Code:        r.Code,
		Prefix:      r.Prefix,
		Sequence:    r.Sequence,
		Status:      model.Status(r.Status),
		Redemptions: r.Redemptions,
		CreatedAt:   r.CreatedAt,
	}
	if r.AgentID.Valid {
		code.Agent = &model.Agent{ID: r.AgentID.String, Name: r.AgentName.String}
	}
	if r.AssignedAt.Valid {
		at := r.AssignedAt.Time
		code.AssignedAt = &at
	}
	return code
}

// PromoCodeRepository handles promo code data operations
type PromoCodeRepository struct{}

// NewPromoCodeRepository creates a new promo code repository
func NewPromoCodeRepository() *PromoCodeRepository {
	return &PromoCodeRepository{}
}

// InsertCodes stores generated codes in batches
func (r *PromoCodeRepository) InsertCodes(ctx context.Context, db DBExecutor, codes []model.PromoCode) error {
	for i := 0; i < len(codes); i += insertBatchSize {
		end := i + insertBatchSize
		if end > len(codes) {
			end = len(codes)
		}
		if err := r.insertCodeBatch(ctx, db, codes[i:end]); err != nil {
			return fmt.Errorf("failed to insert promo code batch: %w", err)
		}
	}
	return nil
}

func (r *PromoCodeRepository) insertCodeBatch(ctx context.Context, db DBExecutor, codes []model.PromoCode) error {
	if len(codes) == 0 {
		return nil
	}

	const columns = 6
	valuesClause := make([]string, len(codes))
	args := make([]interface{}, 0, len(codes)*columns)
	for i, code := range codes {
		base := i * columns
		valuesClause[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, code.ID, code.Code, code.Prefix, code.Sequence, string(code.Status), code.CreatedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO promo_codes (id, code, prefix, sequence, status, created_at)
		VALUES %s
	`, strings.Join(valuesClause, ", "))

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute batch insert: %w", err)
	}
	return nil
}

// AssignCodes sets the agent on every listed code and returns the rows touched
func (r *PromoCodeRepository) AssignCodes(ctx context.Context, db DBExecutor, ids []int64, agent model.Agent, at time.Time) (int64, error) {
	query := `
		UPDATE promo_codes
		SET status = $1, agent_id = $2, agent_name = $3, assigned_at = $4
		WHERE id = ANY($5)
	`

	result, err := db.ExecContext(ctx, query,
		string(model.StatusAssigned), agent.ID, agent.Name, at, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to assign promo codes: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// IncrementRedemptions bumps the redemption counter of one code
func (r *PromoCodeRepository) IncrementRedemptions(ctx context.Context, db DBExecutor, id int64) error {
	query := `UPDATE promo_codes SET redemptions = redemptions + 1 WHERE id = $1`

	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment redemptions: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected != 1 {
		return fmt.Errorf("promo code %d: %w", id, ErrRowsMismatch)
	}
	return nil
}

// ListCodes returns every stored code ordered by id
func (r *PromoCodeRepository) ListCodes(ctx context.Context, db DBExecutor) ([]model.PromoCode, error) {
	query := `
		SELECT id, code, prefix, sequence, status, agent_id, agent_name, redemptions, created_at, assigned_at
		FROM promo_codes
		ORDER BY id ASC
	`

	var rows []promoCodeRow
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list promo codes: %w", err)
	}

	codes := make([]model.PromoCode, 0, len(rows))
	for _, row := range rows {
		codes = append(codes, row.toModel())
	}
	return codes, nil
}
