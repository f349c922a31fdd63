package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// WithdrawalStore implements domain.WithdrawalStore using PostgreSQL.
type WithdrawalStore struct {
	pool *pgxpool.Pool
}

// NewWithdrawalStore creates a new WithdrawalStore backed by the given connection pool.
func NewWithdrawalStore(pool *pgxpool.Pool) *WithdrawalStore {
	return &WithdrawalStore{pool: pool}
}

// Upsert records the current pending balance of a beneficiary. A zero
// amount is kept so the history shows the balance was withdrawn.
func (s *WithdrawalStore) Upsert(ctx context.Context, w domain.PendingWithdrawal) error {
	const query = `
		INSERT INTO pending_withdrawals (beneficiary, payment_method, amount, updated_at)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (beneficiary, payment_method) DO UPDATE SET
			amount     = EXCLUDED.amount,
			updated_at = EXCLUDED.updated_at
		WHERE pending_withdrawals.updated_at <= EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		w.Beneficiary.Hex(), w.PaymentMethod.String(), amountArg(w.Amount), w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert withdrawal %s/%s: %w", w.Beneficiary.Hex(), w.PaymentMethod, err)
	}
	return nil
}

// ListByBeneficiary returns every recorded balance of beneficiary.
func (s *WithdrawalStore) ListByBeneficiary(ctx context.Context, beneficiary common.Address) ([]domain.PendingWithdrawal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payment_method, amount::text, updated_at
		FROM pending_withdrawals
		WHERE beneficiary = $1
		ORDER BY payment_method`, beneficiary.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list withdrawals of %s: %w", beneficiary.Hex(), err)
	}
	defer rows.Close()

	var out []domain.PendingWithdrawal
	for rows.Next() {
		w := domain.PendingWithdrawal{Beneficiary: beneficiary}
		var pm, amount string
		if err := rows.Scan(&pm, &amount, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan withdrawal: %w", err)
		}
		if w.PaymentMethod, err = domain.ParsePaymentMethod(pm); err != nil {
			return nil, fmt.Errorf("postgres: scan withdrawal: %w", err)
		}
		if w.Amount, err = parseAmount(amount); err != nil {
			return nil, fmt.Errorf("postgres: scan withdrawal: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: withdrawal rows: %w", err)
	}
	return out, nil
}

var _ domain.WithdrawalStore = (*WithdrawalStore)(nil)
