package repository

import (
	"context"
	"fmt"

	"popndrop/internal/data/entity"
	"popndrop/pkg/database"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type ExpenseRepository interface {
	// Create returns false when an expense with the same provider reference exists.
	Create(ctx context.Context, expense *entity.Expense) (bool, error)
	FindByProviderRef(ctx context.Context, ref string) (*entity.Expense, error)
}

type expenseRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewExpenseRepository(db database.Querier, log *zap.Logger) ExpenseRepository {
	return &expenseRepository{
		db:  db,
		log: log.With(zap.String("repository", "expense")),
	}
}

func (r *expenseRepository) Create(ctx context.Context, expense *entity.Expense) (bool, error) {
	query := `
		INSERT INTO expenses (id, booking_id, category, amount_cents, description, provider_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_ref) DO NOTHING
	`

	result, err := r.db.Exec(ctx, query,
		expense.ID,
		expense.BookingID,
		expense.Category,
		expense.AmountCents,
		expense.Description,
		expense.ProviderRef,
		expense.CreatedAt,
	)
	if err != nil {
		r.log.Error("Failed to create expense",
			zap.Error(err),
			zap.String("provider_ref", expense.ProviderRef),
		)
		return false, fmt.Errorf("create expense %s: %w", expense.ProviderRef, err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *expenseRepository) FindByProviderRef(ctx context.Context, ref string) (*entity.Expense, error) {
	query := `
		SELECT id, booking_id, category, amount_cents, description, provider_ref, created_at
		FROM expenses
		WHERE provider_ref = $1
	`

	var expense entity.Expense
	err := r.db.QueryRow(ctx, query, ref).Scan(
		&expense.ID,
		&expense.BookingID,
		&expense.Category,
		&expense.AmountCents,
		&expense.Description,
		&expense.ProviderRef,
		&expense.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find expense",
			zap.Error(err),
			zap.String("provider_ref", ref),
		)
		return nil, fmt.Errorf("find expense %s: %w", ref, err)
	}

	return &expense, nil
}
