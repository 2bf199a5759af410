package repository

import (
	"context"

	"popndrop/pkg/database"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type Repository struct {
	Booking        BookingRepository
	Hold           HoldRepository
	Payment        PaymentRepository
	Refund         RefundRepository
	ProcessedEvent ProcessedEventRepository
	Attention      AttentionRepository
	Expense        ExpenseRepository

	// Tx opens transactions; nil runs fn against this Repository directly.
	Tx TxRunner
}

// TxRunner runs fn with a Repository bound to one transaction. fn's
// error rolls the transaction back.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx *Repository) error) error
}

func NewRepository(db database.PgxIface, log *zap.Logger) *Repository {
	repo := newRepository(db, log)
	repo.Tx = &pgxTxRunner{db: db, log: log}
	return repo
}

func newRepository(q database.Querier, log *zap.Logger) *Repository {
	return &Repository{
		Booking:        NewBookingRepository(q, log),
		Hold:           NewHoldRepository(q, log),
		Payment:        NewPaymentRepository(q, log),
		Refund:         NewRefundRepository(q, log),
		ProcessedEvent: NewProcessedEventRepository(q, log),
		Attention:      NewAttentionRepository(q, log),
		Expense:        NewExpenseRepository(q, log),
	}
}

func (r *Repository) RunInTx(ctx context.Context, fn func(tx *Repository) error) error {
	if r.Tx == nil {
		return fn(r)
	}
	return r.Tx.RunInTx(ctx, fn)
}

type pgxTxRunner struct {
	db  database.PgxIface
	log *zap.Logger
}

func (t *pgxTxRunner) RunInTx(ctx context.Context, fn func(tx *Repository) error) error {
	return database.WithTx(ctx, t.db, func(tx pgx.Tx) error {
		return fn(newRepository(tx, t.log))
	})
}
