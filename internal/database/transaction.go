package database

import (
	"context"
	"fmt"

	"storywriter/internal/interfaces"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TxBeginner - *pgxpool.Pool или pgx.Tx (вложенная транзакция = savepoint).
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TransactionHelper выполняет функции в транзакции с откатом при ошибке или панике.
type TransactionHelper struct {
	db     TxBeginner
	logger *zap.Logger
}

var _ interfaces.Transactor = (*TransactionHelper)(nil)

// NewTransactionHelper создает помощник транзакций.
func NewTransactionHelper(db TxBeginner, logger *zap.Logger) *TransactionHelper {
	return &TransactionHelper{db: db, logger: logger.Named("TxHelper")}
}

// WithTransaction выполняет fn в транзакции. Коммит только при nil ошибке.
func (h *TransactionHelper) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.DBTX) error) error {
	return runInTx(ctx, h.db, h.logger, fn)
}

// runInTx используется и хелпером, и репозиториями, которым нужна атомарность
// независимо от того, передан ли им пул или уже открытая транзакция.
func runInTx(ctx context.Context, db TxBeginner, logger *zap.Logger, fn func(ctx context.Context, tx interfaces.DBTX) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				logger.Error("Failed to rollback transaction after panic", zap.Error(rollbackErr), zap.Any("panic", p))
			}
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			logger.Error("Failed to rollback transaction", zap.Error(rollbackErr), zap.NamedError("original_error", err))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
