package repository

import (
	"context"
	"errors"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// StockRepository adjusts product inventory. Decrement is conditional
// on available quantity, so overselling loses the race at the database.
type StockRepository struct {
	db DBTX
}

func NewStockRepository(db DBTX) *StockRepository {
	return &StockRepository{db: db}
}

func (r *StockRepository) Decrement(ctx context.Context, productRef string, quantity int32) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE products SET stock = stock - ? WHERE product_ref = ? AND stock >= ?
	`, quantity, productRef, quantity)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (r *StockRepository) Restore(ctx context.Context, productRef string, quantity int32) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE products SET stock = stock + ? WHERE product_ref = ?
	`, quantity, productRef)
	return err
}
