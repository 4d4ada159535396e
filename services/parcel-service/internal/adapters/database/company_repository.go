package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// CompanyRepository implements parcel.CompanyRepository.
type CompanyRepository struct{}

func NewCompanyRepository() *CompanyRepository { return &CompanyRepository{} }

func (r *CompanyRepository) Exists(ctx context.Context, tx pgx.Tx, id int) (bool, error) {
	var found int
	err := tx.QueryRow(ctx, `SELECT id FROM companies WHERE id = $1`, id).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
