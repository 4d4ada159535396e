// Package database implements the parcel domain's repository ports
// against Postgres via pgx, following the same explicit pgx.Tx-on-write,
// PgxQuerier-on-read split the domain ports declare.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/floroz/parcel-registry/internal/parcel"
)

const pgUniqueViolation = "23505"

// ParcelRepository implements parcel.ParcelRepository.
type ParcelRepository struct{}

func NewParcelRepository() *ParcelRepository { return &ParcelRepository{} }

func (r *ParcelRepository) Insert(ctx context.Context, tx pgx.Tx, p *parcel.Parcel) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO parcels (id, session_id, name, weight_kg, type_id, cost_adjustment_usd, delivery_price_rub, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.SessionID, p.Name, p.WeightKg, p.TypeID, p.CostAdjustmentUSD, p.DeliveryPriceRUB, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return parcel.ErrParcelAlreadyExists
		}
		return fmt.Errorf("insert parcel: %w", err)
	}
	return nil
}

func (r *ParcelRepository) scanOne(row pgx.Row) (*parcel.Parcel, error) {
	var p parcel.Parcel
	err := row.Scan(&p.ID, &p.SessionID, &p.Name, &p.WeightKg, &p.TypeID, &p.CostAdjustmentUSD, &p.DeliveryPriceRUB, &p.CompanyID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const selectParcelColumns = `id, session_id, name, weight_kg, type_id, cost_adjustment_usd, delivery_price_rub, company_id, created_at, updated_at`

func (r *ParcelRepository) GetByID(ctx context.Context, pool parcel.PgxQuerier, id string) (*parcel.Parcel, error) {
	row := pool.QueryRow(ctx, `SELECT `+selectParcelColumns+` FROM parcels WHERE id = $1`, id)
	return r.scanOne(row)
}

func (r *ParcelRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*parcel.Parcel, error) {
	row := tx.QueryRow(ctx, `SELECT `+selectParcelColumns+` FROM parcels WHERE id = $1 FOR UPDATE`, id)
	p, err := r.scanOne(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *ParcelRepository) ListWithNullPrice(ctx context.Context, tx pgx.Tx) ([]*parcel.Parcel, error) {
	rows, err := tx.Query(ctx, `SELECT `+selectParcelColumns+` FROM parcels WHERE delivery_price_rub IS NULL FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*parcel.Parcel
	for rows.Next() {
		p, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ParcelRepository) SetDeliveryPrice(ctx context.Context, tx pgx.Tx, id string, price float64) error {
	_, err := tx.Exec(ctx, `
		UPDATE parcels SET delivery_price_rub = $1, updated_at = now()
		WHERE id = $2 AND delivery_price_rub IS NULL
	`, price, id)
	return err
}

func (r *ParcelRepository) BindCompany(ctx context.Context, tx pgx.Tx, id string, companyID int) error {
	_, err := tx.Exec(ctx, `
		UPDATE parcels SET company_id = $1, updated_at = now()
		WHERE id = $2 AND company_id IS NULL
	`, companyID, id)
	return err
}

func (r *ParcelRepository) GetByIDs(ctx context.Context, pool parcel.PgxQuerier, ids []string) ([]*parcel.Parcel, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := pool.Query(ctx, `SELECT `+selectParcelColumns+` FROM parcels WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*parcel.Parcel
	for rows.Next() {
		p, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
