package database

import (
	"context"

	"github.com/floroz/parcel-registry/internal/parcel"
)

// ParcelTypeRepository implements parcel.ParcelTypeRepository.
type ParcelTypeRepository struct{}

func NewParcelTypeRepository() *ParcelTypeRepository { return &ParcelTypeRepository{} }

func (r *ParcelTypeRepository) ListAll(ctx context.Context, pool parcel.PgxQuerier) ([]*parcel.ParcelType, error) {
	rows, err := pool.Query(ctx, `SELECT id, name FROM parcel_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*parcel.ParcelType
	for rows.Next() {
		var t parcel.ParcelType
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
