package database

import (
	"context"

	"github.com/floroz/parcel-registry/internal/parcel"
)

// CombinedRepository implements parcel.CombinedReadRepository: a
// unified view over parcels and still-pending outbox events,
// deduplicated by parcel id with the durable row winning ties.
//
// Two corrections are made here relative to the system this was
// ported from: the outbox side filters on event_type =
// 'parcel.registered' (not a stray 'registry_parcel' string), and the
// detail lookup this repository's sibling OutboxRepository performs
// filters the outbox_events.parcel_id column, not its own id column.
type CombinedRepository struct{}

func NewCombinedRepository() *CombinedRepository { return &CombinedRepository{} }

const unifiedCTE = `
	WITH unified AS (
		SELECT id AS parcel_id, created_at, type_id, delivery_price_rub, 'parcel' AS source
		FROM parcels
		WHERE session_id = $1 AND ($2::int IS NULL OR type_id = $2)
		UNION ALL
		SELECT
			payload->>'parcel_id',
			created_at,
			(payload->>'type_id')::int,
			(payload->>'delivery_price_rub')::float8,
			'outbox'
		FROM outbox_events
		WHERE session_id = $1 AND event_type = 'parcel.registered' AND applied = false
			AND ($2::int IS NULL OR (payload->>'type_id')::int = $2)
	),
	ranked AS (
		SELECT *, ROW_NUMBER() OVER (
			PARTITION BY parcel_id ORDER BY (source = 'parcel') DESC, created_at DESC
		) AS rn
		FROM unified
	)
`

func (r *CombinedRepository) ListPaginated(ctx context.Context, pool parcel.PgxQuerier, sessionID string, typeID *int, limit, offset int) ([]parcel.ParcelIDSource, error) {
	rows, err := pool.Query(ctx, unifiedCTE+`
		SELECT parcel_id, source FROM ranked
		WHERE rn = 1
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, sessionID, typeID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []parcel.ParcelIDSource
	for rows.Next() {
		var row parcel.ParcelIDSource
		var source string
		if err := rows.Scan(&row.ParcelID, &source); err != nil {
			return nil, err
		}
		row.Source = parcel.Source(source)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *CombinedRepository) Count(ctx context.Context, pool parcel.PgxQuerier, sessionID string, typeID *int, hasDeliveryPrice bool) (int, error) {
	var count int
	err := pool.QueryRow(ctx, unifiedCTE+`
		SELECT count(*) FROM ranked
		WHERE rn = 1 AND ($3::bool IS false OR delivery_price_rub IS NOT NULL)
	`, sessionID, typeID, hasDeliveryPrice).Scan(&count)
	return count, err
}
