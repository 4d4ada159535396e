package parcel

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// ParcelRepository is owned by the calculation worker for writes; the
// registration API only reads through it, except for binding a
// company, which it does under a row lock.
type ParcelRepository interface {
	Insert(ctx context.Context, tx pgx.Tx, p *Parcel) error
	GetByID(ctx context.Context, pool PgxQuerier, id string) (*Parcel, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Parcel, error)
	ListWithNullPrice(ctx context.Context, tx pgx.Tx) ([]*Parcel, error)
	SetDeliveryPrice(ctx context.Context, tx pgx.Tx, id string, price float64) error
	BindCompany(ctx context.Context, tx pgx.Tx, id string, companyID int) error
	GetByIDs(ctx context.Context, pool PgxQuerier, ids []string) ([]*Parcel, error)
}

// OutboxRepository covers both the write side (registration API
// inserting intent) and the read side (combined read model resolving
// a detail miss, publisher draining the queue).
type OutboxRepository interface {
	Insert(ctx context.Context, tx pgx.Tx, e *OutboxEvent) error
	GetByParcelID(ctx context.Context, pool PgxQuerier, parcelID string) (*OutboxEvent, error)
	GetByIDs(ctx context.Context, pool PgxQuerier, ids []string) ([]*OutboxEvent, error)
	GetPendingForUpdate(ctx context.Context, tx pgx.Tx, limit int) ([]*OutboxEvent, error)
	MarkApplied(ctx context.Context, tx pgx.Tx, ids []string) error
}

// CompanyRepository is reference-data access plus the existence check
// bind-company needs before it takes the parcel row lock.
type CompanyRepository interface {
	Exists(ctx context.Context, tx pgx.Tx, id int) (bool, error)
}

// ParcelTypeRepository lists the static parcel-type dictionary.
type ParcelTypeRepository interface {
	ListAll(ctx context.Context, pool PgxQuerier) ([]*ParcelType, error)
}

// CombinedReadRepository implements the unified parcels+outbox query
// described by the combined read model: dedup by parcel id, durable
// rows win ties.
type CombinedReadRepository interface {
	ListPaginated(ctx context.Context, pool PgxQuerier, sessionID string, typeID *int, limit, offset int) ([]ParcelIDSource, error)
	Count(ctx context.Context, pool PgxQuerier, sessionID string, typeID *int, hasDeliveryPrice bool) (int, error)
}

// ParcelIDSource is one row of the deduplicated id/source projection
// the list query returns before hydration.
type ParcelIDSource struct {
	ParcelID string
	Source   Source
}

// PgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// read-only repository methods run either inside or outside a
// transaction without two copies of the same SQL.
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EventPublisher is the outbox publisher's view of the broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// RateService is the currency lookup both worker strategies depend on.
type RateService interface {
	GetUSDRate(ctx context.Context) (*float64, error)
}

// AuditStore is the calculation audit document store.
type AuditStore interface {
	Upsert(ctx context.Context, doc AuditDocument) error
}
