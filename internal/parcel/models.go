// Package parcel holds the domain model shared by the registration API,
// the outbox publisher, and the calculation worker: parcels, their
// static reference data, and the outbox events that carry parcel
// intent between the three processes.
package parcel

import "time"

// Parcel is a registered shipment once the calculation worker has
// materialized it from a parcel.registered event.
type Parcel struct {
	ID                string    `db:"id"`
	SessionID         string    `db:"session_id"`
	Name              string    `db:"name"`
	WeightKg          float64   `db:"weight_kg"`
	TypeID            int       `db:"type_id"`
	CostAdjustmentUSD float64   `db:"cost_adjustment_usd"`
	DeliveryPriceRUB  *float64  `db:"delivery_price_rub"`
	CompanyID         *int      `db:"company_id"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// ParcelType is static reference data describing a shipment category.
type ParcelType struct {
	ID   int    `db:"id"`
	Name string `db:"name"`
}

// Company is a transport company a parcel may be bound to.
type Company struct {
	ID          int        `db:"id"`
	Name        string     `db:"name"`
	Description *string    `db:"description"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at"`
}

const (
	// EventTypeParcelRegistered carries the fields needed to materialize
	// a new Parcel row.
	EventTypeParcelRegistered = "parcel.registered"
	// EventTypeParcelRecalculate is a control event with no payload that
	// triggers a full scan of parcels missing a delivery price.
	EventTypeParcelRecalculate = "parcel.recalculate"
)

// OutboxEvent is a row in the transactional outbox. It is written in
// the same transaction as the business operation that produced it and
// later drained by the outbox publisher.
type OutboxEvent struct {
	ID          string     `db:"id"`
	ParcelID    *string    `db:"parcel_id"`
	SessionID   *string    `db:"session_id"`
	EventType   string     `db:"event_type"`
	Payload     []byte     `db:"payload"`
	Applied     bool       `db:"applied"`
	CreatedAt   time.Time  `db:"created_at"`
	PublishedAt *time.Time `db:"published_at"`
}

// RegisterPayload is the JSON shape of a parcel.registered event's
// payload, both when writing it and when reading it back out of a
// still-pending outbox row for the combined read model.
type RegisterPayload struct {
	ParcelID          string   `json:"parcel_id"`
	SessionID         string   `json:"session_id"`
	Name              string   `json:"name"`
	WeightKg          float64  `json:"weight_kg"`
	TypeID            int      `json:"type_id"`
	CostAdjustmentUSD float64  `json:"cost_adjustment_usd"`
	DeliveryPriceRUB  *float64 `json:"delivery_price_rub"`
}

// AuditDocument is the calculation audit record kept in the document
// store, upserted once per parcel and again on every recalculation.
type AuditDocument struct {
	ParcelID        string     `bson:"parcel_id"`
	TypeID          int        `bson:"type_id"`
	SessionID       string     `bson:"session_id"`
	CalculatedPrice float64    `bson:"calculated_price"`
	CalculatedAt    time.Time  `bson:"calculated_at"`
	RecalculatedAt  *time.Time `bson:"recalculated_at,omitempty"`
}

// Source identifies which table a row in the combined read model came
// from. A durable parcels row always wins a tie against a pending
// outbox event for the same parcel id.
type Source string

const (
	SourceParcel Source = "parcel"
	SourceOutbox Source = "outbox"
)

// ParcelSummary is one row of a combined read: either a materialized
// Parcel or a still-pending outbox event, uniformly shaped for the
// HTTP layer.
type ParcelSummary struct {
	ParcelID         string
	Name             string
	WeightKg         float64
	TypeID           int
	CostAdjustmentUSD float64
	DeliveryPriceRUB *float64
	Source           Source
}
