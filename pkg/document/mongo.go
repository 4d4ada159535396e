// Package document stores the calculation audit documents both worker
// strategies upsert: one per parcel, refreshed whenever a price is
// (re)calculated. This is not backed by anything in the relational
// schema — it mirrors the document-store collection the original
// system kept in MongoDB.
package document

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/floroz/parcel-registry/internal/parcel"
)

// AuditStore upserts calculation audit documents into a MongoDB
// collection keyed by parcel_id.
type AuditStore struct {
	collection *mongo.Collection
}

func NewAuditStore(db *mongo.Database, collectionName string) *AuditStore {
	return &AuditStore{collection: db.Collection(collectionName)}
}

// Upsert writes or updates the audit document for doc.ParcelID. A
// first-time register writes CalculatedAt; a later recalculation also
// sets RecalculatedAt while leaving CalculatedAt untouched.
func (s *AuditStore) Upsert(ctx context.Context, doc parcel.AuditDocument) error {
	filter := bson.M{"parcel_id": doc.ParcelID}

	set := bson.M{
		"type_id":          doc.TypeID,
		"session_id":       doc.SessionID,
		"calculated_price": doc.CalculatedPrice,
	}
	if doc.RecalculatedAt != nil {
		set["recalculated_at"] = doc.RecalculatedAt
	}

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"calculated_at": doc.CalculatedAt},
	}
	if doc.CalculatedAt.IsZero() {
		update["$setOnInsert"] = bson.M{"calculated_at": time.Now().UTC()}
	}

	_, err := s.collection.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// AggregateByDate sums calculated_price grouped by type_id for
// documents whose calculated_at falls within [start, end). The totals
// come back as a map keyed by type_id, so they carry no order.
func (s *AuditStore) AggregateByDate(ctx context.Context, start, end time.Time) (map[int]float64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"calculated_at": bson.M{"$gte": start, "$lt": end},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$type_id",
			"total": bson.M{"$sum": "$calculated_price"},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	totals := make(map[int]float64)
	for cursor.Next(ctx) {
		var row struct {
			ID    int     `bson:"_id"`
			Total float64 `bson:"total"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		totals[row.ID] = row.Total
	}

	return totals, cursor.Err()
}
