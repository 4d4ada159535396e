package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/floroz/parcel-registry/internal/parcel"
	"github.com/floroz/parcel-registry/pkg/events"
)

// OutboxRepository implements parcel.OutboxRepository.
type OutboxRepository struct{}

func NewOutboxRepository() *OutboxRepository { return &OutboxRepository{} }

const selectOutboxColumns = `id, parcel_id, session_id, event_type, payload, applied, created_at, published_at`

func (r *OutboxRepository) Insert(ctx context.Context, tx pgx.Tx, e *parcel.OutboxEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, parcel_id, session_id, event_type, payload, applied, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)
	`, e.ID, e.ParcelID, e.SessionID, e.EventType, nullableJSON(e.Payload), e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return parcel.ErrOutboxDuplicate
		}
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (r *OutboxRepository) scanOne(row pgx.Row) (*parcel.OutboxEvent, error) {
	var e parcel.OutboxEvent
	err := row.Scan(&e.ID, &e.ParcelID, &e.SessionID, &e.EventType, &e.Payload, &e.Applied, &e.CreatedAt, &e.PublishedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetByParcelID filters on the parcel_id column, not the event's own
// id — this is the column the combined read model's detail path needs.
func (r *OutboxRepository) GetByParcelID(ctx context.Context, pool parcel.PgxQuerier, parcelID string) (*parcel.OutboxEvent, error) {
	row := pool.QueryRow(ctx, `SELECT `+selectOutboxColumns+` FROM outbox_events WHERE parcel_id = $1`, parcelID)
	return r.scanOne(row)
}

func (r *OutboxRepository) GetByIDs(ctx context.Context, pool parcel.PgxQuerier, ids []string) ([]*parcel.OutboxEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := pool.Query(ctx, `SELECT `+selectOutboxColumns+` FROM outbox_events WHERE parcel_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*parcel.OutboxEvent
	for rows.Next() {
		e, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *OutboxRepository) GetPendingForUpdate(ctx context.Context, tx pgx.Tx, limit int) ([]*parcel.OutboxEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+selectOutboxColumns+` FROM outbox_events
		WHERE applied = false
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*parcel.OutboxEvent
	for rows.Next() {
		e, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *OutboxRepository) MarkApplied(ctx context.Context, tx pgx.Tx, ids []string) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events SET applied = true, published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// RelaySource adapts OutboxRepository to the generic events.OutboxSource
// interface the outbox publisher's relay depends on, translating
// between the domain's OutboxEvent and the relay's minimal Event shape.
type RelaySource struct {
	repo *OutboxRepository
}

func NewRelaySource(repo *OutboxRepository) *RelaySource { return &RelaySource{repo: repo} }

func (s *RelaySource) GetPending(ctx context.Context, tx pgx.Tx, limit int) ([]events.Event, error) {
	rows, err := s.repo.GetPendingForUpdate(ctx, tx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]events.Event, 0, len(rows))
	for _, e := range rows {
		payload := e.Payload
		if payload == nil {
			payload = []byte("null")
		}
		// {"payload": ..., "event_type": ...} is the body shape the
		// calculation worker's consumer decodes.
		body, err := json.Marshal(struct {
			Payload   json.RawMessage `json:"payload"`
			EventType string          `json:"event_type"`
		}{Payload: payload, EventType: e.EventType})
		if err != nil {
			return nil, err
		}
		out = append(out, events.Event{ID: e.ID, EventType: e.EventType, Payload: body})
	}
	return out, nil
}

func (s *RelaySource) MarkApplied(ctx context.Context, tx pgx.Tx, ids []string) error {
	return s.repo.MarkApplied(ctx, tx, ids)
}
