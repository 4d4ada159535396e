package parcel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/floroz/parcel-registry/pkg/database"
)

// priceFormula is the one place the delivery-price arithmetic lives:
// weight contributes half a ruble per kilo (once converted), and the
// cost adjustment contributes a cent on the dollar, both scaled by the
// USD->RUB rate. Real-number arithmetic throughout; rounding happens
// only when a price is formatted for an HTTP response.
func priceFormula(weightKg, costAdjustmentUSD, usdRate float64) float64 {
	return (weightKg*0.5 + costAdjustmentUSD*0.01) * usdRate
}

// Strategies share a transaction manager, a parcel repository, a rate
// service, and an audit store. Each strategy owns its own transaction
// boundary so a failure in one never affects another in-flight
// message.
type Strategies struct {
	txManager database.TransactionManager
	parcels   ParcelRepository
	rates     RateService
	audit     AuditStore
	logger    *slog.Logger
}

func NewStrategies(txManager database.TransactionManager, parcels ParcelRepository, rates RateService, audit AuditStore, logger *slog.Logger) *Strategies {
	return &Strategies{txManager: txManager, parcels: parcels, rates: rates, audit: audit, logger: logger}
}

// Register implements the parcel.registered strategy: fetch the rate,
// skip if the parcel already exists (idempotent), otherwise insert it
// with whatever price could be computed and, when a price was
// computed, upsert an audit document.
func (s *Strategies) Register(ctx context.Context, eventType string, payload json.RawMessage) error {
	var in RegisterPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("decode register payload: %w", err)
	}

	rate, err := s.rates.GetUSDRate(ctx)
	if err != nil {
		return fmt.Errorf("get usd rate: %w", err)
	}

	var price *float64
	if rate != nil {
		p := priceFormula(in.WeightKg, in.CostAdjustmentUSD, *rate)
		price = &p
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	uow := NewUnitOfWork(tx, s.parcels, nil, nil)
	defer func() { _ = uow.Rollback(ctx) }()

	existing, err := uow.Parcels().GetByIDForUpdate(ctx, uow.Tx(), in.ParcelID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check existing parcel: %w", err)
	}
	if existing != nil {
		s.logger.Info("parcel already registered, skipping", "parcel_id", in.ParcelID)
		return uow.Commit(ctx)
	}

	now := time.Now().UTC()
	p := &Parcel{
		ID:                in.ParcelID,
		SessionID:         in.SessionID,
		Name:              in.Name,
		WeightKg:          in.WeightKg,
		TypeID:            in.TypeID,
		CostAdjustmentUSD: in.CostAdjustmentUSD,
		DeliveryPriceRUB:  price,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := uow.Parcels().Insert(ctx, uow.Tx(), p); err != nil {
		if errors.Is(err, ErrParcelAlreadyExists) {
			// Lost the race to another delivery of the same event;
			// the other insert already won, nothing left to do here.
			s.logger.Info("parcel inserted concurrently, skipping", "parcel_id", in.ParcelID)
			return uow.Commit(ctx)
		}
		return fmt.Errorf("insert parcel: %w", err)
	}

	if err := uow.Commit(ctx); err != nil {
		return fmt.Errorf("commit register tx: %w", err)
	}

	if price != nil {
		if err := s.audit.Upsert(ctx, AuditDocument{
			ParcelID:        in.ParcelID,
			TypeID:          in.TypeID,
			SessionID:       in.SessionID,
			CalculatedPrice: *price,
			CalculatedAt:    now,
		}); err != nil {
			s.logger.Error("audit document upsert failed", "parcel_id", in.ParcelID, "error", err)
		}
	}

	return nil
}

// Recalculate implements the parcel.recalculate strategy: fetch the
// rate once, abort entirely if it's unavailable (no partial update),
// then fill every parcel still missing a price.
func (s *Strategies) Recalculate(ctx context.Context, eventType string, payload json.RawMessage) error {
	rate, err := s.rates.GetUSDRate(ctx)
	if err != nil {
		return fmt.Errorf("get usd rate: %w", err)
	}
	if rate == nil {
		return fmt.Errorf("usd rate unavailable, aborting recalculation")
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	uow := NewUnitOfWork(tx, s.parcels, nil, nil)
	defer func() { _ = uow.Rollback(ctx) }()

	parcels, err := uow.Parcels().ListWithNullPrice(ctx, uow.Tx())
	if err != nil {
		return fmt.Errorf("list parcels with null price: %w", err)
	}

	now := time.Now().UTC()
	type recalculated struct {
		parcelID, sessionID string
		typeID              int
		price               float64
	}
	var updated []recalculated

	for _, p := range parcels {
		price := priceFormula(p.WeightKg, p.CostAdjustmentUSD, *rate)
		if err := uow.Parcels().SetDeliveryPrice(ctx, uow.Tx(), p.ID, price); err != nil {
			return fmt.Errorf("set delivery price for %s: %w", p.ID, err)
		}
		updated = append(updated, recalculated{parcelID: p.ID, sessionID: p.SessionID, typeID: p.TypeID, price: price})
	}

	if err := uow.Commit(ctx); err != nil {
		return fmt.Errorf("commit recalculate tx: %w", err)
	}

	for _, u := range updated {
		if err := s.audit.Upsert(ctx, AuditDocument{
			ParcelID:        u.parcelID,
			TypeID:          u.typeID,
			SessionID:       u.sessionID,
			CalculatedPrice: u.price,
			CalculatedAt:    now,
			RecalculatedAt:  &now,
		}); err != nil {
			s.logger.Error("audit document upsert failed", "parcel_id", u.parcelID, "error", err)
		}
	}

	return nil
}
