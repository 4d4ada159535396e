package parcel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/parcel-registry/pkg/database"
)

// RegisterCommand is the input to RegistrationService.Register.
type RegisterCommand struct {
	SessionID         string
	Name              string
	WeightKg          float64
	TypeID            int
	CostAdjustmentUSD float64
}

// BindCompanyCommand is the input to RegistrationService.BindCompany.
type BindCompanyCommand struct {
	ParcelID  string
	CompanyID int
}

// ListQuery is the input to RegistrationService.List.
type ListQuery struct {
	SessionID        string
	TypeID           *int
	Limit            int
	Offset           int
	HasDeliveryPrice bool
}

// DetailQuery is the input to RegistrationService.GetDetail.
type DetailQuery struct {
	ParcelID  string
	SessionID string
}

// RegistrationService implements the registration API's write and read
// use cases. Every write goes through a UnitOfWork it opens for the
// duration of one call; the read-only use cases (GetDetail, List,
// ListTypes) query the pool directly.
type RegistrationService struct {
	txManager   database.TransactionManager
	parcels     ParcelRepository
	outbox      OutboxRepository
	companies   CompanyRepository
	types       ParcelTypeRepository
	combined    CombinedReadRepository
	pool        PgxQuerier
	logger      *slog.Logger
}

func NewRegistrationService(
	txManager database.TransactionManager,
	parcels ParcelRepository,
	outbox OutboxRepository,
	companies CompanyRepository,
	types ParcelTypeRepository,
	combined CombinedReadRepository,
	pool PgxQuerier,
	logger *slog.Logger,
) *RegistrationService {
	return &RegistrationService{
		txManager: txManager,
		parcels:   parcels,
		outbox:    outbox,
		companies: companies,
		types:     types,
		combined:  combined,
		pool:      pool,
		logger:    logger,
	}
}

// Register writes a parcel.registered outbox event inside one
// transaction. It never inserts into parcels directly — only the
// calculation worker does that once the event is consumed.
func (s *RegistrationService) Register(ctx context.Context, cmd RegisterCommand) (parcelID string, err error) {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	uow := NewUnitOfWork(tx, s.parcels, s.outbox, s.companies)
	defer func() { _ = uow.Rollback(ctx) }()

	id := uuid.New().String()
	payload := RegisterPayload{
		ParcelID:          id,
		SessionID:         cmd.SessionID,
		Name:              cmd.Name,
		WeightKg:          cmd.WeightKg,
		TypeID:            cmd.TypeID,
		CostAdjustmentUSD: cmd.CostAdjustmentUSD,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal register payload: %w", err)
	}

	event := &OutboxEvent{
		ID:        uuid.New().String(),
		ParcelID:  &id,
		SessionID: &cmd.SessionID,
		EventType: EventTypeParcelRegistered,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}

	if err := uow.Outbox().Insert(ctx, uow.Tx(), event); err != nil {
		if errors.Is(err, ErrOutboxDuplicate) {
			// Duplicate primary key on an outbox insert is treated as
			// success: the event already exists, nothing more to do.
			return id, uow.Commit(ctx)
		}
		return "", fmt.Errorf("%w: %v", ErrOutboxPersistence, err)
	}

	if err := uow.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit register tx: %w", err)
	}

	return id, nil
}

// BindCompany assigns a company to a parcel under a row lock,
// rejecting the request if the parcel already has one.
func (s *RegistrationService) BindCompany(ctx context.Context, cmd BindCompanyCommand) error {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	uow := NewUnitOfWork(tx, s.parcels, s.outbox, s.companies)
	defer func() { _ = uow.Rollback(ctx) }()

	exists, err := uow.Companies().Exists(ctx, uow.Tx(), cmd.CompanyID)
	if err != nil {
		return fmt.Errorf("check company exists: %w", err)
	}
	if !exists {
		return ErrCompanyNotFound
	}

	p, err := uow.Parcels().GetByIDForUpdate(ctx, uow.Tx(), cmd.ParcelID)
	if err != nil {
		return fmt.Errorf("lock parcel: %w", err)
	}
	if p == nil {
		return ErrParcelNotFound
	}

	if p.CompanyID != nil {
		return ErrParcelAlreadyBound
	}

	if err := uow.Parcels().BindCompany(ctx, uow.Tx(), cmd.ParcelID, cmd.CompanyID); err != nil {
		return fmt.Errorf("bind company: %w", err)
	}

	return uow.Commit(ctx)
}

// DebugRecalculate emits an empty-payload parcel.recalculate control
// event.
func (s *RegistrationService) DebugRecalculate(ctx context.Context) error {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	uow := NewUnitOfWork(tx, s.parcels, s.outbox, s.companies)
	defer func() { _ = uow.Rollback(ctx) }()

	event := &OutboxEvent{
		ID:        uuid.New().String(),
		EventType: EventTypeParcelRecalculate,
		CreatedAt: time.Now().UTC(),
	}

	if err := uow.Outbox().Insert(ctx, uow.Tx(), event); err != nil {
		if errors.Is(err, ErrOutboxDuplicate) {
			return uow.Commit(ctx)
		}
		return fmt.Errorf("%w: %v", ErrOutboxPersistence, err)
	}

	return uow.Commit(ctx)
}

// ListTypes returns the static parcel-type dictionary.
func (s *RegistrationService) ListTypes(ctx context.Context) ([]*ParcelType, error) {
	return s.types.ListAll(ctx, s.pool)
}

// GetDetail resolves a parcel either from the durable table or, on
// miss, from a still-pending outbox event, enforcing session ownership
// on the outbox path.
func (s *RegistrationService) GetDetail(ctx context.Context, q DetailQuery) (*ParcelSummary, error) {
	p, err := s.parcels.GetByID(ctx, s.pool, q.ParcelID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get parcel: %w", err)
	}
	if p != nil {
		return &ParcelSummary{
			ParcelID:          p.ID,
			Name:              p.Name,
			WeightKg:          p.WeightKg,
			TypeID:            p.TypeID,
			CostAdjustmentUSD: p.CostAdjustmentUSD,
			DeliveryPriceRUB:  p.DeliveryPriceRUB,
			Source:            SourceParcel,
		}, nil
	}

	event, err := s.outbox.GetByParcelID(ctx, s.pool, q.ParcelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParcelNotFound
		}
		return nil, fmt.Errorf("get outbox event: %w", err)
	}

	if event.SessionID == nil || *event.SessionID != q.SessionID {
		return nil, ErrAccessDenied
	}

	var payload RegisterPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode outbox payload: %w", err)
	}

	return &ParcelSummary{
		ParcelID:          payload.ParcelID,
		Name:              payload.Name,
		WeightKg:          payload.WeightKg,
		TypeID:            payload.TypeID,
		CostAdjustmentUSD: payload.CostAdjustmentUSD,
		DeliveryPriceRUB:  payload.DeliveryPriceRUB,
		Source:            SourceOutbox,
	}, nil
}

// List runs the combined read model's paginated query, then hydrates
// each id from whichever table it came from, preserving the order the
// list query returned.
func (s *RegistrationService) List(ctx context.Context, q ListQuery) ([]*ParcelSummary, int, error) {
	idsWithSource, err := s.combined.ListPaginated(ctx, s.pool, q.SessionID, q.TypeID, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list paginated: %w", err)
	}

	total, err := s.combined.Count(ctx, s.pool, q.SessionID, q.TypeID, q.HasDeliveryPrice)
	if err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	var parcelIDs, outboxIDs []string
	for _, row := range idsWithSource {
		if row.Source == SourceParcel {
			parcelIDs = append(parcelIDs, row.ParcelID)
		} else {
			outboxIDs = append(outboxIDs, row.ParcelID)
		}
	}

	parcelRows, err := s.parcels.GetByIDs(ctx, s.pool, parcelIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("bulk load parcels: %w", err)
	}
	outboxRows, err := s.outbox.GetByIDs(ctx, s.pool, outboxIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("bulk load outbox events: %w", err)
	}

	byID := make(map[string]*ParcelSummary, len(idsWithSource))
	for _, p := range parcelRows {
		byID[p.ID] = &ParcelSummary{
			ParcelID:          p.ID,
			Name:              p.Name,
			WeightKg:          p.WeightKg,
			TypeID:            p.TypeID,
			CostAdjustmentUSD: p.CostAdjustmentUSD,
			DeliveryPriceRUB:  p.DeliveryPriceRUB,
			Source:            SourceParcel,
		}
	}
	for _, e := range outboxRows {
		var payload RegisterPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			s.logger.Warn("skipping outbox row with unparseable payload", "id", e.ID, "error", err)
			continue
		}
		byID[payload.ParcelID] = &ParcelSummary{
			ParcelID:          payload.ParcelID,
			Name:              payload.Name,
			WeightKg:          payload.WeightKg,
			TypeID:            payload.TypeID,
			CostAdjustmentUSD: payload.CostAdjustmentUSD,
			DeliveryPriceRUB:  payload.DeliveryPriceRUB,
			Source:            SourceOutbox,
		}
	}

	results := make([]*ParcelSummary, 0, len(idsWithSource))
	for _, row := range idsWithSource {
		if summary, ok := byID[row.ParcelID]; ok {
			if q.HasDeliveryPrice && summary.DeliveryPriceRUB == nil {
				continue
			}
			results = append(results, summary)
		}
	}

	return results, total, nil
}
