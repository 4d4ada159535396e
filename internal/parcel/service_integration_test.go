//go:build integration

package parcel_test

import (
	"context"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/parcel-registry/internal/parcel"
	"github.com/floroz/parcel-registry/pkg/database"
	"github.com/floroz/parcel-registry/pkg/testhelpers"
	adapterdb "github.com/floroz/parcel-registry/services/parcel-service/internal/adapters/database"
)

type testStack struct {
	Service    *parcel.RegistrationService
	Strategies *parcel.Strategies
	Pool       *pgxpool.Pool
}

// noopRates always returns nil: no cached or fetched rate, the
// degrade-gracefully path every strategy test exercises unless a test
// overrides it.
type noopRates struct{}

func (noopRates) GetUSDRate(ctx context.Context) (*float64, error) { return nil, nil }

type fixedRates struct{ rate float64 }

func (f fixedRates) GetUSDRate(ctx context.Context) (*float64, error) { return &f.rate, nil }

// noopAudit discards every audit document; these tests assert on
// Postgres state, not the document store.
type noopAudit struct{}

func (noopAudit) Upsert(ctx context.Context, doc parcel.AuditDocument) error { return nil }

func setupStack(pool *pgxpool.Pool, rates parcel.RateService) *testStack {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	txManager := database.NewPostgresTransactionManager(pool, 5*time.Second)

	parcelRepo := adapterdb.NewParcelRepository()
	outboxRepo := adapterdb.NewOutboxRepository()
	companyRepo := adapterdb.NewCompanyRepository()
	typeRepo := adapterdb.NewParcelTypeRepository()
	combinedRepo := adapterdb.NewCombinedRepository()

	service := parcel.NewRegistrationService(txManager, parcelRepo, outboxRepo, companyRepo, typeRepo, combinedRepo, pool, logger)
	strategies := parcel.NewStrategies(txManager, parcelRepo, rates, noopAudit{}, logger)

	return &testStack{Service: service, Strategies: strategies, Pool: pool}
}

func seedCompany(t *testing.T, pool *pgxpool.Pool, name string) int {
	t.Helper()
	var id int
	err := pool.QueryRow(context.Background(), `INSERT INTO companies (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	require.NoError(t, err)
	return id
}

func consumeOutboxPayload(t *testing.T, ctx context.Context, stack *testStack, eventType, parcelID string) {
	t.Helper()
	var payload []byte
	err := stack.Pool.QueryRow(ctx, `SELECT payload FROM outbox_events WHERE parcel_id = $1 AND event_type = $2`, parcelID, eventType).Scan(&payload)
	require.NoError(t, err)
	require.NoError(t, stack.Strategies.Register(ctx, eventType, payload))
}

func TestRegistrationService_Register_PendingUntilWorkerMaterializes(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../migrations")
	defer testDB.Close()

	ctx := context.Background()
	stack := setupStack(testDB.Pool, noopRates{})

	sessionID := "session-1"
	id, err := stack.Service.Register(ctx, parcel.RegisterCommand{
		SessionID:         sessionID,
		Name:              "first box",
		WeightKg:          2,
		TypeID:            1,
		CostAdjustmentUSD: 5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Before the worker consumes the event, detail must resolve from
	// the outbox fallback path with no delivery price.
	detail, err := stack.Service.GetDetail(ctx, parcel.DetailQuery{ParcelID: id, SessionID: sessionID})
	require.NoError(t, err)
	assert.Equal(t, parcel.SourceOutbox, detail.Source)
	assert.Nil(t, detail.DeliveryPriceRUB)

	// A session that didn't create the parcel must not see it via the
	// pending-outbox fallback.
	_, err = stack.Service.GetDetail(ctx, parcel.DetailQuery{ParcelID: id, SessionID: "someone-else"})
	assert.ErrorIs(t, err, parcel.ErrAccessDenied)

	// Simulate the worker consuming the parcel.registered event with no
	// currency rate available: the row materializes with a nil price.
	consumeOutboxPayload(t, ctx, stack, parcel.EventTypeParcelRegistered, id)

	detail, err = stack.Service.GetDetail(ctx, parcel.DetailQuery{ParcelID: id, SessionID: sessionID})
	require.NoError(t, err)
	assert.Equal(t, parcel.SourceParcel, detail.Source)
	assert.Nil(t, detail.DeliveryPriceRUB)
}

func TestRegistrationService_Register_Idempotent(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../migrations")
	defer testDB.Close()

	ctx := context.Background()
	stack := setupStack(testDB.Pool, fixedRates{rate: 90})

	id, err := stack.Service.Register(ctx, parcel.RegisterCommand{
		SessionID:         "session-2",
		Name:              "second box",
		WeightKg:          4,
		TypeID:            2,
		CostAdjustmentUSD: 20,
	})
	require.NoError(t, err)

	consumeOutboxPayload(t, ctx, stack, parcel.EventTypeParcelRegistered, id)

	var payload []byte
	err = stack.Pool.QueryRow(ctx, `SELECT payload FROM outbox_events WHERE parcel_id = $1 AND event_type = $2`, id, parcel.EventTypeParcelRegistered).Scan(&payload)
	require.NoError(t, err)

	// Redelivering the same message must be a no-op, not a unique
	// violation or a second price calculation.
	require.NoError(t, stack.Strategies.Register(ctx, parcel.EventTypeParcelRegistered, payload))

	var count int
	require.NoError(t, stack.Pool.QueryRow(ctx, `SELECT count(*) FROM parcels WHERE id = $1`, id).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRegistrationService_BindCompany(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../migrations")
	defer testDB.Close()

	ctx := context.Background()
	stack := setupStack(testDB.Pool, fixedRates{rate: 90})
	sessionID := "session-3"

	t.Run("fails when company does not exist", func(t *testing.T) {
		err := stack.Service.BindCompany(ctx, parcel.BindCompanyCommand{ParcelID: "whatever", CompanyID: 99999})
		assert.ErrorIs(t, err, parcel.ErrCompanyNotFound)
	})

	companyID := seedCompany(t, testDB.Pool, "Acme Logistics")

	t.Run("fails when parcel has not materialized yet", func(t *testing.T) {
		err := stack.Service.BindCompany(ctx, parcel.BindCompanyCommand{ParcelID: "does-not-exist", CompanyID: companyID})
		assert.ErrorIs(t, err, parcel.ErrParcelNotFound)
	})

	id, err := stack.Service.Register(ctx, parcel.RegisterCommand{
		SessionID:         sessionID,
		Name:              "bindable box",
		WeightKg:          1,
		TypeID:            1,
		CostAdjustmentUSD: 1,
	})
	require.NoError(t, err)
	consumeOutboxPayload(t, ctx, stack, parcel.EventTypeParcelRegistered, id)

	t.Run("succeeds once the parcel exists", func(t *testing.T) {
		err := stack.Service.BindCompany(ctx, parcel.BindCompanyCommand{ParcelID: id, CompanyID: companyID})
		assert.NoError(t, err)
	})

	t.Run("fails when already bound", func(t *testing.T) {
		err := stack.Service.BindCompany(ctx, parcel.BindCompanyCommand{ParcelID: id, CompanyID: companyID})
		assert.ErrorIs(t, err, parcel.ErrParcelAlreadyBound)
	})
}

func TestRegistrationService_List_DedupAndFilter(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../migrations")
	defer testDB.Close()

	ctx := context.Background()
	stack := setupStack(testDB.Pool, fixedRates{rate: 90})
	sessionID := "session-4"

	materialized, err := stack.Service.Register(ctx, parcel.RegisterCommand{
		SessionID:         sessionID,
		Name:              "materialized box",
		WeightKg:          3,
		TypeID:            1,
		CostAdjustmentUSD: 10,
	})
	require.NoError(t, err)
	consumeOutboxPayload(t, ctx, stack, parcel.EventTypeParcelRegistered, materialized)

	pending, err := stack.Service.Register(ctx, parcel.RegisterCommand{
		SessionID:         sessionID,
		Name:              "pending box",
		WeightKg:          1,
		TypeID:            1,
		CostAdjustmentUSD: 2,
	})
	require.NoError(t, err)

	// Unfiltered: both rows show up, the materialized one sourced from
	// the durable table and the pending one from the outbox.
	results, total, err := stack.Service.List(ctx, parcel.ListQuery{SessionID: sessionID, Limit: 10, HasDeliveryPrice: false})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, results, 2)

	bySource := map[parcel.Source]int{}
	for _, r := range results {
		bySource[r.Source]++
	}
	assert.Equal(t, 1, bySource[parcel.SourceParcel])
	assert.Equal(t, 1, bySource[parcel.SourceOutbox])

	// has_delivery_price=true excludes the pending row since its price
	// is still nil.
	filtered, filteredTotal, err := stack.Service.List(ctx, parcel.ListQuery{SessionID: sessionID, Limit: 10, HasDeliveryPrice: true})
	require.NoError(t, err)
	assert.Equal(t, 1, filteredTotal)
	require.Len(t, filtered, 1)
	assert.Equal(t, materialized, filtered[0].ParcelID)
	assert.NotNil(t, filtered[0].DeliveryPriceRUB)

	// The excluded row is exactly the still-pending one.
	for _, r := range filtered {
		assert.NotEqual(t, pending, r.ParcelID)
	}
}
