//go:build integration

package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/floroz/parcel-registry/internal/parcel"
	"github.com/floroz/parcel-registry/pkg/cache"
	"github.com/floroz/parcel-registry/pkg/config"
	"github.com/floroz/parcel-registry/pkg/database"
	"github.com/floroz/parcel-registry/pkg/document"
	"github.com/floroz/parcel-registry/pkg/testhelpers"
	"github.com/floroz/parcel-registry/services/parcel-service/internal/adapters/api"
	adapterdb "github.com/floroz/parcel-registry/services/parcel-service/internal/adapters/database"
)

// unreachableRedis builds a client that always fails fast, exercising
// this system's graceful cache-degradation path instead of requiring a
// live Redis for tests that don't care about caching behavior.
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	})
}

// unreachableAuditStore builds an AuditStore against a lazily-connecting
// Mongo client; safe as long as the test never exercises the analytics
// endpoint the audit store backs.
func unreachableAuditStore(t *testing.T) *document.AuditStore {
	t.Helper()
	client, err := mongo.Connect(options.Client().ApplyURI("mongodb://127.0.0.1:1"))
	require.NoError(t, err)
	return document.NewAuditStore(client.Database("test"), "calculations")
}

func setupServer(t *testing.T, testDB *testhelpers.TestDatabase) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	txManager := database.NewPostgresTransactionManager(testDB.Pool, 5*time.Second)
	parcelRepo := adapterdb.NewParcelRepository()
	outboxRepo := adapterdb.NewOutboxRepository()
	companyRepo := adapterdb.NewCompanyRepository()
	typeRepo := adapterdb.NewParcelTypeRepository()
	combinedRepo := adapterdb.NewCombinedRepository()

	service := parcel.NewRegistrationService(txManager, parcelRepo, outboxRepo, companyRepo, typeRepo, combinedRepo, testDB.Pool, logger)
	readCache := cache.NewReadThroughCache(unreachableRedis(), logger)
	handler := api.NewHandler(service, readCache, unreachableAuditStore(t))
	router := api.NewRouter(handler, testDB.Pool, config.LoadMeta())

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url, sessionID string, body any) *http.Response {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("X-Session-Id", sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestRegistrationFlow_RejectsMissingSession(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()
	server := setupServer(t, testDB)

	resp := doJSON(t, http.MethodPost, server.URL+"/v1/parcels/", "", map[string]any{
		"name": "box", "weight_kg": 1, "type_id": 1, "cost_adjustment_usd": 1,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRegistrationFlow_RejectsOutOfRangeInputs(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()
	server := setupServer(t, testDB)

	resp := doJSON(t, http.MethodPost, server.URL+"/v1/parcels/", "session-a", map[string]any{
		"name": "box", "weight_kg": 0, "type_id": 1, "cost_adjustment_usd": 1,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRegistrationFlow_RegisterThenReadBackPending(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()
	server := setupServer(t, testDB)

	createResp := doJSON(t, http.MethodPost, server.URL+"/v1/parcels/", "session-b", map[string]any{
		"name": "e2e box", "weight_kg": 2.5, "type_id": 1, "cost_adjustment_usd": 15,
	})
	defer createResp.Body.Close()
	require.Equal(t, http.StatusCreated, createResp.StatusCode)

	var created struct {
		ParcelID string `json:"parcel_id"`
	}
	require.NoError(t, json.NewDecoder(createResp.Body).Decode(&created))
	require.NotEmpty(t, created.ParcelID)

	getResp := doJSON(t, http.MethodGet, server.URL+"/v1/parcels/"+created.ParcelID, "session-b", nil)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var detail struct {
		DeliveryPriceRUB any `json:"delivery_price_rub"`
	}
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&detail))
	assert.Equal(t, "Не рассчитано", detail.DeliveryPriceRUB)
}

func TestRegistrationFlow_BindCompanyRejectsUnknownParcel(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()
	server := setupServer(t, testDB)

	ctx := context.Background()
	var companyID int
	require.NoError(t, testDB.Pool.QueryRow(ctx, `INSERT INTO companies (name) VALUES ($1) RETURNING id`, "e2e logistics").Scan(&companyID))

	resp := doJSON(t, http.MethodPost, server.URL+"/v1/parcels/does-not-exist/bind-company", "session-c", map[string]any{
		"company_id": companyID,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegistrationFlow_ListParcelTypes(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()
	server := setupServer(t, testDB)

	resp := doJSON(t, http.MethodGet, server.URL+"/v1/parcels/parcels-types/", "session-d", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var types []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&types))
	assert.Len(t, types, 3)
}
