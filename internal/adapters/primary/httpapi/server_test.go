package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"petshop-provenance-ledger/internal/adapters/secondary"
	appservice "petshop-provenance-ledger/internal/application/service"
	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/database"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	"petshop-provenance-ledger/internal/infrastructure/sealing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBasePath = "/api/petshop/blockchain"
	testSecret   = "test-secret"
)

type testAPI struct {
	handler http.Handler
	ledger  *appservice.LedgerService
	emitter *appservice.LocalEmitter
	hub     *Hub
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := &config.Config{
		App:  config.AppConfig{Instance: "api-test"},
		HTTP: config.HTTPConfig{BasePath: testBasePath, AllowedOrigins: []string{"*"}},
		Auth: config.AuthConfig{JWTSecret: testSecret},
		Ledger: config.LedgerConfig{
			Difficulty:      1,
			MaxDifficulty:   6,
			QueueSize:       4,
			AppendTimeout:   10 * time.Second,
			ConflictRetries: 3,
		},
		WebSocket: config.WebSocketConfig{
			PingInterval: time.Minute,
			ReadTimeout:  time.Minute,
			WriteTimeout: 5 * time.Second,
			BufferSize:   8,
			MaxClients:   4,
		},
		Monitoring: config.MonitoringConfig{MetricsInterval: time.Hour, HealthCheckInterval: time.Hour},
	}
	log := logger.NewNop()

	db, err := database.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	storage := secondary.NewLevelDBStorage(db)

	ledger := appservice.NewLedgerService(storage.Ledger, &sealing.Sealer{}, cfg, log)
	require.NoError(t, ledger.Start(context.Background()))
	t.Cleanup(func() { ledger.Stop(context.Background()) })

	hub := NewHub(cfg, log)
	ledger.SetBroadcaster(hub)
	t.Cleanup(hub.Close)

	// not started, so async events stay queued
	emitter := appservice.NewLocalEmitter(ledger.HandleEventMessage, ledger.RecordDroppedEvent, cfg, log)
	monitor := appservice.NewMonitorService(ledger, storage.Metrics, nil, cfg, log)

	dispatcher := appservice.NewEventDispatcher(nil, emitter, "http-api", log)

	server := NewServer(cfg, ledger, dispatcher, monitor, hub, log)
	return &testAPI{handler: server.Handler(), ledger: ledger, emitter: emitter, hub: hub}
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, testBasePath+path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)

	var env Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr, env
}

func (a *testAPI) postEvent(t *testing.T, eventType, petCode string) {
	t.Helper()
	body := `{"eventType":"` + eventType + `","eventData":{"petCode":"` + petCode + `"}}`
	rr, _ := a.do(t, http.MethodPost, "/event", body, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func dataAs(t *testing.T, env Envelope, target interface{}) {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, target))
}

func signToken(t *testing.T, secret string, method jwt.SigningMethod) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub":  "manager-1",
		"role": "petshop_manager",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestServer_PostEvent(t *testing.T) {
	api := newTestAPI(t)

	rr, env := api.do(t, http.MethodPost, "/event",
		`{"eventType":"pet_created","eventData":{"petCode":"PET-1","name":"Rex"},"documentHashes":["doc-1"]}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, rr.Header().Get(headerRequestID))

	var record entity.LedgerRecord
	dataAs(t, env, &record)
	assert.Equal(t, int64(0), record.Index)
	assert.Equal(t, "0", record.PreviousHash)
	assert.Equal(t, "PET-1", record.PetCode)
	assert.Equal(t, []string{"doc-1"}, record.DocumentHashes)
}

func TestServer_PostEventErrors(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"malformed json", `{"eventType":`, "Invalid JSON body"},
		{"missing event type", `{"eventData":{"petCode":"P"}}`, "eventType is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, env := api.do(t, http.MethodPost, "/event", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.False(t, env.Success)
			assert.Equal(t, tt.message, env.Message)
		})
	}
}

func TestServer_PostEventAsync(t *testing.T) {
	api := newTestAPI(t)

	rr, env := api.do(t, http.MethodPost, "/event",
		`{"eventType":"order_created","eventData":{"orderId":"o-1"}}`,
		map[string]string{"Prefer": "respond-async"})
	require.Equal(t, http.StatusAccepted, rr.Code)

	var accepted AcceptedEvent
	dataAs(t, env, &accepted)
	assert.NotEmpty(t, accepted.EventID)
	assert.Equal(t, 1, api.emitter.Pending())
}

func TestServer_PetHistoryAndRecords(t *testing.T) {
	api := newTestAPI(t)
	api.postEvent(t, "pet_created", "A")
	api.postEvent(t, "pet_created", "B")
	api.postEvent(t, "sold", "A")

	rr, env := api.do(t, http.MethodGet, "/pet/A", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var history entity.PetHistory
	dataAs(t, env, &history)
	assert.Equal(t, "A", history.PetCode)
	assert.Equal(t, 2, history.TotalEvents)

	rr, env = api.do(t, http.MethodGet, "/history/petCode/B", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var records []entity.LedgerRecord
	dataAs(t, env, &records)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].Index)

	rr, env = api.do(t, http.MethodGet, "/history/pet.code/B", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, env.Success)
}

func TestServer_Verify(t *testing.T) {
	api := newTestAPI(t)

	rr, env := api.do(t, http.MethodGet, "/verify", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var result entity.VerificationResult
	dataAs(t, env, &result)
	assert.True(t, result.IsValid)
	assert.Equal(t, "No blocks in chain", result.Message)

	api.postEvent(t, "pet_created", "A")
	api.postEvent(t, "pet_created", "B")

	rr, env = api.do(t, http.MethodGet, "/verify/petCode/B", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	dataAs(t, env, &result)
	assert.True(t, result.IsValid)
	assert.Equal(t, 1, result.TotalBlocks)
}

func TestServer_Certificate(t *testing.T) {
	api := newTestAPI(t)

	rr, env := api.do(t, http.MethodGet, "/certificate/PET-404", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.False(t, env.Success)
	assert.Equal(t, entity.ErrNoPetRecords, env.Message)

	api.postEvent(t, "pet_created", "PET-1")
	rr, env = api.do(t, http.MethodGet, "/certificate/PET-1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var cert entity.VerificationCertificate
	dataAs(t, env, &cert)
	require.NotNil(t, cert.Certificate)
	assert.Equal(t, entity.CertificateVerified, cert.Certificate.Status)
	assert.Equal(t, 1, cert.TotalEvents)
}

func TestServer_StatsRequiresBearer(t *testing.T) {
	api := newTestAPI(t)
	api.postEvent(t, "pet_created", "A")

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", jwt.SigningMethodHS256), http.StatusUnauthorized},
		{"wrong algorithm", "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS512), http.StatusUnauthorized},
		{"valid token", "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			rr, env := api.do(t, http.MethodGet, "/stats", "", headers)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.status == http.StatusOK, env.Success)
		})
	}

	rr, env := api.do(t, http.MethodGet, "/stats", "",
		map[string]string{"Authorization": "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256)})
	require.Equal(t, http.StatusOK, rr.Code)
	var stats entity.LedgerStats
	dataAs(t, env, &stats)
	assert.Equal(t, int64(1), stats.TotalBlocks)
	assert.Equal(t, "SHA-256", stats.Algorithm)
	assert.Equal(t, 1, stats.Difficulty)
}

func TestServer_HealthAndNotFound(t *testing.T) {
	api := newTestAPI(t)

	rr, env := api.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var health entity.SystemHealth
	dataAs(t, env, &health)
	assert.Equal(t, entity.HealthStatusHealthy, health.Status)

	rr, env = api.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.False(t, env.Success)
}

func TestServer_RequestIDIsEchoed(t *testing.T) {
	api := newTestAPI(t)

	rr, _ := api.do(t, http.MethodGet, "/verify", "", map[string]string{headerRequestID: "req-42"})
	assert.Equal(t, "req-42", rr.Header().Get(headerRequestID))
}

func TestServer_WebSocketFeed(t *testing.T) {
	api := newTestAPI(t)
	ts := httptest.NewServer(api.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + testBasePath + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return api.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	record, err := api.ledger.AddBlock(context.Background(), entity.EventSold, map[string]any{"petCode": "WS-1"}, nil)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg FeedMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeBlockAppended, msg.Type)
	require.NotNil(t, msg.Data)
	assert.Equal(t, record.Hash, msg.Data.Hash)

	api.hub.Close()
	assert.Equal(t, 0, api.hub.ClientCount())
}
