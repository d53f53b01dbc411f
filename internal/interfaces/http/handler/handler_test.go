package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	loanapp "github.com/equiptrack/station/internal/application/loan"
	"github.com/equiptrack/station/internal/application/scan"
	"github.com/equiptrack/station/internal/application/sync"
	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/equiptrack/station/internal/domain/loan"
	"github.com/equiptrack/station/internal/infrastructure/config"
	"github.com/equiptrack/station/internal/infrastructure/persistence"
	"github.com/equiptrack/station/internal/interfaces/http/middleware"
	"github.com/equiptrack/station/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubRemote keeps every handler test offline; the cache and queue do all
// the work.
type stubRemote struct{}

func (stubRemote) ListItems(context.Context, equipment.Category, *equipment.Status) ([]equipment.Item, error) {
	return nil, equipment.ErrOffline
}
func (stubRemote) InsertItems(context.Context, equipment.Category, []equipment.Item) ([]equipment.Item, error) {
	return nil, equipment.ErrOffline
}
func (stubRemote) DeleteItems(context.Context, equipment.Category, []int64) error {
	return equipment.ErrOffline
}
func (stubRemote) UpdateStatus(context.Context, equipment.Category, []int64, equipment.Status) error {
	return equipment.ErrOffline
}
func (stubRemote) FindSerials(context.Context, equipment.Category, []string) ([]equipment.Item, error) {
	return nil, equipment.ErrOffline
}
func (stubRemote) ListShipments(context.Context) ([]equipment.Shipment, error) {
	return nil, equipment.ErrOffline
}
func (stubRemote) InsertShipment(context.Context, equipment.Shipment) (equipment.Shipment, error) {
	return equipment.Shipment{}, equipment.ErrOffline
}
func (stubRemote) InsertShipmentLinks(context.Context, []equipment.ShipmentLink) error {
	return equipment.ErrOffline
}
func (stubRemote) ShipmentLinks(context.Context, int64) ([]equipment.ShipmentLink, error) {
	return nil, equipment.ErrOffline
}
func (stubRemote) ActiveLoans(context.Context) ([]loan.ActiveLoan, error) {
	return nil, equipment.ErrOffline
}
func (stubRemote) IssueLoan(context.Context, string, equipment.Category, int64, string) error {
	return equipment.ErrOffline
}
func (stubRemote) ReturnLoan(context.Context, string, equipment.Category, int64) error {
	return equipment.ErrOffline
}

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := persistence.Open(&config.CacheConfig{
		Path:        filepath.Join(t.TempDir(), "cache.db"),
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	offline := func() bool { return false }
	items := persistence.NewItemRepository(db.DB)
	adapter := sync.NewAdapter(
		items,
		persistence.NewShipmentRepository(db.DB),
		persistence.NewQueueRepository(db.DB),
		stubRemote{},
		offline,
	)
	service := loanapp.NewService(stubRemote{}, items, offline)
	workflow := loanapp.NewWorkflow(service, &config.WorkflowConfig{
		AutoIssue:       true,
		IdleReset:       25 * time.Second,
		ScanCooldown:    time.Millisecond,
		RepeatWindow:    2 * time.Millisecond,
		DefaultCategory: "terminal",
	})
	decoder := scan.NewDecoder(&config.ScanConfig{
		InterKeyTimeout: 35 * time.Millisecond,
		MinLength:       4,
		SuffixKeys:      []string{"Enter", "Tab"},
	})

	logger := zap.NewNop()
	middleware.SetupValidator()
	engine := gin.New()
	router.NewRouter(engine).
		Register(NewSystemHandler("test")).
		Register(NewEquipmentHandler(adapter, logger)).
		Register(NewLoanHandler(service, workflow, logger)).
		Register(NewWorkflowHandler(decoder, workflow, logger)).
		Setup()
	return engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestEquipmentEndpoints(t *testing.T) {
	engine := newTestServer(t)

	w := doJSON(t, engine, http.MethodPost, "/api/v1/equipment/terminal", gin.H{
		"items": []gin.H{{"serial_number": "SN-001", "internal_id": "1", "model": "MC3300"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, engine, http.MethodGet, "/api/v1/equipment/terminal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool             `json:"success"`
		Data    []equipment.Item `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	assert.Negative(t, resp.Data[0].ID, "offline insert yields a placeholder id")

	w = doJSON(t, engine, http.MethodDelete, "/api/v1/equipment/terminal", gin.H{
		"ids": []int64{resp.Data[0].ID},
	})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, engine, http.MethodGet, "/api/v1/equipment/toasters", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEquipmentInsertValidation(t *testing.T) {
	engine := newTestServer(t)

	w := doJSON(t, engine, http.MethodPost, "/api/v1/equipment/terminal", gin.H{"items": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "empty batches are rejected by binding")

	w = doJSON(t, engine, http.MethodPost, "/api/v1/equipment/terminal", gin.H{
		"items": []gin.H{{"model": "MC3300"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "serial_number is mandatory")
}

func TestWorkflowKeysEndpoint(t *testing.T) {
	engine := newTestServer(t)

	at := time.Now().UnixMilli()
	for i, r := range "12345" {
		w := doJSON(t, engine, http.MethodPost, "/api/v1/workflow/keys", gin.H{
			"key":   string(r),
			"at_ms": at + int64(i*5),
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, engine, http.MethodPost, "/api/v1/workflow/keys", gin.H{
		"key":   "Enter",
		"at_ms": at + 30,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data KeyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "12345", resp.Data.Token)
	require.NotNil(t, resp.Data.Event)
	assert.Equal(t, loanapp.StateAwaitDevice, resp.Data.Event.State)

	w = doJSON(t, engine, http.MethodGet, "/api/v1/workflow/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "await_device")
}

func TestWorkflowKeysRejectedBurst(t *testing.T) {
	engine := newTestServer(t)

	// Too short to be a token, but a finished burst all the same. The UI
	// needs the rejection event to play the failure tone.
	at := time.Now().UnixMilli()
	for i, r := range "ab1" {
		w := doJSON(t, engine, http.MethodPost, "/api/v1/workflow/keys", gin.H{
			"key":   string(r),
			"at_ms": at + int64(i*5),
		})
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := doJSON(t, engine, http.MethodPost, "/api/v1/workflow/keys", gin.H{
		"key":   "Enter",
		"at_ms": at + 20,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data KeyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data.Token)
	require.NotNil(t, resp.Data.Event)
	assert.Equal(t, loanapp.EventRejected, resp.Data.Event.Type)

	// A lone Enter with nothing buffered stays silent.
	w = doJSON(t, engine, http.MethodPost, "/api/v1/workflow/keys", gin.H{
		"key":   "Enter",
		"at_ms": at + 100,
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp.Data = KeyResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Data.Event)
}

func TestWorkflowModeAndReset(t *testing.T) {
	engine := newTestServer(t)

	w := doJSON(t, engine, http.MethodPost, "/api/v1/workflow/mode", gin.H{"mode": "return"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "return_await_device")

	w = doJSON(t, engine, http.MethodPost, "/api/v1/workflow/mode", gin.H{"mode": "borrow"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, engine, http.MethodPost, "/api/v1/workflow/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestToneEndpoint(t *testing.T) {
	engine := newTestServer(t)

	for _, name := range []string{"success", "failure"} {
		w := doJSON(t, engine, http.MethodGet, fmt.Sprintf("/api/v1/workflow/tones/%s", name), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
		assert.Equal(t, "RIFF", w.Body.String()[:4])
	}

	w := doJSON(t, engine, http.MethodGet, "/api/v1/workflow/tones/klaxon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	engine := newTestServer(t)
	w := doJSON(t, engine, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
