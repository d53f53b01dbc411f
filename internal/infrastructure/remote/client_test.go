package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/equiptrack/station/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient(&config.RemoteConfig{
		BaseURL:    srv.URL,
		ServiceKey: "test-key",
		Timeout:    2 * time.Second,
	})
	return c, srv
}

func TestClient_ListItems(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("status")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]itemRow{
			{ID: 2, SerialNumber: "SN-2", Status: "on_stock"},
			{ID: 1, SerialNumber: "SN-1", Status: "on_stock"},
		})
	}))
	defer srv.Close()

	onStock := equipment.StatusOnStock
	items, err := c.ListItems(context.Background(), equipment.CategoryTerminal, &onStock)
	require.NoError(t, err)

	assert.Equal(t, "/tsd", gotPath)
	assert.Equal(t, "eq.on_stock", gotQuery)
	assert.Equal(t, "Bearer test-key", gotAuth)
	require.Len(t, items, 2)
	assert.Equal(t, equipment.CategoryTerminal, items[0].Category)
	assert.Equal(t, int64(2), items[0].ID)
}

func TestClient_InsertItems(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		var rows []itemRow
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rows))
		require.Len(t, rows, 1)
		assert.Zero(t, rows[0].ID, "placeholder ids must not reach the service")

		rows[0].ID = 901
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	inserted, err := c.InsertItems(context.Background(), equipment.CategoryTablet, []equipment.Item{
		{ID: -1700000000001, SerialNumber: "SN-9", Status: equipment.StatusOnStock},
	})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, int64(901), inserted[0].ID)
	assert.Equal(t, equipment.CategoryTablet, inserted[0].Category)
}

func TestClient_DeleteItems(t *testing.T) {
	var gotFilter string
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		gotFilter = r.URL.Query().Get("id")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := c.DeleteItems(context.Background(), equipment.CategoryFingerScanner, []int64{4, 7})
	require.NoError(t, err)
	assert.Equal(t, "in.(4,7)", gotFilter)
}

func TestClient_IssueLoan(t *testing.T) {
	var gotBody map[string]any
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rpc/loan_issue_v1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := c.IssueLoan(context.Background(), "12345", equipment.CategoryTerminal, 8, "")
	require.NoError(t, err)
	assert.Equal(t, "12345", gotBody["p_operator_id"])
	assert.Equal(t, "terminal", gotBody["p_category"])
	assert.NotContains(t, gotBody, "p_note")
}

func TestClient_ServiceError(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "P0001",
			"message": "operator already holds an item of this category",
		})
	}))
	defer srv.Close()

	err := c.IssueLoan(context.Background(), "12345", equipment.CategoryTerminal, 8, "")
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.StatusCode)
	assert.Contains(t, se.Message, "already holds")
	assert.NotErrorIs(t, err, equipment.ErrOffline, "an HTTP error means the service is reachable")
}

func TestClient_TransportErrorIsOffline(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing is listening anymore

	_, err := c.ListItems(context.Background(), equipment.CategoryTerminal, nil)
	assert.ErrorIs(t, err, equipment.ErrOffline)

	assert.ErrorIs(t, c.Health(context.Background()), equipment.ErrOffline)
}

func TestClient_HealthAcceptsAnyHTTPResponse(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, c.Health(context.Background()))
}

func TestClient_ListShipmentsSkipsBadDates(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]shipmentRow{
			{ID: 2, Number: "SHP-2", Date: "2026-02-10"},
			{ID: 1, Number: "SHP-1", Date: "not-a-date"},
		})
	}))
	defer srv.Close()

	shipments, err := c.ListShipments(context.Background())
	require.NoError(t, err)
	require.Len(t, shipments, 1)
	assert.Equal(t, int64(2), shipments[0].ID)
	assert.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), shipments[0].Date)
}
