package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/equiptrack/station/internal/domain/loan"
	"github.com/equiptrack/station/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Client talks to the remote data service. The wire dialect is the
// PostgREST one: tables as paths, filters as query params
// (id=in.(1,2), status=eq.on_stock), stored procedures under /rpc,
// and "Prefer: return=representation" to get inserted rows back.
//
// The client is stateless; reachability tracking lives in the
// connectivity monitor, which uses Health.
type Client struct {
	baseURL    string
	serviceKey string
	http       *http.Client
	logger     *zap.Logger
}

// ClientOption is a functional option for configuring the client
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger for the client
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a data service client from configuration.
func NewClient(cfg *config.RemoteConfig, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		serviceKey: cfg.ServiceKey,
		http:       &http.Client{Timeout: timeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// itemRow is the remote representation of an item. Remote tables are
// per-category, so the row carries no category column; ids are only
// unique within one table.
type itemRow struct {
	ID           int64  `json:"id,omitempty"`
	InternalID   string `json:"internal_id,omitempty"`
	Model        string `json:"model,omitempty"`
	SerialNumber string `json:"serial_number"`
	Status       string `json:"status"`
}

func toRow(item equipment.Item) itemRow {
	row := itemRow{
		InternalID:   item.InternalID,
		Model:        item.Model,
		SerialNumber: item.SerialNumber,
		Status:       string(item.Status),
	}
	// Placeholder ids never leave the station; the service assigns the
	// real id on insert.
	if item.ID > 0 {
		row.ID = item.ID
	}
	return row
}

func fromRow(row itemRow, cat equipment.Category) equipment.Item {
	return equipment.Item{
		ID:           row.ID,
		Category:     cat,
		InternalID:   row.InternalID,
		Model:        row.Model,
		SerialNumber: row.SerialNumber,
		Status:       equipment.Status(row.Status),
	}
}

// Health probes the service root. Any HTTP response means the service is
// reachable; only transport failures count as offline.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return equipment.ErrOffline
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ListItems fetches every row of a category table, newest first. A non-nil
// status narrows the result to one lifecycle state.
func (c *Client) ListItems(ctx context.Context, cat equipment.Category, status *equipment.Status) ([]equipment.Item, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "id.desc")
	if status != nil {
		q.Set("status", "eq."+string(*status))
	}
	var rows []itemRow
	if err := c.do(ctx, http.MethodGet, "/"+cat.TableName(), q, nil, nil, &rows); err != nil {
		return nil, err
	}
	items := make([]equipment.Item, len(rows))
	for i, row := range rows {
		items[i] = fromRow(row, cat)
	}
	return items, nil
}

// InsertItems inserts items into a category table and returns the rows as
// the service stored them, server-assigned ids included, in input order.
func (c *Client) InsertItems(ctx context.Context, cat equipment.Category, items []equipment.Item) ([]equipment.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	rows := make([]itemRow, len(items))
	for i, item := range items {
		rows[i] = toRow(item)
	}
	var out []itemRow
	headers := map[string]string{"Prefer": "return=representation"}
	if err := c.do(ctx, http.MethodPost, "/"+cat.TableName(), nil, headers, rows, &out); err != nil {
		return nil, err
	}
	inserted := make([]equipment.Item, len(out))
	for i, row := range out {
		inserted[i] = fromRow(row, cat)
	}
	return inserted, nil
}

// DeleteItems removes rows by id from a category table.
func (c *Client) DeleteItems(ctx context.Context, cat equipment.Category, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	q := url.Values{}
	q.Set("id", inFilter(ids))
	return c.do(ctx, http.MethodDelete, "/"+cat.TableName(), q, nil, nil, nil)
}

// UpdateStatus flips the status of the given rows in a category table.
func (c *Client) UpdateStatus(ctx context.Context, cat equipment.Category, ids []int64, status equipment.Status) error {
	if len(ids) == 0 {
		return nil
	}
	q := url.Values{}
	q.Set("id", inFilter(ids))
	body := map[string]string{"status": string(status)}
	return c.do(ctx, http.MethodPatch, "/"+cat.TableName(), q, nil, body, nil)
}

// FindSerials returns the rows of a category table whose serial numbers
// appear in the given set.
func (c *Client) FindSerials(ctx context.Context, cat equipment.Category, serials []string) ([]equipment.Item, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(serials))
	for i, s := range serials {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	q := url.Values{}
	q.Set("select", "id,serial_number")
	q.Set("serial_number", "in.("+strings.Join(quoted, ",")+")")
	var rows []itemRow
	if err := c.do(ctx, http.MethodGet, "/"+cat.TableName(), q, nil, nil, &rows); err != nil {
		return nil, err
	}
	items := make([]equipment.Item, len(rows))
	for i, row := range rows {
		items[i] = fromRow(row, cat)
	}
	return items, nil
}

// shipmentRow mirrors the remote shipments table.
type shipmentRow struct {
	ID     int64  `json:"id,omitempty"`
	Number string `json:"shipment_number"`
	Date   string `json:"shipment_date"`
}

const shipmentDateLayout = "2006-01-02"

// ListShipments fetches all shipments, newest first.
func (c *Client) ListShipments(ctx context.Context) ([]equipment.Shipment, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "id.desc")
	var rows []shipmentRow
	if err := c.do(ctx, http.MethodGet, "/shipments", q, nil, nil, &rows); err != nil {
		return nil, err
	}
	shipments := make([]equipment.Shipment, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse(shipmentDateLayout, row.Date)
		if err != nil {
			c.logger.Warn("Skipping shipment with unparseable date",
				zap.Int64("id", row.ID),
				zap.String("date", row.Date))
			continue
		}
		shipments = append(shipments, equipment.Shipment{ID: row.ID, Number: row.Number, Date: date})
	}
	return shipments, nil
}

// InsertShipment creates a shipment and returns it with the server id.
func (c *Client) InsertShipment(ctx context.Context, s equipment.Shipment) (equipment.Shipment, error) {
	body := []shipmentRow{{Number: s.Number, Date: s.Date.Format(shipmentDateLayout)}}
	var out []shipmentRow
	headers := map[string]string{"Prefer": "return=representation"}
	if err := c.do(ctx, http.MethodPost, "/shipments", nil, headers, body, &out); err != nil {
		return equipment.Shipment{}, err
	}
	if len(out) != 1 {
		return equipment.Shipment{}, fmt.Errorf("shipment insert returned %d rows", len(out))
	}
	date, err := time.Parse(shipmentDateLayout, out[0].Date)
	if err != nil {
		date = s.Date
	}
	return equipment.Shipment{ID: out[0].ID, Number: out[0].Number, Date: date}, nil
}

// shipmentLinkRow mirrors the remote shipment_links table.
type shipmentLinkRow struct {
	ShipmentID int64  `json:"shipment_id"`
	ItemID     int64  `json:"item_id"`
	Category   string `json:"category"`
}

// InsertShipmentLinks attaches items to a shipment.
func (c *Client) InsertShipmentLinks(ctx context.Context, links []equipment.ShipmentLink) error {
	if len(links) == 0 {
		return nil
	}
	rows := make([]shipmentLinkRow, len(links))
	for i, l := range links {
		rows[i] = shipmentLinkRow{ShipmentID: l.ShipmentID, ItemID: l.ItemID, Category: string(l.Category)}
	}
	return c.do(ctx, http.MethodPost, "/shipment_links", nil, nil, rows, nil)
}

// ShipmentLinks fetches the links of one shipment.
func (c *Client) ShipmentLinks(ctx context.Context, shipmentID int64) ([]equipment.ShipmentLink, error) {
	q := url.Values{}
	q.Set("shipment_id", "eq."+strconv.FormatInt(shipmentID, 10))
	var rows []shipmentLinkRow
	if err := c.do(ctx, http.MethodGet, "/shipment_links", q, nil, nil, &rows); err != nil {
		return nil, err
	}
	links := make([]equipment.ShipmentLink, len(rows))
	for i, row := range rows {
		links[i] = equipment.ShipmentLink{
			ShipmentID: row.ShipmentID,
			ItemID:     row.ItemID,
			Category:   equipment.Category(row.Category),
		}
	}
	return links, nil
}

// ActiveLoans fetches the remote-computed view of equipment currently out
// with operators.
func (c *Client) ActiveLoans(ctx context.Context) ([]loan.ActiveLoan, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "issued_at.desc")
	var loans []loan.ActiveLoan
	if err := c.do(ctx, http.MethodGet, "/v_active_loans", q, nil, nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

// IssueLoan hands an item to an operator via the loan_issue_v1 procedure.
// The procedure is the single writer of loan state; the station never
// mutates loan tables directly.
func (c *Client) IssueLoan(ctx context.Context, operatorID string, cat equipment.Category, itemID int64, note string) error {
	body := map[string]any{
		"p_operator_id": operatorID,
		"p_category":    string(cat),
		"p_item_id":     itemID,
	}
	if note != "" {
		body["p_note"] = note
	}
	return c.do(ctx, http.MethodPost, "/rpc/loan_issue_v1", nil, nil, body, nil)
}

// ReturnLoan takes one item back from an operator via loan_return_one_v1.
func (c *Client) ReturnLoan(ctx context.Context, operatorID string, cat equipment.Category, itemID int64) error {
	body := map[string]any{
		"p_operator_id": operatorID,
		"p_category":    string(cat),
		"p_item_id":     itemID,
	}
	return c.do(ctx, http.MethodPost, "/rpc/loan_return_one_v1", nil, nil, body, nil)
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
}

// do runs one request against the service. Transport-level failures come
// back as ErrOffline so callers can fall into the offline path; HTTP-level
// failures mean the service is reachable and the request itself is bad.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, headers map[string]string, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("Remote request failed at transport level",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		if isTransportError(err) {
			return equipment.ErrOffline
		}
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return equipment.ErrOffline
	}

	c.logger.Debug("Remote request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newServiceError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// ServiceError is a non-2xx answer from a reachable service.
type ServiceError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details"`
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote service error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote service error %d", e.StatusCode)
}

func newServiceError(status int, body []byte) *ServiceError {
	se := &ServiceError{StatusCode: status}
	if len(body) > 0 {
		_ = json.Unmarshal(body, se)
	}
	return se
}

func isTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func inFilter(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "in.(" + strings.Join(parts, ",") + ")"
}
