//go:build integration

package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/caremetrix/mcp-sql-gateway/pkg/allowlist"
	"github.com/caremetrix/mcp-sql-gateway/pkg/audit"
)

// --- Response types (mirrors unexported admin package types) ---

// AdminSystemInfo mirrors the admin systemInfoResponse.
type AdminSystemInfo struct {
	Name      string              `json:"name"`
	Version   string              `json:"version"`
	Commit    string              `json:"commit"`
	BuildDate string              `json:"build_date"`
	Engine    string              `json:"engine"`
	Transport string              `json:"transport"`
	State     string              `json:"state"`
	Features  AdminSystemFeatures `json:"features"`
}

// AdminSystemFeatures mirrors the admin systemFeatures.
type AdminSystemFeatures struct {
	Audit        bool `json:"audit"`
	AuditQueries bool `json:"audit_queries"`
	AuditMetrics bool `json:"audit_metrics"`
	Allowlist    bool `json:"allowlist"`
}

// AdminAllowlist mirrors the admin allowlistResponse.
type AdminAllowlist struct {
	Tables     []allowlist.Table `json:"tables"`
	KeyCount   int               `json:"key_count"`
	CapturedAt time.Time         `json:"captured_at"`
	Stale      bool              `json:"stale"`
	MaxTier    *int              `json:"max_tier,omitempty"`
}

// AdminAuditEventList mirrors the admin auditEventResponse.
type AdminAuditEventList struct {
	Data    []audit.Event `json:"data"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

// AdminAuditStats mirrors the admin auditStatsResponse.
type AdminAuditStats struct {
	Total     int            `json:"total"`
	Success   int            `json:"success"`
	Failures  int            `json:"failures"`
	Decisions map[string]int `json:"decisions"`
}

// AdminToolSchemas mirrors the admin toolSchemaResponse, with schemas
// reduced to the fields tests assert on.
type AdminToolSchemas struct {
	Schemas map[string]struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"schemas"`
}

// AdminStatus mirrors the admin statusResponse.
type AdminStatus struct {
	Status string `json:"status"`
}

// --- AdminClient ---

// AdminClient is an HTTP client for the admin API.
type AdminClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewAdminClient creates a new AdminClient.
func NewAdminClient(baseURL, apiKey string) *AdminClient {
	return &AdminClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// doRequest performs an HTTP request with auth header.
func (c *AdminClient) doRequest(method, path string, body io.Reader) (*http.Response, error) {
	url := c.BaseURL + path
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Client.Do(req)
}

func (c *AdminClient) get(path string) (*http.Response, error) {
	return c.doRequest(http.MethodGet, path, nil)
}

func (c *AdminClient) postJSON(path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling body: %w", err)
	}
	return c.doRequest(http.MethodPost, path, bytes.NewReader(data))
}

// getJSON decodes a GET response into out and returns the status code.
func (c *AdminClient) getJSON(path string, out any) (int, error) {
	resp, err := c.get(path)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

// --- System endpoints ---

// SystemInfo calls GET /api/v1/admin/system/info.
func (c *AdminClient) SystemInfo() (*AdminSystemInfo, int, error) {
	var result AdminSystemInfo
	status, err := c.getJSON("/api/v1/admin/system/info", &result)
	return &result, status, err
}

// ListToolSchemas calls GET /api/v1/admin/tools.
func (c *AdminClient) ListToolSchemas() (*AdminToolSchemas, int, error) {
	var result AdminToolSchemas
	status, err := c.getJSON("/api/v1/admin/tools", &result)
	return &result, status, err
}

// --- Allowlist endpoints ---

// GetAllowlist calls GET /api/v1/admin/allowlist with optional query params.
func (c *AdminClient) GetAllowlist(params string) (*AdminAllowlist, int, error) {
	path := "/api/v1/admin/allowlist"
	if params != "" {
		path += "?" + params
	}
	var result AdminAllowlist
	status, err := c.getJSON(path, &result)
	return &result, status, err
}

// InvalidateAllowlist calls POST /api/v1/admin/allowlist/invalidate.
func (c *AdminClient) InvalidateAllowlist() (*AdminStatus, int, error) {
	resp, err := c.postJSON("/api/v1/admin/allowlist/invalidate", nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, nil
	}
	var result AdminStatus
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// --- Audit endpoints ---

// ListAuditEvents calls GET /api/v1/admin/audit/events with query params.
func (c *AdminClient) ListAuditEvents(params string) (*AdminAuditEventList, int, error) {
	path := "/api/v1/admin/audit/events"
	if params != "" {
		path += "?" + params
	}
	var result AdminAuditEventList
	status, err := c.getJSON(path, &result)
	return &result, status, err
}

// GetAuditEvent calls GET /api/v1/admin/audit/events/{id}.
func (c *AdminClient) GetAuditEvent(id string) (int, error) {
	resp, err := c.get("/api/v1/admin/audit/events/" + id)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// GetAuditStats calls GET /api/v1/admin/audit/stats.
func (c *AdminClient) GetAuditStats() (*AdminAuditStats, int, error) {
	var result AdminAuditStats
	status, err := c.getJSON("/api/v1/admin/audit/stats", &result)
	return &result, status, err
}

// GetAuditOverview calls GET /api/v1/admin/audit/metrics/overview.
func (c *AdminClient) GetAuditOverview() (*audit.Overview, int, error) {
	var result audit.Overview
	status, err := c.getJSON("/api/v1/admin/audit/metrics/overview", &result)
	return &result, status, err
}

// GetAuditPerformance calls GET /api/v1/admin/audit/metrics/performance.
func (c *AdminClient) GetAuditPerformance() (*audit.PerformanceStats, int, error) {
	var result audit.PerformanceStats
	status, err := c.getJSON("/api/v1/admin/audit/metrics/performance", &result)
	return &result, status, err
}

// --- Raw helpers ---

// RawGet performs a raw GET and returns status code and response body bytes.
func (c *AdminClient) RawGet(path string) (int, []byte, error) {
	resp, err := c.get(path)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// RawPost performs a raw POST with JSON body and returns status code.
func (c *AdminClient) RawPost(path string, body any) (int, error) {
	resp, err := c.postJSON(path, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
