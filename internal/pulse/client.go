package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/terpasaurus/pulse-bridge/internal/httpkit"
)

// Sentinel errors for API responses the jobs branch on. Use errors.Is.
var (
	// ErrUnauthorized is returned for 401/403 responses (bad or
	// revoked API key).
	ErrUnauthorized = errors.New("pulse: unauthorized")

	// ErrNotFound is returned for 404 responses (hub or sensor removed
	// from the account since the last discovery cycle).
	ErrNotFound = errors.New("pulse: not found")
)

// StatusError is returned for unexpected non-2xx responses not covered
// by a sentinel error.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pulse: API error %d: %s", e.StatusCode, e.Body)
}

// Client issues authenticated requests to the Pulse cloud API.
// Authentication uses the x-api-key header on every request. The
// client is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Pulse API client. baseURL should not have a
// trailing slash. A zero timeout falls back to 20 seconds.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, 2*time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// get issues one GET request and decodes the JSON response into out.
// Response status is mapped to the package's typed errors.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", path, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// HubIDs lists the IDs of all hubs registered to the account.
func (c *Client) HubIDs(ctx context.Context) ([]int, error) {
	const path = "/hubs/ids"
	c.logger.Debug("fetching hub IDs", "path", path)

	var ids []int
	if err := c.get(ctx, path, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Hub fetches one hub's details, including its attached sensor devices.
func (c *Client) Hub(ctx context.Context, hubID int) (*Hub, error) {
	path := "/hubs/" + strconv.Itoa(hubID)
	c.logger.Debug("fetching hub details", "hub_id", hubID, "path", path)

	var hub Hub
	if err := c.get(ctx, path, &hub); err != nil {
		return nil, err
	}
	return &hub, nil
}

// SensorRecentData fetches the most recent reading for one sensor.
func (c *Client) SensorRecentData(ctx context.Context, sensorID int) (*LatestSensorData, error) {
	path := "/sensors/" + strconv.Itoa(sensorID) + "/recent-data"
	c.logger.Debug("fetching latest sensor data", "sensor_id", sensorID, "path", path)

	var data LatestSensorData
	if err := c.get(ctx, path, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
