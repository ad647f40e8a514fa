package tireapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/quinta-fleet/tirewatch/internal/fleetlog"
)

const requestTimeout = 20 * time.Second

// Client is a narrow client over the vendor's tire-telemetry API. Only
// the single operation the core depends on, TiresInfoByVehicle, is
// exposed — the vendor API is much larger (vehicle/tire/sensor/tbox
// CRUD) but nothing else in this service calls it (spec.md §4.2 Non-
// goals).
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	signKey      string

	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
}

func New(baseURL, clientID, clientSecret, signKey string) *Client {
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		signKey:      signKey,
		httpClient:   &http.Client{Timeout: requestTimeout},
	}
}

// VehicleTireSummary is the enrichment metadata the vendor's
// vehicle/tyre/data endpoint returns for a vehicle: not per-tire
// readings (those arrive independently over Kafka/the bridge) but
// fleet-management metadata merged into every message for that
// vehicle. Field names mirror the vendor's payload.
type VehicleTireSummary struct {
	LatestDataTime interface{} `json:"latestDataTime"`
	LoadData       interface{} `json:"loadData"`
	OrgID          interface{} `json:"orgId"`
	TotalMileage   interface{} `json:"totalMileage"`
	TractorName    string      `json:"tractorName"`
}

// TiresInfoByVehicle fetches the vehicle's enrichment summary. Returns
// nil, nil if the vendor returned no data or vehicleID is empty,
// mirroring get_tires_info_by_vehicle's `if not vehicle_id: return
// None` and the `isinstance(tires_info, dict)` guard in
// get_vehicle_data (a non-dict response, e.g. a vendor error payload,
// is treated the same as no data).
func (c *Client) TiresInfoByVehicle(ctx context.Context, vehicleID string) (*VehicleTireSummary, error) {
	if vehicleID == "" {
		return nil, nil
	}

	body, err := json.Marshal(map[string]string{"vehicleId": vehicleID})
	if err != nil {
		return nil, fmt.Errorf("tireapi: encode request: %w", err)
	}

	data, err := c.post(ctx, "/smartyre/openapi/vehicle/tyre/data", string(body), true, true)
	if err != nil {
		return nil, err
	}
	if data == nil || string(data) == "null" {
		return nil, nil
	}

	var summary VehicleTireSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		// Not an object shaped like VehicleTireSummary (e.g. the vendor
		// returned a list or scalar) — treated as "no data" rather than
		// a hard error, mirroring the original's isinstance check.
		return nil, nil
	}
	return &summary, nil
}

// getAccessToken returns a cached token, lazily fetching one on first
// use. The vendor API does not document a TTL, so a token is only
// refetched when a call fails with an auth error (handled by the
// caller clearing it via invalidateAccessToken).
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" {
		tok := c.accessToken
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	body, err := json.Marshal(map[string]string{
		"clientId":     c.clientID,
		"clientSecret": c.clientSecret,
		"grantType":    "client_credentials",
	})
	if err != nil {
		return "", fmt.Errorf("tireapi: encode auth request: %w", err)
	}

	data, err := c.post(ctx, "/smartyre/openapi/auth/oauth20/authorize", string(body), false, true)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", fmt.Errorf("tireapi: authorize: empty response")
	}

	var payload struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("tireapi: decode auth response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("tireapi: authorize: no accessToken in response")
	}

	c.mu.Lock()
	c.accessToken = payload.AccessToken
	c.mu.Unlock()

	return payload.AccessToken, nil
}

func (c *Client) invalidateAccessToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

func (c *Client) newHeaders(ctx context.Context, needAccessToken bool) (map[string]string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("tireapi: generate nonce: %w", err)
	}

	headers := map[string]string{
		"clientId":  c.clientID,
		"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
		"nonce":     hex.EncodeToString(nonce),
	}

	if needAccessToken {
		tok, err := c.getAccessToken(ctx)
		if err != nil {
			return nil, err
		}
		headers["accessToken"] = tok
	}

	return headers, nil
}

// post issues a signed POST and returns the "data" field of the
// envelope response, or nil if the vendor returned a non-200.
func (c *Client) post(ctx context.Context, endpoint, body string, needAccessToken, retryOnAuthFailure bool) (json.RawMessage, error) {
	headers, err := c.newHeaders(ctx, needAccessToken)
	if err != nil {
		return nil, err
	}
	headers["sign"] = Sign(headers, body, nil, nil, c.signKey)
	headers["Content-Type"] = "application/json"
	headers["Accept"] = "application/json"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("tireapi: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tireapi: post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && needAccessToken && retryOnAuthFailure {
		c.invalidateAccessToken()
		return c.post(ctx, endpoint, body, needAccessToken, false)
	}

	if resp.StatusCode != http.StatusOK {
		fleetlog.Warnf("tireapi: %s returned status %d", endpoint, resp.StatusCode)
		return nil, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tireapi: read response: %w", err)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("tireapi: decode envelope: %w", err)
	}

	return envelope.Data, nil
}
