// Package issuer is a thin client for the upstream license issuer
// referenced by spec §6: an opaque REST service reachable at a
// configured base URL, authenticated with an X-API-Key header, taking
// a device/license identification payload and returning a JSON
// license record.
package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"licensed/pkg/contracts/domain"
)

// StatusError reports the issuer's HTTP status verbatim, so callers
// (the activation handler) can pass it through to their own caller
// instead of collapsing every issuer failure to 500.
type StatusError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("issuer: %s returned status %d", e.Path, e.StatusCode)
}

// Client calls the upstream issuer. The contract is deliberately
// opaque per spec §6 — no certificate pinning or request signing is
// specified, so a plain http.Client is sufficient.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a Client. baseURL is the issuer's REST root; apiKey is
// sent as X-API-Key on every request.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ActivateRequest is the payload sent to the issuer's activation
// endpoint.
type ActivateRequest struct {
	LicenseKey  string `json:"license_key"`
	DeviceInfo  string `json:"device_info"`
	Timestamp   int64  `json:"timestamp"`
}

// Activate provisions a master license for the given key and device
// fingerprint, returning the issuer's license record on success.
func (c *Client) Activate(ctx context.Context, licenseKey, deviceInfo string) (domain.Record, error) {
	return c.post(ctx, "/activate", ActivateRequest{
		LicenseKey: licenseKey,
		DeviceInfo: deviceInfo,
		Timestamp:  time.Now().Unix(),
	})
}

// Resync re-fetches the current license record from the issuer,
// implementing the middleware's Resync collaborator contract.
func (c *Client) Resync(ctx context.Context, licenseKey, deviceInfo string) (domain.Record, error) {
	return c.post(ctx, "/resync", ActivateRequest{
		LicenseKey: licenseKey,
		DeviceInfo: deviceInfo,
		Timestamp:  time.Now().Unix(),
	})
}

// TamperReport is the payload sent to the issuer when clock skew is
// detected, implementing the middleware's ReportTampering collaborator
// contract.
type TamperReport struct {
	LicenseKey    string `json:"license_key"`
	DeviceInfo    string `json:"device_info"`
	ObservedSkew  int64  `json:"observed_skew_seconds"`
	ReportedAt    int64  `json:"reported_at"`
}

// ReportTampering notifies the issuer of suspected clock tampering.
// The call is fire-and-forget from the middleware's perspective; a
// non-nil error here is logged, never surfaced to the request.
func (c *Client) ReportTampering(ctx context.Context, licenseKey, deviceInfo string, skewSeconds int64) error {
	body, err := json.Marshal(TamperReport{
		LicenseKey:   licenseKey,
		DeviceInfo:   deviceInfo,
		ObservedSkew: skewSeconds,
		ReportedAt:   time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("issuer: marshal tamper report: %w", err)
	}

	req, err := c.newRequest(ctx, "/report-tampering", body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("issuer: report tampering: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("issuer: report tampering: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (domain.Record, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Record{}, fmt.Errorf("issuer: marshal request: %w", err)
	}

	req, err := c.newRequest(ctx, path, body)
	if err != nil {
		return domain.Record{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Record{}, fmt.Errorf("issuer: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Record{}, &StatusError{StatusCode: resp.StatusCode, Path: path, Body: string(body)}
	}

	var record domain.Record
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return domain.Record{}, fmt.Errorf("issuer: decode response: %w", err)
	}
	return record, nil
}

func (c *Client) newRequest(ctx context.Context, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("issuer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	return req, nil
}
