// Package sync provides the HTTP transport to the sync server.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/buildwise/fieldsync/internal/models"
)

// RemoteConfig holds sync server connection configuration.
type RemoteConfig struct {
	Endpoint string // base URL, e.g. https://sync.example.com
	APIKey   string
	DeviceID string
	Timeout  time.Duration
}

// HTTPRemote implements RemoteStore over the sync server's JSON API.
type HTTPRemote struct {
	config     *RemoteConfig
	httpClient *http.Client
}

// NewHTTPRemote creates a new HTTPRemote.
func NewHTTPRemote(config *RemoteConfig) *HTTPRemote {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPRemote{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: false,
			},
		},
	}
}

// Push applies one mutation on the server.
func (c *HTTPRemote) Push(ctx context.Context, pushReq *PushRequest) (*RemoteRecord, error) {
	body, err := json.Marshal(pushReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/records/push", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	// 409 carries the server's current record and the common ancestor.
	if resp.StatusCode == http.StatusConflict {
		var mismatch struct {
			Server *RemoteRecord   `json:"server"`
			Base   models.Snapshot `json:"base"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&mismatch); err != nil {
			return nil, fmt.Errorf("failed to decode conflict response: %w", err)
		}
		return nil, &BaseMismatchError{Server: mismatch.Server, Base: mismatch.Base}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("push failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var record RemoteRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode push response: %w", err)
	}

	return &record, nil
}

// Fetch returns the server's current record by ID.
func (c *HTTPRemote) Fetch(ctx context.Context, id models.UUID) (*RemoteRecord, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/records/"+url.PathEscape(string(id)), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("record not found: %s", id)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var record RemoteRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode fetch response: %w", err)
	}

	return &record, nil
}

// List returns records changed on the server since the given timestamp.
func (c *HTTPRemote) List(ctx context.Context, since int64) ([]*RemoteRecord, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/records?since="+strconv.FormatInt(since, 10), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var records []*RemoteRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode list response: %w", err)
	}

	return records, nil
}

// UploadPhoto uploads photo bytes keyed by content hash.
func (c *HTTPRemote) UploadPhoto(ctx context.Context, photoID models.UUID, contentHash string, data []byte) error {
	path := "/api/v1/photos/" + url.PathEscape(string(photoID)) + "?hash=" + url.QueryEscape(contentHash)
	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(data))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("photo upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("photo upload failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// newRequest creates an authenticated request against the sync server.
func (c *HTTPRemote) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.Endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if c.config.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.config.DeviceID)
	}

	return req, nil
}
