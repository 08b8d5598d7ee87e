// Package supabase is a minimal client for the Supabase Storage HTTP API.
// Only what the relay needs is implemented: listing a bucket and building
// public download links.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Object is one entry of a bucket listing. Folder placeholders come back
// with a zero CreatedAt.
type Object struct {
	Name      string    `json:"name"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client calls the Storage API of one project, scoped to one bucket.
type Client struct {
	baseURL    string
	key        string
	bucket     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a storage client. baseURL is the project URL without a
// trailing slash. Pass a nil httpClient to use a 30 second timeout default.
func NewClient(baseURL, key, bucket string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		key:        key,
		bucket:     bucket,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Bucket returns the bucket this client is scoped to.
func (c *Client) Bucket() string {
	return c.bucket
}

type listRequest struct {
	Prefix string     `json:"prefix"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	SortBy listSortBy `json:"sortBy"`
}

type listSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

// List returns up to limit objects from the bucket, newest first by
// creation time.
func (c *Client) List(ctx context.Context, prefix string, limit int) ([]Object, error) {
	body, err := json.Marshal(listRequest{
		Prefix: prefix,
		Limit:  limit,
		SortBy: listSortBy{Column: "created_at", Order: "desc"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal list request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/list/%s", c.baseURL, c.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create list request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list bucket %s: %w", c.bucket, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read list response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("bucket listing rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("body", excerpt(raw)))
		return nil, fmt.Errorf("list bucket %s: status %d", c.bucket, resp.StatusCode)
	}

	var objects []Object
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return objects, nil
}

// PublicURL returns the public download link for an object. The bucket must
// be marked public on the project for the link to resolve.
func (c *Client) PublicURL(name string) (string, error) {
	u, err := url.JoinPath(c.baseURL, "storage/v1/object/public", c.bucket, name)
	if err != nil {
		return "", fmt.Errorf("build public URL for %s: %w", name, err)
	}
	return u, nil
}

// excerpt bounds response bodies in log output.
func excerpt(raw []byte) string {
	const max = 200
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
