// Package notion reads records and datasets from the Notion REST API.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Defaults for the public Notion API.
const (
	DefaultBaseURL    = "https://api.notion.com/v1"
	DefaultAPIVersion = "2022-06-28"
	DefaultPageSize   = 100
)

// Parent identifies the container of a record.
type Parent struct {
	Type       string `json:"type"`
	DatabaseID string `json:"database_id,omitempty"`
	PageID     string `json:"page_id,omitempty"`
}

// FileObject is a Notion file reference, either hosted by Notion or external.
type FileObject struct {
	Type     string    `json:"type"`
	External *FileLink `json:"external,omitempty"`
	File     *FileLink `json:"file,omitempty"`
}

// FileLink holds the URL of a FileObject.
type FileLink struct {
	URL string `json:"url"`
}

// URL returns the external link for "external" files and the hosted link otherwise.
func (f *FileObject) URL() string {
	if f == nil {
		return ""
	}
	if f.Type == "external" {
		if f.External != nil {
			return f.External.URL
		}
		return ""
	}
	if f.File != nil {
		return f.File.URL
	}
	return ""
}

// Page is a Notion record.
type Page struct {
	ID         string              `json:"id"`
	Parent     *Parent             `json:"parent,omitempty"`
	Properties map[string]Property `json:"properties"`
	Cover      *FileObject         `json:"cover,omitempty"`
}

// Database is a Notion dataset.
type Database struct {
	ID    string     `json:"id"`
	Title []RichText `json:"title"`
}

type queryResponse struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// Client is a minimal Notion API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	apiVersion string
	pageSize   int
	http       *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithAPIVersion overrides the Notion-Version header.
func WithAPIVersion(v string) ClientOption {
	return func(c *Client) { c.apiVersion = v }
}

// WithPageSize sets the page size sent with dataset queries.
func WithPageSize(n int) ClientOption {
	return func(c *Client) { c.pageSize = n }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client authenticating with the given integration token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		apiVersion: DefaultAPIVersion,
		pageSize:   DefaultPageSize,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPage fetches a record by id.
func (c *Client) GetPage(ctx context.Context, id string) (*Page, error) {
	var p Page
	if err := c.do(ctx, "get page", http.MethodGet, "/pages/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetDatabase fetches dataset metadata by id.
func (c *Client) GetDatabase(ctx context.Context, id string) (*Database, error) {
	var d Database
	if err := c.do(ctx, "get database", http.MethodGet, "/databases/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// QueryDataset returns the first page of records of a dataset. Records past
// the page size are not fetched.
func (c *Client) QueryDataset(ctx context.Context, datasetID string) ([]Page, error) {
	body := map[string]int{"page_size": c.pageSize}
	var resp queryResponse
	if err := c.do(ctx, "query database", http.MethodPost, "/databases/"+url.PathEscape(datasetID)+"/query", body, &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		return []Page{}, nil
	}
	return resp.Results, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("notion: %s: encode body: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("notion: %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notion: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("notion: %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Op: op, Status: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("notion: %s: decode: %w", op, err)
	}
	return nil
}
