// Package ipfs is a content store backed by an IPFS node's HTTP API.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"dtl-ledger-indexer/internal/storage"
)

// DefaultAPIURL is the local IPFS node API.
const DefaultAPIURL = "http://127.0.0.1:5001"

// Client talks to the IPFS HTTP API (/api/v0).
type Client struct {
	http   *resty.Client
	pin    bool
	logger *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// WithRetries sets how many times a failed request is retried.
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		c.http.SetRetryCount(n)
	}
}

// WithPin pins every added document.
func WithPin(pin bool) ClientOption {
	return func(c *Client) {
		c.pin = pin
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates an IPFS client for the node API at apiURL.
func NewClient(apiURL string, opts ...ClientOption) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	c := &Client{
		http: resty.New().
			SetHostURL(apiURL).
			SetTimeout(10 * time.Second).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second),
		pin:    true,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ storage.ContentStore = (*Client)(nil)

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

type versionResponse struct {
	Version string `json:"Version"`
	Commit  string `json:"Commit"`
}

// Put adds data to IPFS and returns its CID.
func (c *Client) Put(ctx context.Context, data []byte) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("pin", fmt.Sprintf("%t", c.pin)).
		SetFileReader("file", "document.json", bytes.NewReader(data)).
		Post("/api/v0/add")
	if err := check("add", resp, err); err != nil {
		return "", err
	}

	var out addResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("ipfs add: decode response: %w", storage.ErrUnavailable)
	}
	if out.Hash == "" {
		return "", fmt.Errorf("ipfs add: empty hash: %w", storage.ErrUnavailable)
	}
	return out.Hash, nil
}

// Get returns the document stored under cid.
func (c *Client) Get(ctx context.Context, cid string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("arg", cid).
		Post("/api/v0/cat")
	if err := check("cat", resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// Pin pins cid on the node.
func (c *Client) Pin(ctx context.Context, cid string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("arg", cid).
		Post("/api/v0/pin/add")
	return check("pin", resp, err)
}

// Version returns the node version. Used as a health probe.
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Post("/api/v0/version")
	if err := check("version", resp, err); err != nil {
		return "", err
	}
	var out versionResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("ipfs version: decode response: %w", storage.ErrUnavailable)
	}
	return out.Version, nil
}

// check maps transport and HTTP failures to storage.ErrUnavailable.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("ipfs %s: %v: %w", op, err, storage.ErrUnavailable)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("ipfs %s: status %d: %s: %w", op, resp.StatusCode(),
			bytes.TrimSpace(resp.Body()), storage.ErrUnavailable)
	}
	return nil
}
