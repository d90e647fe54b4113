// Package snapshot consumes configuration snapshots: it talks to the
// external snapshot store and caches the parsed routing tables of recent
// snapshots so that churn during a rollover does not force a refetch and
// reparse on every request.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Store is the external snapshot store. Reference counting of snapshots
// is the store's responsibility: Current takes a reference on the
// returned snapshot id, Release gives it back. The core calls them
// symmetrically, once per request.
type Store interface {
	// Current returns the id of the current snapshot and takes a
	// reference on it.
	Current(ctx context.Context) (string, error)

	// Fetch returns the optimized catalog data of the snapshot, a JSON
	// array of catalog entries.
	Fetch(ctx context.Context, id string) ([]byte, error)

	// Release gives back one reference on the snapshot.
	Release(id string)
}

const DefaultRequestTimeout = 5 * time.Second

// ClientOptions configure the HTTP snapshot store client.
type ClientOptions struct {
	// BaseURL of the snapshot store.
	BaseURL string

	// Timeout for a single store request, DefaultRequestTimeout when
	// zero.
	Timeout time.Duration

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Client implements Store over the snapshot store's HTTP interface.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewClient creates a snapshot store client.
func NewClient(o ClientOptions) *Client {
	c := &Client{
		baseURL: o.BaseURL,
		client:  o.Client,
		timeout: o.Timeout,
	}

	if c.timeout <= 0 {
		c.timeout = DefaultRequestTimeout
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: c.timeout}
	}

	return c
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	rsp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if rsp.StatusCode != http.StatusOK {
		rsp.Body.Close()
		return nil, fmt.Errorf("unexpected status from snapshot store: %s", rsp.Status)
	}

	return rsp, nil
}

// Current fetches the current snapshot id, taking a reference on it.
func (c *Client) Current(ctx context.Context) (string, error) {
	rsp, err := c.get(ctx, c.baseURL+"/snapshots/current")
	if err != nil {
		return "", err
	}
	defer rsp.Body.Close()

	var doc struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(rsp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode current snapshot: %w", err)
	}
	if doc.ID == "" {
		return "", fmt.Errorf("snapshot store returned no snapshot id")
	}

	return doc.ID, nil
}

// Fetch downloads the optimized catalog data of a snapshot.
func (c *Client) Fetch(ctx context.Context, id string) ([]byte, error) {
	rsp, err := c.get(ctx, c.baseURL+"/snapshots/"+id+"/optimized")
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()

	return io.ReadAll(rsp.Body)
}

// Release gives back the reference taken by Current. It runs after the
// response for the request was sent, so it uses its own deadline instead
// of the request context. Failures are logged only, a lost release is the
// store's lesser problem compared to a crashed request.
func (c *Client) Release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/snapshots/"+id+"/release", nil)
	if err != nil {
		log.Errorf("Failed to create snapshot release request for %s: %v", id, err)
		return
	}

	rsp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("Failed to release snapshot %s: %v", id, err)
		return
	}
	rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK && rsp.StatusCode != http.StatusNoContent {
		log.Errorf("Failed to release snapshot %s: %s", id, rsp.Status)
	}
}
