package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client wraps a shared *http.Client for JSON and byte-stream calls between
// V-Stack processes. Every component (probe, scheduler, ingest worker,
// coordinator) is handed one Client at startup by reference; per spec §9
// ("ownership of the shared transport"), no component constructs its own.
type Client struct {
	HTTP *http.Client
}

// NewClient builds a Client with the given request timeout. A timeout of
// zero disables the client-wide deadline; callers are still expected to
// pass a context with its own deadline on every call.
func NewClient(timeout time.Duration) *Client {
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

// PostJSON sends a JSON-encoded POST and decodes a JSON response into out
// (which may be nil to discard the body).
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON sends a GET and decodes a JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetBytes sends a GET and returns the raw response body, for chunk
// downloads where the payload is not JSON.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// PutBytes uploads raw chunk/fragment bytes with the size and checksum
// headers the storage-node surface expects (spec §6).
func (c *Client) PutBytes(ctx context.Context, url string, data []byte, checksum string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Chunk-Size", fmt.Sprintf("%d", len(data)))
	req.Header.Set("X-Checksum", checksum)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}

// Ping issues the liveness probe HEAD /ping against a node's base address.
func (c *Client) Ping(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL+"/ping", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &HTTPError{URL: baseURL + "/ping", StatusCode: resp.StatusCode}
	}
	return nil
}

// HeadChunk issues the existence probe HEAD /chunk/{id} used by ChunkPaxos'
// prepare and accept phases. It returns the response status, the ballot
// carried in X-Ballot-Number (0 if absent), and the ETag checksum.
func (c *Client) HeadChunk(ctx context.Context, nodeURL, chunkID string, ballot uint64) (status int, existingBallot uint64, etag string, err error) {
	url := fmt.Sprintf("%s/chunk/%s", nodeURL, chunkID)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return 0, 0, "", err
	}
	req.Header.Set("X-Ballot-Number", fmt.Sprintf("%d", ballot))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, 0, "", err
	}
	defer resp.Body.Close()

	var peerBallot uint64
	if h := resp.Header.Get("X-Ballot-Number"); h != "" {
		fmt.Sscanf(h, "%d", &peerBallot)
	}
	return resp.StatusCode, peerBallot, resp.Header.Get("ETag"), nil
}

// HTTPError reports a non-2xx HTTP response.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %s: %d", e.URL, e.StatusCode)
}
