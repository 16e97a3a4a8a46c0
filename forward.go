package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// BackendClient forwards validated payloads to the trusting backend.
type BackendClient struct {
	base   string
	client *http.Client
}

// NewBackendClient creates a client POSTing under base with the given timeout.
func NewBackendClient(base string, timeout time.Duration) *BackendClient {
	return &BackendClient{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// Forward POSTs payload to ${base}/device/${deviceID}/data with
// Content-Type: application/json and returns the response body verbatim.
//
// A 2xx answer returns (body, nil). A non-2xx answer returns the body
// together with a *BackendStatusError; bridging still succeeded and the
// caller decides whether the device sees the backend's error. Network
// failures and timeouts return an error matching ErrBackendTransport. No
// retry happens here.
func (c *BackendClient) Forward(ctx context.Context, deviceID string, payload []byte) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/device/%s/data", c.base, url.PathEscape(deviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrBackendTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrBackendTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, &BackendStatusError{Status: resp.StatusCode, Body: body}
	}
	return body, nil
}
