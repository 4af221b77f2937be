package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// doRequest performs one provider round trip and returns the raw body and
// status code. Network and protocol failures come back as *TransportError;
// non-2xx statuses do not, since they usually carry a provider error body the
// adapter needs to interpret as a business failure.
func doRequest(ctx context.Context, client *http.Client, gateway, op, method, url string, headers map[string]string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, transportErr(gateway, op, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, transportErr(gateway, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, transportErr(gateway, op, err)
	}
	return data, resp.StatusCode, nil
}
