package httppoll

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/c360/billboard/errors"
)

// MaxBodyBytes bounds the response body read by GetJSON
const MaxBodyBytes = 4 << 20

// NewHTTPClient returns a client with the given request timeout
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &http.Client{Timeout: timeout}
}

// GetJSON issues a GET to url and decodes the JSON body into out. Network
// failures and non-2xx responses are transient; an undecodable body is
// invalid.
func GetJSON(ctx context.Context, client *http.Client, url string, out any) error {
	body, err := Get(ctx, client, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"httppoll", "GetJSON", "decode response")
	}
	return nil
}

// Get issues a GET to url and returns the bounded body of a 2xx response
func Get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = NewHTTPClient(0)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "httppoll", "Get", "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "httppoll", "Get", "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxBodyBytes))
		return nil, errors.WrapTransient(fmt.Errorf("%w: HTTP %d", errors.ErrUnexpectedStatus, resp.StatusCode),
			"httppoll", "Get", "check status")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, errors.WrapTransient(err, "httppoll", "Get", "read body")
	}
	if len(body) > MaxBodyBytes {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: body exceeds %d bytes", errors.ErrInvalidData, MaxBodyBytes),
			"httppoll", "Get", "read body")
	}
	return body, nil
}
