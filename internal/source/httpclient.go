package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/errs"
)

const maxErrorBody = 512

// HTTPClient is a small wrapper around http.Client with tuned pooling and
// error classification for provider REST APIs.
type HTTPClient struct {
	Source    string
	BaseURL   string
	HTTP      *http.Client
	UserAgent string
}

// NewHTTPClient builds a client for one provider.
func NewHTTPClient(sourceID, baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	return &HTTPClient{
		Source:    sourceID,
		BaseURL:   baseURL,
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: "coinpulse/1.0",
	}
}

// GetJSON issues GET BaseURL+path?query and decodes the JSON body into out.
//
// Failures are classified:
//   - transport errors -> SourceUnavailableError{Class: network}
//   - non-2xx          -> SourceUnavailableError with the class for its status
//   - undecodable body -> ValidationError
func (c *HTTPClient) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errs.Invalid("request", "build %s: %v", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &errs.SourceUnavailableError{Source: c.Source, Class: errs.ClassNetwork, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &errs.SourceUnavailableError{
			Source: c.Source,
			Class:  errs.ClassForStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("GET %s: %s", path, string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		var ne net.Error
		if errors.As(err, &ne) || errors.Is(err, io.ErrUnexpectedEOF) {
			return &errs.SourceUnavailableError{Source: c.Source, Class: errs.ClassNetwork, Err: err}
		}
		return errs.Invalid("body", "%s decode %s: %v", c.Source, path, err)
	}
	return nil
}
