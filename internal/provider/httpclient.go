package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"digitaltwin/internal/domain"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 512
)

// SharedHTTPClient returns an HTTP client with connection pooling.
// Per-call deadlines come from the request context; timeout is an upper bound.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// postJSON sends body as JSON and decodes a 2xx reply into out.
// Transport failures map to ErrProviderUnavailable, everything else to ErrProviderError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any, secrets ...string) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return domain.ProviderErr(provider, 0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return domain.ProviderErr(provider, 0, fmt.Errorf("new request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return domain.Unavailable(provider, scrubError(err, secrets...))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.ProviderErr(provider, resp.StatusCode, fmt.Errorf("%s", errorBody(resp.Body, secrets...)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.ProviderErr(provider, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// probe issues a GET and treats any 2xx as healthy.
func probe(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, secrets ...string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Unavailable(provider, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return domain.Unavailable(provider, scrubError(err, secrets...))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.ProviderFailure{Provider: provider, Kind: domain.ErrProviderUnavailable, Status: resp.StatusCode}
	}
	return nil
}

// errorBody reads a bounded, secret-free excerpt of an error response.
func errorBody(r io.Reader, secrets ...string) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody+1))
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return scrub(s, secrets...)
}

func scrubError(err error, secrets ...string) error {
	msg := err.Error()
	clean := scrub(msg, secrets...)
	if clean == msg {
		return err
	}
	return fmt.Errorf("%s", clean)
}

func scrub(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "***")
		}
	}
	return s
}
