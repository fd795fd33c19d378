package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxPayloadBytes caps one agent response; a /current document is a few KB.
const maxPayloadBytes = 4 << 20

var (
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrPayloadTooLarge  = errors.New("payload too large")
)

// Fetcher retrieves one machine payload. Implementations must honour ctx.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// Poster triggers an adapter action and returns its reply.
type Poster interface {
	Post(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

type HTTPFetcher struct {
	client *http.Client
	limit  int64
}

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client, limit: maxPayloadBytes}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	return f.do(ctx, http.MethodGet, url, headers)
}

// Post sends a body-less POST; adapter actions take no arguments.
func (f *HTTPFetcher) Post(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	return f.do(ctx, http.MethodPost, url, headers)
}

func (f *HTTPFetcher) do(ctx context.Context, method, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, f.limit))
		return nil, fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, url)
	}

	// one extra byte tells a document at the limit from a truncated one
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.limit {
		return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrPayloadTooLarge, f.limit, url)
	}
	return body, nil
}
