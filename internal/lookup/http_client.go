package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClient resolves securities against the reference data service
// and accounts against the account service.
type HTTPClient struct {
	refDataURL string
	accountURL string
	timeout    time.Duration
	client     *http.Client
}

// NewHTTPClient creates a lookup client. timeout bounds each request.
func NewHTTPClient(refDataURL, accountURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		refDataURL: strings.TrimRight(refDataURL, "/"),
		accountURL: strings.TrimRight(accountURL, "/"),
		timeout:    timeout,
		client:     &http.Client{},
	}
}

// ResolveSecurity calls GET {refdata}/stocks/{ticker}
func (c *HTTPClient) ResolveSecurity(ctx context.Context, ticker string) (*Security, error) {
	var sec Security
	if err := c.get(ctx, c.refDataURL+"/stocks/"+url.PathEscape(ticker), &sec); err != nil {
		return nil, fmt.Errorf("security %s: %w", ticker, err)
	}
	if sec.Ticker == "" {
		sec.Ticker = ticker
	}
	return &sec, nil
}

// ResolveAccount calls GET {account}/account/{id}
func (c *HTTPClient) ResolveAccount(ctx context.Context, id int) (*Account, error) {
	var acc Account
	if err := c.get(ctx, c.accountURL+"/account/"+strconv.Itoa(id), &acc); err != nil {
		return nil, fmt.Errorf("account %d: %w", id, err)
	}
	if acc.ID == 0 {
		acc.ID = id
	}
	return &acc, nil
}

func (c *HTTPClient) get(ctx context.Context, rawURL string, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
