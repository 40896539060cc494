package linking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"megadata-go/internal/megadata"
)

// None links no accounts.
type None struct{}

func (None) LinkedAccounts(context.Context, string) ([]string, error) { return nil, nil }

// Static serves linked accounts from a fixed map keyed by address.
type Static struct {
	links map[string][]string
}

func NewStatic(links map[string][]string) *Static {
	normalized := make(map[string][]string, len(links))
	for addr, linked := range links {
		key := megadata.NormalizeAddress(addr)
		normalized[key] = append(normalized[key], linked...)
	}
	return &Static{links: normalized}
}

func (s *Static) LinkedAccounts(_ context.Context, address string) ([]string, error) {
	return append([]string(nil), s.links[megadata.NormalizeAddress(address)]...), nil
}

// HTTPClient queries a linking service at GET <base>/accounts/<address>/linked.
type HTTPClient struct {
	httpClient *http.Client
	base       string
}

func NewHTTPClient(base string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		base:       strings.TrimRight(base, "/"),
	}
}

type linkedResponse struct {
	Accounts []string `json:"accounts"`
}

func (c *HTTPClient) LinkedAccounts(ctx context.Context, address string) ([]string, error) {
	target := c.base + "/accounts/" + url.PathEscape(address) + "/linked"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("linking service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("linking service error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out linkedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding linking response: %w", err)
	}
	return out.Accounts, nil
}
