// Package bytemark implements the transit ticket cache (C4): fetching a
// user's Bytemark passes and merging them into a docstore cache document,
// grounded on the teacher's plain net/http upstream client shape
// (pkg/sdk/client.go's NewClient/httpClient.Do pattern).
package bytemark

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// upstreamPass is the wire shape returned by both the v1 and v4 endpoints.
type upstreamPass struct {
	PassUUID    string          `json:"pass_uuid"`
	TimeCreated int64           `json:"time_created"`
	Status      string          `json:"status"`
	ProductUUID string          `json:"product_uuid"`
	Payload     json.RawMessage `json:"payload"`
}

// UpstreamClient fetches passes from Bytemark's v1 and v4 APIs.
type UpstreamClient struct {
	baseURLV1 string
	baseURLV4 string
	http      *http.Client
}

func NewUpstreamClient(baseURLV1, baseURLV4 string, timeout time.Duration) *UpstreamClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &UpstreamClient{
		baseURLV1: baseURLV1,
		baseURLV4: baseURLV4,
		http:      &http.Client{Timeout: timeout},
	}
}

// FetchPassesV1 calls GET /passes?limit=9999&page=1, per spec §4.4 step 2.
func (c *UpstreamClient) FetchPassesV1(ctx context.Context, accessToken string) ([]upstreamPass, error) {
	u := fmt.Sprintf("%s/passes?limit=9999&page=1", c.baseURLV1)
	return c.fetch(ctx, u, accessToken)
}

// FetchPassesV4Expired calls GET /v4.0/passes?status=EXPIRED, per spec
// §4.4 step 3.
func (c *UpstreamClient) FetchPassesV4Expired(ctx context.Context, accessToken string) ([]upstreamPass, error) {
	u := fmt.Sprintf("%s/v4.0/passes?%s", c.baseURLV4, url.Values{"status": {"EXPIRED"}}.Encode())
	return c.fetch(ctx, u, accessToken)
}

func (c *UpstreamClient) fetch(ctx context.Context, rawURL, accessToken string) ([]upstreamPass, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bytemark: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bytemark: upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bytemark: upstream returned %d", resp.StatusCode)
	}

	var body struct {
		Passes []upstreamPass `json:"passes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("bytemark: decode response: %w", err)
	}
	return body.Passes, nil
}
