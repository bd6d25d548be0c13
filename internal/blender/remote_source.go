package blender

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// remoteSource fetches market price over HTTP from a standalone
// Matching service, used when the two processes are deployed
// separately. Bounded by the client's own timeout (§5 "Cancellation &
// timeouts": "market-price fetches within blending use a short bounded
// timeout (≤ 5 s) and on expiry proceed with market_price unavailable").
type remoteSource struct {
	client  *resty.Client
	baseURL string
}

// NewRemoteSource builds a MarketSource backed by the Matching
// service's pressure endpoint at baseURL, bounded by client's own
// timeout.
func NewRemoteSource(client *resty.Client, baseURL string) MarketSource {
	return &remoteSource{client: client, baseURL: baseURL}
}

type pressureResponse struct {
	MarketPrice float64 `json:"market_price"`
	Available   bool    `json:"available"`
}

func (s *remoteSource) MarketPrice(ctx context.Context, symbol string) (float64, bool, error) {
	var body pressureResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(fmt.Sprintf("%s/market/%s/pressure", s.baseURL, symbol))
	if err != nil {
		// Timeout or unreachable: proceed with market data unavailable
		// rather than failing the whole blend pass.
		return 0, false, nil
	}
	if resp.StatusCode() == 404 {
		return 0, false, nil
	}
	if resp.IsError() {
		return 0, false, fmt.Errorf("matching service: %s", resp.Status())
	}
	return body.MarketPrice, body.Available, nil
}
