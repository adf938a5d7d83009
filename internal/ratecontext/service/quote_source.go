package service

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"strings"

	"github.com/tripdeal/bargain/internal/clock"
	"github.com/tripdeal/bargain/internal/config"
	ratedomain "github.com/tripdeal/bargain/internal/ratecontext/domain"
)

type httpQuoteSource struct {
	endpoint string
	apiKey   string
	clock    clock.Clock
	client   *http.Client
}

// NewQuoteSource returns the supplier-backed source when a quote URL is
// configured, and the static development source otherwise.
func NewQuoteSource(cfg config.Config, clk clock.Clock) ratedomain.QuoteSource {
	if cfg.Resolver.QuoteURL == "" {
		return &staticQuoteSource{
			clock:    clk,
			currency: cfg.Negotiation.Currency,
		}
	}
	return &httpQuoteSource{
		endpoint: cfg.Resolver.QuoteURL,
		apiKey:   cfg.Resolver.QuoteAPIKey,
		clock:    clk,
		client:   &http.Client{Timeout: cfg.Resolver.QuoteTimeout},
	}
}

type supplierQuoteResponse struct {
	ProductKey     string  `json:"product_key"`
	DisplayedPrice float64 `json:"displayed_price"`
	TrueCost       float64 `json:"true_cost"`
	Currency       string  `json:"currency"`
}

func (s *httpQuoteSource) Quote(ctx context.Context, productKey string) (*ratedomain.RateContext, error) {
	reqURL := fmt.Sprintf("%s?product_key=%s", s.endpoint, url.QueryEscape(productKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ratedomain.ErrInvalidProduct
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("quote_request_failed_status_%d", resp.StatusCode)
	}

	var quote supplierQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, err
	}

	return &ratedomain.RateContext{
		ProductKey:     productKey,
		DisplayedPrice: quote.DisplayedPrice,
		TrueCost:       quote.TrueCost,
		Currency:       strings.ToUpper(quote.Currency),
		FetchedAt:      s.clock.Now().UTC(),
	}, nil
}

// staticQuoteSource derives a stable rate from the product key so that local
// runs and demos work without a supplier connection.
type staticQuoteSource struct {
	clock    clock.Clock
	currency string
}

func (s *staticQuoteSource) Quote(_ context.Context, productKey string) (*ratedomain.RateContext, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(productKey))

	// Cost in the 80..580 range, displayed at a 25..40% markup.
	cost := 80 + float64(h.Sum32()%50001)/100
	markup := 1.25 + float64(h.Sum32()%16)/100

	return &ratedomain.RateContext{
		ProductKey:     productKey,
		DisplayedPrice: roundCents(cost * markup),
		TrueCost:       roundCents(cost),
		Currency:       s.currency,
		FetchedAt:      s.clock.Now().UTC(),
	}, nil
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
