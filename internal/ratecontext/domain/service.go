package domain

import (
	"context"
	"errors"
)

// Resolver resolves the displayed price and true cost for a product key.
// Implementations are cache-first; a miss falls through to the QuoteSource.
type Resolver interface {
	Resolve(ctx context.Context, productKey string) (*RateContext, error)
}

// QuoteSource is the external collaborator producing cost quotes. The
// supplier rate-shopping pipeline behind it is out of scope here.
type QuoteSource interface {
	Quote(ctx context.Context, productKey string) (*RateContext, error)
}

var (
	ErrInvalidProduct   = errors.New("invalid_product")
	ErrInvalidQuote     = errors.New("invalid_quote")
	ErrQuoteUnavailable = errors.New("quote_unavailable")
)
