package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const simplePricePath = "/simple/price"

// OracleOptions parameterise the price-feed client.
type OracleOptions struct {
	BaseURL    string
	TokenID    string
	VsCurrency string
	Timeout    time.Duration
	UserAgent  string
}

// Oracle fetches token prices from a CoinGecko-compatible API.
type Oracle struct {
	opts    OracleOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewOracle constructs a price oracle client.
func NewOracle(opts OracleOptions, logger zerolog.Logger) *Oracle {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &Oracle{
		opts:    opts,
		logger:  logger.With().Str("component", "price_oracle").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// TokenPriceUSD returns the current USD price of the settlement token.
// Any transport or decoding failure is logged and reported as
// unavailable rather than returned as an error.
func (o *Oracle) TokenPriceUSD(ctx context.Context) (decimal.Decimal, bool) {
	price, err := o.fetch(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Str("token", o.opts.TokenID).Msg("price oracle unavailable")
		return decimal.Decimal{}, false
	}
	return price, true
}

func (o *Oracle) fetch(ctx context.Context) (decimal.Decimal, error) {
	tokenID := o.opts.TokenID
	if tokenID == "" {
		return decimal.Decimal{}, fmt.Errorf("oracle token id not configured")
	}
	vs := o.opts.VsCurrency
	if vs == "" {
		vs = "usd"
	}

	query := url.Values{}
	query.Set("ids", tokenID)
	query.Set("vs_currencies", vs)
	endpoint := o.baseURL + simplePricePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(o.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("price api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var body map[string]map[string]json.Number
	if err := json.Unmarshal(payload, &body); err != nil {
		return decimal.Decimal{}, err
	}

	quote, ok := body[tokenID]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("token %q absent from price response", tokenID)
	}
	raw, ok := quote[vs]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("currency %q absent from price response", vs)
	}

	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price: %w", err)
	}
	if price.IsZero() || price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("price %s out of range", price)
	}

	return price, nil
}

var _ PriceFetcher = (*Oracle)(nil)
