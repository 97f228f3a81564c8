package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestConvertUSDToToken(t *testing.T) {
	if _, ok := ConvertUSDToToken(decimal.NewFromInt(400), decimal.Decimal{}, false); ok {
		t.Fatal("unavailable price must propagate")
	}

	got, ok := ConvertUSDToToken(decimal.Zero, decimal.NewFromFloat(2.0), true)
	if !ok || !got.IsZero() {
		t.Fatalf("zero USD should convert to zero tokens, got %s ok=%v", got, ok)
	}

	got, ok = ConvertUSDToToken(decimal.NewFromInt(100), decimal.NewFromFloat(2.5), true)
	if !ok || !got.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("100/2.5 = %s, want 40", got)
	}

	if _, ok := ConvertUSDToToken(decimal.NewFromInt(1), decimal.Zero, true); ok {
		t.Fatal("zero price must be treated as unavailable")
	}
}

func TestToSmallestUnitTruncatesTowardZero(t *testing.T) {
	units := ToSmallestUnit(decimal.RequireFromString("1.5"))
	if units.String() != "1500000000000000000" {
		t.Fatalf("1.5 tokens = %s base units", units)
	}

	// Sub-unit dust is dropped, not rounded.
	units = ToSmallestUnit(decimal.RequireFromString("0.0000000000000000019"))
	if units.String() != "1" {
		t.Fatalf("dust truncation gave %s, want 1", units)
	}
}

func TestOracleFetchesPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ids") != "ethereum" {
			t.Fatalf("unexpected ids param: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ethereum":{"usd":2500.25}}`))
	}))
	defer srv.Close()

	oracle := NewOracle(OracleOptions{BaseURL: srv.URL, TokenID: "ethereum", VsCurrency: "usd", Timeout: time.Second}, zerolog.Nop())
	price, ok := oracle.TokenPriceUSD(context.Background())
	if !ok {
		t.Fatal("price should be available")
	}
	if !price.Equal(decimal.RequireFromString("2500.25")) {
		t.Fatalf("price = %s", price)
	}
}

func TestOracleUnavailableOnFailure(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
		{"token missing", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"bitcoin":{"usd":1}}`))
		}},
		{"zero price", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"ethereum":{"usd":0}}`))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			oracle := NewOracle(OracleOptions{BaseURL: srv.URL, TokenID: "ethereum", Timeout: time.Second}, zerolog.Nop())
			if _, ok := oracle.TokenPriceUSD(context.Background()); ok {
				t.Fatal("failure must map to unavailable")
			}
		})
	}
}
