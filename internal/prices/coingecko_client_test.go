package prices

import (
	barter_errors "barter/internal"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) CoinGeckoClient {
	return CoinGeckoClient{
		HttpClient: &http.Client{Timeout: 2 * time.Second},
		BaseURL:    url,
		Usage:      NewUsageTracker(0, nil),
	}
}

func Test_parseMarkets(t *testing.T) {
	t.Run("numbers nulls and garbage", func(t *testing.T) {
		body := []byte(`[
			{"id": "bitcoin", "current_price": 64000.5, "market_cap": 1200000000, "total_volume": 30000},
			{"id": "deadcoin", "current_price": null},
			{"id": "weird", "current_price": "12.0"},
			{"id": "tiny", "current_price": 1e-7}
		]`)
		out, err := parseMarkets(body)
		require.NoError(t, err)
		require.Len(t, out, 4)

		require.Equal(t, "bitcoin", out[0].ID)
		require.True(t, out[0].Price.Equal(decimal.RequireFromString("64000.5")))
		require.True(t, out[0].MarketCap.Equal(decimal.NewFromInt(1200000000)))
		require.Nil(t, out[1].Price)
		require.Nil(t, out[2].Price)
		require.True(t, out[3].Price.Equal(decimal.RequireFromString("0.0000001")))
	})

	t.Run("not json", func(t *testing.T) {
		_, err := parseMarkets([]byte(`<html>`))
		fetchErr := barter_errors.FetchError{}
		require.True(t, errors.As(err, &fetchErr))
		require.Contains(t, fetchErr.Message, "malformed payload")
	})

	t.Run("object instead of list", func(t *testing.T) {
		_, err := parseMarkets([]byte(`{"status": "ok"}`))
		fetchErr := barter_errors.FetchError{}
		require.True(t, errors.As(err, &fetchErr))
		require.Equal(t, "malformed payload: expected a list of coins", fetchErr.Message)
	})
}

func TestCoinGeckoClient_FetchRawPrices(t *testing.T) {
	t.Run("single page with headers", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/coins/markets", r.URL.Path)
			require.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
			require.Equal(t, "1", r.URL.Query().Get("page"))
			require.Equal(t, "secret", r.Header.Get("x-cg-demo-api-key"))
			fmt.Fprint(w, `[{"id":"a","current_price":1.0},{"id":"b","current_price":3.0}]`)
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		client.ApiKey = "secret"
		out, err := client.FetchRawPrices(context.Background())
		require.NoError(t, err)
		require.Len(t, out, 2)
		require.Equal(t, 1, client.Usage.Snapshot().MonthlyCallsUsed)
	})

	t.Run("non 2xx is a fetch error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"status":{"error_code":429,"error_message":"You've exceeded the Rate Limit"}}`)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).FetchRawPrices(context.Background())
		fetchErr := barter_errors.FetchError{}
		require.True(t, errors.As(err, &fetchErr))
		require.Equal(t, http.StatusTooManyRequests, fetchErr.HTTPStatus)
		require.True(t, fetchErr.RateLimited())
		require.Equal(t, "You've exceeded the Rate Limit", fetchErr.Message)
	})

	t.Run("paging stops on short page", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			if r.URL.Query().Get("page") == "1" {
				fmt.Fprint(w, `[{"id":"a","current_price":1},{"id":"b","current_price":2}]`)
				return
			}
			fmt.Fprint(w, `[{"id":"c","current_price":3}]`)
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		client.PerPage = 2
		client.Pages = 5
		out, err := client.FetchRawPrices(context.Background())
		require.NoError(t, err)
		require.Len(t, out, 3)
		require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("later page failure keeps earlier pages", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("page") == "1" {
				fmt.Fprint(w, `[{"id":"a","current_price":1},{"id":"b","current_price":2}]`)
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		client.PerPage = 2
		client.Pages = 3
		out, err := client.FetchRawPrices(context.Background())
		require.NoError(t, err)
		require.Len(t, out, 2)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := newTestClient(srv.URL).FetchRawPrices(ctx)
		require.Error(t, err)
		require.True(t, errors.Is(err, context.DeadlineExceeded), err)
		require.True(t, errors.As(err, &barter_errors.FetchError{}))
	})

	t.Run("monthly limit short circuits", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			fmt.Fprint(w, `[]`)
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		client.Usage = NewUsageTracker(1, nil)
		_, err := client.FetchRawPrices(context.Background())
		require.NoError(t, err)

		_, err = client.FetchRawPrices(context.Background())
		require.Error(t, err)
		require.True(t, strings.Contains(err.Error(), "monthly API limit reached"))
		require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}
