package prices

import (
	barter_errors "barter/internal"
	"barter/internal/domain"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	DefaultCoinGeckoBaseURL = "https://api.coingecko.com/api/v3"
	DefaultFetchTimeout     = 10 * time.Second

	coinGeckoMaxPerPage = 250
	coinGeckoMaxPages   = 20
	maxResponseBytes    = 16 << 20
	userAgent           = "barter-credit/1.0"
)

type CoinGeckoConfig struct {
	BaseURL            string
	ApiKey             string
	PerPage            int
	Pages              int
	Timeout            time.Duration
	MinRequestInterval time.Duration
	MonthlyLimit       int
}

type CoinGeckoClient struct {
	HttpClient *http.Client
	ApiKey     string
	BaseURL    string
	PerPage    int
	Pages      int
	Limiter    *rate.Limiter
	Usage      *UsageTracker
	Log        *slog.Logger
}

func NewCoinGeckoClient(cfg CoinGeckoConfig, log *slog.Logger) CoinGeckoClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	var limiter *rate.Limiter
	if cfg.MinRequestInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinRequestInterval), 1)
	}

	return CoinGeckoClient{
		HttpClient: &http.Client{Timeout: timeout},
		ApiKey:     cfg.ApiKey,
		BaseURL:    cfg.BaseURL,
		PerPage:    cfg.PerPage,
		Pages:      cfg.Pages,
		Limiter:    limiter,
		Usage:      NewUsageTracker(cfg.MonthlyLimit, nil),
		Log:        log,
	}
}

// FetchRawPrices reads the coins/markets list. Only the first page is
// required; if a later page fails we keep whatever came before it.
func (c CoinGeckoClient) FetchRawPrices(ctx context.Context) ([]domain.RawPriceEntry, error) {
	perPage := c.perPage()
	out := []domain.RawPriceEntry{}

	for page := 1; page <= c.pages(); page++ {
		entries, err := c.fetchPage(ctx, page, perPage)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			c.log().Warn("stopped coingecko paging early", "page", page, "entries", len(out), "error", err)
			break
		}
		out = append(out, entries...)
		if len(entries) < perPage {
			break
		}
	}

	c.log().Debug("fetched coingecko markets", "entries", len(out))
	return out, nil
}

func (c CoinGeckoClient) fetchPage(ctx context.Context, page, perPage int) ([]domain.RawPriceEntry, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, barter_errors.FetchError{Message: "waiting for request slot", Err: err}
		}
	}

	u, err := url.Parse(c.baseURL() + "/coins/markets")
	if err != nil {
		return nil, barter_errors.FetchError{Message: "invalid base url", Err: err}
	}
	q := u.Query()
	q.Set("vs_currency", "usd")
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	q.Set("sparkline", "false")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, barter_errors.FetchError{Message: "building request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.ApiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.ApiKey)
	}

	if c.Usage != nil && !c.Usage.TryRecord() {
		return nil, barter_errors.FetchError{Message: "monthly API limit reached"}
	}
	response, err := c.httpClient().Do(req)
	if err != nil {
		return nil, barter_errors.FetchError{Message: "request failed", Err: err}
	}
	defer response.Body.Close()

	responseBytes, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, barter_errors.FetchError{HTTPStatus: response.StatusCode, Message: "reading response", Err: err}
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, barter_errors.FetchError{
			HTTPStatus: response.StatusCode,
			Message:    upstreamMessage(response.StatusCode, responseBytes),
		}
	}

	return parseMarkets(responseBytes)
}

// parseMarkets is lenient per coin: a price that isn't a JSON number is
// treated as null instead of failing the whole page
func parseMarkets(body []byte) ([]domain.RawPriceEntry, error) {
	if !gjson.ValidBytes(body) {
		return nil, barter_errors.FetchError{Message: "malformed payload: invalid json"}
	}
	result := gjson.ParseBytes(body)
	if !result.IsArray() {
		return nil, barter_errors.FetchError{Message: "malformed payload: expected a list of coins"}
	}

	out := []domain.RawPriceEntry{}
	result.ForEach(func(_, coin gjson.Result) bool {
		out = append(out, domain.RawPriceEntry{
			ID:        coin.Get("id").String(),
			Price:     numberField(coin, "current_price"),
			MarketCap: numberField(coin, "market_cap"),
			Volume:    numberField(coin, "total_volume"),
		})
		return true
	})
	return out, nil
}

func numberField(coin gjson.Result, key string) *decimal.Decimal {
	v := coin.Get(key)
	if v.Type != gjson.Number {
		return nil
	}
	d, err := decimal.NewFromString(v.Raw)
	if err != nil {
		return nil
	}
	return &d
}

func upstreamMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"status.error_message", "error"} {
			if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}
	return http.StatusText(status)
}

func (c CoinGeckoClient) httpClient() *http.Client {
	if c.HttpClient == nil {
		return &http.Client{Timeout: DefaultFetchTimeout}
	}
	return c.HttpClient
}

func (c CoinGeckoClient) baseURL() string {
	if c.BaseURL == "" {
		return DefaultCoinGeckoBaseURL
	}
	return c.BaseURL
}

func (c CoinGeckoClient) perPage() int {
	if c.PerPage <= 0 || c.PerPage > coinGeckoMaxPerPage {
		return coinGeckoMaxPerPage
	}
	return c.PerPage
}

func (c CoinGeckoClient) pages() int {
	if c.Pages <= 0 {
		return 1
	}
	if c.Pages > coinGeckoMaxPages {
		return coinGeckoMaxPages
	}
	return c.Pages
}

func (c CoinGeckoClient) log() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}
