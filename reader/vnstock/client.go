package vnstock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appconfig "vnflow/config"
	"vnflow/logger"
	"vnflow/models"
)

const apiSource = "vnstock:VCI"

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{3}$`)

// Client fetches daily OHLCV history from the vnstock VCI REST endpoint.
// It is the extraction collaborator: it produces raw bronze records and
// knows nothing about cleaning or validation.
type Client struct {
	config     appconfig.VnstockConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Log
}

func NewClient(cfg appconfig.VnstockConfig) *Client {
	burst := cfg.BurstSize
	if burst < 1 {
		burst = 1
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		log:        logger.GetLogger(),
	}
}

// IsValidSymbol reports whether s looks like a listed equity ticker.
// Three-character tickers only; warrants and bonds carry longer codes and
// are skipped at ingestion.
func IsValidSymbol(s string) bool {
	return symbolPattern.MatchString(strings.ToUpper(strings.TrimSpace(s)))
}

// listingResponse is the symbols-by-exchange payload.
type listingResponse struct {
	Data []struct {
		Symbol   string `json:"symbol"`
		Exchange string `json:"exchange"`
	} `json:"data"`
}

// historyResponse is the per-symbol quote history payload.
type historyResponse struct {
	Data []struct {
		Time   string  `json:"time"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume int64   `json:"volume"`
	} `json:"data"`
}

// FetchSymbols lists the tickers of the configured exchange.
func (c *Client) FetchSymbols(ctx context.Context) ([]string, error) {
	log := c.log.WithComponent("vnstock_reader")

	body, err := c.get(ctx, c.config.ListingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch symbol listing: %w", err)
	}

	var listing listingResponse
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to decode symbol listing: %w", err)
	}

	symbols := make([]string, 0, len(listing.Data))
	for _, entry := range listing.Data {
		if entry.Exchange != c.config.Exchange {
			continue
		}
		if !IsValidSymbol(entry.Symbol) {
			log.WithFields(logger.Fields{"symbol": entry.Symbol}).Debug("skipping non-stock symbol")
			continue
		}
		symbols = append(symbols, strings.ToUpper(strings.TrimSpace(entry.Symbol)))
	}

	log.WithFields(logger.Fields{
		"exchange": c.config.Exchange,
		"symbols":  len(symbols),
	}).Info("fetched symbol listing")
	return symbols, nil
}

// FetchHistory fetches the OHLCV history of every symbol for the inclusive
// [start, end] window and returns raw records. Rows outside the window are
// filtered here; downstream stages never re-filter by date.
func (c *Client) FetchHistory(ctx context.Context, symbols []string, start, end time.Time) ([]models.RawPriceRecord, error) {
	log := c.log.WithComponent("vnstock_reader").WithFields(logger.Fields{
		"source": apiSource,
		"start":  start.Format("2006-01-02"),
		"end":    end.Format("2006-01-02"),
	})

	ingestedAt := time.Now().UTC()
	records := make([]models.RawPriceRecord, 0, len(symbols)*8)
	for i, symbol := range symbols {
		if !IsValidSymbol(symbol) {
			log.WithFields(logger.Fields{"symbol": symbol}).Debug("skipping non-stock symbol")
			continue
		}

		log.WithFields(logger.Fields{
			"symbol":   symbol,
			"progress": fmt.Sprintf("%d/%d", i+1, len(symbols)),
		}).Debug("fetching symbol history")

		history, err := c.fetchSymbol(ctx, symbol, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// One bad symbol does not sink the batch.
			log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("failed to fetch symbol, skipping")
			continue
		}

		for _, row := range history.Data {
			ts, err := time.Parse("2006-01-02", row.Time)
			if err != nil || ts.Before(start) || ts.After(end) {
				continue
			}
			records = append(records, models.RawPriceRecord{
				Symbol:      symbol,
				TradingDate: row.Time,
				Open:        formatFloat(row.Open),
				High:        formatFloat(row.High),
				Low:         formatFloat(row.Low),
				Close:       formatFloat(row.Close),
				Volume:      fmt.Sprintf("%d", row.Volume),
				Exchange:    c.config.Exchange,
				IngestedAt:  ingestedAt,
			})
		}
	}

	log.WithFields(logger.Fields{"records": len(records)}).Info("fetched raw price history")
	return records, nil
}

func (c *Client) fetchSymbol(ctx context.Context, symbol string, start, end time.Time) (*historyResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("start", start.Format("2006-01-02"))
	params.Set("end", end.Format("2006-01-02"))
	params.Set("resolution", "1D")

	body, err := c.get(ctx, c.config.BaseURL, params)
	if err != nil {
		return nil, err
	}

	var history historyResponse
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, fmt.Errorf("failed to decode history for %s: %w", symbol, err)
	}
	return &history, nil
}

// get performs one rate-limited GET with bounded retry. Only HTTP 429 and
// transient transport errors are retried; other statuses fail immediately.
func (c *Client) get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	maxAttempts := c.config.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	target := rawURL
	if len(params) > 0 {
		target = rawURL + "?" + params.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = readErr
			case resp.StatusCode == http.StatusOK:
				return body, nil
			case resp.StatusCode == http.StatusTooManyRequests:
				lastErr = fmt.Errorf("rate limited (status 429)")
			default:
				return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
			}
		}

		if attempt < maxAttempts {
			delay := c.config.RetryBaseDelay * time.Duration(attempt)
			delay += time.Duration(rand.Int63n(int64(time.Second)))
			c.log.WithComponent("vnstock_reader").WithError(lastErr).WithFields(logger.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("request failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
