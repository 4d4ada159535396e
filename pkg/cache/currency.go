// Package cache wraps Redis for the two read patterns this system
// needs: a cached external rate lookup (currency.go) and read-through
// caching of list/detail HTTP responses (readthrough.go).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	usdCacheKey  = "usd_to_rub"
	usdCacheTTL  = 3600 * time.Second
	cbrURL       = "https://www.cbr-xml-daily.ru/daily_json.js"
)

type cbrResponse struct {
	Valute struct {
		USD struct {
			Value float64 `json:"Value"`
		} `json:"USD"`
	} `json:"Valute"`
}

// CurrencyService resolves the USD->RUB rate, preferring a cached
// value and falling back to a network fetch. Every failure path
// degrades to a nil rate rather than an error — the strategies that
// call this treat "rate unknown" as a normal, handled outcome.
type CurrencyService struct {
	redis  *redis.Client
	client *http.Client
	logger *slog.Logger
}

func NewCurrencyService(rdb *redis.Client, client *http.Client, logger *slog.Logger) *CurrencyService {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &CurrencyService{redis: rdb, client: client, logger: logger}
}

// GetUSDRate returns the current USD->RUB rate, or nil if it could not
// be determined by any means.
func (s *CurrencyService) GetUSDRate(ctx context.Context) (*float64, error) {
	if cached, err := s.redis.Get(ctx, usdCacheKey).Result(); err == nil {
		if rate, parseErr := strconv.ParseFloat(cached, 64); parseErr == nil {
			return &rate, nil
		}
	} else if err != redis.Nil {
		s.logger.Warn("currency cache read failed, falling back to network", "error", err)
	}

	rate, err := s.fetchFromCBR(ctx)
	if err != nil {
		s.logger.Error("currency rate fetch failed", "error", err)
		return nil, nil
	}

	if err := s.redis.Set(ctx, usdCacheKey, strconv.FormatFloat(rate, 'f', -1, 64), usdCacheTTL).Err(); err != nil {
		s.logger.Warn("currency cache write failed", "error", err)
	}

	return &rate, nil
}

func (s *CurrencyService) fetchFromCBR(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cbrURL, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("cbr returned status %d", resp.StatusCode)
	}

	var body cbrResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode cbr response: %w", err)
	}

	if body.Valute.USD.Value == 0 {
		return 0, fmt.Errorf("cbr response missing Valute.USD.Value")
	}

	return body.Valute.USD.Value, nil
}
