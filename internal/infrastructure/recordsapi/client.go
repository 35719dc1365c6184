package recordsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/geoview-microservice/internal/config"
	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/domain/repository"
)

// maxErrorBody ограничивает размер тела ответа с ошибкой, попадающего в лог
const maxErrorBody = 4 << 10

type client struct {
	httpClient *http.Client
	endpoint   string
	apiToken   string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewRecordsClient создает клиент для REST endpoint списка записей
func NewRecordsClient(cfg *config.RecordsConfig, logger *zap.Logger) repository.RecordSource {
	return &client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		endpoint: cfg.BaseURL + cfg.Path,
		apiToken: cfg.APIToken,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		logger:   logger,
	}
}

// FetchRecords запрашивает записи внутри полигона видимой области с учётом фильтров
func (c *client) FetchRecords(ctx context.Context, query domain.RegionQuery) (*domain.RecordPage, error) {
	if query.Region == "" {
		return nil, fmt.Errorf("region cannot be empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := c.endpoint + "?" + buildQuery(query).Encode()

	c.logger.Debug("Calling records API",
		zap.String("url", reqURL),
		zap.String("search", query.Filters.Search),
		zap.String("category", query.Filters.Category))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.logger.Error("Failed to create request", zap.Error(err))
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Failed to execute request", zap.Error(err))
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("Records API returned error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, fmt.Errorf("records API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var page domain.RecordPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		c.logger.Error("Failed to decode response", zap.Error(err))
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("Records API call successful",
		zap.Int("records", len(page.Data)),
		zap.Int("total", page.Meta.Total))

	return &page, nil
}

func buildQuery(query domain.RegionQuery) url.Values {
	values := url.Values{}
	values.Set("within_polygon", string(query.Region))
	if query.Filters.Search != "" {
		values.Set("full_name", query.Filters.Search)
	}
	if query.Filters.Category != "" {
		values.Set("category", query.Filters.Category)
	}
	if query.Filters.Currency != "" {
		values.Set("currency", query.Filters.Currency)
	}
	if query.PerPage > 0 {
		values.Set("per_page", strconv.Itoa(query.PerPage))
	}
	return values
}
