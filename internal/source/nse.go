package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"v20-scanner/internal/corporate"
	apperrors "v20-scanner/internal/errors"
	"v20-scanner/internal/logging"
	"v20-scanner/internal/models"
	"v20-scanner/pkg/utils"
)

const (
	defaultNSEBaseURL   = "https://www.nseindia.com"
	defaultNSEUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	nseHistoryPath = "/api/historical/cm/equity"
	nseQuotePath   = "/api/quote-equity"
	nseDateLayout  = "02-01-2006"
)

// Column names in the equity history payload.
const (
	colTimestamp = "CH_TIMESTAMP"
	colOpen      = "CH_OPENING_PRICE"
	colHigh      = "CH_TRADE_HIGH_PRICE"
	colLow       = "CH_TRADE_LOW_PRICE"
	colClose     = "CH_CLOSING_PRICE"
	colVolume    = "CH_TOT_TRADED_QTY"
	colActions   = "CA"
)

var requiredColumns = []string{colTimestamp, colOpen, colHigh, colLow, colClose, colVolume}

var timestampLayouts = []string{
	models.DateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"02-Jan-2006",
}

// NSEConfig holds configuration for the NSE history source.
type NSEConfig struct {
	BaseURL   string
	ChunkDays int
	Timeout   time.Duration
	UserAgent string
	Retry     utils.RetryConfig
}

// NSESource fetches EQ-series daily history from the NSE website API.
type NSESource struct {
	baseURL    string
	chunkDays  int
	httpClient *http.Client
	headers    map[string]string
	retry      utils.RetryConfig

	mu       sync.Mutex
	warmedUp bool
}

// NewNSESource creates a new NSE history source.
func NewNSESource(cfg NSEConfig) *NSESource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNSEBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultNSEUserAgent
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = utils.DefaultRetryConfig()
	}
	cfg.Retry.Retryable = isTransient
	jar, _ := cookiejar.New(nil)
	return &NSESource{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		chunkDays: cfg.ChunkDays,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		headers: map[string]string{
			"User-Agent":      cfg.UserAgent,
			"Accept":          "*/*",
			"Accept-Language": "en-US,en;q=0.9",
			"Referer":         cfg.BaseURL + "/get-quotes/equity",
		},
		retry: cfg.Retry,
	}
}

// Name returns the source name.
func (n *NSESource) Name() string {
	return "nse"
}

// FetchHistory fetches daily rows for [from, to], one request per chunk.
func (n *NSESource) FetchHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.RawRow, error) {
	logger := logging.WithSymbol(logging.FromContext(ctx), symbol)

	var rows []models.RawRow
	for _, window := range chunk(from, to, n.chunkDays) {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("series", `["EQ"]`)
		params.Set("from", window[0].Format(nseDateLayout))
		params.Set("to", window[1].Format(nseDateLayout))

		start := time.Now()
		data, err := n.get(ctx, nseHistoryPath+"?"+params.Encode())
		logging.LogAPICall(logger, http.MethodGet, nseHistoryPath, time.Since(start), err)
		if err != nil {
			return nil, apperrors.NewFetchError(n.Name(), symbol, window[0], window[1], err)
		}

		part, err := parseHistory(symbol, data, func(perr error) {
			logger.Warn().Err(perr).Msg("Dropping unusable row")
		})
		if err != nil {
			return nil, apperrors.NewFetchError(n.Name(), symbol, window[0], window[1], err)
		}
		rows = append(rows, part...)
	}

	if len(rows) == 0 {
		return nil, apperrors.ErrNoDataAvailable
	}
	return rows, nil
}

// IsSuspended probes the quote endpoint for the symbol's trading status.
func (n *NSESource) IsSuspended(ctx context.Context, symbol string) (bool, string, error) {
	data, err := n.get(ctx, nseQuotePath+"?symbol="+url.QueryEscape(symbol))
	if err != nil {
		return false, "", fmt.Errorf("quote probe for %s: %w", symbol, err)
	}

	var quote struct {
		Info struct {
			IsSuspended bool `json:"isSuspended"`
			IsDelisted  bool `json:"isDelisted"`
		} `json:"info"`
		SecurityInfo struct {
			TradingStatus string `json:"tradingStatus"`
		} `json:"securityInfo"`
	}
	if err := json.Unmarshal(data, &quote); err != nil {
		return false, "", fmt.Errorf("decoding quote for %s: %w", symbol, err)
	}

	status := quote.SecurityInfo.TradingStatus
	switch {
	case strings.EqualFold(status, "Suspended"), strings.EqualFold(status, "Delisted"):
		return true, status, nil
	case quote.Info.IsDelisted:
		return true, "Delisted", nil
	case quote.Info.IsSuspended:
		return true, "Suspended", nil
	}
	return false, status, nil
}

// statusError is an unexpected HTTP status from the API.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("NSE API returned status %d", e.code)
}

// isTransient reports whether a request is worth repeating: throttling,
// server errors and timeouts.
func isTransient(err error) bool {
	if errors.Is(err, apperrors.ErrRateLimited) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// get performs a GET against the API, retrying transient failures with
// backoff.
func (n *NSESource) get(ctx context.Context, path string) ([]byte, error) {
	return utils.RetryWithResult(ctx, n.retry, func() ([]byte, error) {
		return n.getOnce(ctx, path)
	})
}

// getOnce warms up session cookies first and once more if the API rejects
// the session.
func (n *NSESource) getOnce(ctx context.Context, path string) ([]byte, error) {
	if err := n.warmUp(ctx, false); err != nil {
		return nil, err
	}

	data, status, err := n.do(ctx, n.baseURL+path)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if err := n.warmUp(ctx, true); err != nil {
			return nil, err
		}
		data, status, err = n.do(ctx, n.baseURL+path)
		if err != nil {
			return nil, err
		}
	}
	switch {
	case status == http.StatusTooManyRequests:
		return nil, apperrors.ErrRateLimited
	case status != http.StatusOK:
		return nil, &statusError{code: status}
	}
	return data, nil
}

// warmUp visits the home page so the jar holds the cookies the API expects.
func (n *NSESource) warmUp(ctx context.Context, force bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.warmedUp && !force {
		return nil
	}
	_, status, err := n.do(ctx, n.baseURL+"/")
	if err != nil {
		return fmt.Errorf("NSE session warm-up: %w", err)
	}
	if status >= 500 {
		return fmt.Errorf("NSE session warm-up returned status %d", status)
	}
	n.warmedUp = true
	return nil
}

func (n *NSESource) do(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	for key, value := range n.headers {
		req.Header.Set(key, value)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// parseHistory decodes an equity history payload. A payload missing any OHLCV
// column is an error; individual rows that cannot be parsed or whose prices
// are impossible are reported to onDrop and skipped.
func parseHistory(symbol string, data []byte, onDrop func(error)) ([]models.RawRow, error) {
	var payload struct {
		Data []map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	if len(payload.Data) == 0 {
		return nil, nil
	}

	for _, col := range requiredColumns {
		if _, ok := payload.Data[0][col]; !ok {
			return nil, fmt.Errorf("expected column %s not found", col)
		}
	}

	rows := make([]models.RawRow, 0, len(payload.Data))
	for _, rec := range payload.Data {
		row, err := parseRow(symbol, rec)
		if err != nil {
			if onDrop != nil {
				onDrop(err)
			}
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(symbol string, rec map[string]json.RawMessage) (models.RawRow, error) {
	var row models.RawRow

	ts, err := rawString(rec[colTimestamp])
	if err != nil {
		return row, apperrors.NewParseError(symbol, colTimestamp, string(rec[colTimestamp]), err)
	}
	row.Date, err = parseTimestamp(ts)
	if err != nil {
		return row, apperrors.NewParseError(symbol, colTimestamp, ts, err)
	}

	fields := []struct {
		col string
		dst *float64
	}{
		{colOpen, &row.Open},
		{colHigh, &row.High},
		{colLow, &row.Low},
		{colClose, &row.Close},
		{colVolume, &row.Volume},
	}
	for _, f := range fields {
		v, err := parseNumber(rec[f.col])
		if err != nil {
			return row, apperrors.NewParseError(symbol, f.col, string(rec[f.col]), err)
		}
		*f.dst = v
	}

	if raw, ok := rec[colActions]; ok {
		anns, err := corporate.DecodeAnnotations(raw)
		if err == nil {
			row.Annotations = anns
		}
	}
	if err := checkPrices(symbol, row); err != nil {
		return row, err
	}
	return row, nil
}

// parseNumber accepts a JSON number or a string, with thousands separators.
func parseNumber(raw json.RawMessage) (float64, error) {
	s, err := rawString(raw)
	if err != nil {
		return 0, err
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "-" {
		return 0, fmt.Errorf("empty value")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// rawString returns the JSON string value or the literal text of a number.
func rawString(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", fmt.Errorf("missing value")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return trimmed, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.DayOf(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
