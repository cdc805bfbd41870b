package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "v20-scanner/internal/errors"
	"v20-scanner/internal/logging"
	"v20-scanner/internal/models"
)

// kiteMaxDays is the longest range Kite serves for day candles in one call.
const kiteMaxDays = 2000

// KiteConfig holds configuration for the Kite Connect history source.
type KiteConfig struct {
	APIKey    string
	APISecret string
	TokenPath string
	Exchange  models.Exchange
}

// kiteClient is the subset of the Kite Connect client the source uses.
type kiteClient interface {
	GetLoginURL() string
	GenerateSession(requestToken string, apiSecret string) (kiteconnect.UserSession, error)
	SetAccessToken(accessToken string)
	GetInstruments() (kiteconnect.Instruments, error)
	GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, OI bool) ([]kiteconnect.HistoricalData, error)
}

// KiteSource fetches daily candles through Kite Connect. It reuses the session
// token persisted by a prior login (see CompleteLogin). Kite candles carry no
// corporate-action annotations.
type KiteSource struct {
	client        kiteClient
	apiSecret     string
	tokenPath     string
	exchange      models.Exchange
	authenticated bool
	tokens        map[string]uint32
	mu            sync.RWMutex
}

// sessionData represents persisted session data.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewKiteSource creates a Kite source and loads any saved session from disk.
func NewKiteSource(cfg KiteConfig) *KiteSource {
	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		tokenPath = filepath.Join(homeDir, ".config", "v20-scanner", "session.json")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = models.NSE
	}

	k := &KiteSource{
		client:    kiteconnect.New(cfg.APIKey),
		apiSecret: cfg.APISecret,
		tokenPath: tokenPath,
		exchange:  exchange,
		tokens:    make(map[string]uint32),
	}
	_ = k.loadSession()
	return k
}

// Name returns the source name.
func (k *KiteSource) Name() string {
	return "kite"
}

// IsAuthenticated reports whether a valid session token was loaded.
func (k *KiteSource) IsAuthenticated() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.authenticated
}

func (k *KiteSource) loadSession() error {
	data, err := os.ReadFile(k.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	// Kite tokens expire at 6 AM IST the next day
	if time.Now().After(session.ExpiresAt) {
		return fmt.Errorf("session expired")
	}

	k.mu.Lock()
	k.authenticated = true
	k.client.SetAccessToken(session.AccessToken)
	k.mu.Unlock()

	return nil
}

// LoginURL returns the Kite login page that redirects back with a request token.
func (k *KiteSource) LoginURL() string {
	return k.client.GetLoginURL()
}

// CompleteLogin exchanges a request token for an access token and persists
// the session for later runs.
func (k *KiteSource) CompleteLogin(requestToken string) error {
	if k.apiSecret == "" {
		return fmt.Errorf("kite api secret is not configured")
	}
	session, err := k.client.GenerateSession(requestToken, k.apiSecret)
	if err != nil {
		return fmt.Errorf("failed to generate session: %w", err)
	}

	k.mu.Lock()
	k.authenticated = true
	k.client.SetAccessToken(session.AccessToken)
	k.mu.Unlock()

	return k.saveSession(session.AccessToken, time.Now())
}

// Logout forgets the persisted session.
func (k *KiteSource) Logout() error {
	k.mu.Lock()
	k.authenticated = false
	k.mu.Unlock()
	if err := os.Remove(k.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// SessionExpiry returns when the saved session stops being valid, or the zero
// time when there is none.
func (k *KiteSource) SessionExpiry() time.Time {
	data, err := os.ReadFile(k.tokenPath)
	if err != nil {
		return time.Time{}
	}
	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return time.Time{}
	}
	return session.ExpiresAt
}

// saveSession writes the token with an expiry of 06:00 IST the next day.
func (k *KiteSource) saveSession(accessToken string, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(k.tokenPath), 0o700); err != nil {
		return err
	}
	ist := time.FixedZone("IST", 5*3600+1800)
	now = now.In(ist)
	session := sessionData{
		AccessToken: accessToken,
		ExpiresAt:   time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, ist),
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return os.WriteFile(k.tokenPath, data, 0o600)
}

// FetchHistory fetches day candles for [from, to].
func (k *KiteSource) FetchHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.RawRow, error) {
	if !k.IsAuthenticated() {
		return nil, apperrors.NewFetchError(k.Name(), symbol, from, to, apperrors.ErrNotAuthenticated)
	}

	token, err := k.instrumentToken(symbol)
	if err != nil {
		return nil, apperrors.NewFetchError(k.Name(), symbol, from, to, err)
	}

	logger := logging.WithSymbol(logging.FromContext(ctx), symbol)

	var rows []models.RawRow
	for _, window := range chunk(from, to, kiteMaxDays) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		data, err := k.client.GetHistoricalData(int(token), "day", window[0], window[1], false, false)
		logging.LogAPICall(logger, "GET", "historical/day", time.Since(start), err)
		if err != nil {
			return nil, apperrors.NewFetchError(k.Name(), symbol, window[0], window[1], err)
		}
		for _, d := range data {
			row := models.RawRow{
				Date:   models.DayOf(d.Date.Time),
				Open:   d.Open,
				High:   d.High,
				Low:    d.Low,
				Close:  d.Close,
				Volume: float64(d.Volume),
			}
			if err := checkPrices(symbol, row); err != nil {
				logger.Warn().Err(err).Msg("Dropping unusable candle")
				continue
			}
			rows = append(rows, row)
		}
	}

	if len(rows) == 0 {
		return nil, apperrors.ErrNoDataAvailable
	}
	return rows, nil
}

// instrumentToken resolves a trading symbol, loading the instrument dump once.
func (k *KiteSource) instrumentToken(symbol string) (uint32, error) {
	k.mu.RLock()
	token, ok := k.tokens[symbol]
	loaded := len(k.tokens) > 0
	k.mu.RUnlock()
	if ok {
		return token, nil
	}
	if loaded {
		return 0, fmt.Errorf("%w: %s", apperrors.ErrSymbolNotFound, symbol)
	}

	instruments, err := k.client.GetInstruments()
	if err != nil {
		return 0, fmt.Errorf("failed to get instruments: %w", err)
	}

	k.mu.Lock()
	for _, inst := range instruments {
		if inst.Exchange == string(k.exchange) {
			k.tokens[inst.Tradingsymbol] = uint32(inst.InstrumentToken)
		}
	}
	token, ok = k.tokens[symbol]
	k.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s", apperrors.ErrSymbolNotFound, symbol)
	}
	return token, nil
}
