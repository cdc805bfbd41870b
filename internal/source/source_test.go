package source

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"

	"v20-scanner/internal/config"
	apperrors "v20-scanner/internal/errors"
	"v20-scanner/internal/models"
)

type stubSource struct {
	calls     int
	suspended bool
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.RawRow, error) {
	s.calls++
	return []models.RawRow{{Date: from, Open: 1, High: 1, Low: 1, Close: 1}}, nil
}

func (s *stubSource) IsSuspended(ctx context.Context, symbol string) (bool, string, error) {
	return s.suspended, "Suspended", nil
}

func TestRateLimiter_Burst(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, 3)
	rl.lastUpdate = now
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if rl.Allow() {
		t.Fatal("request beyond burst allowed")
	}

	now = now.Add(500 * time.Millisecond)
	if !rl.Allow() {
		t.Error("token not refilled after 1/rate seconds")
	}
	if rl.Allow() {
		t.Error("more than one token refilled")
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestThrottled_Delegates(t *testing.T) {
	inner := &stubSource{suspended: true}
	src := NewThrottled(inner, 1000, 10)

	if src.Name() != "stub" || src.Unwrap() != inner {
		t.Error("Throttled does not expose the wrapped source")
	}
	rows, err := src.FetchHistory(context.Background(), "TCS", day("2024-01-01"), day("2024-01-02"))
	if err != nil || len(rows) != 1 || inner.calls != 1 {
		t.Errorf("FetchHistory() = %v, %v (calls %d)", rows, err, inner.calls)
	}
	suspended, _, err := src.IsSuspended(context.Background(), "TCS")
	if err != nil || !suspended {
		t.Errorf("IsSuspended() = %v, %v", suspended, err)
	}
}

func TestNew(t *testing.T) {
	cfg := config.Default()

	src, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if src.Name() != "nse" {
		t.Errorf("default source = %s, want nse", src.Name())
	}
	if _, ok := src.(*Throttled); !ok {
		t.Errorf("source not throttled: %T", src)
	}

	cfg.Sync.Source = "carrier-pigeon"
	if _, err := New(cfg); err == nil {
		t.Error("New() accepted an unknown source")
	}
}

type fakeKite struct {
	token       string
	instruments kiteconnect.Instruments
	candles     []kiteconnect.HistoricalData
	gotToken    int
	gotInterval string
}

func (f *fakeKite) SetAccessToken(token string) { f.token = token }

func (f *fakeKite) GetLoginURL() string { return "https://kite.zerodha.com/connect/login?v=3&api_key=test" }

func (f *fakeKite) GenerateSession(requestToken, apiSecret string) (kiteconnect.UserSession, error) {
	if requestToken != "good" || apiSecret != "secret" {
		return kiteconnect.UserSession{}, errors.New("invalid token")
	}
	var s kiteconnect.UserSession
	s.AccessToken = "access-123"
	return s, nil
}

func (f *fakeKite) GetInstruments() (kiteconnect.Instruments, error) {
	return f.instruments, nil
}

func (f *fakeKite) GetHistoricalData(token int, interval string, from, to time.Time, continuous, oi bool) ([]kiteconnect.HistoricalData, error) {
	f.gotToken, f.gotInterval = token, interval
	return f.candles, nil
}

func TestKiteSource_FetchHistory(t *testing.T) {
	fake := &fakeKite{
		instruments: kiteconnect.Instruments{
			{InstrumentToken: 2953217, Tradingsymbol: "TCS", Exchange: "NSE"},
			{InstrumentToken: 1, Tradingsymbol: "TCS", Exchange: "BSE"},
		},
		candles: []kiteconnect.HistoricalData{{
			Date:   kitemodels.Time{Time: time.Date(2024, 1, 2, 0, 0, 0, 0, time.FixedZone("IST", 19800))},
			Open:   100, High: 110, Low: 95, Close: 105, Volume: 5000,
		}, {
			Date:   kitemodels.Time{Time: time.Date(2024, 1, 3, 0, 0, 0, 0, time.FixedZone("IST", 19800))},
			Open:   100, High: 90, Low: 95, Close: 105, Volume: 5000,
		}, {
			Date:   kitemodels.Time{Time: time.Date(2024, 1, 4, 0, 0, 0, 0, time.FixedZone("IST", 19800))},
			Open:   100, High: 110, Low: 0, Close: 105, Volume: 5000,
		}},
	}
	k := &KiteSource{client: fake, exchange: models.NSE, tokens: map[string]uint32{}, authenticated: true}

	rows, err := k.FetchHistory(context.Background(), "TCS", day("2024-01-01"), day("2024-01-05"))
	if err != nil {
		t.Fatalf("FetchHistory() error = %v", err)
	}
	if fake.gotToken != 2953217 || fake.gotInterval != "day" {
		t.Errorf("called with token %d interval %s", fake.gotToken, fake.gotInterval)
	}
	if len(rows) != 1 || !rows[0].Date.Equal(day("2024-01-02")) || rows[0].Volume != 5000 {
		t.Errorf("rows = %+v, want the one sane candle", rows)
	}

	if _, err := k.FetchHistory(context.Background(), "NOPE", day("2024-01-01"), day("2024-01-05")); !apperrors.Is(err, apperrors.ErrSymbolNotFound) {
		t.Errorf("unknown symbol error = %v", err)
	}
}

func TestKiteSource_RequiresSession(t *testing.T) {
	dir := t.TempDir()
	expired := filepath.Join(dir, "expired.json")
	data, _ := json.Marshal(sessionData{AccessToken: "abc", ExpiresAt: time.Now().Add(-time.Hour)})
	os.WriteFile(expired, data, 0600)

	k := NewKiteSource(KiteConfig{APIKey: "key", TokenPath: expired})
	if k.IsAuthenticated() {
		t.Fatal("expired session accepted")
	}
	_, err := k.FetchHistory(context.Background(), "TCS", day("2024-01-01"), day("2024-01-05"))
	if !apperrors.Is(err, apperrors.ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}

	valid := filepath.Join(dir, "valid.json")
	data, _ = json.Marshal(sessionData{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)})
	os.WriteFile(valid, data, 0600)
	if !NewKiteSource(KiteConfig{APIKey: "key", TokenPath: valid}).IsAuthenticated() {
		t.Error("valid session rejected")
	}
}

func TestKiteSource_LoginPersistsSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kite", "session.json")
	fake := &fakeKite{}
	k := &KiteSource{client: fake, apiSecret: "secret", tokenPath: path, tokens: map[string]uint32{}}

	if err := k.CompleteLogin("bad"); err == nil {
		t.Fatal("CompleteLogin() accepted a bad token")
	}
	if err := k.CompleteLogin("good"); err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}
	if !k.IsAuthenticated() || fake.token != "access-123" {
		t.Errorf("authenticated = %v, token = %q", k.IsAuthenticated(), fake.token)
	}
	if expiry := k.SessionExpiry(); !expiry.After(time.Now()) || expiry.Hour() != 6 {
		t.Errorf("session expiry = %s, want next 06:00 IST", expiry)
	}

	if err := k.Logout(); err != nil {
		t.Fatal(err)
	}
	if k.IsAuthenticated() || !k.SessionExpiry().IsZero() {
		t.Error("session survived logout")
	}
}
