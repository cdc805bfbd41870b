// Package web serves the browser UI for editing the watch-list and running
// breakout scans.
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"v20-scanner/internal/analysis/breakout"
	"v20-scanner/internal/models"
	"v20-scanner/internal/watchlist"
)

//go:embed templates/*.html
var templateFS embed.FS

// Scanner runs a breakout scan over a set of symbols.
type Scanner interface {
	Scan(ctx context.Context, symbols []string, params breakout.ScanParams) (*breakout.ScanResult, error)
}

// Options configures the UI server.
type Options struct {
	StocksPath string
	Defaults   breakout.ScanParams
	SaveScans  bool
}

// Server renders the UI pages.
type Server struct {
	scanner Scanner
	opts    Options
	logger  zerolog.Logger
	pages   map[string]*template.Template

	// serialises watch-list rewrites
	mu sync.Mutex
}

// NewServer parses the page templates and returns a UI server.
func NewServer(scanner Scanner, opts Options, logger zerolog.Logger) (*Server, error) {
	if opts.Defaults.HistoryWindow == 0 {
		opts.Defaults = breakout.DefaultScanParams()
	}
	funcs := template.FuncMap{
		"date":  func(t time.Time) string { return t.Format(models.DisplayDateLayout) },
		"price": func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
		"pct":   func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) + "%" },
		"num":   func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
	}

	pages := make(map[string]*template.Template)
	for _, name := range []string{"run", "stocks"} {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		pages[name] = t
	}

	return &Server{
		scanner: scanner,
		opts:    opts,
		logger:  logger.With().Str("component", "web").Logger(),
		pages:   pages,
	}, nil
}

// Handler returns the UI routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stocks", s.handleStocks)
	mux.HandleFunc("/run", s.handleRun)
	return s.logRequests(mux)
}

// ListenAndServe serves the UI on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Serving UI")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down UI server")
		return srv.Shutdown(shutdownCtx)
	}
}

type page struct {
	Title string
	Error string
}

type stocksPage struct {
	page
	Stocks  string
	Success bool
	Count   int
}

type runPage struct {
	page
	Stocks            string
	History           int
	Margin            float64
	FilterByLastClose bool
	LastCloseMargin   float64
	Candidates        []models.BreakoutCandidate
	Failures          []string
	NoResults         bool
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/run", http.StatusFound)
}

func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	data := stocksPage{page: page{Title: "Stocks"}}

	switch r.Method {
	case http.MethodGet:
		symbols, err := s.loadWatchlist()
		if err != nil {
			data.Error = err.Error()
		}
		data.Stocks = watchlist.Text(symbols)
		s.render(w, http.StatusOK, "stocks", data)

	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			data.Error = "Invalid form"
			s.render(w, http.StatusBadRequest, "stocks", data)
			return
		}
		s.mu.Lock()
		saved, err := watchlist.Save(s.opts.StocksPath, strings.Split(r.PostFormValue("stocks"), "\n"))
		s.mu.Unlock()
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to save stocks list")
			data.Stocks = r.PostFormValue("stocks")
			data.Error = "Could not save stocks list: " + err.Error()
			s.render(w, http.StatusBadRequest, "stocks", data)
			return
		}
		s.logger.Info().Int("symbols", len(saved)).Msg("Stocks list updated")
		data.Stocks = watchlist.Text(saved)
		data.Success = true
		data.Count = len(saved)
		s.render(w, http.StatusOK, "stocks", data)

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	d := s.opts.Defaults
	data := runPage{
		page:              page{Title: "Run scan"},
		History:           d.HistoryWindow,
		Margin:            d.Config.MarginThresholdPct,
		FilterByLastClose: d.Config.FilterByLastClose,
		LastCloseMargin:   d.Config.LastCloseMarginThresholdPct,
	}

	switch r.Method {
	case http.MethodGet:
		symbols, err := s.loadWatchlist()
		if err != nil {
			data.Error = err.Error()
		}
		data.Stocks = watchlist.Text(symbols)
		data.NoResults = true
		s.render(w, http.StatusOK, "run", data)

	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			data.Error = "Invalid form"
			s.render(w, http.StatusBadRequest, "run", data)
			return
		}
		data.Stocks = r.PostFormValue("stocks")
		params, err := parseRunForm(r, d)
		data.History = params.HistoryWindow
		data.Margin = params.Config.MarginThresholdPct
		data.FilterByLastClose = params.Config.FilterByLastClose
		data.LastCloseMargin = params.Config.LastCloseMarginThresholdPct
		if err != nil {
			data.Error = err.Error()
			data.NoResults = true
			s.render(w, http.StatusBadRequest, "run", data)
			return
		}
		params.Save = s.opts.SaveScans

		res, err := s.scanner.Scan(r.Context(), watchlist.ParseText(data.Stocks), params)
		if err != nil {
			s.logger.Error().Err(err).Msg("Scan failed")
			if res == nil {
				data.Error = "Scan failed"
				data.NoResults = true
				s.render(w, http.StatusInternalServerError, "run", data)
				return
			}
		}
		data.Candidates = res.Candidates
		for _, f := range res.Failures {
			data.Failures = append(data.Failures, f.Symbol)
		}
		data.NoResults = res.Empty()
		s.render(w, http.StatusOK, "run", data)

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// parseRunForm reads the scan parameters, falling back to defaults for
// blank fields. An unchecked filter box means the filter is off.
func parseRunForm(r *http.Request, d breakout.ScanParams) (breakout.ScanParams, error) {
	p := d
	p.Config.FilterByLastClose = r.PostForm.Has("filter-by-last-close")

	var errs []string
	if v := strings.TrimSpace(r.PostFormValue("history")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, "history must be a whole number")
		} else {
			p.HistoryWindow = n
		}
	}
	parsePct := func(field string, dst *float64) {
		v := strings.TrimSpace(r.PostFormValue(field))
		if v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, field+" must be a number")
			return
		}
		*dst = f
	}
	parsePct("margin", &p.Config.MarginThresholdPct)
	parsePct("last-close-margin", &p.Config.LastCloseMarginThresholdPct)

	if len(errs) > 0 {
		return p, errors.New(strings.Join(errs, "; "))
	}
	return p, p.Validate()
}

func (s *Server) loadWatchlist() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return watchlist.Load(s.opts.StocksPath)
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.Error().Err(err).Str("page", name).Msg("Template render failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
