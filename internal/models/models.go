// Package models provides domain models for the scanner.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// DateLayout is the storage and API date format.
const DateLayout = "2006-01-02"

// DisplayDateLayout is the human-facing date format used in scan output.
const DisplayDateLayout = "2-Jan-2006"

// Bar represents one trading day of OHLCV data for a symbol.
// Volume is fractional because adjustment scales it by non-integer ratios.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	MA     float64 // trailing simple moving average of Close, including this bar
	HasMA  bool
}

// IsGreen reports whether the bar closed above its open.
func (b Bar) IsGreen() bool {
	return b.Close > b.Open
}

// Day returns the calendar day of the bar, truncated to midnight UTC.
func (b Bar) Day() time.Time {
	return DayOf(b.Date)
}

// DayOf truncates t to its calendar day, keeping the wall-clock date.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RawAnnotation is one corporate-action entry as reported by the remote source.
type RawAnnotation struct {
	Subject string `json:"subject"`
	ExDate  string `json:"exDate"`
}

// RawRow is a bar as fetched from a history source, before adjustment.
type RawRow struct {
	Date        time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	Annotations []RawAnnotation
}

// Bar converts the row into an unadjusted bar, dropping annotations.
func (r RawRow) Bar() Bar {
	return Bar{
		Date:   DayOf(r.Date),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

// CorporateActionKind identifies the type of a corporate action.
type CorporateActionKind string

const (
	ActionSplit CorporateActionKind = "SPLIT"
	ActionBonus CorporateActionKind = "BONUS"
)

// CorporateAction is a price-basis-changing event effective from EffectiveDate.
// Bars strictly before EffectiveDate are divided by Ratio.
type CorporateAction struct {
	Kind          CorporateActionKind
	EffectiveDate time.Time
	Ratio         float64
	Subject       string
}

func (a CorporateAction) String() string {
	return fmt.Sprintf("%s %s x%.4g", a.Kind, a.EffectiveDate.Format(DateLayout), a.Ratio)
}

// SyncStatus is the outcome of bringing one symbol up to date.
type SyncStatus string

const (
	StatusAlreadyFresh    SyncStatus = "ALREADY_FRESH"
	StatusInitialDownload SyncStatus = "INITIAL_DOWNLOAD"
	StatusUpdated         SyncStatus = "UPDATED"
	StatusNoNewData       SyncStatus = "NO_NEW_DATA"
	StatusFailed          SyncStatus = "FAILED"
	StatusSuspended       SyncStatus = "SUSPENDED"
)

// SyncResult describes what a sync did for one symbol.
type SyncResult struct {
	Symbol   string
	Status   SyncStatus
	Message  string
	LastDate time.Time // zero if the symbol has no stored data
	Bars     int       // bars stored after the operation
	Actions  int       // corporate actions applied
	Err      error
}

// Changed reports whether the result wrote new data to storage.
func (r SyncResult) Changed() bool {
	return r.Status == StatusInitialDownload || r.Status == StatusUpdated
}

// BreakoutCandidate is an immutable description of one qualifying green run.
type BreakoutCandidate struct {
	Symbol             string    `json:"symbol"`
	RunStartDate       time.Time `json:"run_start_date"`
	MarginPct          float64   `json:"margin_pct"`
	PriorMA            float64   `json:"prior_ma"`
	HasPriorMA         bool      `json:"has_prior_ma"`
	LowDate            time.Time `json:"low_date"`
	LowPrice           float64   `json:"low_price"`
	HighDate           time.Time `json:"high_date"`
	HighPrice          float64   `json:"high_price"`
	BuyDate            time.Time `json:"buy_date"`
	HasBuyDate         bool      `json:"has_buy_date"`
	ProfitPotentialPct float64   `json:"profit_potential_pct"`
}

// String renders the candidate in the pipe-delimited report format:
// SYMBOL|start|margin%|priorMA|lowDate|low|highDate|high
func (c BreakoutCandidate) String() string {
	prior := "-"
	if c.HasPriorMA {
		prior = fmt.Sprintf("%.2f", c.PriorMA)
	}
	return strings.Join([]string{
		c.Symbol,
		c.RunStartDate.Format(DisplayDateLayout),
		fmt.Sprintf("%.2f%%", c.MarginPct),
		prior,
		c.LowDate.Format(DisplayDateLayout),
		fmt.Sprintf("%.2f", c.LowPrice),
		c.HighDate.Format(DisplayDateLayout),
		fmt.Sprintf("%.2f", c.HighPrice),
	}, "|")
}
