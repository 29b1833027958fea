package domain

import (
	"encoding/json"
	"time"
)

// QuoteRequest asks for pricing of one loan against one or every lender
// offering a program.
type QuoteRequest struct {
	// LenderID selects a single lender. Empty prices every enabled lender.
	LenderID    string    `json:"lenderId,omitempty"`
	LoanProgram string    `json:"loanProgram"`
	Input       LoanInput `json:"input"`
}

// LenderOutcome is one lender's share of a multi-lender quote.
type LenderOutcome struct {
	LenderID   string            `json:"lenderId"`
	LenderName string            `json:"lenderName"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Results    int               `json:"results"`
	Error      string            `json:"error,omitempty"`
}

// QuoteMetadata describes how a quote was produced.
type QuoteMetadata struct {
	LenderCount int     `json:"lenderCount"`
	Variants    int     `json:"variants"`
	Skipped     int     `json:"skipped"`
	DurationMs  float64 `json:"durationMs"`
	TraceID     string  `json:"traceId,omitempty"`
	PricedAt    string  `json:"pricedAt"`
}

// QuoteResponse is the pricing response contract.
type QuoteResponse struct {
	Success    bool              `json:"success"`
	QuoteID    string            `json:"quoteId,omitempty"`
	Data       []PricingResult   `json:"data,omitempty"`
	Error      string            `json:"error,omitempty"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Lenders    []LenderOutcome   `json:"lenders,omitempty"`
	Metadata   *QuoteMetadata    `json:"metadata,omitempty"`
}

// BestRate returns the lowest final rate, or 0 when nothing was priced.
func (r *QuoteResponse) BestRate() float64 {
	if len(r.Data) == 0 {
		return 0
	}
	return r.Data[0].FinalRate
}

// Quote is a persisted pricing request and its response.
type Quote struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	LenderID  string          `json:"lenderId"`
	ProgramID string          `json:"programId"`
	Success   bool            `json:"success"`
	BestRate  float64         `json:"bestRate"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response"`
	CreatedAt time.Time       `json:"createdAt"`
}

// QuoteEvent is published on TopicQuotePriced and TopicQuoteIneligible.
type QuoteEvent struct {
	QuoteID     string  `json:"quoteId"`
	TenantID    string  `json:"tenantId"`
	LenderID    string  `json:"lenderId,omitempty"`
	ProgramID   string  `json:"programId"`
	Success     bool    `json:"success"`
	BestRate    float64 `json:"bestRate,omitempty"`
	LenderCount int     `json:"lenderCount"`
	Error       string  `json:"error,omitempty"`
}
