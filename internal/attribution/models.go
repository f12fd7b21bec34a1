package attribution

import (
	"time"
)

// Transfer methods recognized in bank activity text. Anything else is
// recorded as MethodOther.
const (
	MethodZelle  = "zelle"
	MethodVenmo  = "venmo"
	MethodACH    = "ach"
	MethodCheck  = "check"
	MethodWire   = "wire"
	MethodPaypal = "paypal"
	MethodOther  = "other"
)

// Match methods reported on a MatchResult.
const (
	MatchMethodCached = "cached"
	MatchMethodExact  = "exact"
	MatchMethodGemini = "gemini"
	MatchMethodFailed = "failed"
)

// TransactionDraft is the structured form of one raw bank-activity entry.
// It is produced once per incoming attempt, carried in memory through the
// pipeline, and never persisted standalone. Nil pointer fields mean the
// parser could not recover that value; no field is ever guessed.
type TransactionDraft struct {
	Amount          *float64
	TransactionDate *time.Time
	Method          string // one of the Method constants, or "" when unknown
	SenderNameRaw   string
	TrailingBalance *float64
	RawText         string
}

// Tenant is a read-only snapshot of one currently-relevant payer.
type Tenant struct {
	PersonID      string
	AssignmentID  string
	FullName      string
	Email         string
	MonthlyRent   float64
	DepositAmount float64
}

// Suggestion is one ranked candidate surfaced to a human reviewer when no
// stage produced a confident match.
type Suggestion struct {
	PersonID   string  `json:"person_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// MatchResult is the orchestrator's output, consumed immediately by the
// recording engine. An unmatched result may still carry a person (mapping
// hit with no open assignment) or suggestions (low-confidence AI ranking).
type MatchResult struct {
	Matched      bool
	PersonID     string
	PersonName   string
	AssignmentID string
	Confidence   float64
	Method       string
	Reasoning    string
	Suggestions  []Suggestion
}

// Request carries one attribution attempt through the resolver chain.
type Request struct {
	SenderName string
	Normalized string
	Amount     *float64
}
