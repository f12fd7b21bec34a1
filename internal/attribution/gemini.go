package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	bq "github.com/dmelnik/rentdesk/internal/bigquery"
	"github.com/rs/zerolog"
)

// AIResolver asks the reasoning oracle to rank the currently-relevant
// tenant roster against the sender name. It is the last and most expensive
// stage, and it is deliberately failure-tolerant: any oracle problem
// (network error, timeout, malformed output) degrades to an unmatched
// result so recording can still route the attempt to manual review.
type AIResolver struct {
	tenants         bq.TenantRepository
	oracle          Oracle
	matchThreshold  float64
	suggestionFloor float64
	log             zerolog.Logger
}

// NewAIResolver creates the AI matching stage. Zero thresholds fall back to
// the package defaults.
func NewAIResolver(tenants bq.TenantRepository, oracle Oracle, matchThreshold, suggestionFloor float64, log zerolog.Logger) *AIResolver {
	if matchThreshold <= 0 {
		matchThreshold = DefaultMatchThreshold
	}
	if suggestionFloor <= 0 {
		suggestionFloor = DefaultSuggestionFloor
	}
	return &AIResolver{
		tenants:         tenants,
		oracle:          oracle,
		matchThreshold:  matchThreshold,
		suggestionFloor: suggestionFloor,
		log:             log,
	}
}

// Name implements Resolver.
func (r *AIResolver) Name() string { return MatchMethodGemini }

// Resolve implements Resolver. It always returns a terminal result.
func (r *AIResolver) Resolve(ctx context.Context, req *Request) (*MatchResult, error) {
	roster, err := r.tenants.ListRelevantTenants(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("AI stage could not load tenant roster")
		return failedResult(fmt.Sprintf("roster load failure: %v", err)), nil
	}
	if len(roster) == 0 {
		return failedResult("no currently-relevant tenants to match against"), nil
	}

	prompt := buildMatchPrompt(req, roster)

	raw, err := r.oracle.GenerateText(ctx, prompt)
	if err != nil {
		r.log.Error().Err(err).Str("sender", req.SenderName).Msg("Oracle call failed")
		return failedResult(fmt.Sprintf("oracle failure: %v", err)), nil
	}

	verdict, err := parseOracleVerdict(raw)
	if err != nil {
		r.log.Error().Err(err).Str("sender", req.SenderName).Msg("Oracle returned unparseable output")
		return failedResult(fmt.Sprintf("unparseable oracle output: %v", err)), nil
	}

	return r.interpret(req, roster, verdict), nil
}

// interpret maps the oracle's verdict back onto the roster and applies the
// confidence gate.
func (r *AIResolver) interpret(req *Request, roster []*bq.TenantRow, verdict *oracleVerdict) *MatchResult {
	best := tenantAt(roster, verdict.BestMatch)

	if best != nil && verdict.Confidence >= r.matchThreshold {
		return &MatchResult{
			Matched:      true,
			PersonID:     best.PersonID,
			PersonName:   best.FullName,
			AssignmentID: best.AssignmentID,
			Confidence:   verdict.Confidence,
			Method:       MatchMethodGemini,
			Reasoning:    verdict.Reasoning,
		}
	}

	// Below the gate: not a match, but keep the ranking for the reviewer.
	var suggestions []Suggestion
	if best != nil {
		suggestions = append(suggestions, Suggestion{
			PersonID:   best.PersonID,
			Name:       best.FullName,
			Confidence: verdict.Confidence,
			Reasoning:  verdict.Reasoning,
		})
	}
	for _, cand := range verdict.OtherPossibilities {
		if cand.Confidence <= r.suggestionFloor {
			continue
		}
		idx := cand.Index
		t := tenantAt(roster, &idx)
		if t == nil || (best != nil && t.PersonID == best.PersonID) {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			PersonID:   t.PersonID,
			Name:       t.FullName,
			Confidence: cand.Confidence,
			Reasoning:  cand.Reasoning,
		})
	}

	reasoning := verdict.Reasoning
	if reasoning == "" {
		reasoning = "no candidate reached the confidence threshold"
	}

	return &MatchResult{
		Matched:     false,
		Confidence:  verdict.Confidence,
		Method:      MatchMethodGemini,
		Reasoning:   reasoning,
		Suggestions: suggestions,
	}
}

// failedResult is the degraded outcome for any AI-stage failure: unmatched,
// no suggestions, diagnostic reasoning.
func failedResult(reasoning string) *MatchResult {
	return &MatchResult{
		Matched:   false,
		Method:    MatchMethodFailed,
		Reasoning: reasoning,
	}
}

// tenantAt maps a 1-based oracle index back to the roster, nil when out of
// range.
func tenantAt(roster []*bq.TenantRow, idx *int) *bq.TenantRow {
	if idx == nil || *idx < 1 || *idx > len(roster) {
		return nil
	}
	return roster[*idx-1]
}

// oracleVerdict is the strict JSON contract expected from the oracle.
type oracleVerdict struct {
	BestMatch          *int              `json:"best_match"`
	Confidence         float64           `json:"confidence"`
	Reasoning          string            `json:"reasoning"`
	OtherPossibilities []oracleCandidate `json:"other_possibilities"`
}

type oracleCandidate struct {
	Index      int     `json:"index"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// parseOracleVerdict parses the oracle's raw text, tolerating markdown
// fences and stray prose around the JSON object.
func parseOracleVerdict(raw string) (*oracleVerdict, error) {
	clean := cleanOracleJSON(raw)

	var verdict oracleVerdict
	if err := json.Unmarshal([]byte(clean), &verdict); err != nil {
		return nil, fmt.Errorf("parseOracleVerdict: unmarshal JSON: %w", err)
	}
	return &verdict, nil
}

// cleanOracleJSON strips markdown fences and keeps only the outermost JSON
// object when the model ignored the raw-JSON instruction.
func cleanOracleJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
