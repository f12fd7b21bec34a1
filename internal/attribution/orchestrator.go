package attribution

import (
	"context"
	"fmt"
	"time"

	bq "github.com/dmelnik/rentdesk/internal/bigquery"
	"github.com/rs/zerolog"
)

// Matcher runs the resolver chain for one attribution attempt: cache
// lookup, exact roster scan, then the AI matcher. The first stage that
// returns a terminal result wins and later stages are skipped.
type Matcher struct {
	mappings       bq.MappingRepository
	resolvers      []Resolver
	matchThreshold float64
	log            zerolog.Logger
}

// NewMatcher wires the standard three-stage chain.
func NewMatcher(tenants bq.TenantRepository, mappings bq.MappingRepository, oracle Oracle, matchThreshold, suggestionFloor float64, log zerolog.Logger) *Matcher {
	if matchThreshold <= 0 {
		matchThreshold = DefaultMatchThreshold
	}
	return &Matcher{
		mappings: mappings,
		resolvers: []Resolver{
			NewCacheResolver(mappings, tenants, log),
			NewExactResolver(tenants, mappings, log),
			NewAIResolver(tenants, oracle, matchThreshold, suggestionFloor, log),
		},
		matchThreshold: matchThreshold,
		log:            log,
	}
}

// Match attributes a sender name to a tenant. forceAI skips the cache
// stage so a caller can demand a fresh AI pass for a name that was cached
// wrongly. No stage is retried; the AI stage degrades internally instead
// of failing the attempt.
func (m *Matcher) Match(ctx context.Context, senderName string, amount *float64, forceAI bool) (*MatchResult, error) {
	normalized := NormalizeName(senderName)
	if normalized == "" {
		return nil, fmt.Errorf("Matcher.Match: empty sender name")
	}

	req := &Request{
		SenderName: senderName,
		Normalized: normalized,
		Amount:     amount,
	}

	for _, resolver := range m.resolvers {
		if forceAI && resolver.Name() == MatchMethodCached {
			continue
		}

		result, err := resolver.Resolve(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("Matcher.Match: %s stage: %w", resolver.Name(), err)
		}
		if result == nil {
			continue
		}

		m.log.Info().
			Str("sender", senderName).
			Str("stage", resolver.Name()).
			Bool("matched", result.Matched).
			Float64("confidence", result.Confidence).
			Msg("Attribution settled")

		// A confident AI match is promoted into the cache so the next
		// identical sender resolves without an oracle call.
		if result.Matched && result.Method == MatchMethodGemini {
			m.cacheAIMatch(ctx, req, result)
		}

		return result, nil
	}

	// The AI stage is terminal, so this is unreachable with the standard
	// chain; it guards custom resolver sets.
	return failedResult("no resolver produced a result"), nil
}

func (m *Matcher) cacheAIMatch(ctx context.Context, req *Request, result *MatchResult) {
	mapping := &bq.SenderMappingRow{
		SenderNameRaw:        req.SenderName,
		SenderNameNormalized: req.Normalized,
		PersonID:             result.PersonID,
		Confidence:           result.Confidence,
		MatchSource:          bq.MatchSourceGemini,
		UpdatedTS:            time.Now(),
	}
	if err := m.mappings.UpsertMapping(ctx, mapping); err != nil {
		m.log.Error().Err(err).Str("normalized", req.Normalized).Msg("Failed to cache AI match")
	}
}
