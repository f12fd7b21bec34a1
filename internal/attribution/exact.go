package attribution

import (
	"context"
	"fmt"
	"time"

	bq "github.com/dmelnik/rentdesk/internal/bigquery"
	"github.com/rs/zerolog"
)

// ExactResolver scans the full roster of tenant-typed persons for a literal
// match on the normalized name. Hits are promoted into the sender-mapping
// cache at confidence 1.0 so the next identical sender skips the scan.
type ExactResolver struct {
	tenants  bq.TenantRepository
	mappings bq.MappingRepository
	log      zerolog.Logger
}

// NewExactResolver creates the exact-match stage.
func NewExactResolver(tenants bq.TenantRepository, mappings bq.MappingRepository, log zerolog.Logger) *ExactResolver {
	return &ExactResolver{
		tenants:  tenants,
		mappings: mappings,
		log:      log,
	}
}

// Name implements Resolver.
func (r *ExactResolver) Name() string { return MatchMethodExact }

// Resolve implements Resolver.
func (r *ExactResolver) Resolve(ctx context.Context, req *Request) (*MatchResult, error) {
	persons, err := r.tenants.ListTenantPersons(ctx)
	if err != nil {
		return nil, fmt.Errorf("ExactResolver.Resolve: list persons: %w", err)
	}

	var hit *bq.PersonRow
	for _, p := range persons {
		if NormalizeName(p.FirstName+" "+p.LastName) == req.Normalized {
			hit = p
			break
		}
	}
	if hit == nil {
		return nil, nil
	}

	fullName := hit.FirstName + " " + hit.LastName

	// Promote into the cache before returning; a write failure costs a
	// future cache miss, nothing more.
	mapping := &bq.SenderMappingRow{
		SenderNameRaw:        req.SenderName,
		SenderNameNormalized: req.Normalized,
		PersonID:             hit.PersonID,
		Confidence:           1.0,
		MatchSource:          bq.MatchSourceExact,
		UpdatedTS:            time.Now(),
	}
	if err := r.mappings.UpsertMapping(ctx, mapping); err != nil {
		r.log.Error().Err(err).Str("normalized", req.Normalized).Msg("Failed to cache exact match")
	}

	assignment, err := r.tenants.FindOpenAssignment(ctx, hit.PersonID)
	if err != nil {
		return nil, fmt.Errorf("ExactResolver.Resolve: assignment lookup: %w", err)
	}
	if assignment == nil {
		return &MatchResult{
			Matched:    false,
			PersonID:   hit.PersonID,
			PersonName: fullName,
			Confidence: 1.0,
			Method:     MatchMethodExact,
			Reasoning:  "exact name match but no currently-relevant assignment",
			Suggestions: []Suggestion{{
				PersonID:   hit.PersonID,
				Name:       fullName,
				Confidence: 1.0,
				Reasoning:  "exact name match, assignment closed",
			}},
		}, nil
	}

	return &MatchResult{
		Matched:      true,
		PersonID:     hit.PersonID,
		PersonName:   fullName,
		AssignmentID: assignment.AssignmentID,
		Confidence:   1.0,
		Method:       MatchMethodExact,
		Reasoning:    "exact normalized name match",
	}, nil
}
