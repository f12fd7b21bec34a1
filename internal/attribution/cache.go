package attribution

import (
	"context"
	"fmt"

	bq "github.com/dmelnik/rentdesk/internal/bigquery"
	"github.com/rs/zerolog"
)

// CacheResolver resolves a sender through the durable sender-mapping table
// populated by earlier successful resolutions. It is self-healing: a mapping
// whose person no longer exists is deleted and the chain falls through to
// the slower stages.
type CacheResolver struct {
	mappings bq.MappingRepository
	tenants  bq.TenantRepository
	log      zerolog.Logger
}

// NewCacheResolver creates the cache stage.
func NewCacheResolver(mappings bq.MappingRepository, tenants bq.TenantRepository, log zerolog.Logger) *CacheResolver {
	return &CacheResolver{
		mappings: mappings,
		tenants:  tenants,
		log:      log,
	}
}

// Name implements Resolver.
func (r *CacheResolver) Name() string { return MatchMethodCached }

// Resolve implements Resolver.
func (r *CacheResolver) Resolve(ctx context.Context, req *Request) (*MatchResult, error) {
	mapping, err := r.mappings.FindMapping(ctx, req.Normalized)
	if err != nil {
		return nil, fmt.Errorf("CacheResolver.Resolve: lookup: %w", err)
	}
	if mapping == nil {
		return nil, nil
	}

	person, err := r.tenants.FindPersonByID(ctx, mapping.PersonID)
	if err != nil {
		return nil, fmt.Errorf("CacheResolver.Resolve: person lookup: %w", err)
	}
	if person == nil {
		// Stale mapping: the person was deleted. Drop it and fall through.
		r.log.Warn().
			Str("normalized", req.Normalized).
			Str("person_id", mapping.PersonID).
			Msg("Removing sender mapping for deleted person")
		if err := r.mappings.DeleteMapping(ctx, req.Normalized); err != nil {
			r.log.Error().Err(err).Str("normalized", req.Normalized).Msg("Failed to delete stale sender mapping")
		}
		return nil, nil
	}

	fullName := person.FirstName + " " + person.LastName

	assignment, err := r.tenants.FindOpenAssignment(ctx, mapping.PersonID)
	if err != nil {
		return nil, fmt.Errorf("CacheResolver.Resolve: assignment lookup: %w", err)
	}
	if assignment == nil {
		// Known person, but nothing to book the payment against. Not
		// recordable; surface the person so a reviewer sees why.
		return &MatchResult{
			Matched:    false,
			PersonID:   person.PersonID,
			PersonName: fullName,
			Confidence: mapping.Confidence,
			Method:     MatchMethodCached,
			Reasoning:  "sender is a known person with no currently-relevant assignment",
			Suggestions: []Suggestion{{
				PersonID:   person.PersonID,
				Name:       fullName,
				Confidence: mapping.Confidence,
				Reasoning:  "cached sender mapping, assignment closed",
			}},
		}, nil
	}

	return &MatchResult{
		Matched:      true,
		PersonID:     person.PersonID,
		PersonName:   fullName,
		AssignmentID: assignment.AssignmentID,
		Confidence:   mapping.Confidence,
		Method:       MatchMethodCached,
		Reasoning:    fmt.Sprintf("cached mapping (%s)", mapping.MatchSource),
	}, nil
}
