package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/dmelnik/rentdesk/internal/bigquery"
	"google.golang.org/api/iterator"
)

// FindMapping looks up a sender mapping by normalized name. Returns nil when
// no mapping exists.
func (s *Store) FindMapping(ctx context.Context, normalized string) (*bq.SenderMappingRow, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			sender_name_raw,
			sender_name_normalized,
			person_id,
			confidence,
			match_source,
			updated_ts
		FROM %s
		WHERE sender_name_normalized = @normalized
		LIMIT 1
	`, s.table("sender_mappings")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "normalized", Value: normalized},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindMapping: query read: %w", err)
	}

	var row bq.SenderMappingRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindMapping: iterating: %w", err)
	}

	return &row, nil
}

// UpsertMapping inserts or replaces the mapping keyed by normalized name.
// MERGE keeps the at-most-one-row-per-name invariant under concurrent
// writers: the last write wins instead of erroring.
func (s *Store) UpsertMapping(ctx context.Context, row *bq.SenderMappingRow) error {
	q := s.client.Query(fmt.Sprintf(`
		MERGE %s m
		USING (
			SELECT
				@sender_name_raw        AS sender_name_raw,
				@sender_name_normalized AS sender_name_normalized,
				@person_id              AS person_id,
				@confidence             AS confidence,
				@match_source           AS match_source,
				@updated_ts             AS updated_ts
		) src
		ON m.sender_name_normalized = src.sender_name_normalized
		WHEN MATCHED THEN UPDATE SET
			sender_name_raw = src.sender_name_raw,
			person_id       = src.person_id,
			confidence      = src.confidence,
			match_source    = src.match_source,
			updated_ts      = src.updated_ts
		WHEN NOT MATCHED THEN INSERT (
			sender_name_raw, sender_name_normalized, person_id,
			confidence, match_source, updated_ts
		)
		VALUES (
			src.sender_name_raw, src.sender_name_normalized, src.person_id,
			src.confidence, src.match_source, src.updated_ts
		)
	`, s.table("sender_mappings")))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "sender_name_raw", Value: row.SenderNameRaw},
		{Name: "sender_name_normalized", Value: row.SenderNameNormalized},
		{Name: "person_id", Value: row.PersonID},
		{Name: "confidence", Value: row.Confidence},
		{Name: "match_source", Value: row.MatchSource},
		{Name: "updated_ts", Value: row.UpdatedTS},
	}

	if _, err := s.runDML(ctx, q, "UpsertMapping"); err != nil {
		return err
	}
	return nil
}

// DeleteMapping removes a mapping by normalized name. Used by the cache
// stage to drop mappings whose person no longer exists.
func (s *Store) DeleteMapping(ctx context.Context, normalized string) error {
	q := s.client.Query(fmt.Sprintf(`
		DELETE FROM %s
		WHERE sender_name_normalized = @normalized
	`, s.table("sender_mappings")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "normalized", Value: normalized},
	}

	if _, err := s.runDML(ctx, q, "DeleteMapping"); err != nil {
		return err
	}
	return nil
}

// ListMappings returns all sender mappings, most recently updated first.
func (s *Store) ListMappings(ctx context.Context) ([]*bq.SenderMappingRow, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			sender_name_raw,
			sender_name_normalized,
			person_id,
			confidence,
			match_source,
			updated_ts
		FROM %s
		ORDER BY updated_ts DESC
	`, s.table("sender_mappings")))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListMappings: query read: %w", err)
	}

	var rows []*bq.SenderMappingRow
	for {
		var row bq.SenderMappingRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListMappings: iterating: %w", err)
		}
		rows = append(rows, &row)
	}

	return rows, nil
}
