package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	bq "github.com/dmelnik/rentdesk/internal/bigquery"
	"github.com/google/uuid"
)

// InsertProcessingLog writes the audit row for an attribution attempt and
// returns its id. This happens before any recording decision so every
// attempt, matched or not, is traceable.
func (s *Store) InsertProcessingLog(ctx context.Context, row *bq.ProcessingLogRow) (string, error) {
	if row.LogID == "" {
		row.LogID = uuid.NewString()
	}
	if row.CreatedTS.IsZero() {
		row.CreatedTS = time.Now()
	}

	q := s.client.Query(fmt.Sprintf(`
		INSERT INTO %s (
			log_id, raw_text, archive_uri,
			sender_name_raw, amount, paid_on, method,
			entry_point, match_method, match_confidence,
			person_id, status, error_message, created_ts
		)
		VALUES (
			@log_id, @raw_text, @archive_uri,
			@sender_name_raw, @amount, @paid_on, @method,
			@entry_point, @match_method, @match_confidence,
			@person_id, @status, @error_message, @created_ts
		)
	`, s.table("processing_log")))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "log_id", Value: row.LogID},
		{Name: "raw_text", Value: row.RawText},
		{Name: "archive_uri", Value: row.ArchiveURI},
		{Name: "sender_name_raw", Value: row.SenderNameRaw},
		{Name: "amount", Value: row.Amount},
		{Name: "paid_on", Value: row.PaidOn},
		{Name: "method", Value: row.Method},
		{Name: "entry_point", Value: row.EntryPoint},
		{Name: "match_method", Value: row.MatchMethod},
		{Name: "match_confidence", Value: row.MatchScore},
		{Name: "person_id", Value: row.PersonID},
		{Name: "status", Value: row.Status},
		{Name: "error_message", Value: row.ErrorMessage},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	if _, err := s.runDML(ctx, q, "InsertProcessingLog"); err != nil {
		return "", err
	}
	return row.LogID, nil
}

// UpdateProcessingLogOutcome records how an attempt settled. Callers log
// failures from this method but never let them fail the attempt itself.
func (s *Store) UpdateProcessingLogOutcome(ctx context.Context, logID string, outcome *bq.ProcessingOutcome) error {
	errMsg := outcome.ErrorMessage
	const maxLen = 2000
	if len(errMsg) > maxLen {
		errMsg = errMsg[:maxLen]
	}

	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET match_method = @match_method,
		    match_confidence = @match_confidence,
		    person_id = @person_id,
		    status = @status,
		    error_message = @error_message,
		    updated_ts = @updated_ts
		WHERE log_id = @log_id
	`, s.table("processing_log")))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "match_method", Value: outcome.MatchMethod},
		{Name: "match_confidence", Value: outcome.MatchScore},
		{Name: "person_id", Value: outcome.PersonID},
		{Name: "status", Value: outcome.Status},
		{Name: "error_message", Value: errMsg},
		{Name: "updated_ts", Value: time.Now()},
		{Name: "log_id", Value: logID},
	}

	if _, err := s.runDML(ctx, q, "UpdateProcessingLogOutcome"); err != nil {
		return err
	}
	return nil
}
