package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/dmelnik/rentdesk/internal/bigquery"
)

// InsertLedgerEntry writes the accounting mirror of a payment. The ledger
// insert is independent of the payment insert; a failure here is logged by
// the recording engine but never rolls the payment back.
func (s *Store) InsertLedgerEntry(ctx context.Context, row *bq.LedgerEntryRow) error {
	q := s.client.Query(fmt.Sprintf(`
		INSERT INTO %s (
			entry_id, source_payment_id, person_id,
			amount, entry_date, category,
			description, created_ts
		)
		SELECT
			@entry_id, @source_payment_id, @person_id,
			@amount, @entry_date, @category,
			@description, @created_ts
		FROM (SELECT 1)
		WHERE NOT EXISTS (
			SELECT 1 FROM %s WHERE source_payment_id = @source_payment_id
		)
	`, s.table("ledger_entries"), s.table("ledger_entries")))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "entry_id", Value: row.EntryID},
		{Name: "source_payment_id", Value: row.SourcePaymentID},
		{Name: "person_id", Value: row.PersonID},
		{Name: "amount", Value: row.Amount},
		{Name: "entry_date", Value: row.EntryDate},
		{Name: "category", Value: row.Category},
		{Name: "description", Value: row.Description},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	affected, err := s.runDML(ctx, q, "InsertLedgerEntry")
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("InsertLedgerEntry: payment %q: %w", row.SourcePaymentID, bq.ErrDuplicate)
	}
	return nil
}
