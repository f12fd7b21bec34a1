package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/dmelnik/rentdesk/internal/bigquery"
	"google.golang.org/api/iterator"
)

// InsertPayment inserts one payment row. When the row carries an external
// reference, the insert is guarded so a second delivery of the same event
// writes nothing; that case surfaces as bq.ErrDuplicate, which every caller
// treats as "already recorded".
func (s *Store) InsertPayment(ctx context.Context, row *bq.PaymentRow) error {
	if row.ExternalRef == "" {
		return s.insertPaymentUnguarded(ctx, row)
	}

	q := s.client.Query(fmt.Sprintf(`
		INSERT INTO %s (
			payment_id, person_id, assignment_id,
			amount, paid_on, method,
			external_ref, recorded_by, created_ts
		)
		SELECT
			@payment_id, @person_id, @assignment_id,
			@amount, @paid_on, @method,
			@external_ref, @recorded_by, @created_ts
		FROM (SELECT 1)
		WHERE NOT EXISTS (
			SELECT 1 FROM %s WHERE external_ref = @external_ref
		)
	`, s.table("payments"), s.table("payments")))
	q.Parameters = paymentParams(row)

	affected, err := s.runDML(ctx, q, "InsertPayment")
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("InsertPayment: external_ref %q: %w", row.ExternalRef, bq.ErrDuplicate)
	}
	return nil
}

func (s *Store) insertPaymentUnguarded(ctx context.Context, row *bq.PaymentRow) error {
	q := s.client.Query(fmt.Sprintf(`
		INSERT INTO %s (
			payment_id, person_id, assignment_id,
			amount, paid_on, method,
			external_ref, recorded_by, created_ts
		)
		VALUES (
			@payment_id, @person_id, @assignment_id,
			@amount, @paid_on, @method,
			@external_ref, @recorded_by, @created_ts
		)
	`, s.table("payments")))
	q.Parameters = paymentParams(row)

	if _, err := s.runDML(ctx, q, "insertPaymentUnguarded"); err != nil {
		return err
	}
	return nil
}

func paymentParams(row *bq.PaymentRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "payment_id", Value: row.PaymentID},
		{Name: "person_id", Value: row.PersonID},
		{Name: "assignment_id", Value: row.AssignmentID},
		{Name: "amount", Value: row.Amount},
		{Name: "paid_on", Value: row.PaidOn},
		{Name: "method", Value: row.Method},
		{Name: "external_ref", Value: row.ExternalRef},
		{Name: "recorded_by", Value: row.RecordedBy},
		{Name: "created_ts", Value: row.CreatedTS},
	}
}

// FindPaymentByExternalRef returns the payment holding the given external
// correlation id, or nil when none exists. This is the pre-insert
// idempotency check shared by all entry points.
func (s *Store) FindPaymentByExternalRef(ctx context.Context, externalRef string) (*bq.PaymentRow, error) {
	if externalRef == "" {
		return nil, nil
	}

	q := s.client.Query(fmt.Sprintf(`
		SELECT
			payment_id, person_id, assignment_id,
			amount, paid_on, method,
			external_ref, recorded_by, created_ts
		FROM %s
		WHERE external_ref = @external_ref
		LIMIT 1
	`, s.table("payments")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "external_ref", Value: externalRef},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindPaymentByExternalRef: query read: %w", err)
	}

	var row bq.PaymentRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindPaymentByExternalRef: iterating: %w", err)
	}

	return &row, nil
}
