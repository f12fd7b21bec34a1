package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/dmelnik/rentdesk/internal/bigquery"
	"google.golang.org/api/iterator"
)

const pendingColumns = `
	pending_id, log_id, sender_name_raw,
	amount, paid_on, method,
	suggestions, reasoning, status,
	resolved_by, created_ts
`

// InsertPendingPayment parks an unmatched attempt in the manual-review
// queue.
func (s *Store) InsertPendingPayment(ctx context.Context, row *bq.PendingPaymentRow) error {
	q := s.client.Query(fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (
			@pending_id, @log_id, @sender_name_raw,
			@amount, @paid_on, @method,
			@suggestions, @reasoning, @status,
			@resolved_by, @created_ts
		)
	`, s.table("pending_payments"), pendingColumns))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "pending_id", Value: row.PendingID},
		{Name: "log_id", Value: row.LogID},
		{Name: "sender_name_raw", Value: row.SenderNameRaw},
		{Name: "amount", Value: row.Amount},
		{Name: "paid_on", Value: row.PaidOn},
		{Name: "method", Value: row.Method},
		{Name: "suggestions", Value: row.Suggestions},
		{Name: "reasoning", Value: row.Reasoning},
		{Name: "status", Value: row.Status},
		{Name: "resolved_by", Value: row.ResolvedBy},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	if _, err := s.runDML(ctx, q, "InsertPendingPayment"); err != nil {
		return err
	}
	return nil
}

// GetPendingPayment returns a pending payment by id, or nil when not found.
func (s *Store) GetPendingPayment(ctx context.Context, pendingID string) (*bq.PendingPaymentRow, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE pending_id = @pending_id
		LIMIT 1
	`, pendingColumns, s.table("pending_payments")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "pending_id", Value: pendingID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetPendingPayment: query read: %w", err)
	}

	var row bq.PendingPaymentRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetPendingPayment: iterating: %w", err)
	}

	return &row, nil
}

// ListPendingPayments returns all open pending payments, oldest first so
// reviewers work the backlog in arrival order.
func (s *Store) ListPendingPayments(ctx context.Context) ([]*bq.PendingPaymentRow, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE status = @status
		ORDER BY created_ts
	`, pendingColumns, s.table("pending_payments")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: bq.PendingStatusOpen},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListPendingPayments: query read: %w", err)
	}

	var rows []*bq.PendingPaymentRow
	for {
		var row bq.PendingPaymentRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListPendingPayments: iterating: %w", err)
		}
		rows = append(rows, &row)
	}

	return rows, nil
}

// MarkPendingResolved closes a pending payment after a human records it.
func (s *Store) MarkPendingResolved(ctx context.Context, pendingID, resolvedBy string) error {
	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    resolved_by = @resolved_by
		WHERE pending_id = @pending_id
	`, s.table("pending_payments")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: bq.PendingStatusResolved},
		{Name: "resolved_by", Value: resolvedBy},
		{Name: "pending_id", Value: pendingID},
	}

	if _, err := s.runDML(ctx, q, "MarkPendingResolved"); err != nil {
		return err
	}
	return nil
}
